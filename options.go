package autoflow

import (
	"time"

	"k8s.io/utils/clock"
)

const (
	defaultPollFrequency    = 500 * time.Millisecond
	defaultErrBackOff       = 500 * time.Millisecond
	defaultTaskBatchSize    = 50
	defaultOutboxBatchSize  = 250
	defaultMaxTaskAttempts  = 3
	defaultTaskRetryBackoff = time.Minute
)

// options configures the engine's background processes.
type options struct {
	pollFrequency    time.Duration
	errBackOff       time.Duration
	taskBatchSize    int64
	outboxBatchSize  int64
	maxTaskAttempts  int
	taskRetryBackoff time.Duration
	clock            clock.Clock
	logger           Logger
}

func defaultOptions() options {
	return options{
		pollFrequency:    defaultPollFrequency,
		errBackOff:       defaultErrBackOff,
		taskBatchSize:    defaultTaskBatchSize,
		outboxBatchSize:  defaultOutboxBatchSize,
		maxTaskAttempts:  defaultMaxTaskAttempts,
		taskRetryBackoff: defaultTaskRetryBackoff,
	}
}

type Option func(*options)

// WithPollFrequency defines how often the due-task and outbox pollers query
// their stores.
func WithPollFrequency(d time.Duration) Option {
	return func(opt *options) {
		opt.pollFrequency = d
	}
}

// WithErrBackOff defines how long a background process sleeps after an error
// before trying again.
func WithErrBackOff(d time.Duration) Option {
	return func(opt *options) {
		opt.errBackOff = d
	}
}

// WithTaskBatchSize caps how many due tasks one poll iteration processes.
func WithTaskBatchSize(n int64) Option {
	return func(opt *options) {
		opt.taskBatchSize = n
	}
}

// WithOutboxBatchSize caps how many buffered events one outbox purge
// publishes.
func WithOutboxBatchSize(n int64) Option {
	return func(opt *options) {
		opt.outboxBatchSize = n
	}
}

// WithMaxTaskAttempts bounds step execution retries. Once a task has failed
// this many times its enrollment is marked failed.
func WithMaxTaskAttempts(n int) Option {
	return func(opt *options) {
		opt.maxTaskAttempts = n
	}
}

// WithTaskRetryBackoff defines the base delay between step execution
// retries. The delay grows linearly with the attempt count.
func WithTaskRetryBackoff(d time.Duration) Option {
	return func(opt *options) {
		opt.taskRetryBackoff = d
	}
}

// WithClock replaces the engine clock, which tests use to control time.
func WithClock(c clock.Clock) Option {
	return func(opt *options) {
		opt.clock = c
	}
}

// WithLogger replaces the default no-op logger.
func WithLogger(l Logger) Option {
	return func(opt *options) {
		opt.logger = l
	}
}

package autoflow

import (
	"context"
	"sync"
	"time"

	"github.com/luno/jettison/errors"
	"k8s.io/utils/clock"

	"github.com/andrewwormald/autoflow/internal/metrics"
)

// Engine is a tenant-scoped automation engine. Callers dispatch events into
// it, rules resolve those events into actions, and journeys run targets
// through ordered steps on a durable schedule.
//
// All state lives in the provided stores; the engine itself is stateless
// between calls and safe to run on multiple instances, with the role
// scheduler keeping each background process single writer.
type Engine struct {
	ctx       context.Context
	cancel    context.CancelFunc
	clock     clock.Clock
	calledRun bool
	once      sync.Once
	logger    Logger

	ruleStore        RuleStore
	journeyStore     JourneyStore
	enrollmentStore  EnrollmentStore
	taskStore        TaskStore
	logStore         LogStore
	idempotencyStore IdempotencyStore

	streamer  EventStreamer
	scheduler RoleScheduler

	executor   ActionExecutor
	snapshotFn SnapshotFunc

	opts options

	internalStateMu sync.Mutex
	// internalState holds the State of all background processes keyed by
	// process name.
	internalState map[string]State
	// launching tracks goroutines initiated but not yet recorded in
	// internalState so that Run only returns once every process is tracked.
	launching sync.WaitGroup
}

// New wires an engine from its stores and adapters. The executor receives
// every applied action and snapshotFn provides fresh entity state for branch
// evaluation.
func New(
	ruleStore RuleStore,
	journeyStore JourneyStore,
	enrollmentStore EnrollmentStore,
	taskStore TaskStore,
	logStore LogStore,
	idempotencyStore IdempotencyStore,
	streamer EventStreamer,
	scheduler RoleScheduler,
	executor ActionExecutor,
	snapshotFn SnapshotFunc,
	opts ...Option,
) *Engine {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	if o.clock == nil {
		o.clock = clock.RealClock{}
	}
	if o.logger == nil {
		o.logger = noopLogger{}
	}

	return &Engine{
		clock:            o.clock,
		logger:           o.logger,
		ruleStore:        ruleStore,
		journeyStore:     journeyStore,
		enrollmentStore:  enrollmentStore,
		taskStore:        taskStore,
		logStore:         logStore,
		idempotencyStore: idempotencyStore,
		streamer:         streamer,
		scheduler:        scheduler,
		executor:         executor,
		snapshotFn:       snapshotFn,
		opts:             o,
		internalState:    make(map[string]State),
	}
}

// Run starts the engine's background processes: the due-task poller that
// executes scheduled steps and the outbox purger that publishes enrollment
// events. Run only needs to be called once; subsequent calls are no-ops.
func (e *Engine) Run(ctx context.Context) {
	e.once.Do(func() {
		ctx, cancel := context.WithCancel(ctx)
		e.ctx = ctx
		e.cancel = cancel
		e.calledRun = true

		track(e, func() {
			e.run(
				makeRole("autoflow", "task-poller"),
				"task-poller",
				e.pollDueTasks,
				e.opts.errBackOff,
			)
		})

		track(e, func() {
			e.run(
				makeRole("autoflow", "outbox-purger"),
				"outbox-purger",
				e.purgeOutboxForever,
				e.opts.errBackOff,
			)
		})
	})

	e.launching.Wait()
}

func (e *Engine) purgeOutboxForever(ctx context.Context) error {
	for {
		err := purgeOutbox(ctx, e.enrollmentStore, e.streamer, e.opts.outboxBatchSize)
		if err != nil {
			return err
		}

		err = waitFor(ctx, e.clock, e.opts.pollFrequency)
		if err != nil {
			return err
		}
	}
}

// track starts a new goroutine to execute the provided function and ensures
// it is tracked using launching.
func track(e *Engine, fn func()) {
	e.launching.Add(1)
	go fn()
}

// run is a standardised way of running blocking calls with a built-in retry
// mechanism.
func (e *Engine) run(
	role string,
	processName string,
	process func(ctx context.Context) error,
	errBackOff time.Duration,
) {
	e.updateState(processName, StateIdle)
	defer e.updateState(processName, StateShutdown)
	// Mark that another go routine has launched and been added to internal
	// state.
	e.launching.Done()

	for {
		err := runOnce(
			e.ctx,
			role,
			processName,
			e.updateState,
			e.scheduler.Await,
			process,
			e.logger,
			e.clock,
			errBackOff,
		)
		if err != nil {
			e.logger.Debug(e.ctx, "shutting down process", MKV{
				"role":         role,
				"process_name": processName,
			})

			return
		}
	}
}

type (
	updateStateFn func(processName string, s State)
	awaitRoleFn   func(ctx context.Context, role string) (context.Context, context.CancelFunc, error)
)

func runOnce(
	ctx context.Context,
	role string,
	processName string,
	updateState updateStateFn,
	awaitRole awaitRoleFn,
	process func(ctx context.Context) error,
	logger Logger,
	clock clock.Clock,
	errBackOff time.Duration,
) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}

	updateState(processName, StateIdle)

	ctx, cancel, err := awaitRole(ctx, role)
	if errors.Is(err, context.Canceled) {
		// Exit cleanly if error returned is cancellation of context
		return err
	} else if err != nil {
		metrics.ProcessErrors.WithLabelValues(processName).Inc()
		logger.Error(ctx, errors.Wrap(err, "failed to await role"))

		// Return nil to try again
		return nil
	}
	defer cancel()

	updateState(processName, StateRunning)

	err = process(ctx)
	if errors.Is(err, context.Canceled) {
		// Context can be cancelled by the role scheduler and thus return nil
		// to attempt to gain the role again and if the parent context was
		// cancelled then that will exit safely.
		return nil
	} else if err != nil {
		metrics.ProcessErrors.WithLabelValues(processName).Inc()
		logger.Error(ctx, errors.Wrap(err, "process error"))

		timer := clock.NewTimer(errBackOff)
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C():
			// Return nil to try again
			return nil
		}
	}

	return nil
}

// Stop cancels the context provided to all the background processes that the
// engine launched and waits for all of them to shut down gracefully.
func (e *Engine) Stop() {
	if e.cancel == nil {
		return
	}

	// Cancel the parent context of the engine to gracefully shutdown.
	e.cancel()

	for {
		var runningProcesses int
		for _, state := range e.States() {
			switch state {
			case StateUnknown, StateShutdown:
				continue
			default:
				runningProcesses++
			}
		}

		// Once all processes have exited then return
		if runningProcesses == 0 {
			return
		}
	}
}

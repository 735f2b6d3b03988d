package autoflow

import (
	"context"
	"time"
)

// EventStreamer is the event streaming adapter interface. Implementations
// should be tested with adaptertest.RunEventStreamerTest.
type EventStreamer interface {
	NewSender(ctx context.Context, topic string) (EventSender, error)
	NewReceiver(ctx context.Context, topic string, name string, opts ...ReceiverOption) (EventReceiver, error)
}

// EventSender publishes engine events to a topic.
type EventSender interface {
	Send(ctx context.Context, foreignID string, eventType int, headers map[Header]string) error
	Close() error
}

// EventReceiver consumes engine events from a topic.
type EventReceiver interface {
	Recv(ctx context.Context) (*Event, Ack, error)
	Close() error
}

// Ack marks an event as consumed. If Ack is not called the streamer will
// redeliver, depending on implementation.
type Ack func() error

// Event is an engine event as carried on the stream. ForeignID is the
// enrollment id and Type the enrollment status the event announced.
type Event struct {
	ID        int64
	ForeignID string
	Type      int
	Headers   map[Header]string
	CreatedAt time.Time
}

type Header string

const (
	HeaderTopic        Header = "topic"
	HeaderTenantID     Header = "tenant_id"
	HeaderJourneyID    Header = "journey_id"
	HeaderEnrollmentID Header = "enrollment_id"
	HeaderTargetType   Header = "target_type"
	HeaderTargetID     Header = "target_id"
)

type ReceiverOptions struct {
	PollFrequency time.Duration
}

type ReceiverOption func(*ReceiverOptions)

func WithReceiverPollFrequency(d time.Duration) ReceiverOption {
	return func(opt *ReceiverOptions) {
		opt.PollFrequency = d
	}
}

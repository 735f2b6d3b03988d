// Package kafkatrigger consumes inbound trigger events from a Kafka topic
// and dispatches them into the engine. Messages are committed only after a
// successful dispatch, giving at-least-once delivery; dispatch idempotency
// tokens make the retries harmless.
package kafkatrigger

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/luno/jettison/errors"
	"github.com/segmentio/kafka-go"

	"github.com/andrewwormald/autoflow"
)

// Message is the wire format of one inbound trigger event.
type Message struct {
	TenantID   int64          `json:"tenant_id"`
	EventType  string         `json:"event_type"`
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	Snapshot   map[string]any `json:"snapshot"`
	Token      string         `json:"token,omitempty"`
}

// Dispatcher is the part of the engine the consumer needs.
type Dispatcher interface {
	Dispatch(ctx context.Context, tenantID int64, eventType autoflow.EventType, target autoflow.EntityRef, snapshot autoflow.Snapshot, opts ...autoflow.DispatchOption) error
}

type options struct {
	logger autoflow.Logger
}

type Option func(o *options)

func WithLogger(l autoflow.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

type Consumer struct {
	reader     *kafka.Reader
	dispatcher Dispatcher
	logger     autoflow.Logger
}

func New(brokers []string, topic, groupID string, dispatcher Dispatcher, opts ...Option) *Consumer {
	var opt options
	for _, o := range opts {
		o(&opt)
	}

	c := &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers: brokers,
			Topic:   topic,
			GroupID: groupID,
		}),
		dispatcher: dispatcher,
		logger:     opt.logger,
	}

	if c.logger == nil {
		c.logger = noopLogger{}
	}

	return c
}

// Run consumes until ctx is cancelled. It is shaped to be passed to the
// engine's process harness.
func (c *Consumer) Run(ctx context.Context) error {
	for ctx.Err() == nil {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			return errors.Wrap(err, "fetch trigger message")
		}

		err = c.process(ctx, m)
		if err != nil {
			return err
		}

		err = c.reader.CommitMessages(ctx, m)
		if err != nil {
			return errors.Wrap(err, "commit trigger message")
		}
	}

	return ctx.Err()
}

func (c *Consumer) process(ctx context.Context, m kafka.Message) error {
	var msg Message
	err := json.Unmarshal(m.Value, &msg)
	if err != nil {
		// NoReturnErr: A malformed message would fail forever; skip it and
		// let the commit move past it.
		c.logger.Error(ctx, errors.Wrap(err, "skipping malformed trigger message"))
		return nil
	}

	token := msg.Token
	if token == "" {
		// Derive a stable token from the message coordinates so redeliveries
		// of the same offset stay no-ops.
		token = m.Topic + "/" + strconv.Itoa(m.Partition) + "/" + strconv.FormatInt(m.Offset, 10)
	}

	return c.dispatcher.Dispatch(ctx,
		msg.TenantID,
		autoflow.EventType(msg.EventType),
		autoflow.EntityRef{Type: autoflow.EntityType(msg.EntityType), ID: msg.EntityID},
		autoflow.Snapshot(msg.Snapshot),
		autoflow.WithIdempotencyToken(token),
	)
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}

type noopLogger struct{}

func (noopLogger) Debug(ctx context.Context, msg string, meta autoflow.MKV) {}

func (noopLogger) Error(ctx context.Context, err error) {}

// Package reflexstream implements the engine's event streamer on a reflex
// events table, so enrollment status events can be consumed with durable
// per-consumer cursors.
package reflexstream

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"strconv"
	"time"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"github.com/luno/reflex"
	"github.com/luno/reflex/rsql"

	"github.com/andrewwormald/autoflow"
)

func New(writer, reader *sql.DB, table *rsql.EventsTable, cursorStore reflex.CursorStore) autoflow.EventStreamer {
	return &constructor{
		writer:      writer,
		reader:      reader,
		eventsTable: table,
		cursorStore: cursorStore,
	}
}

type constructor struct {
	writer      *sql.DB
	reader      *sql.DB
	eventsTable *rsql.EventsTable
	cursorStore reflex.CursorStore
}

var _ autoflow.EventStreamer = (*constructor)(nil)

func (c constructor) NewSender(ctx context.Context, topic string) (autoflow.EventSender, error) {
	return &sender{
		topic:       topic,
		writer:      c.writer,
		eventsTable: c.eventsTable,
	}, nil
}

type sender struct {
	topic       string
	writer      *sql.DB
	eventsTable *rsql.EventsTable
}

func (s sender) Send(ctx context.Context, foreignID string, eventType int, headers map[autoflow.Header]string) error {
	tx, err := s.writer.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	b, err := json.Marshal(headers)
	if err != nil {
		return err
	}

	notify, err := s.eventsTable.InsertWithMetadata(ctx, tx, foreignID, EventType(eventType), b)
	if err != nil {
		return err
	}

	err = tx.Commit()
	if err != nil {
		return err
	}

	notify()

	return nil
}

func (s sender) Close() error {
	return nil
}

func (c constructor) NewReceiver(ctx context.Context, topic string, name string, opts ...autoflow.ReceiverOption) (autoflow.EventReceiver, error) {
	var ropts autoflow.ReceiverOptions
	for _, opt := range opts {
		opt(&ropts)
	}

	pollFrequency := time.Millisecond * 50
	if ropts.PollFrequency.Nanoseconds() != 0 {
		pollFrequency = ropts.PollFrequency
	}

	table := c.eventsTable.Clone(rsql.WithEventsBackoff(pollFrequency))

	cursor, err := c.cursorStore.GetCursor(ctx, name)
	if err != nil {
		return nil, errors.Wrap(err, "failed to collect cursor")
	}

	streamClient, err := table.ToStream(c.reader)(ctx, cursor)
	if err != nil {
		return nil, err
	}

	return &receiver{
		topic:        topic,
		name:         name,
		cursor:       c.cursorStore,
		streamClient: streamClient,
	}, nil
}

type receiver struct {
	topic        string
	name         string
	cursor       reflex.CursorStore
	streamClient reflex.StreamClient
}

func (r receiver) Recv(ctx context.Context) (*autoflow.Event, autoflow.Ack, error) {
	for ctx.Err() == nil {
		reflexEvent, err := r.streamClient.Recv()
		if err != nil {
			return nil, nil, err
		}

		headers := make(map[autoflow.Header]string)
		err = json.Unmarshal(reflexEvent.MetaData, &headers)
		if err != nil {
			return nil, nil, err
		}

		event := &autoflow.Event{
			ID:        reflexEvent.IDInt(),
			ForeignID: reflexEvent.ForeignID,
			Type:      reflexEvent.Type.ReflexType(),
			Headers:   headers,
			CreatedAt: reflexEvent.Timestamp,
		}

		// The events table is shared across tenant topics; skip events for
		// other topics without moving the cursor past unacked ones.
		if headers[autoflow.HeaderTopic] != r.topic {
			continue
		}

		return event, func() error {
			// Increment cursor for consumer only if ack function is called.
			eventID := strconv.FormatInt(event.ID, 10)
			if err := r.cursor.SetCursor(ctx, r.name, eventID); err != nil {
				return errors.Wrap(err, "failed to set cursor", j.MKV{
					"consumer": r.name,
					"event_id": reflexEvent.ID,
				})
			}

			return nil
		}, nil
	}

	// If the loop breaks then ctx.Err is non-nil
	return nil, nil, ctx.Err()
}

func (r receiver) Close() error {
	// Provide new context for flushing of cursor values to underlying store
	err := r.cursor.Flush(context.Background())
	if err != nil {
		return errors.Wrap(err, "failed to flush cursor")
	}

	if closer, ok := r.streamClient.(io.Closer); ok {
		err := closer.Close()
		if err != nil {
			return errors.Wrap(err, "failed to close stream client")
		}
	}

	return nil
}

type EventType int

func (ev EventType) ReflexType() int {
	return int(ev)
}

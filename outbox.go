package autoflow

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/andrewwormald/autoflow/internal/metrics"
)

// OutboxEvent is a stream event buffered in the enrollment store until the
// outbox purger publishes it. Data is a proto encoded OutboxEventData.
type OutboxEvent struct {
	ID        string
	TenantID  int64
	Data      []byte
	CreatedAt time.Time
}

// OutboxEventData is the portable form of an enrollment status change event,
// written by enrollment stores in the same transaction as the status change
// itself so the stream never misses an update.
type OutboxEventData struct {
	ID       string
	TenantID int64
	Data     []byte
}

// MakeOutboxEventData builds the outbox record for an enrollment's current
// status. Stores call this from Create and Update.
func MakeOutboxEventData(en *Enrollment) (OutboxEventData, error) {
	topic := EnrollmentTopic(en.TenantID)

	s, err := structpb.NewStruct(map[string]any{
		"foreign_id": en.ID,
		"type":       int64(en.Status),
		"headers": map[string]any{
			string(HeaderTopic):        topic,
			string(HeaderTenantID):     formatID(en.TenantID),
			string(HeaderJourneyID):    formatID(en.JourneyID),
			string(HeaderEnrollmentID): en.ID,
			string(HeaderTargetType):   string(en.Target.Type),
			string(HeaderTargetID):     en.Target.ID,
		},
	})
	if err != nil {
		return OutboxEventData{}, errors.Wrap(err, "build outbox event struct", en.logMeta())
	}

	b, err := proto.Marshal(s)
	if err != nil {
		return OutboxEventData{}, errors.Wrap(err, "marshal outbox event", en.logMeta())
	}

	return OutboxEventData{
		ID:       uuid.New().String(),
		TenantID: en.TenantID,
		Data:     b,
	}, nil
}

func unmarshalOutboxEvent(e OutboxEvent) (*Event, string, error) {
	var s structpb.Struct
	err := proto.Unmarshal(e.Data, &s)
	if err != nil {
		return nil, "", errors.Wrap(err, "unmarshal outbox event", j.MKV{
			"outbox_event_id": e.ID,
		})
	}

	m := s.AsMap()

	foreignID, _ := m["foreign_id"].(string)
	typ, _ := m["type"].(float64)

	headers := make(map[Header]string)
	if hm, ok := m["headers"].(map[string]any); ok {
		for k, v := range hm {
			if sv, ok := v.(string); ok {
				headers[Header(k)] = sv
			}
		}
	}

	topic := headers[HeaderTopic]
	if topic == "" {
		return nil, "", errors.New("outbox event missing topic header", j.MKV{
			"outbox_event_id": e.ID,
		})
	}

	return &Event{
		ForeignID: foreignID,
		Type:      int(typ),
		Headers:   headers,
		CreatedAt: e.CreatedAt,
	}, topic, nil
}

// purgeOutbox publishes buffered outbox events to the streamer and deletes
// them. Events are published oldest first and deletion only happens after a
// successful send, so consumers may see duplicates but never gaps.
func purgeOutbox(ctx context.Context, store EnrollmentStore, streamer EventStreamer, limit int64) error {
	events, err := store.ListOutboxEvents(ctx, limit)
	if err != nil {
		return err
	}

	senders := make(map[string]EventSender)
	defer func() {
		for _, s := range senders {
			_ = s.Close()
		}
	}()

	for _, e := range events {
		event, topic, err := unmarshalOutboxEvent(e)
		if err != nil {
			return err
		}

		sender, ok := senders[topic]
		if !ok {
			sender, err = streamer.NewSender(ctx, topic)
			if err != nil {
				return err
			}
			senders[topic] = sender
		}

		err = sender.Send(ctx, event.ForeignID, event.Type, event.Headers)
		if err != nil {
			return err
		}

		metrics.OutboxEventsPublished.WithLabelValues(formatID(e.TenantID)).Inc()

		err = store.DeleteOutboxEvent(ctx, e.ID)
		if err != nil {
			return err
		}
	}

	return nil
}

func formatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

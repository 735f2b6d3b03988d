package reflexstream

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"strconv"

	"github.com/luno/fate"
	"github.com/luno/reflex"
	"github.com/luno/reflex/rsql"

	"github.com/andrewwormald/autoflow"
)

// StreamFunc exposes the shared events table as a reflex stream scoped to a
// single tenant's enrollment topic, so downstream reflex consumers can react
// to enrollment status changes with their own cursors.
func StreamFunc(dbc *sql.DB, table *rsql.EventsTable, tenantID int64) reflex.StreamFunc {
	return filteredStreamClient(dbc, table, tenantID, nil)
}

// OnCompleted streams only the events where an enrollment reached the
// completed status for the given tenant.
func OnCompleted(dbc *sql.DB, table *rsql.EventsTable, tenantID int64) reflex.StreamFunc {
	completedFilter := func(e *reflex.Event, headers map[autoflow.Header]string) bool {
		return e.Type.ReflexType() != int(autoflow.StatusCompleted)
	}
	return filteredStreamClient(dbc, table, tenantID, completedFilter)
}

// ConsumeFunc handles one enrollment status event for a reflex consumer.
type ConsumeFunc func(ctx context.Context, f fate.Fate, event *reflex.Event) error

// NewSpec builds a reflex spec consuming a tenant's enrollment events with a
// durable cursor, for use with reflex.Run.
func NewSpec(
	dbc *sql.DB,
	table *rsql.EventsTable,
	cursorStore reflex.CursorStore,
	tenantID int64,
	name string,
	fn ConsumeFunc,
) reflex.Spec {
	consumer := reflex.NewConsumer(name, func(ctx context.Context, f fate.Fate, event *reflex.Event) error {
		return fn(ctx, f, event)
	})

	return reflex.NewSpec(
		StreamFunc(dbc, table, tenantID),
		cursorStore,
		consumer,
	)
}

// eventFilter allows for custom specification of filtering events. Returning
// true will result in the event being filtered out.
type eventFilter func(e *reflex.Event, headers map[autoflow.Header]string) bool

func filteredStreamClient(
	dbc *sql.DB,
	table *rsql.EventsTable,
	tenantID int64,
	filter eventFilter,
) reflex.StreamFunc {
	return func(ctx context.Context, after string, opts ...reflex.StreamOption) (reflex.StreamClient, error) {
		cl, err := table.ToStream(dbc)(ctx, after, opts...)
		if err != nil {
			return nil, err
		}

		return &streamClient{
			ctx:      ctx,
			tenantID: strconv.FormatInt(tenantID, 10),
			client:   cl,
			filter:   filter,
		}, nil
	}
}

type streamClient struct {
	ctx      context.Context
	tenantID string
	client   reflex.StreamClient
	filter   eventFilter
}

func (s *streamClient) Recv() (*reflex.Event, error) {
	for s.ctx.Err() == nil {
		reflexEvent, err := s.client.Recv()
		if err != nil {
			return nil, err
		}

		headers := make(map[autoflow.Header]string)
		err = json.Unmarshal(reflexEvent.MetaData, &headers)
		if err != nil {
			return nil, err
		}

		if headers[autoflow.HeaderTenantID] != s.tenantID {
			continue
		}

		if s.filter != nil && s.filter(reflexEvent, headers) {
			continue
		}

		return reflexEvent, nil
	}

	return nil, s.ctx.Err()
}

// Close releases the underlying stream client. Reflex closes stream clients
// once consumption stops, not per event.
func (s *streamClient) Close() error {
	if closer, ok := s.client.(io.Closer); ok {
		return closer.Close()
	}

	return nil
}

package reflexstream_test

import (
	"context"
	"database/sql"
	"strconv"
	"testing"
	"time"

	"github.com/corverroos/truss"
	_ "github.com/go-sql-driver/mysql"
	"github.com/luno/fate"
	"github.com/luno/reflex"
	"github.com/luno/reflex/rpatterns"
	"github.com/luno/reflex/rsql"
	"github.com/stretchr/testify/require"

	"github.com/andrewwormald/autoflow"
	"github.com/andrewwormald/autoflow/adapters/adaptertest"
	"github.com/andrewwormald/autoflow/adapters/reflexstream"
)

var tables = []string{
	`
	create table autoflow_events (
	  id bigint not null auto_increment,
	  foreign_id varchar(255) not null,
	  timestamp datetime not null,
	  type int not null default 0,
	  metadata blob,

	  primary key (id)
	);
`,
}

// ConnectForTesting returns a database connection for a temp database with latest schema.
func ConnectForTesting(t *testing.T) *sql.DB {
	return truss.ConnectForTesting(t, tables...)
}

func TestStreamer(t *testing.T) {
	adaptertest.RunEventStreamerTest(t, func() autoflow.EventStreamer {
		dbc := ConnectForTesting(t)
		eventsTable := rsql.NewEventsTable("autoflow_events", rsql.WithEventMetadataField("metadata"))
		return reflexstream.New(dbc, dbc, eventsTable, rpatterns.MemCursorStore())
	})
}

func TestNewSpecConsumesTenantEvents(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()

	dbc := ConnectForTesting(t)
	eventsTable := rsql.NewEventsTable("autoflow_events", rsql.WithEventMetadataField("metadata"))
	streamer := reflexstream.New(dbc, dbc, eventsTable, rpatterns.MemCursorStore())

	send := func(tenantID int64, foreignID string) {
		topic := autoflow.EnrollmentTopic(tenantID)
		sender, err := streamer.NewSender(ctx, topic)
		require.Nil(t, err)

		err = sender.Send(ctx, foreignID, int(autoflow.StatusActive), map[autoflow.Header]string{
			autoflow.HeaderTopic:    topic,
			autoflow.HeaderTenantID: strconv.FormatInt(tenantID, 10),
		})
		require.Nil(t, err)
	}

	send(1, "en-1")
	send(2, "en-2")
	send(1, "en-3")

	received := make(chan string, 2)
	spec := reflexstream.NewSpec(dbc, eventsTable, rpatterns.MemCursorStore(), 1, "test-consumer",
		func(ctx context.Context, f fate.Fate, event *reflex.Event) error {
			received <- event.ForeignID
			return nil
		})

	go func() {
		// Runs until the context times out or is cancelled.
		_ = reflex.Run(ctx, spec)
	}()

	var got []string
	for len(got) < 2 {
		select {
		case id := <-received:
			got = append(got, id)
		case <-ctx.Done():
			t.Fatal("timed out waiting for consumer")
		}
	}
	cancel()

	// Only tenant 1's events arrive, in order.
	require.Equal(t, []string{"en-1", "en-3"}, got)
}

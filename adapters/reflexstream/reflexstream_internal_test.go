package reflexstream

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/luno/reflex"
	"github.com/luno/reflex/rpatterns"
	"github.com/stretchr/testify/require"

	"github.com/andrewwormald/autoflow"
)

type fakeStreamClient struct {
	events []*reflex.Event
	closed bool
}

func (f *fakeStreamClient) Recv() (*reflex.Event, error) {
	if len(f.events) == 0 {
		return nil, io.EOF
	}

	next := f.events[0]
	f.events = f.events[1:]
	return next, nil
}

func (f *fakeStreamClient) Close() error {
	f.closed = true
	return nil
}

func makeEvent(t *testing.T, id string, topic string) *reflex.Event {
	headers, err := json.Marshal(map[autoflow.Header]string{
		autoflow.HeaderTopic: topic,
	})
	require.Nil(t, err)

	return &reflex.Event{
		ID:        id,
		ForeignID: "en-" + id,
		Type:      EventType(int(autoflow.StatusActive)),
		Timestamp: time.Now(),
		MetaData:  headers,
	}
}

// The stream client must survive successive Recv calls and only be released
// when the receiver itself is closed.
func TestReceiverClosesStreamClientOnCloseOnly(t *testing.T) {
	ctx := context.Background()
	topic := autoflow.EnrollmentTopic(1)

	client := &fakeStreamClient{
		events: []*reflex.Event{
			makeEvent(t, "1", topic),
			makeEvent(t, "2", autoflow.EnrollmentTopic(2)),
			makeEvent(t, "3", topic),
		},
	}

	r := receiver{
		topic:        topic,
		name:         "consumer-1",
		cursor:       rpatterns.MemCursorStore(),
		streamClient: client,
	}

	first, ack, err := r.Recv(ctx)
	require.Nil(t, err)
	require.Equal(t, "en-1", first.ForeignID)
	require.Nil(t, ack())
	require.False(t, client.closed)

	// The second matching event arrives after a filtered one; both reads go
	// through the same stream client.
	second, ack, err := r.Recv(ctx)
	require.Nil(t, err)
	require.Equal(t, "en-3", second.ForeignID)
	require.Nil(t, ack())
	require.False(t, client.closed)

	require.Nil(t, r.Close())
	require.True(t, client.closed)
}

func TestStreamClientClosePropagates(t *testing.T) {
	inner := &fakeStreamClient{}
	s := &streamClient{
		ctx:    context.Background(),
		client: inner,
	}

	require.Nil(t, s.Close())
	require.True(t, inner.closed)
}

package adaptertest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/andrewwormald/autoflow"
)

func RunEventStreamerTest(t *testing.T, factory func() autoflow.EventStreamer) {
	tests := []func(t *testing.T, factory func() autoflow.EventStreamer){
		testStreamSendRecv,
		testStreamTopicIsolation,
	}

	for _, test := range tests {
		test(t, factory)
	}
}

func testStreamSendRecv(t *testing.T, factory func() autoflow.EventStreamer) {
	streamer := factory()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	topic := autoflow.EnrollmentTopic(1)

	sender, err := streamer.NewSender(ctx, topic)
	require.Nil(t, err)
	t.Cleanup(func() {
		require.Nil(t, sender.Close())
	})

	headers := map[autoflow.Header]string{
		autoflow.HeaderTopic:        topic,
		autoflow.HeaderTenantID:     "1",
		autoflow.HeaderEnrollmentID: "en-1",
	}

	err = sender.Send(ctx, "en-1", int(autoflow.StatusActive), headers)
	require.Nil(t, err)

	err = sender.Send(ctx, "en-1", int(autoflow.StatusCompleted), headers)
	require.Nil(t, err)

	receiver, err := streamer.NewReceiver(ctx, topic, "test-consumer")
	require.Nil(t, err)
	t.Cleanup(func() {
		require.Nil(t, receiver.Close())
	})

	e, ack, err := receiver.Recv(ctx)
	require.Nil(t, err)
	require.Equal(t, "en-1", e.ForeignID)
	require.Equal(t, int(autoflow.StatusActive), e.Type)
	require.Equal(t, "1", e.Headers[autoflow.HeaderTenantID])
	require.Nil(t, ack())

	e, ack, err = receiver.Recv(ctx)
	require.Nil(t, err)
	require.Equal(t, int(autoflow.StatusCompleted), e.Type)
	require.Nil(t, ack())
}

func testStreamTopicIsolation(t *testing.T, factory func() autoflow.EventStreamer) {
	streamer := factory()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	topicA := autoflow.EnrollmentTopic(1)
	topicB := autoflow.EnrollmentTopic(2)

	senderA, err := streamer.NewSender(ctx, topicA)
	require.Nil(t, err)

	senderB, err := streamer.NewSender(ctx, topicB)
	require.Nil(t, err)

	err = senderA.Send(ctx, "en-a", int(autoflow.StatusActive), map[autoflow.Header]string{
		autoflow.HeaderTopic: topicA,
	})
	require.Nil(t, err)

	err = senderB.Send(ctx, "en-b", int(autoflow.StatusActive), map[autoflow.Header]string{
		autoflow.HeaderTopic: topicB,
	})
	require.Nil(t, err)

	receiver, err := streamer.NewReceiver(ctx, topicB, "test-consumer")
	require.Nil(t, err)
	t.Cleanup(func() {
		require.Nil(t, receiver.Close())
	})

	// Only topicB's event is delivered to the topicB receiver.
	e, ack, err := receiver.Recv(ctx)
	require.Nil(t, err)
	require.Equal(t, "en-b", e.ForeignID)
	require.Nil(t, ack())
}

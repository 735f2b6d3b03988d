package autoflow_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/andrewwormald/autoflow"
)

func TestScheduleRequiresRun(t *testing.T) {
	d := newDeps()
	e := d.engine()

	err := e.Schedule(1, autoflow.EventFormSubmitted, contact("c1"), "* * * * *")
	require.ErrorIs(t, err, autoflow.ErrEngineNotRunning)
}

func TestScheduleRejectsInvalidSpec(t *testing.T) {
	ctx := context.Background()
	d := newDeps()
	e := d.engine()
	e.Run(ctx)
	t.Cleanup(e.Stop)

	err := e.Schedule(1, autoflow.EventFormSubmitted, contact("c1"), "not a cron spec")
	require.NotNil(t, err)

	err = e.Schedule(0, autoflow.EventFormSubmitted, contact("c1"), "* * * * *")
	require.ErrorIs(t, err, autoflow.ErrMissingTenant)
}

func TestScheduleDispatchesOnTick(t *testing.T) {
	ctx := context.Background()
	d := newDeps()
	e := d.engine(autoflow.WithPollFrequency(time.Millisecond * 10))
	e.Run(ctx)
	t.Cleanup(e.Stop)

	_, err := e.CreateRule(ctx, &autoflow.Rule{
		TenantID: 1, Name: "daily score", Priority: 1, Active: true,
		EventType: autoflow.EventPageVisited,
		Action:    autoflow.Action{Kind: autoflow.ActionAddPoints, Points: 1},
	})
	require.Nil(t, err)

	// @every accepts sub-minute intervals which keeps the test fast.
	err = e.Schedule(1, autoflow.EventPageVisited, contact("c1"), "@every 100ms")
	require.Nil(t, err)

	require.Eventually(t, func() bool {
		return len(d.executor.actions()) >= 2
	}, time.Second*5, time.Millisecond*20)
}

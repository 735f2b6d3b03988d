package adaptertest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/andrewwormald/autoflow"
)

func RunRoleSchedulerTest(t *testing.T, factory func() autoflow.RoleScheduler) {
	scheduler := factory()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	roleCtx, roleCancel, err := scheduler.Await(ctx, "role-a")
	require.Nil(t, err)
	require.Nil(t, roleCtx.Err())

	// A second caller blocks until the role is released.
	acquired := make(chan struct{})
	go func() {
		ctx2, cancel2, err := scheduler.Await(ctx, "role-a")
		require.Nil(t, err)
		defer cancel2()
		require.Nil(t, ctx2.Err())
		close(acquired)
	}()

	select {
	case <-acquired:
		require.Fail(t, "role acquired while still held")
	case <-time.After(100 * time.Millisecond):
	}

	// A different role is free.
	_, cancelB, err := scheduler.Await(ctx, "role-b")
	require.Nil(t, err)
	defer cancelB()

	// Releasing the role hands it to the waiter.
	roleCancel()

	select {
	case <-acquired:
	case <-time.After(5 * time.Second):
		require.Fail(t, "waiter never acquired released role")
	}
}

package adaptertest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/andrewwormald/autoflow"
)

func RunTaskStoreTest(t *testing.T, factory func() autoflow.TaskStore) {
	tests := []func(t *testing.T, factory func() autoflow.TaskStore){
		testTaskDedupe,
		testTaskCancelPending,
		testTaskRetry,
		testTaskListDue,
	}

	for _, test := range tests {
		test(t, factory)
	}
}

func makeTask(tenantID int64, enrollmentID string, stepID int64, runAt time.Time) *autoflow.Task {
	return &autoflow.Task{
		TenantID:     tenantID,
		EnrollmentID: enrollmentID,
		StepID:       stepID,
		RunAt:        runAt,
		DedupeKey:    autoflow.TaskDedupeKey(enrollmentID, stepID),
	}
}

func testTaskDedupe(t *testing.T, factory func() autoflow.TaskStore) {
	store := factory()
	ctx := context.Background()

	runAt := time.Now().Add(time.Hour)

	id, err := store.Create(ctx, makeTask(1, "en-1", 1, runAt))
	require.Nil(t, err)
	require.NotZero(t, id)

	// A second pending task for the same enrollment step is rejected.
	_, err = store.Create(ctx, makeTask(1, "en-1", 1, runAt))
	require.ErrorIs(t, err, autoflow.ErrTaskAlreadyPending)

	// Other steps and enrollments are unaffected.
	_, err = store.Create(ctx, makeTask(1, "en-1", 2, runAt))
	require.Nil(t, err)

	_, err = store.Create(ctx, makeTask(1, "en-2", 1, runAt))
	require.Nil(t, err)

	// A completed task frees the key for rescheduling.
	err = store.Complete(ctx, id)
	require.Nil(t, err)

	_, err = store.Create(ctx, makeTask(1, "en-1", 1, runAt))
	require.Nil(t, err)
}

func testTaskCancelPending(t *testing.T, factory func() autoflow.TaskStore) {
	store := factory()
	ctx := context.Background()

	runAt := time.Now().Add(time.Hour)

	_, err := store.Create(ctx, makeTask(1, "en-1", 1, runAt))
	require.Nil(t, err)

	_, err = store.Create(ctx, makeTask(1, "en-1", 2, runAt.Add(time.Hour)))
	require.Nil(t, err)

	_, err = store.Create(ctx, makeTask(1, "en-2", 1, runAt))
	require.Nil(t, err)

	pending, err := store.Pending(ctx, 1, "en-1")
	require.Nil(t, err)
	require.Len(t, pending, 2)
	require.Equal(t, int64(1), pending[0].StepID)

	err = store.CancelPending(ctx, 1, "en-1")
	require.Nil(t, err)

	pending, err = store.Pending(ctx, 1, "en-1")
	require.Nil(t, err)
	require.Empty(t, pending)

	// The other enrollment's task survives.
	pending, err = store.Pending(ctx, 1, "en-2")
	require.Nil(t, err)
	require.Len(t, pending, 1)
}

func testTaskRetry(t *testing.T, factory func() autoflow.TaskStore) {
	store := factory()
	ctx := context.Background()

	id, err := store.Create(ctx, makeTask(1, "en-1", 1, time.Now().Add(-time.Minute)))
	require.Nil(t, err)

	later := time.Now().Add(time.Minute)
	err = store.Retry(ctx, id, later)
	require.Nil(t, err)

	pending, err := store.Pending(ctx, 1, "en-1")
	require.Nil(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, 1, pending[0].Attempts)
	require.WithinDuration(t, later, pending[0].RunAt, time.Second)

	err = store.Retry(ctx, id+1000, later)
	require.ErrorIs(t, err, autoflow.ErrTaskNotFound)
}

func testTaskListDue(t *testing.T, factory func() autoflow.TaskStore) {
	store := factory()
	ctx := context.Background()

	now := time.Now()

	_, err := store.Create(ctx, makeTask(1, "en-1", 1, now.Add(-time.Hour)))
	require.Nil(t, err)

	cancelledID, err := store.Create(ctx, makeTask(1, "en-2", 1, now.Add(-time.Minute)))
	require.Nil(t, err)

	// Not yet due.
	_, err = store.Create(ctx, makeTask(1, "en-3", 1, now.Add(time.Hour)))
	require.Nil(t, err)

	err = store.Cancel(ctx, cancelledID)
	require.Nil(t, err)

	due, err := store.ListDue(ctx, now, 10)
	require.Nil(t, err)
	require.Len(t, due, 1)
	require.Equal(t, "en-1", due[0].EnrollmentID)
}

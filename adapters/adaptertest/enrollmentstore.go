package adaptertest

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/andrewwormald/autoflow"
)

func RunEnrollmentStoreTest(t *testing.T, factory func() autoflow.EnrollmentStore) {
	tests := []func(t *testing.T, factory func() autoflow.EnrollmentStore){
		testEnrollmentCreateLookup,
		testEnrollmentExclusivity,
		testEnrollmentVersionedUpdate,
		testEnrollmentOutbox,
	}

	for _, test := range tests {
		test(t, factory)
	}
}

func makeEnrollment(tenantID, journeyID int64, targetID string) *autoflow.Enrollment {
	now := time.Now()
	return &autoflow.Enrollment{
		ID:             uuid.New().String(),
		TenantID:       tenantID,
		JourneyID:      journeyID,
		Target:         autoflow.EntityRef{Type: autoflow.EntityContact, ID: targetID},
		Status:         autoflow.StatusActive,
		CurrentOrderNo: 1,
		StartedAt:      now,
		UpdatedAt:      now,
	}
}

func testEnrollmentCreateLookup(t *testing.T, factory func() autoflow.EnrollmentStore) {
	store := factory()
	ctx := context.Background()

	en := makeEnrollment(1, 10, "contact-1")
	err := store.Create(ctx, en)
	require.Nil(t, err)
	require.Equal(t, 1, en.Version)

	found, err := store.Lookup(ctx, 1, en.ID)
	require.Nil(t, err)
	require.Equal(t, autoflow.StatusActive, found.Status)
	require.Equal(t, 1, found.CurrentOrderNo)
	require.Equal(t, en.Target, found.Target)

	// Lookups are tenant scoped.
	_, err = store.Lookup(ctx, 2, en.ID)
	require.ErrorIs(t, err, autoflow.ErrEnrollmentNotFound)

	active, err := store.ActiveByTarget(ctx, 1, 10, en.Target)
	require.Nil(t, err)
	require.Equal(t, en.ID, active.ID)
}

func testEnrollmentExclusivity(t *testing.T, factory func() autoflow.EnrollmentStore) {
	store := factory()
	ctx := context.Background()

	first := makeEnrollment(1, 10, "contact-1")
	err := store.Create(ctx, first)
	require.Nil(t, err)

	// A second active enrollment for the same key is rejected.
	err = store.Create(ctx, makeEnrollment(1, 10, "contact-1"))
	require.ErrorIs(t, err, autoflow.ErrAlreadyEnrolled)

	// Paused still blocks re-enrollment.
	first.Status = autoflow.StatusPaused
	err = store.Update(ctx, first)
	require.Nil(t, err)

	err = store.Create(ctx, makeEnrollment(1, 10, "contact-1"))
	require.ErrorIs(t, err, autoflow.ErrAlreadyEnrolled)

	// A terminal enrollment frees the key.
	first.Status = autoflow.StatusCancelled
	err = store.Update(ctx, first)
	require.Nil(t, err)

	err = store.Create(ctx, makeEnrollment(1, 10, "contact-1"))
	require.Nil(t, err)

	// Other journeys and tenants are unaffected.
	err = store.Create(ctx, makeEnrollment(1, 11, "contact-1"))
	require.Nil(t, err)

	err = store.Create(ctx, makeEnrollment(2, 10, "contact-1"))
	require.Nil(t, err)
}

func testEnrollmentVersionedUpdate(t *testing.T, factory func() autoflow.EnrollmentStore) {
	store := factory()
	ctx := context.Background()

	en := makeEnrollment(1, 10, "contact-1")
	err := store.Create(ctx, en)
	require.Nil(t, err)

	// Two workers read the same version.
	a, err := store.Lookup(ctx, 1, en.ID)
	require.Nil(t, err)

	b, err := store.Lookup(ctx, 1, en.ID)
	require.Nil(t, err)

	a.CurrentOrderNo = 2
	a.Data.CompletedSteps = append(a.Data.CompletedSteps, 1)
	err = store.Update(ctx, a)
	require.Nil(t, err)

	// The slower worker's update is stale and lost.
	b.CurrentOrderNo = 3
	err = store.Update(ctx, b)
	require.ErrorIs(t, err, autoflow.ErrStaleEnrollment)

	found, err := store.Lookup(ctx, 1, en.ID)
	require.Nil(t, err)
	require.Equal(t, 2, found.CurrentOrderNo)
	require.Equal(t, []int64{1}, found.Data.CompletedSteps)
}

func testEnrollmentOutbox(t *testing.T, factory func() autoflow.EnrollmentStore) {
	store := factory()
	ctx := context.Background()

	en := makeEnrollment(1, 10, "contact-1")
	err := store.Create(ctx, en)
	require.Nil(t, err)

	en.Status = autoflow.StatusCompleted
	en.CompletedAt = time.Now()
	err = store.Update(ctx, en)
	require.Nil(t, err)

	// Create and Update each buffered an event.
	events, err := store.ListOutboxEvents(ctx, 10)
	require.Nil(t, err)
	require.Len(t, events, 2)
	for _, e := range events {
		require.Equal(t, int64(1), e.TenantID)
		require.NotEmpty(t, e.Data)
	}

	err = store.DeleteOutboxEvent(ctx, events[0].ID)
	require.Nil(t, err)

	events, err = store.ListOutboxEvents(ctx, 10)
	require.Nil(t, err)
	require.Len(t, events, 1)
}

package adaptertest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/andrewwormald/autoflow"
)

func RunJourneyStoreTest(t *testing.T, factory func() autoflow.JourneyStore) {
	tests := []func(t *testing.T, factory func() autoflow.JourneyStore){
		testJourneyCreateLookup,
		testJourneyUpdate,
	}

	for _, test := range tests {
		test(t, factory)
	}
}

func makeJourney(tenantID int64, name string) *autoflow.Journey {
	return &autoflow.Journey{
		TenantID: tenantID,
		Name:     name,
		Kind:     autoflow.KindJourney,
		Active:   true,
		Steps: []autoflow.Step{
			{
				ID:      1,
				OrderNo: 1,
				Type:    autoflow.StepAction,
				Action: &autoflow.Action{
					Kind:    autoflow.ActionAssignOwner,
					OwnerID: "owner-1",
				},
			},
			{
				ID:      2,
				OrderNo: 2,
				Type:    autoflow.StepWait,
				Delay:   time.Hour,
			},
		},
	}
}

func testJourneyCreateLookup(t *testing.T, factory func() autoflow.JourneyStore) {
	store := factory()
	ctx := context.Background()

	jn := makeJourney(1, "welcome")
	id, err := store.Create(ctx, jn)
	require.Nil(t, err)
	require.NotZero(t, id)

	found, err := store.Lookup(ctx, 1, id)
	require.Nil(t, err)
	require.Equal(t, "welcome", found.Name)
	require.Equal(t, autoflow.KindJourney, found.Kind)
	require.Len(t, found.Steps, 2)
	require.Equal(t, autoflow.StepAction, found.Steps[0].Type)
	require.Equal(t, time.Hour, found.Steps[1].Delay)

	// Lookups are tenant scoped.
	_, err = store.Lookup(ctx, 2, id)
	require.ErrorIs(t, err, autoflow.ErrJourneyNotFound)
}

func testJourneyUpdate(t *testing.T, factory func() autoflow.JourneyStore) {
	store := factory()
	ctx := context.Background()

	jn := makeJourney(1, "welcome")
	id, err := store.Create(ctx, jn)
	require.Nil(t, err)

	jn.Active = false
	jn.Steps = jn.Steps[:1]
	err = store.Update(ctx, jn)
	require.Nil(t, err)

	found, err := store.Lookup(ctx, 1, id)
	require.Nil(t, err)
	require.False(t, found.Active)
	require.Len(t, found.Steps, 1)

	missing := makeJourney(1, "missing")
	missing.ID = id + 1000
	err = store.Update(ctx, missing)
	require.ErrorIs(t, err, autoflow.ErrJourneyNotFound)
}

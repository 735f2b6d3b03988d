// Package adaptertest provides acceptance test suites that every adapter
// implementation of the engine's contracts should pass.
package adaptertest

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/andrewwormald/autoflow"
)

func RunRuleStoreTest(t *testing.T, factory func() autoflow.RuleStore) {
	tests := []func(t *testing.T, factory func() autoflow.RuleStore){
		testRuleCreateLookup,
		testRuleUpdate,
		testRuleListActive,
	}

	for _, test := range tests {
		test(t, factory)
	}
}

func makeRule(tenantID int64, name string, priority int, eventType autoflow.EventType) *autoflow.Rule {
	return &autoflow.Rule{
		TenantID:  tenantID,
		Name:      name,
		Priority:  priority,
		Active:    true,
		EventType: eventType,
		Condition: autoflow.Condition{
			Criteria: []autoflow.Criterion{
				{Field: "status", Op: autoflow.OpExists},
			},
		},
		Action: autoflow.Action{
			Kind:   autoflow.ActionAddPoints,
			Points: 5,
		},
	}
}

func testRuleCreateLookup(t *testing.T, factory func() autoflow.RuleStore) {
	store := factory()
	ctx := context.Background()

	r := makeRule(1, "score form submits", 10, autoflow.EventFormSubmitted)
	id, err := store.Create(ctx, r)
	require.Nil(t, err)
	require.NotZero(t, id)

	found, err := store.Lookup(ctx, 1, id)
	require.Nil(t, err)
	require.Equal(t, "score form submits", found.Name)
	require.Equal(t, 10, found.Priority)
	require.Equal(t, autoflow.EventFormSubmitted, found.EventType)
	require.Equal(t, autoflow.ActionAddPoints, found.Action.Kind)

	// Lookups are tenant scoped.
	_, err = store.Lookup(ctx, 2, id)
	require.ErrorIs(t, err, autoflow.ErrRuleNotFound)
}

func testRuleUpdate(t *testing.T, factory func() autoflow.RuleStore) {
	store := factory()
	ctx := context.Background()

	r := makeRule(1, "score form submits", 10, autoflow.EventFormSubmitted)
	id, err := store.Create(ctx, r)
	require.Nil(t, err)

	r.Priority = 20
	r.Active = false
	err = store.Update(ctx, r)
	require.Nil(t, err)

	found, err := store.Lookup(ctx, 1, id)
	require.Nil(t, err)
	require.Equal(t, 20, found.Priority)
	require.False(t, found.Active)

	missing := makeRule(1, "missing", 1, autoflow.EventFormSubmitted)
	missing.ID = id + 1000
	err = store.Update(ctx, missing)
	require.ErrorIs(t, err, autoflow.ErrRuleNotFound)
}

func testRuleListActive(t *testing.T, factory func() autoflow.RuleStore) {
	store := factory()
	ctx := context.Background()

	_, err := store.Create(ctx, makeRule(1, "a", 1, autoflow.EventFormSubmitted))
	require.Nil(t, err)

	_, err = store.Create(ctx, makeRule(1, "b", 2, autoflow.EventFormSubmitted))
	require.Nil(t, err)

	// Different event type, excluded.
	_, err = store.Create(ctx, makeRule(1, "c", 3, autoflow.EventDealClosed))
	require.Nil(t, err)

	// Different tenant, excluded.
	_, err = store.Create(ctx, makeRule(2, "d", 4, autoflow.EventFormSubmitted))
	require.Nil(t, err)

	// Inactive, excluded.
	inactive := makeRule(1, "e", 5, autoflow.EventFormSubmitted)
	inactive.Active = false
	_, err = store.Create(ctx, inactive)
	require.Nil(t, err)

	rules, err := store.ListActive(ctx, 1, autoflow.EventFormSubmitted)
	require.Nil(t, err)
	require.Len(t, rules, 2)
	for _, r := range rules {
		require.Equal(t, int64(1), r.TenantID)
		require.Equal(t, autoflow.EventFormSubmitted, r.EventType)
		require.True(t, r.Active)
	}
}

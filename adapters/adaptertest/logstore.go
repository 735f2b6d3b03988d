package adaptertest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/andrewwormald/autoflow"
)

func RunLogStoreTest(t *testing.T, factory func() autoflow.LogStore) {
	store := factory()
	ctx := context.Background()

	err := store.Append(ctx, &autoflow.LogEntry{
		TenantID:  1,
		RuleID:    5,
		Outcome:   autoflow.OutcomeRuleMatched,
		Detail:    "form_submitted",
		CreatedAt: time.Now(),
	})
	require.Nil(t, err)

	err = store.Append(ctx, &autoflow.LogEntry{
		TenantID:     1,
		EnrollmentID: "en-1",
		StepID:       2,
		Outcome:      autoflow.OutcomeStepCompleted,
		CreatedAt:    time.Now(),
	})
	require.Nil(t, err)

	err = store.Append(ctx, &autoflow.LogEntry{
		TenantID:  2,
		Outcome:   autoflow.OutcomeRuleMatched,
		CreatedAt: time.Now(),
	})
	require.Nil(t, err)

	entries, err := store.ListByTenant(ctx, 1)
	require.Nil(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, autoflow.OutcomeRuleMatched, entries[0].Outcome)
	require.Equal(t, int64(5), entries[0].RuleID)
	require.Equal(t, autoflow.OutcomeStepCompleted, entries[1].Outcome)
	require.Equal(t, "en-1", entries[1].EnrollmentID)
}

func RunIdempotencyStoreTest(t *testing.T, factory func() autoflow.IdempotencyStore) {
	store := factory()
	ctx := context.Background()

	claimed, err := store.Claim(ctx, 1, "token-1")
	require.Nil(t, err)
	require.True(t, claimed)

	// The same token claims exactly once.
	claimed, err = store.Claim(ctx, 1, "token-1")
	require.Nil(t, err)
	require.False(t, claimed)

	// Tokens are tenant scoped.
	claimed, err = store.Claim(ctx, 2, "token-1")
	require.Nil(t, err)
	require.True(t, claimed)
}

package autoflow

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatusTransitions(t *testing.T) {
	testCases := []struct {
		from    Status
		to      Status
		allowed bool
	}{
		{StatusPending, StatusActive, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusPaused, false},
		{StatusActive, StatusPaused, true},
		{StatusActive, StatusCompleted, true},
		{StatusActive, StatusCancelled, true},
		{StatusActive, StatusFailed, true},
		{StatusPaused, StatusActive, true},
		{StatusPaused, StatusCancelled, true},
		{StatusPaused, StatusCompleted, false},
		{StatusCompleted, StatusActive, false},
		{StatusCancelled, StatusActive, false},
		{StatusFailed, StatusActive, false},
	}

	for _, tc := range testCases {
		t.Run(tc.from.String()+" to "+tc.to.String(), func(t *testing.T) {
			en := &Enrollment{ID: "en-1", Status: tc.from}
			err := validateTransition(en, tc.to, ErrUnableToCancel)
			if tc.allowed {
				require.Nil(t, err)
			} else {
				require.ErrorIs(t, err, ErrUnableToCancel)
			}
		})
	}
}

func TestStatusTerminal(t *testing.T) {
	require.False(t, StatusPending.Terminal())
	require.False(t, StatusActive.Terminal())
	require.False(t, StatusPaused.Terminal())
	require.True(t, StatusCompleted.Terminal())
	require.True(t, StatusCancelled.Terminal())
	require.True(t, StatusFailed.Terminal())
}

func TestExecutionData(t *testing.T) {
	var d ExecutionData
	require.False(t, d.Completed(1))

	d.MarkCompleted(1)
	require.True(t, d.Completed(1))

	// Marking twice keeps a single entry.
	d.MarkCompleted(1)
	d.MarkCompleted(2)
	require.Equal(t, []int64{1, 2}, d.CompletedSteps)
}

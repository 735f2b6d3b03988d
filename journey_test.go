package autoflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func validJourney() Journey {
	return Journey{
		TenantID: 1,
		Name:     "welcome",
		Kind:     KindJourney,
		Active:   true,
		Steps: []Step{
			{ID: 1, OrderNo: 1, Type: StepAction, Action: &Action{Kind: ActionAssignOwner, OwnerID: "owner-1"}},
			{ID: 2, OrderNo: 2, Type: StepWait, Delay: time.Hour},
			{ID: 3, OrderNo: 3, Type: StepBranch, Branch: &Branch{
				Condition:   Condition{Criteria: []Criterion{{Field: "score", Op: OpGTE, Value: 50}}},
				NextOrderNo: 4,
			}},
			{ID: 4, OrderNo: 4, Type: StepAction, Action: &Action{Kind: ActionAddPoints, Points: 5}},
		},
	}
}

func TestJourneyValidate(t *testing.T) {
	testCases := []struct {
		name    string
		mutate  func(jn *Journey)
		wantErr error
	}{
		{
			name:   "Golden path",
			mutate: func(jn *Journey) {},
		},
		{
			name:    "Missing tenant",
			mutate:  func(jn *Journey) { jn.TenantID = 0 },
			wantErr: ErrMissingTenant,
		},
		{
			name:    "Missing name",
			mutate:  func(jn *Journey) { jn.Name = "" },
			wantErr: ErrInvalidJourney,
		},
		{
			name:    "No steps",
			mutate:  func(jn *Journey) { jn.Steps = nil },
			wantErr: ErrInvalidJourney,
		},
		{
			name:    "Non-positive order",
			mutate:  func(jn *Journey) { jn.Steps[0].OrderNo = 0 },
			wantErr: ErrInvalidJourney,
		},
		{
			name: "Duplicate order",
			mutate: func(jn *Journey) {
				jn.Steps[1].OrderNo = 1
			},
			wantErr: ErrInvalidJourney,
		},
		{
			name:    "Negative delay",
			mutate:  func(jn *Journey) { jn.Steps[1].Delay = -time.Second },
			wantErr: ErrInvalidJourney,
		},
		{
			name:    "Action step without action",
			mutate:  func(jn *Journey) { jn.Steps[0].Action = nil },
			wantErr: ErrInvalidJourney,
		},
		{
			name:    "Branch step without branch",
			mutate:  func(jn *Journey) { jn.Steps[2].Branch = nil },
			wantErr: ErrInvalidJourney,
		},
		{
			name:    "Sequences cannot branch",
			mutate:  func(jn *Journey) { jn.Kind = KindSequence },
			wantErr: ErrInvalidJourney,
		},
		{
			name:    "Branch target must exist",
			mutate:  func(jn *Journey) { jn.Steps[2].Branch.NextOrderNo = 99 },
			wantErr: ErrInvalidJourney,
		},
		{
			name: "Backward branch target",
			mutate: func(jn *Journey) {
				// Revisiting a completed step would strand the enrollment
				// active with nothing scheduled.
				jn.Steps = []Step{
					{ID: 1, OrderNo: 1, Type: StepAction, Action: &Action{Kind: ActionAddPoints, Points: 1}},
					{ID: 2, OrderNo: 2, Type: StepBranch, Branch: &Branch{NextOrderNo: 1}},
				}
			},
			wantErr: ErrInvalidJourney,
		},
		{
			name: "Branch cannot target itself",
			mutate: func(jn *Journey) {
				jn.Steps[2].Branch.NextOrderNo = 3
			},
			wantErr: ErrInvalidJourney,
		},
		{
			name: "Unreachable step",
			mutate: func(jn *Journey) {
				// Both branch outcomes jump past the middle step.
				jn.Steps = []Step{
					{ID: 1, OrderNo: 1, Type: StepBranch, Branch: &Branch{NextOrderNo: 3, ElseOrderNo: 3}},
					{ID: 2, OrderNo: 2, Type: StepAction, Action: &Action{Kind: ActionAddPoints, Points: 1}},
					{ID: 3, OrderNo: 3, Type: StepWait},
				}
			},
			wantErr: ErrInvalidJourney,
		},
		{
			name:    "Unknown step type",
			mutate:  func(jn *Journey) { jn.Steps[1].Type = "sleep" },
			wantErr: ErrInvalidJourney,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			jn := validJourney()
			tc.mutate(&jn)

			err := jn.Validate()
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.Nil(t, err)
		})
	}
}

func TestJourneyStepHelpers(t *testing.T) {
	jn := validJourney()

	first, ok := jn.FirstStep()
	require.True(t, ok)
	require.Equal(t, int64(1), first.ID)

	step, ok := jn.StepByID(3)
	require.True(t, ok)
	require.Equal(t, StepBranch, step.Type)

	_, ok = jn.StepByID(99)
	require.False(t, ok)

	step, ok = jn.StepByOrder(2)
	require.True(t, ok)
	require.Equal(t, int64(2), step.ID)

	next, ok := jn.NextAfter(2)
	require.True(t, ok)
	require.Equal(t, 3, next.OrderNo)

	_, ok = jn.NextAfter(4)
	require.False(t, ok)
}

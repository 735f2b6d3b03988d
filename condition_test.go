package autoflow

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConditionValidate(t *testing.T) {
	testCases := []struct {
		name      string
		condition Condition
		wantErr   error
	}{
		{
			name: "Golden path",
			condition: Condition{Criteria: []Criterion{
				{Field: "status", Op: OpEq, Value: "active"},
				{Field: "score", Op: OpGTE, Value: 10},
				{Field: "country", Op: OpIn, Value: []string{"DE", "FR"}},
			}},
		},
		{
			name:      "Empty criteria list matches everything",
			condition: Condition{},
		},
		{
			name: "Empty field",
			condition: Condition{Criteria: []Criterion{
				{Field: "", Op: OpEq, Value: "x"},
			}},
			wantErr: ErrInvalidRule,
		},
		{
			name: "Unknown operator",
			condition: Condition{Criteria: []Criterion{
				{Field: "status", Op: "matches_regex", Value: "x"},
			}},
			wantErr: ErrInvalidRule,
		},
		{
			name: "In requires a set",
			condition: Condition{Criteria: []Criterion{
				{Field: "country", Op: OpIn, Value: "DE"},
			}},
			wantErr: ErrInvalidRule,
		},
		{
			name: "In rejects an empty set",
			condition: Condition{Criteria: []Criterion{
				{Field: "country", Op: OpIn, Value: []string{}},
			}},
			wantErr: ErrInvalidRule,
		},
		{
			name: "Numeric operator rejects non-numeric value",
			condition: Condition{Criteria: []Criterion{
				{Field: "score", Op: OpGT, Value: "ten"},
			}},
			wantErr: ErrInvalidRule,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.condition.Validate()
			if tc.wantErr != nil {
				require.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.Nil(t, err)
		})
	}
}

func TestConditionMatch(t *testing.T) {
	snapshot := Snapshot{
		"status":     "active",
		"score":      42,
		"country":    "DE",
		"tags":       []any{"vip", "beta"},
		"email":      "ada@example.com",
		"deal_value": "N/A",
		"nickname":   nil,
	}

	testCases := []struct {
		name      string
		criterion Criterion
		want      bool
	}{
		{name: "eq match", criterion: Criterion{Field: "status", Op: OpEq, Value: "active"}, want: true},
		{name: "eq mismatch", criterion: Criterion{Field: "status", Op: OpEq, Value: "churned"}, want: false},
		{name: "eq numeric forms are equal", criterion: Criterion{Field: "score", Op: OpEq, Value: "42"}, want: true},
		{name: "ne match", criterion: Criterion{Field: "status", Op: OpNe, Value: "churned"}, want: true},
		{name: "ne mismatch", criterion: Criterion{Field: "status", Op: OpNe, Value: "active"}, want: false},
		{name: "in match", criterion: Criterion{Field: "country", Op: OpIn, Value: []string{"DE", "FR"}}, want: true},
		{name: "in mismatch", criterion: Criterion{Field: "country", Op: OpIn, Value: []string{"US"}}, want: false},
		{name: "not_in match", criterion: Criterion{Field: "country", Op: OpNotIn, Value: []string{"US"}}, want: true},
		{name: "not_in mismatch", criterion: Criterion{Field: "country", Op: OpNotIn, Value: []string{"DE"}}, want: false},
		{name: "contains substring", criterion: Criterion{Field: "email", Op: OpContains, Value: "@example."}, want: true},
		{name: "contains list member", criterion: Criterion{Field: "tags", Op: OpContains, Value: "vip"}, want: true},
		{name: "contains miss", criterion: Criterion{Field: "tags", Op: OpContains, Value: "enterprise"}, want: false},
		{name: "exists", criterion: Criterion{Field: "status", Op: OpExists}, want: true},
		{name: "exists on explicit null", criterion: Criterion{Field: "nickname", Op: OpExists}, want: true},
		{name: "exists on missing field", criterion: Criterion{Field: "phone", Op: OpExists}, want: false},
		{name: "not_exists on missing field", criterion: Criterion{Field: "phone", Op: OpNotExists}, want: true},
		{name: "not_exists on present field", criterion: Criterion{Field: "status", Op: OpNotExists}, want: false},
		{name: "gt match", criterion: Criterion{Field: "score", Op: OpGT, Value: 40}, want: true},
		{name: "gt boundary", criterion: Criterion{Field: "score", Op: OpGT, Value: 42}, want: false},
		{name: "gte boundary", criterion: Criterion{Field: "score", Op: OpGTE, Value: 42}, want: true},
		{name: "lt match", criterion: Criterion{Field: "score", Op: OpLT, Value: 100}, want: true},
		{name: "lte boundary", criterion: Criterion{Field: "score", Op: OpLTE, Value: 42}, want: true},

		// Fail closed: comparisons never throw, they just don't match.
		{name: "gt on non-numeric snapshot value", criterion: Criterion{Field: "deal_value", Op: OpGT, Value: 10}, want: false},
		{name: "eq on missing field", criterion: Criterion{Field: "phone", Op: OpEq, Value: "123"}, want: false},
		{name: "in on non-scalar snapshot value", criterion: Criterion{Field: "tags", Op: OpIn, Value: []string{"vip"}}, want: false},
		{name: "contains on number", criterion: Criterion{Field: "score", Op: OpContains, Value: "4"}, want: false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c := Condition{Criteria: []Criterion{tc.criterion}}
			require.Equal(t, tc.want, c.Match(snapshot))
		})
	}
}

func TestConditionMatchConjunction(t *testing.T) {
	snapshot := Snapshot{"status": "active", "score": 42}

	c := Condition{Criteria: []Criterion{
		{Field: "status", Op: OpEq, Value: "active"},
		{Field: "score", Op: OpGT, Value: 40},
	}}
	require.True(t, c.Match(snapshot))

	// One failing criterion fails the whole condition.
	c.Criteria = append(c.Criteria, Criterion{Field: "score", Op: OpLT, Value: 10})
	require.False(t, c.Match(snapshot))
}

func TestConditionMatchDeterministic(t *testing.T) {
	snapshot := Snapshot{"status": "active", "score": 42, "tags": []any{"vip"}}
	c := Condition{Criteria: []Criterion{
		{Field: "status", Op: OpEq, Value: "active"},
		{Field: "tags", Op: OpContains, Value: "vip"},
		{Field: "score", Op: OpGTE, Value: 42},
	}}

	first := c.Match(snapshot)
	for i := 0; i < 100; i++ {
		require.Equal(t, first, c.Match(snapshot))
	}
}

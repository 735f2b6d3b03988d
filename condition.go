package autoflow

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
)

// Op is the comparison operator of a single Criterion. The operator set is
// closed: anything outside it is rejected when the owning rule or step is
// created, never interpreted at evaluation time.
type Op string

const (
	OpEq        Op = "eq"
	OpNe        Op = "ne"
	OpIn        Op = "in"
	OpNotIn     Op = "not_in"
	OpContains  Op = "contains"
	OpExists    Op = "exists"
	OpNotExists Op = "not_exists"
	OpGT        Op = "gt"
	OpGTE       Op = "gte"
	OpLT        Op = "lt"
	OpLTE       Op = "lte"
)

func (o Op) Valid() bool {
	switch o {
	case OpEq, OpNe, OpIn, OpNotIn, OpContains, OpExists, OpNotExists, OpGT, OpGTE, OpLT, OpLTE:
		return true
	default:
		return false
	}
}

// Criterion is a single field comparison against a Snapshot.
type Criterion struct {
	Field string `json:"field"`
	Op    Op     `json:"op"`
	Value any    `json:"value,omitempty"`
}

// Condition is a conjunction of Criteria. All criteria must match for the
// condition to match. Composite OR logic is expressed by defining multiple
// rules, each with its own condition.
type Condition struct {
	Criteria []Criterion `json:"criteria"`
}

// Validate rejects malformed conditions at creation time so that evaluation
// can stay total. It returns ErrInvalidRule describing the first offending
// criterion.
func (c Condition) Validate() error {
	for i, cr := range c.Criteria {
		if cr.Field == "" {
			return errors.Wrap(ErrInvalidRule, "criterion field is empty", j.MKV{
				"criterion_index": strconv.Itoa(i),
			})
		}

		if !cr.Op.Valid() {
			return errors.Wrap(ErrInvalidRule, "unknown operator", j.MKV{
				"criterion_index": strconv.Itoa(i),
				"operator":        string(cr.Op),
			})
		}

		switch cr.Op {
		case OpIn, OpNotIn:
			set, ok := asSet(cr.Value)
			if !ok || len(set) == 0 {
				return errors.Wrap(ErrInvalidRule, "operator requires a non-empty set value", j.MKV{
					"criterion_index": strconv.Itoa(i),
					"operator":        string(cr.Op),
				})
			}
		case OpGT, OpGTE, OpLT, OpLTE:
			if _, ok := asNumber(cr.Value); !ok {
				return errors.Wrap(ErrInvalidRule, "operator requires a numeric value", j.MKV{
					"criterion_index": strconv.Itoa(i),
					"operator":        string(cr.Op),
				})
			}
		}
	}

	return nil
}

// Match reports whether every criterion matches the snapshot. It is pure and
// total: malformed or ambiguous criteria evaluate to false rather than
// erroring, so one bad rule can never block unrelated rules.
func (c Condition) Match(s Snapshot) bool {
	for _, cr := range c.Criteria {
		if !matchCriterion(cr, s) {
			return false
		}
	}

	return true
}

func matchCriterion(cr Criterion, s Snapshot) bool {
	value, exists := s[cr.Field]

	switch cr.Op {
	case OpExists:
		// An explicit null still counts as present.
		return exists
	case OpNotExists:
		return !exists
	}

	if !exists {
		// Fail closed: a missing field cannot satisfy a value comparison.
		return false
	}

	switch cr.Op {
	case OpEq:
		return looseEqual(value, cr.Value)
	case OpNe:
		return !looseEqual(value, cr.Value)
	case OpIn:
		return inSet(value, cr.Value)
	case OpNotIn:
		set, ok := asSet(cr.Value)
		if !ok || !isScalar(value) {
			return false
		}
		for _, member := range set {
			if looseEqual(value, member) {
				return false
			}
		}
		return true
	case OpContains:
		return contains(value, cr.Value)
	case OpGT:
		return numericCompare(value, cr.Value, func(a, b float64) bool { return a > b })
	case OpGTE:
		return numericCompare(value, cr.Value, func(a, b float64) bool { return a >= b })
	case OpLT:
		return numericCompare(value, cr.Value, func(a, b float64) bool { return a < b })
	case OpLTE:
		return numericCompare(value, cr.Value, func(a, b float64) bool { return a <= b })
	default:
		// Unknown operators are screened out at creation time. If one slips
		// through it fails closed.
		return false
	}
}

// looseEqual compares numerically when both sides are numeric, otherwise it
// compares the normalised string forms.
func looseEqual(a, b any) bool {
	af, aok := asNumber(a)
	bf, bok := asNumber(b)
	if aok && bok {
		return af == bf
	}

	return stringify(a) == stringify(b)
}

func inSet(value, setValue any) bool {
	set, ok := asSet(setValue)
	if !ok || !isScalar(value) {
		return false
	}

	for _, member := range set {
		if looseEqual(value, member) {
			return true
		}
	}

	return false
}

func contains(value, needle any) bool {
	switch v := value.(type) {
	case string:
		return strings.Contains(v, stringify(needle))
	case []any:
		for _, member := range v {
			if looseEqual(member, needle) {
				return true
			}
		}
		return false
	case []string:
		for _, member := range v {
			if looseEqual(member, needle) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

func numericCompare(a, b any, cmp func(a, b float64) bool) bool {
	af, aok := asNumber(a)
	bf, bok := asNumber(b)
	if !aok || !bok {
		// Fail closed on non-numeric snapshot values such as "N/A".
		return false
	}

	return cmp(af, bf)
}

func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			// NoReturnErr: Evaluation is fail-closed so the value is simply
			// treated as non-numeric.
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func asSet(v any) ([]any, bool) {
	switch set := v.(type) {
	case []any:
		return set, true
	case []string:
		members := make([]any, 0, len(set))
		for _, m := range set {
			members = append(members, m)
		}
		return members, true
	case []int:
		members := make([]any, 0, len(set))
		for _, m := range set {
			members = append(members, m)
		}
		return members, true
	case []int64:
		members := make([]any, 0, len(set))
		for _, m := range set {
			members = append(members, m)
		}
		return members, true
	case []float64:
		members := make([]any, 0, len(set))
		for _, m := range set {
			members = append(members, m)
		}
		return members, true
	default:
		return nil, false
	}
}

func isScalar(v any) bool {
	switch v.(type) {
	case []any, []string, []int, []int64, []float64, map[string]any:
		return false
	default:
		return true
	}
}

func stringify(v any) string {
	if v == nil {
		return ""
	}

	if f, ok := asNumber(v); ok {
		// Normalise all numeric forms so "5", 5 and 5.0 compare equal.
		if f == float64(int64(f)) {
			return strconv.FormatInt(int64(f), 10)
		}
		return fmt.Sprintf("%v", f)
	}

	switch s := v.(type) {
	case string:
		return s
	case bool:
		return strconv.FormatBool(s)
	default:
		return fmt.Sprintf("%v", s)
	}
}

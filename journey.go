package autoflow

import (
	"context"
	"strconv"
	"time"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"

	"github.com/andrewwormald/autoflow/internal/graph"
)

// JourneyKind distinguishes branching journeys from linear sequences. A
// sequence is a journey restricted to action and wait steps.
type JourneyKind string

const (
	KindJourney  JourneyKind = "journey"
	KindSequence JourneyKind = "sequence"
)

// StepType is the behaviour of a single journey step.
type StepType string

const (
	// StepAction performs a side effect via the ActionExecutor, such as
	// sending templated content or applying a tag.
	StepAction StepType = "action"
	// StepWait only introduces its delay before the next step.
	StepWait StepType = "wait"
	// StepBranch evaluates a condition against a fresh snapshot of the
	// target and selects the next step order accordingly.
	StepBranch StepType = "branch"
)

// Step is one entry in a journey's ordered step list. OrderNo defines the
// only valid execution order and is unique within a journey.
type Step struct {
	ID      int64
	OrderNo int
	Type    StepType
	// Delay is how long after the previous step completed (or after
	// enrollment, for the first step) this step fires.
	Delay  time.Duration
	Action *Action
	Branch *Branch
}

// Branch picks the next step order from a condition evaluated against a
// fresh snapshot at execution time. A non-match selects ElseOrderNo; zero
// means fall through to the next order.
type Branch struct {
	Condition   Condition
	NextOrderNo int
	ElseOrderNo int
}

// Journey is an ordered set of steps a target entity progresses through, one
// enrollment at a time.
type Journey struct {
	ID        int64
	TenantID  int64
	Name      string
	Kind      JourneyKind
	Active    bool
	Steps     []Step
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate rejects malformed journeys at creation time. Invalid journeys are
// never persisted.
func (jn Journey) Validate() error {
	if jn.TenantID == 0 {
		return errors.Wrap(ErrMissingTenant, "")
	}

	if jn.Name == "" {
		return errors.Wrap(ErrInvalidJourney, "journey name is required")
	}

	if len(jn.Steps) == 0 {
		return errors.Wrap(ErrInvalidJourney, "journey requires at least one step")
	}

	orders := make(map[int]bool)
	prev := 0
	for i, s := range jn.Steps {
		kv := j.MKV{"step_index": strconv.Itoa(i)}

		if s.OrderNo <= 0 {
			return errors.Wrap(ErrInvalidJourney, "step order must be positive", kv)
		}

		if orders[s.OrderNo] {
			return errors.Wrap(ErrInvalidJourney, "step order is not unique", kv)
		}
		orders[s.OrderNo] = true

		if s.OrderNo <= prev {
			return errors.Wrap(ErrInvalidJourney, "steps must be in ascending order", kv)
		}
		prev = s.OrderNo

		if s.Delay < 0 {
			return errors.Wrap(ErrInvalidJourney, "step delay cannot be negative", kv)
		}

		switch s.Type {
		case StepAction:
			if s.Action == nil {
				return errors.Wrap(ErrInvalidJourney, "action step requires an action", kv)
			}
		case StepWait:
		case StepBranch:
			if jn.Kind == KindSequence {
				return errors.Wrap(ErrInvalidJourney, "sequences cannot contain branch steps", kv)
			}
			if s.Branch == nil {
				return errors.Wrap(ErrInvalidJourney, "branch step requires a branch", kv)
			}
			if err := s.Branch.Condition.Validate(); err != nil {
				return err
			}
		default:
			return errors.Wrap(ErrInvalidJourney, "unknown step type", j.MKV{
				"step_index": strconv.Itoa(i),
				"step_type":  string(s.Type),
			})
		}
	}

	// Branch targets must reference existing, strictly later orders. A
	// backward target would revisit a completed step, which executes as a
	// no-op and would leave the enrollment active with no scheduled work.
	for i, s := range jn.Steps {
		if s.Type != StepBranch {
			continue
		}

		for _, target := range []int{s.Branch.NextOrderNo, s.Branch.ElseOrderNo} {
			if target == 0 {
				continue
			}

			if !orders[target] {
				return errors.Wrap(ErrInvalidJourney, "branch target order does not exist", j.MKV{
					"step_index": strconv.Itoa(i),
				})
			}

			if target <= s.OrderNo {
				return errors.Wrap(ErrInvalidJourney, "branch target must be a later step", j.MKV{
					"step_index": strconv.Itoa(i),
				})
			}
		}
	}

	// Every step must be reachable from the first, otherwise it can never
	// execute.
	reached := jn.topology().ReachableFrom(jn.Steps[0].OrderNo)
	for i, s := range jn.Steps {
		if !reached[s.OrderNo] {
			return errors.Wrap(ErrInvalidJourney, "step is unreachable", j.MKV{
				"step_index": strconv.Itoa(i),
			})
		}
	}

	return nil
}

// topology builds the step transition graph. Steps flow to the next order
// unless a branch jumps; a branch target of zero falls through to the next
// order as well.
func (jn Journey) topology() *graph.Graph {
	g := graph.New()

	for _, s := range jn.Steps {
		g.AddNode(s.OrderNo)

		next, hasNext := jn.NextAfter(s.OrderNo)

		if s.Type == StepBranch {
			for _, target := range []int{s.Branch.NextOrderNo, s.Branch.ElseOrderNo} {
				if target != 0 {
					g.AddTransition(s.OrderNo, target)
				} else if hasNext {
					g.AddTransition(s.OrderNo, next.OrderNo)
				}
			}
			continue
		}

		if hasNext {
			g.AddTransition(s.OrderNo, next.OrderNo)
		}
	}

	return g
}

// FirstStep returns the step with the lowest order.
func (jn Journey) FirstStep() (Step, bool) {
	var (
		first Step
		found bool
	)
	for _, s := range jn.Steps {
		if !found || s.OrderNo < first.OrderNo {
			first = s
			found = true
		}
	}

	return first, found
}

// StepByID looks a step up by its id.
func (jn Journey) StepByID(id int64) (Step, bool) {
	for _, s := range jn.Steps {
		if s.ID == id {
			return s, true
		}
	}

	return Step{}, false
}

// StepByOrder looks a step up by its order.
func (jn Journey) StepByOrder(orderNo int) (Step, bool) {
	for _, s := range jn.Steps {
		if s.OrderNo == orderNo {
			return s, true
		}
	}

	return Step{}, false
}

// NextAfter returns the step with the smallest order greater than orderNo.
func (jn Journey) NextAfter(orderNo int) (Step, bool) {
	var (
		next  Step
		found bool
	)
	for _, s := range jn.Steps {
		if s.OrderNo <= orderNo {
			continue
		}

		if !found || s.OrderNo < next.OrderNo {
			next = s
			found = true
		}
	}

	return next, found
}

// JourneyStore is the persistence contract for journey definitions.
// Implementations should be tested with adaptertest.RunJourneyStoreTest.
type JourneyStore interface {
	Create(ctx context.Context, jn *Journey) (int64, error)
	Update(ctx context.Context, jn *Journey) error
	Lookup(ctx context.Context, tenantID, id int64) (*Journey, error)
}

package autoflow

import (
	"context"
	"sort"
	"time"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
)

// EventType is the trigger an engine caller dispatches. The set is open so
// that collaborators can define their own events; the constants below cover
// the common CRM surface.
type EventType string

const (
	EventContactCreated EventType = "contact_created"
	EventContactUpdated EventType = "contact_updated"
	EventDealCreated    EventType = "deal_created"
	EventDealClosed     EventType = "deal_closed"
	EventEmailOpened    EventType = "email_opened"
	EventEmailClicked   EventType = "email_clicked"
	EventFormSubmitted  EventType = "form_submitted"
	EventPageVisited    EventType = "page_visited"
)

// ActionKind is what a matched rule does.
type ActionKind string

const (
	ActionAssignOwner    ActionKind = "assign_owner"
	ActionAddPoints      ActionKind = "add_points"
	ActionEnqueueJourney ActionKind = "enqueue_journey"
	ActionEnqueueStep    ActionKind = "enqueue_step"
)

func (k ActionKind) Valid() bool {
	switch k {
	case ActionAssignOwner, ActionAddPoints, ActionEnqueueJourney, ActionEnqueueStep:
		return true
	default:
		return false
	}
}

// Action is the effect a rule applies on match, or the payload of an action
// step. The engine hands it to the configured ActionExecutor as an opaque,
// possibly failing operation.
type Action struct {
	Kind ActionKind `json:"kind"`

	// OwnerID is the owner or team assigned for assign_owner actions.
	OwnerID string `json:"owner_id,omitempty"`
	// Points is the score delta for add_points actions.
	Points int64 `json:"points,omitempty"`
	// JourneyID identifies the journey for enqueue_journey and enqueue_step.
	JourneyID int64 `json:"journey_id,omitempty"`
	// StepID identifies the step for enqueue_step.
	StepID int64 `json:"step_id,omitempty"`
	// Delay postpones the enqueued work. Zero means immediate.
	Delay time.Duration `json:"delay,omitempty"`
	// Payload carries action-specific data for the executor, such as the
	// template of content to send or the tag to apply.
	Payload map[string]any `json:"payload,omitempty"`
}

func (a Action) validate() error {
	if !a.Kind.Valid() {
		return errors.Wrap(ErrInvalidRule, "unknown action kind", j.MKV{
			"kind": string(a.Kind),
		})
	}

	switch a.Kind {
	case ActionAssignOwner:
		if a.OwnerID == "" {
			return errors.Wrap(ErrInvalidRule, "assign_owner requires an owner id")
		}
	case ActionAddPoints:
		if a.Points == 0 {
			return errors.Wrap(ErrInvalidRule, "add_points requires a non-zero points value")
		}
	case ActionEnqueueJourney:
		if a.JourneyID == 0 {
			return errors.Wrap(ErrInvalidRule, "enqueue_journey requires a journey id")
		}
	case ActionEnqueueStep:
		if a.JourneyID == 0 || a.StepID == 0 {
			return errors.Wrap(ErrInvalidRule, "enqueue_step requires a journey id and step id")
		}
	}

	if a.Delay < 0 {
		return errors.Wrap(ErrInvalidRule, "action delay cannot be negative")
	}

	return nil
}

// Rule connects an event type to an action behind a condition. Rules are
// tenant scoped and soft disabled via Active rather than deleted.
type Rule struct {
	ID        int64
	TenantID  int64
	Name      string
	Priority  int
	Active    bool
	EventType EventType
	Condition Condition
	Action    Action
	Meta      map[string]string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate rejects malformed rules at creation time with a structured reason.
// Invalid rules are never persisted.
func (r Rule) Validate() error {
	if r.TenantID == 0 {
		return errors.Wrap(ErrMissingTenant, "")
	}

	if r.Name == "" {
		return errors.Wrap(ErrInvalidRule, "rule name is required")
	}

	if r.EventType == "" {
		return errors.Wrap(ErrInvalidRule, "rule event type is required")
	}

	if err := r.Condition.Validate(); err != nil {
		return err
	}

	return r.Action.validate()
}

// RuleStore is the persistence contract for rules. Implementations should be
// tested with adaptertest.RunRuleStoreTest.
type RuleStore interface {
	Create(ctx context.Context, r *Rule) (int64, error)
	Update(ctx context.Context, r *Rule) error
	Lookup(ctx context.Context, tenantID, id int64) (*Rule, error)
	// ListActive returns all active rules for the tenant and event type, in
	// no particular order. Resolution ordering is applied by the resolver.
	ListActive(ctx context.Context, tenantID int64, eventType EventType) ([]Rule, error)
}

// sortMatches orders matched rules by priority descending with ties broken by
// rule id ascending, which makes resolution deterministic within a tenant.
func sortMatches(rules []Rule) {
	sort.SliceStable(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority > rules[j].Priority
		}

		return rules[i].ID < rules[j].ID
	})
}

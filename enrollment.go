package autoflow

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
)

// Status is the lifecycle state of an enrollment.
type Status int

const (
	StatusUnknown   Status = 0
	StatusPending   Status = 1
	StatusActive    Status = 2
	StatusPaused    Status = 3
	StatusCompleted Status = 4
	StatusCancelled Status = 5
	StatusFailed    Status = 6
	statusSentinel  Status = 7
)

func (s Status) String() string {
	switch s {
	case StatusUnknown:
		return "Unknown"
	case StatusPending:
		return "Pending"
	case StatusActive:
		return "Active"
	case StatusPaused:
		return "Paused"
	case StatusCompleted:
		return "Completed"
	case StatusCancelled:
		return "Cancelled"
	case StatusFailed:
		return "Failed"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

func (s Status) Valid() bool {
	return s > StatusUnknown && s < statusSentinel
}

// Terminal states are immutable: no further step execution or transition is
// accepted once an enrollment completes, is cancelled, or fails.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusFailed:
		return true
	default:
		return false
	}
}

var statusTransitions = map[Status]map[Status]bool{
	StatusPending: {
		StatusActive:    true,
		StatusCancelled: true,
	},
	StatusActive: {
		StatusPaused:    true,
		StatusCompleted: true,
		StatusCancelled: true,
		StatusFailed:    true,
	},
	StatusPaused: {
		StatusActive:    true,
		StatusCancelled: true,
	},
}

func validateTransition(en *Enrollment, to Status, sentinelErr error) error {
	valid, ok := statusTransitions[en.Status]
	if !ok || !valid[to] {
		return errors.Wrap(sentinelErr, "invalid enrollment status transition", j.MKV{
			"enrollment_id": en.ID,
			"from":          en.Status.String(),
			"to":            to.String(),
		})
	}

	return nil
}

// ExecutionData is the opaque progress bag persisted with an enrollment.
type ExecutionData struct {
	// CompletedSteps holds the ids of executed steps in execution order.
	// Membership here is what makes duplicate task fires a no-op.
	CompletedSteps []int64 `json:"completed_steps,omitempty"`
	// TriggerLog records what put the enrollment where it is, for debugging.
	TriggerLog []string `json:"trigger_log,omitempty"`
}

func (d ExecutionData) Completed(stepID int64) bool {
	for _, id := range d.CompletedSteps {
		if id == stepID {
			return true
		}
	}

	return false
}

func (d *ExecutionData) MarkCompleted(stepID int64) {
	if d.Completed(stepID) {
		return
	}

	d.CompletedSteps = append(d.CompletedSteps, stepID)
}

// Enrollment is one target entity's run through one journey. At most one
// active or paused enrollment exists per (tenant, target, journey) at any
// time.
type Enrollment struct {
	ID        string
	TenantID  int64
	JourneyID int64
	Target    EntityRef
	Status    Status
	// CurrentOrderNo is the order of the step scheduled or executing next.
	CurrentOrderNo int
	Data           ExecutionData
	// RemainingDelay is captured when pausing so that resuming schedules the
	// pending step at resume time plus the remainder, never the full delay.
	RemainingDelay time.Duration
	// Version guards updates optimistically. Stores must reject updates
	// whose version does not match the persisted row and increment it on
	// every successful write.
	Version     int
	StartedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt time.Time
}

func (en *Enrollment) logMeta() j.MKV {
	return j.MKV{
		"enrollment_id": en.ID,
		"tenant_id":     strconv.FormatInt(en.TenantID, 10),
		"journey_id":    strconv.FormatInt(en.JourneyID, 10),
		"status":        en.Status.String(),
	}
}

// EnrollmentStore is the persistence contract for enrollments.
//
// Create must enforce enrollment exclusivity by returning ErrAlreadyEnrolled
// when an active or paused enrollment already exists for the same (tenant,
// target, journey). Update must be conditional on Enrollment.Version and
// return ErrStaleEnrollment when the row has moved on; workers treat that as
// another worker having won the race, not as an error.
//
// Store implementations must also write an outbox event (built with
// MakeOutboxEventData) in the same call as Create and Update so that status
// changes reach the event streamer transactionally. Implementations should
// be tested with adaptertest.RunEnrollmentStoreTest.
type EnrollmentStore interface {
	Create(ctx context.Context, en *Enrollment) error
	Lookup(ctx context.Context, tenantID int64, id string) (*Enrollment, error)
	// ActiveByTarget returns the active or paused enrollment for the key, or
	// ErrEnrollmentNotFound.
	ActiveByTarget(ctx context.Context, tenantID, journeyID int64, target EntityRef) (*Enrollment, error)
	Update(ctx context.Context, en *Enrollment) error
	List(ctx context.Context, tenantID int64, journeyID int64) ([]Enrollment, error)

	// ListOutboxEvents lists events not yet published to the event streamer.
	ListOutboxEvents(ctx context.Context, limit int64) ([]OutboxEvent, error)
	// DeleteOutboxEvent removes a published event by its id.
	DeleteOutboxEvent(ctx context.Context, id string) error
}

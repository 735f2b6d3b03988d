package autoflow

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/luno/jettison/errors"
)

// CreateRule validates and persists a rule, returning its id.
func (e *Engine) CreateRule(ctx context.Context, r *Rule) (int64, error) {
	if err := r.Validate(); err != nil {
		return 0, err
	}

	r.CreatedAt = e.clock.Now()
	r.UpdatedAt = r.CreatedAt

	return e.ruleStore.Create(ctx, r)
}

// UpdateRule validates and persists changes to an existing rule. Disabling a
// rule is an update with Active set to false.
func (e *Engine) UpdateRule(ctx context.Context, r *Rule) error {
	if err := r.Validate(); err != nil {
		return err
	}

	r.UpdatedAt = e.clock.Now()

	return e.ruleStore.Update(ctx, r)
}

// CreateJourney validates and persists a journey definition, returning its id.
func (e *Engine) CreateJourney(ctx context.Context, jn *Journey) (int64, error) {
	if err := jn.Validate(); err != nil {
		return 0, err
	}

	jn.CreatedAt = e.clock.Now()
	jn.UpdatedAt = jn.CreatedAt

	return e.journeyStore.Create(ctx, jn)
}

// UpdateJourney validates and persists changes to an existing journey.
// Enrollments in flight keep executing against the updated definition.
func (e *Engine) UpdateJourney(ctx context.Context, jn *Journey) error {
	if err := jn.Validate(); err != nil {
		return err
	}

	jn.UpdatedAt = e.clock.Now()

	return e.journeyStore.Update(ctx, jn)
}

type enrollOptions struct {
	extraDelay time.Duration
}

type EnrollOption func(*enrollOptions)

// WithFirstStepDelay postpones the first step by d on top of the step's own
// delay. Enqueue rules use it to carry their action delay into the journey.
func WithFirstStepDelay(d time.Duration) EnrollOption {
	return func(o *enrollOptions) {
		o.extraDelay = d
	}
}

// Enroll starts a target entity on a journey and schedules its first step.
// At most one active or paused enrollment exists per (tenant, target,
// journey); a second Enroll returns ErrAlreadyEnrolled.
func (e *Engine) Enroll(ctx context.Context, tenantID, journeyID int64, target EntityRef, opts ...EnrollOption) (*Enrollment, error) {
	if tenantID <= 0 {
		return nil, errors.Wrap(ErrMissingTenant, "")
	}

	var o enrollOptions
	for _, opt := range opts {
		opt(&o)
	}

	journey, err := e.journeyStore.Lookup(ctx, tenantID, journeyID)
	if err != nil {
		return nil, err
	}

	if !journey.Active {
		return nil, errors.Wrap(ErrInvalidJourney, "cannot enroll into an inactive journey")
	}

	first, ok := journey.FirstStep()
	if !ok {
		return nil, errors.Wrap(ErrInvalidJourney, "journey has no steps")
	}

	now := e.clock.Now()
	en := &Enrollment{
		ID:             uuid.New().String(),
		TenantID:       tenantID,
		JourneyID:      journeyID,
		Target:         target,
		Status:         StatusActive,
		CurrentOrderNo: first.OrderNo,
		StartedAt:      now,
		UpdatedAt:      now,
	}
	en.Data.TriggerLog = append(en.Data.TriggerLog, "enrolled")

	err = e.enrollmentStore.Create(ctx, en)
	if err != nil {
		return nil, err
	}

	err = e.scheduleStep(ctx, en, first, first.Delay+o.extraDelay)
	if err != nil {
		return nil, err
	}

	return en, nil
}

// Pause suspends an active enrollment. Pending tasks are cancelled and the
// time left on the current step's delay is captured so Resume can schedule
// the step with the remainder rather than the full delay.
func (e *Engine) Pause(ctx context.Context, tenantID int64, enrollmentID string) error {
	en, err := e.enrollmentStore.Lookup(ctx, tenantID, enrollmentID)
	if err != nil {
		return err
	}

	err = validateTransition(en, StatusPaused, ErrUnableToPause)
	if err != nil {
		return err
	}

	var remaining time.Duration
	pending, err := e.taskStore.Pending(ctx, tenantID, en.ID)
	if err != nil {
		return err
	}
	if len(pending) > 0 {
		remaining = pending[0].RunAt.Sub(e.clock.Now())
		if remaining < 0 {
			remaining = 0
		}
	}

	err = e.taskStore.CancelPending(ctx, tenantID, en.ID)
	if err != nil {
		return err
	}

	en.Status = StatusPaused
	en.RemainingDelay = remaining
	en.UpdatedAt = e.clock.Now()
	en.Data.TriggerLog = append(en.Data.TriggerLog, "paused")

	return e.enrollmentStore.Update(ctx, en)
}

// Resume reactivates a paused enrollment and schedules the current step at
// now plus the delay remaining when it was paused.
func (e *Engine) Resume(ctx context.Context, tenantID int64, enrollmentID string) error {
	en, err := e.enrollmentStore.Lookup(ctx, tenantID, enrollmentID)
	if err != nil {
		return err
	}

	err = validateTransition(en, StatusActive, ErrUnableToResume)
	if err != nil {
		return err
	}

	remaining := en.RemainingDelay

	en.Status = StatusActive
	en.RemainingDelay = 0
	en.UpdatedAt = e.clock.Now()
	en.Data.TriggerLog = append(en.Data.TriggerLog, "resumed")

	err = e.enrollmentStore.Update(ctx, en)
	if err != nil {
		return err
	}

	journey, err := e.journeyStore.Lookup(ctx, tenantID, en.JourneyID)
	if err != nil {
		return err
	}

	step, ok := journey.StepByOrder(en.CurrentOrderNo)
	if !ok || en.Data.Completed(step.ID) {
		return nil
	}

	return e.scheduleStep(ctx, en, step, remaining)
}

// Cancel terminally stops an enrollment and cancels its pending tasks. A
// cancelled enrollment never executes another step; the target may be
// enrolled afresh afterwards.
func (e *Engine) Cancel(ctx context.Context, tenantID int64, enrollmentID string) error {
	en, err := e.enrollmentStore.Lookup(ctx, tenantID, enrollmentID)
	if err != nil {
		return err
	}

	err = validateTransition(en, StatusCancelled, ErrUnableToCancel)
	if err != nil {
		return err
	}

	err = e.taskStore.CancelPending(ctx, tenantID, en.ID)
	if err != nil {
		return err
	}

	en.Status = StatusCancelled
	en.CompletedAt = e.clock.Now()
	en.UpdatedAt = e.clock.Now()
	en.Data.TriggerLog = append(en.Data.TriggerLog, "cancelled")

	err = e.enrollmentStore.Update(ctx, en)
	if err != nil {
		return err
	}

	e.audit(ctx, &LogEntry{
		TenantID:     en.TenantID,
		EnrollmentID: en.ID,
		Outcome:      OutcomeCancelled,
	})

	return nil
}

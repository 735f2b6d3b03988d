package autoflow

import (
	"context"
	"strconv"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
)

// executeStep runs a single step of an enrollment. It is the target of every
// scheduled task and is safe to call more than once for the same step:
// non-active enrollments and already completed steps make it a no-op, and
// stale version updates mean another worker won the race.
//
// A non-nil error means the step should be retried; permanent conditions are
// absorbed here so the poller never retries them.
func (e *Engine) executeStep(ctx context.Context, tenantID int64, enrollmentID string, stepID int64) error {
	en, err := e.enrollmentStore.Lookup(ctx, tenantID, enrollmentID)
	if errors.Is(err, ErrEnrollmentNotFound) {
		// NoReturnErr: Enrollment gone, nothing to run.
		e.logger.Debug(ctx, "task for unknown enrollment", MKV{"enrollment_id": enrollmentID})
		return nil
	} else if err != nil {
		return err
	}

	if en.Status != StatusActive {
		// NoReturnErr: Paused or terminal enrollments never execute steps.
		// Pause cancels pending tasks but a task already claimed by a worker
		// can still land here.
		e.logger.Debug(ctx, "skipping step for non-active enrollment", MKV{
			"enrollment_id": en.ID,
			"status":        en.Status.String(),
		})
		return nil
	}

	journey, err := e.journeyStore.Lookup(ctx, tenantID, en.JourneyID)
	if err != nil {
		return err
	}

	step, ok := journey.StepByID(stepID)
	if !ok {
		return errors.Wrap(ErrInvalidJourney, "scheduled step no longer exists", j.MKV{
			"journey_id": strconv.FormatInt(journey.ID, 10),
			"step_id":    strconv.FormatInt(stepID, 10),
		})
	}

	if en.Data.Completed(stepID) {
		e.audit(ctx, &LogEntry{
			TenantID:     en.TenantID,
			EnrollmentID: en.ID,
			StepID:       stepID,
			Outcome:      OutcomeStepSkipped,
			Detail:       "step already completed",
		})

		// Recover the schedule for the current step in case an earlier worker
		// crashed between advancing the enrollment and creating the task.
		return e.ensureCurrentScheduled(ctx, en, journey)
	}

	branchTarget := 0

	switch step.Type {
	case StepAction:
		err := e.executor.Apply(ctx, en.TenantID, en.Target, *step.Action)
		if err != nil {
			return errors.Wrap(err, "apply step action", j.MKV{
				"enrollment_id": en.ID,
				"step_id":       strconv.FormatInt(stepID, 10),
			})
		}

	case StepWait:
		// The delay elapsed for this task to become due. Nothing to apply.

	case StepBranch:
		// Branch conditions evaluate against a fresh snapshot at execution
		// time, not the snapshot that caused enrollment.
		snapshot, err := e.snapshotFn(ctx, en.TenantID, en.Target)
		if err != nil {
			return errors.Wrap(err, "snapshot for branch", j.MKV{
				"enrollment_id": en.ID,
				"step_id":       strconv.FormatInt(stepID, 10),
			})
		}

		if step.Branch.Condition.Match(snapshot) {
			branchTarget = step.Branch.NextOrderNo
		} else {
			branchTarget = step.Branch.ElseOrderNo
		}
	}

	en.Data.MarkCompleted(stepID)
	en.Data.TriggerLog = append(en.Data.TriggerLog, "step "+strconv.FormatInt(stepID, 10)+" completed")

	next, hasNext := e.nextStep(journey, step, branchTarget)
	if hasNext {
		en.CurrentOrderNo = next.OrderNo
	} else {
		en.Status = StatusCompleted
		en.CurrentOrderNo = 0
		en.CompletedAt = e.clock.Now()
	}
	en.UpdatedAt = e.clock.Now()

	err = e.enrollmentStore.Update(ctx, en)
	if errors.Is(err, ErrStaleEnrollment) {
		// NoReturnErr: Another worker executed this step concurrently.
		e.logger.Debug(ctx, "stale enrollment on step completion", MKV{
			"enrollment_id": en.ID,
			"step_id":       strconv.FormatInt(stepID, 10),
		})
		return nil
	} else if err != nil {
		return err
	}

	e.audit(ctx, &LogEntry{
		TenantID:     en.TenantID,
		EnrollmentID: en.ID,
		StepID:       stepID,
		Outcome:      OutcomeStepCompleted,
	})

	if !hasNext {
		e.audit(ctx, &LogEntry{
			TenantID:     en.TenantID,
			EnrollmentID: en.ID,
			Outcome:      OutcomeCompleted,
		})
		return nil
	}

	return e.scheduleStep(ctx, en, next, next.Delay)
}

// nextStep resolves which step follows the one just executed. A branch with
// a non-zero target jumps; everything else advances in order.
func (e *Engine) nextStep(journey *Journey, step Step, branchTarget int) (Step, bool) {
	if branchTarget != 0 {
		return journey.StepByOrder(branchTarget)
	}

	return journey.NextAfter(step.OrderNo)
}

func (e *Engine) ensureCurrentScheduled(ctx context.Context, en *Enrollment, journey *Journey) error {
	if en.CurrentOrderNo == 0 {
		return nil
	}

	step, ok := journey.StepByOrder(en.CurrentOrderNo)
	if !ok {
		return nil
	}

	if en.Data.Completed(step.ID) {
		return nil
	}

	return e.scheduleStep(ctx, en, step, step.Delay)
}

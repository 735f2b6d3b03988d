package autoflow

import (
	"context"
	"strconv"
	"time"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
	"k8s.io/utils/clock"

	"github.com/andrewwormald/autoflow/internal/metrics"
)

// Task is one scheduled step execution. Tasks are the only way a delayed
// step runs: executing a wait step means creating a task due after the
// step's delay and letting the due-task poller pick it up.
type Task struct {
	ID           int64
	TenantID     int64
	EnrollmentID string
	StepID       int64
	RunAt        time.Time
	// DedupeKey enforces at most one pending task per (enrollment, step).
	DedupeKey string
	Attempts  int
	Completed bool
	Cancelled bool
	CreatedAt time.Time
}

// TaskDedupeKey builds the uniqueness key stores enforce over pending tasks.
func TaskDedupeKey(enrollmentID string, stepID int64) string {
	return enrollmentID + "/" + strconv.FormatInt(stepID, 10)
}

// TaskStore is the persistence contract for scheduled step executions.
//
// Create must return ErrTaskAlreadyPending when a pending task with the same
// DedupeKey exists. Completed and cancelled tasks do not count towards
// dedupe; the same step may be scheduled again after its earlier task
// finished. Implementations should be tested with
// adaptertest.RunTaskStoreTest.
type TaskStore interface {
	Create(ctx context.Context, task *Task) (int64, error)
	// Complete marks a task done. Completing an already finished task is a
	// no-op.
	Complete(ctx context.Context, id int64) error
	// Cancel marks a task cancelled so the poller skips it.
	Cancel(ctx context.Context, id int64) error
	// CancelPending cancels all pending tasks for an enrollment. Used by
	// pause and cancel which must stop any in-flight delay.
	CancelPending(ctx context.Context, tenantID int64, enrollmentID string) error
	// Pending lists the not yet completed or cancelled tasks for an
	// enrollment, soonest first.
	Pending(ctx context.Context, tenantID int64, enrollmentID string) ([]Task, error)
	// Retry pushes a task's RunAt into the future and increments Attempts.
	Retry(ctx context.Context, id int64, runAt time.Time) error
	// ListDue lists pending tasks with RunAt at or before now, soonest first.
	ListDue(ctx context.Context, now time.Time, limit int64) ([]Task, error)
}

// scheduleStep creates the task that will run the given step after delay.
// ErrTaskAlreadyPending is absorbed: a concurrent scheduler got there first
// and the step will run exactly once either way.
func (e *Engine) scheduleStep(ctx context.Context, en *Enrollment, step Step, delay time.Duration) error {
	if delay < 0 {
		delay = 0
	}

	task := &Task{
		TenantID:     en.TenantID,
		EnrollmentID: en.ID,
		StepID:       step.ID,
		RunAt:        e.clock.Now().Add(delay),
		DedupeKey:    TaskDedupeKey(en.ID, step.ID),
		CreatedAt:    e.clock.Now(),
	}

	_, err := e.taskStore.Create(ctx, task)
	if errors.Is(err, ErrTaskAlreadyPending) {
		// NoReturnErr: Another worker scheduled this step already.
		e.logger.Debug(ctx, "step already scheduled", MKV{
			"enrollment_id": en.ID,
			"step_id":       strconv.FormatInt(step.ID, 10),
		})
		return nil
	} else if err != nil {
		return errors.Wrap(err, "schedule step", j.MKV{
			"enrollment_id": en.ID,
			"step_id":       strconv.FormatInt(step.ID, 10),
		})
	}

	e.audit(ctx, &LogEntry{
		TenantID:     en.TenantID,
		EnrollmentID: en.ID,
		StepID:       step.ID,
		Outcome:      OutcomeScheduled,
		Detail:       "step due at " + task.RunAt.UTC().Format(time.RFC3339),
	})

	return nil
}

// pollDueTasks is the due-task consumer loop body. It lists due tasks and
// executes each in turn, retrying failures with bounded backoff and failing
// the enrollment once attempts are exhausted.
func (e *Engine) pollDueTasks(ctx context.Context) error {
	for {
		tasks, err := e.taskStore.ListDue(ctx, e.clock.Now(), e.opts.taskBatchSize)
		if err != nil {
			return errors.Wrap(err, "list due tasks")
		}

		for _, task := range tasks {
			if ctx.Err() != nil {
				return ctx.Err()
			}

			err := e.processTask(ctx, task)
			if err != nil {
				return err
			}
		}

		err = waitFor(ctx, e.clock, e.opts.pollFrequency)
		if err != nil {
			return err
		}
	}
}

func (e *Engine) processTask(ctx context.Context, task Task) error {
	tenant := strconv.FormatInt(task.TenantID, 10)
	t0 := e.clock.Now()

	err := e.executeStep(ctx, task.TenantID, task.EnrollmentID, task.StepID)

	metrics.TaskLatency.WithLabelValues(tenant).Observe(e.clock.Since(t0).Seconds())
	metrics.TasksProcessed.WithLabelValues(tenant).Inc()

	if err == nil {
		return e.taskStore.Complete(ctx, task.ID)
	}

	meta := j.MKV{
		"task_id":       strconv.FormatInt(task.ID, 10),
		"enrollment_id": task.EnrollmentID,
		"step_id":       strconv.FormatInt(task.StepID, 10),
		"attempts":      strconv.Itoa(task.Attempts + 1),
	}

	if task.Attempts+1 >= e.opts.maxTaskAttempts {
		// NoReturnErr: Attempts exhausted, fail the enrollment instead of
		// blocking the poller on a poisoned task.
		e.logger.Error(ctx, errors.Wrap(err, "step execution attempts exhausted", meta))

		ferr := e.failEnrollment(ctx, task.TenantID, task.EnrollmentID, err.Error())
		if ferr != nil {
			return ferr
		}

		return e.taskStore.Complete(ctx, task.ID)
	}

	// NoReturnErr: Transient failure, push the task out and try again.
	e.logger.Error(ctx, errors.Wrap(err, "step execution failed, will retry", meta))

	runAt := e.clock.Now().Add(e.opts.taskRetryBackoff * time.Duration(task.Attempts+1))

	return e.taskStore.Retry(ctx, task.ID, runAt)
}

// failEnrollment moves an enrollment to failed after exhausted retries. A
// stale or already terminal enrollment makes this a no-op.
func (e *Engine) failEnrollment(ctx context.Context, tenantID int64, enrollmentID, detail string) error {
	en, err := e.enrollmentStore.Lookup(ctx, tenantID, enrollmentID)
	if errors.Is(err, ErrEnrollmentNotFound) {
		return nil
	} else if err != nil {
		return err
	}

	if en.Status != StatusActive {
		return nil
	}

	en.Status = StatusFailed
	en.CompletedAt = e.clock.Now()
	en.UpdatedAt = e.clock.Now()

	err = e.enrollmentStore.Update(ctx, en)
	if errors.Is(err, ErrStaleEnrollment) {
		// NoReturnErr: Another worker updated the enrollment first.
		e.logger.Debug(ctx, "stale enrollment on failure", MKV{"enrollment_id": en.ID})
		return nil
	} else if err != nil {
		return err
	}

	e.audit(ctx, &LogEntry{
		TenantID:     en.TenantID,
		EnrollmentID: en.ID,
		Outcome:      OutcomeFailed,
		Detail:       detail,
	})

	return nil
}

// waitFor blocks until d elapses on the given clock or ctx is done.
func waitFor(ctx context.Context, c clock.Clock, d time.Duration) error {
	t := c.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C():
		return nil
	}
}

// waitUntil blocks until the clock reaches t or ctx is done.
func waitUntil(ctx context.Context, c clock.Clock, t time.Time) error {
	return waitFor(ctx, c, t.Sub(c.Now()))
}

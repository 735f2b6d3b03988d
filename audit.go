package autoflow

import (
	"context"
	"strconv"
	"time"
)

// Outcome classifies an execution log entry.
type Outcome string

const (
	OutcomeRuleMatched   Outcome = "rule_matched"
	OutcomeActionApplied Outcome = "action_applied"
	OutcomeActionFailed  Outcome = "action_failed"
	OutcomeEnrolled      Outcome = "enrolled"
	OutcomeEnrollSkipped Outcome = "enroll_skipped"
	OutcomeStepCompleted Outcome = "step_completed"
	OutcomeStepSkipped   Outcome = "step_skipped"
	OutcomeScheduled     Outcome = "scheduled"
	OutcomeCompleted     Outcome = "completed"
	OutcomeCancelled     Outcome = "cancelled"
	OutcomeFailed        Outcome = "failed"
)

// LogEntry is one append-only execution log record. Entries are written for
// rule matches and step execution outcomes, never for non-matches, keeping
// the audit trail proportional to actual effects. The engine only ever
// appends; reads are for analytics and debugging outside the engine.
type LogEntry struct {
	ID           int64
	TenantID     int64
	EnrollmentID string
	RuleID       int64
	StepID       int64
	Outcome      Outcome
	Detail       string
	CreatedAt    time.Time
}

// LogStore is the append-only audit sink. Implementations should be tested
// with adaptertest.RunLogStoreTest.
type LogStore interface {
	Append(ctx context.Context, entry *LogEntry) error
	// ListByTenant exists for analytics and tests; the engine never reads.
	ListByTenant(ctx context.Context, tenantID int64) ([]LogEntry, error)
}

// IdempotencyStore persists processed dispatch tokens. Claim returns true
// exactly once per (tenant, token); later claims return false, making
// retried dispatches no-ops.
type IdempotencyStore interface {
	Claim(ctx context.Context, tenantID int64, token string) (bool, error)
}

// audit appends a log entry, absorbing sink failures. The audit trail is
// best effort from the engine's perspective and must never fail a dispatch
// or a step execution.
func (e *Engine) audit(ctx context.Context, entry *LogEntry) {
	entry.CreatedAt = e.clock.Now()

	err := e.logStore.Append(ctx, entry)
	if err != nil {
		// NoReturnErr: Log and continue.
		e.logger.Error(ctx, err)
		e.logger.Debug(ctx, "failed to append execution log entry", MKV{
			"tenant_id":     strconv.FormatInt(entry.TenantID, 10),
			"enrollment_id": entry.EnrollmentID,
			"outcome":       string(entry.Outcome),
		})
	}
}

package autoflow

import (
	"context"
	"strconv"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
)

type dispatchOptions struct {
	idempotencyToken string
}

type DispatchOption func(*dispatchOptions)

// WithIdempotencyToken makes the dispatch replay safe: a second dispatch
// carrying the same token for the same tenant is a recorded no-op.
func WithIdempotencyToken(token string) DispatchOption {
	return func(o *dispatchOptions) {
		o.idempotencyToken = token
	}
}

// Dispatch feeds one event into the engine. It resolves the tenant's matching
// rules against the snapshot and applies their actions: owner assignment is
// first match wins, scoring accumulates every match, and enqueue actions
// start or advance journeys.
//
// Dispatch applies each action independently. A failing action is logged with
// an action_failed outcome and does not stop the remaining matches.
func (e *Engine) Dispatch(ctx context.Context, tenantID int64, eventType EventType, target EntityRef, snapshot Snapshot, opts ...DispatchOption) error {
	if !e.calledRun {
		return errors.Wrap(ErrEngineNotRunning, "cannot dispatch")
	}

	if tenantID <= 0 {
		return errors.Wrap(ErrMissingTenant, "")
	}

	var o dispatchOptions
	for _, opt := range opts {
		opt(&o)
	}

	if o.idempotencyToken != "" {
		claimed, err := e.idempotencyStore.Claim(ctx, tenantID, o.idempotencyToken)
		if err != nil {
			return errors.Wrap(err, "claim idempotency token", j.MKV{
				"tenant_id": strconv.FormatInt(tenantID, 10),
			})
		}

		if !claimed {
			// NoReturnErr: Token already processed, the retry is a no-op.
			e.logger.Debug(ctx, "dispatch skipped - idempotency token already claimed", MKV{
				"tenant_id": strconv.FormatInt(tenantID, 10),
				"token":     o.idempotencyToken,
			})
			return nil
		}
	}

	matches := e.Resolve(ctx, tenantID, eventType, snapshot)
	if len(matches) == 0 {
		return nil
	}

	for _, r := range matches {
		e.audit(ctx, &LogEntry{
			TenantID: tenantID,
			RuleID:   r.ID,
			Outcome:  OutcomeRuleMatched,
			Detail:   string(eventType),
		})
	}

	// First match wins and overrides any existing owner. Later assignment
	// matches are ignored.
	if winner, ok := firstMatch(matchesOfKind(matches, ActionAssignOwner)); ok {
		e.applyRuleAction(ctx, tenantID, target, winner)
	}

	// Scoring accumulates, every matching rule contributes.
	scoring := matchesOfKind(matches, ActionAddPoints)
	for _, r := range scoring {
		e.applyRuleAction(ctx, tenantID, target, r)
	}
	if len(scoring) > 0 {
		e.logger.Debug(ctx, "scoring rules applied", MKV{
			"tenant_id": strconv.FormatInt(tenantID, 10),
			"points":    strconv.FormatInt(totalPoints(scoring), 10),
		})
	}

	for _, r := range matchesOfKind(matches, ActionEnqueueJourney) {
		e.enrollFromRule(ctx, tenantID, target, r)
	}

	for _, r := range matchesOfKind(matches, ActionEnqueueStep) {
		e.enqueueStepFromRule(ctx, tenantID, target, r)
	}

	return nil
}

// applyRuleAction hands an immediate action to the executor. Failures are
// audited and absorbed so one flaky action cannot fail the whole dispatch.
func (e *Engine) applyRuleAction(ctx context.Context, tenantID int64, target EntityRef, r Rule) {
	err := e.executor.Apply(ctx, tenantID, target, r.Action)
	if err != nil {
		// NoReturnErr: Record the failure and move on to the next match.
		e.logger.Error(ctx, errors.Wrap(err, "rule action failed", j.MKV{
			"rule_id": strconv.FormatInt(r.ID, 10),
		}))
		e.audit(ctx, &LogEntry{
			TenantID: tenantID,
			RuleID:   r.ID,
			Outcome:  OutcomeActionFailed,
			Detail:   err.Error(),
		})
		return
	}

	e.audit(ctx, &LogEntry{
		TenantID: tenantID,
		RuleID:   r.ID,
		Outcome:  OutcomeActionApplied,
	})
}

func (e *Engine) enrollFromRule(ctx context.Context, tenantID int64, target EntityRef, r Rule) {
	en, err := e.Enroll(ctx, tenantID, r.Action.JourneyID, target, WithFirstStepDelay(r.Action.Delay))
	if errors.Is(err, ErrAlreadyEnrolled) {
		// NoReturnErr: Exclusivity holds, the target is already in flight.
		e.audit(ctx, &LogEntry{
			TenantID: tenantID,
			RuleID:   r.ID,
			Outcome:  OutcomeEnrollSkipped,
			Detail:   "target already enrolled",
		})
		return
	} else if err != nil {
		// NoReturnErr: Record the failure and move on to the next match.
		e.logger.Error(ctx, errors.Wrap(err, "rule enrollment failed", j.MKV{
			"rule_id": strconv.FormatInt(r.ID, 10),
		}))
		e.audit(ctx, &LogEntry{
			TenantID: tenantID,
			RuleID:   r.ID,
			Outcome:  OutcomeActionFailed,
			Detail:   err.Error(),
		})
		return
	}

	e.audit(ctx, &LogEntry{
		TenantID:     tenantID,
		EnrollmentID: en.ID,
		RuleID:       r.ID,
		Outcome:      OutcomeEnrolled,
	})
}

// enqueueStepFromRule schedules a specific step for the target's active
// enrollment in the rule's journey. Without an active enrollment there is
// nothing to advance and the match is recorded as skipped.
func (e *Engine) enqueueStepFromRule(ctx context.Context, tenantID int64, target EntityRef, r Rule) {
	en, err := e.enrollmentStore.ActiveByTarget(ctx, tenantID, r.Action.JourneyID, target)
	if errors.Is(err, ErrEnrollmentNotFound) {
		// NoReturnErr: No enrollment to advance.
		e.audit(ctx, &LogEntry{
			TenantID: tenantID,
			RuleID:   r.ID,
			Outcome:  OutcomeStepSkipped,
			Detail:   "no active enrollment",
		})
		return
	} else if err != nil {
		// NoReturnErr: Record the failure and move on to the next match.
		e.logger.Error(ctx, errors.Wrap(err, "enqueue step lookup failed", j.MKV{
			"rule_id": strconv.FormatInt(r.ID, 10),
		}))
		return
	}

	if en.Status != StatusActive {
		e.audit(ctx, &LogEntry{
			TenantID:     tenantID,
			EnrollmentID: en.ID,
			RuleID:       r.ID,
			Outcome:      OutcomeStepSkipped,
			Detail:       "enrollment not active",
		})
		return
	}

	journey, err := e.journeyStore.Lookup(ctx, tenantID, r.Action.JourneyID)
	if err != nil {
		// NoReturnErr: Record the failure and move on to the next match.
		e.logger.Error(ctx, errors.Wrap(err, "enqueue step journey lookup failed", j.MKV{
			"rule_id": strconv.FormatInt(r.ID, 10),
		}))
		return
	}

	step, ok := journey.StepByID(r.Action.StepID)
	if !ok {
		// NoReturnErr: The rule references a step the journey no longer has.
		e.logger.Error(ctx, errors.Wrap(ErrInvalidRule, "enqueue step references unknown step", j.MKV{
			"rule_id": strconv.FormatInt(r.ID, 10),
			"step_id": strconv.FormatInt(r.Action.StepID, 10),
		}))
		return
	}

	err = e.scheduleStep(ctx, en, step, r.Action.Delay)
	if err != nil {
		// NoReturnErr: Record the failure and move on to the next match.
		e.logger.Error(ctx, err)
	}
}

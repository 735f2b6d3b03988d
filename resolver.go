package autoflow

import (
	"context"
	"strconv"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
)

// Resolve returns the active rules for (tenantID, eventType) whose conditions
// match the snapshot, ordered by priority descending then rule id ascending.
//
// Resolution never errors upward: if rule loading fails the match list is
// empty and the caller's default behaviour applies, such as keeping the
// record's original owner.
func (e *Engine) Resolve(ctx context.Context, tenantID int64, eventType EventType, snapshot Snapshot) []Rule {
	return resolve(ctx, e.ruleStore, e.logger, tenantID, eventType, snapshot)
}

func resolve(
	ctx context.Context,
	store RuleStore,
	logger Logger,
	tenantID int64,
	eventType EventType,
	snapshot Snapshot,
) []Rule {
	rules, err := store.ListActive(ctx, tenantID, eventType)
	if err != nil {
		// NoReturnErr: Storage being unavailable degrades to "no rules
		// matched" so one outage cannot crash every dispatching caller.
		logger.Error(ctx, errors.Wrap(err, "rule resolution failed - returning no matches", j.MKV{
			"tenant_id":  strconv.FormatInt(tenantID, 10),
			"event_type": string(eventType),
		}))

		return nil
	}

	var matches []Rule
	for _, r := range rules {
		if r.TenantID != tenantID || r.EventType != eventType || !r.Active {
			// Defective store implementations must not leak rules across
			// tenants or events.
			continue
		}

		if r.Condition.Match(snapshot) {
			matches = append(matches, r)
		}
	}

	sortMatches(matches)

	return matches
}

// matchesOfKind filters an ordered match list down to rules carrying the
// given action kind, preserving order.
func matchesOfKind(rules []Rule, kind ActionKind) []Rule {
	var out []Rule
	for _, r := range rules {
		if r.Action.Kind == kind {
			out = append(out, r)
		}
	}

	return out
}

// firstMatch returns the head of the ordered match list. Assignment rules use
// it: only the highest priority match determines the owner.
func firstMatch(rules []Rule) (Rule, bool) {
	if len(rules) == 0 {
		return Rule{}, false
	}

	return rules[0], true
}

// totalPoints sums the points of every matching scoring rule. Lead scoring
// accumulates all matches with no early exit.
func totalPoints(rules []Rule) int64 {
	var total int64
	for _, r := range rules {
		total += r.Action.Points
	}

	return total
}

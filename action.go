package autoflow

import "context"

// ActionExecutor applies an action to a target entity. It is consumed as an
// opaque boundary: owner assignment, score increments, sending templated
// content and tagging all go through it, and any call may fail. Failures
// during step execution are retried with bounded backoff by the scheduler;
// failures of immediate dispatch actions are logged with an action_failed
// outcome.
type ActionExecutor interface {
	Apply(ctx context.Context, tenantID int64, target EntityRef, action Action) error
}

// ActionExecutorFunc adapts a function to the ActionExecutor interface.
type ActionExecutorFunc func(ctx context.Context, tenantID int64, target EntityRef, action Action) error

func (f ActionExecutorFunc) Apply(ctx context.Context, tenantID int64, target EntityRef, action Action) error {
	return f(ctx, tenantID, target, action)
}

package autoflow

import (
	"context"
	"strings"
)

// RoleScheduler implementations should all be tested with
// adaptertest.RunRoleSchedulerTest.
type RoleScheduler interface {
	// Await must return a child context of the provided (parent) context.
	// Await should block until the role is assigned to the caller. Only one
	// caller may hold a role at any given time, which is what keeps the
	// pollers single writer across engine instances. The returned
	// context.CancelFunc is called after each process execution.
	Await(ctx context.Context, role string) (context.Context, context.CancelFunc, error)
}

func makeRole(inputs ...string) string {
	joined := strings.Join(inputs, "-")
	lowered := strings.ToLower(joined)
	filled := strings.Replace(lowered, " ", "_", -1)
	return filled
}

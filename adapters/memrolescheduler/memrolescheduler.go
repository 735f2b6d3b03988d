// Package memrolescheduler grants roles with in-process mutexes. It keeps the
// engine's background processes, such as the due-task poller and the outbox
// purger, single writer within one binary and is intended for tests and
// single-instance deployments. Multi-instance deployments need a distributed
// implementation.
package memrolescheduler

import (
	"context"
	"sync"
)

func New() *Scheduler {
	return &Scheduler{
		roles: make(map[string]*sync.Mutex),
	}
}

type Scheduler struct {
	mu    sync.Mutex
	roles map[string]*sync.Mutex
}

// Await blocks until the role is free and holds it until the returned context
// ends.
func (s *Scheduler) Await(ctx context.Context, role string) (context.Context, context.CancelFunc, error) {
	if ctx.Err() != nil {
		return nil, nil, ctx.Err()
	}

	ctx, cancel := context.WithCancel(ctx)

	mu := s.lookupRole(role)
	mu.Lock()

	go func() {
		// Release the role once the holder's context ends.
		<-ctx.Done()
		mu.Unlock()
	}()

	return ctx, cancel, nil
}

// lookupRole returns the mutex guarding the role, creating it on first use.
func (s *Scheduler) lookupRole(role string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	mu, ok := s.roles[role]
	if !ok {
		mu = &sync.Mutex{}
		s.roles[role] = mu
	}

	return mu
}

// Package memtaskstore provides an in-memory implementation of the engine's
// scheduled task contract, intended for tests and examples.
package memtaskstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/andrewwormald/autoflow"
)

func New(opts ...Option) *Store {
	// Set option defaults
	opt := options{
		clock: clock.RealClock{},
	}

	// Set option overrides
	for _, o := range opts {
		o(&opt)
	}

	return &Store{
		clock: opt.clock,
	}
}

type options struct {
	clock clock.Clock
}

type Option func(o *options)

func WithClock(clock clock.Clock) Option {
	return func(o *options) {
		o.clock = clock
	}
}

type Store struct {
	mu          sync.Mutex
	clock       clock.Clock
	idIncrement int64
	tasks       []*autoflow.Task
}

var _ autoflow.TaskStore = (*Store)(nil)

func (s *Store) Create(ctx context.Context, task *autoflow.Task) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.tasks {
		if t.Completed || t.Cancelled {
			continue
		}

		if t.DedupeKey == task.DedupeKey {
			return 0, autoflow.ErrTaskAlreadyPending
		}
	}

	s.idIncrement++
	task.ID = s.idIncrement
	if task.CreatedAt.IsZero() {
		task.CreatedAt = s.clock.Now()
	}

	clone := *task
	s.tasks = append(s.tasks, &clone)

	return task.ID, nil
}

func (s *Store) Complete(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.tasks {
		if t.ID != id {
			continue
		}

		t.Completed = true
		return nil
	}

	return autoflow.ErrTaskNotFound
}

func (s *Store) Cancel(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.tasks {
		if t.ID != id {
			continue
		}

		t.Cancelled = true
		return nil
	}

	return autoflow.ErrTaskNotFound
}

func (s *Store) CancelPending(ctx context.Context, tenantID int64, enrollmentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.tasks {
		if t.TenantID != tenantID || t.EnrollmentID != enrollmentID {
			continue
		}

		if t.Completed || t.Cancelled {
			continue
		}

		t.Cancelled = true
	}

	return nil
}

func (s *Store) Pending(ctx context.Context, tenantID int64, enrollmentID string) ([]autoflow.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var tasks []autoflow.Task
	for _, t := range s.tasks {
		if t.TenantID != tenantID || t.EnrollmentID != enrollmentID {
			continue
		}

		if t.Completed || t.Cancelled {
			continue
		}

		tasks = append(tasks, *t)
	}

	sortByRunAt(tasks)

	return tasks, nil
}

func (s *Store) Retry(ctx context.Context, id int64, runAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.tasks {
		if t.ID != id {
			continue
		}

		t.RunAt = runAt
		t.Attempts++
		return nil
	}

	return autoflow.ErrTaskNotFound
}

func (s *Store) ListDue(ctx context.Context, now time.Time, limit int64) ([]autoflow.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var tasks []autoflow.Task
	for _, t := range s.tasks {
		if t.Completed || t.Cancelled {
			continue
		}

		if t.RunAt.After(now) {
			continue
		}

		tasks = append(tasks, *t)
		if len(tasks) >= int(limit) {
			break
		}
	}

	sortByRunAt(tasks)

	return tasks, nil
}

func sortByRunAt(tasks []autoflow.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		return tasks[i].RunAt.Before(tasks[j].RunAt)
	})
}

package memstore

import (
	"context"
	"sync"

	"k8s.io/utils/clock"

	"github.com/andrewwormald/autoflow"
)

func NewEnrollmentStore(opts ...Option) *EnrollmentStore {
	opt := buildOptions(opts)

	return &EnrollmentStore{
		clock:       opt.clock,
		enrollments: make(map[string]*autoflow.Enrollment),
	}
}

type EnrollmentStore struct {
	mu          sync.Mutex
	clock       clock.Clock
	enrollments map[string]*autoflow.Enrollment
	outbox      []autoflow.OutboxEvent
}

var _ autoflow.EnrollmentStore = (*EnrollmentStore)(nil)

func (s *EnrollmentStore) Create(ctx context.Context, en *autoflow.Enrollment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.enrollments {
		if existing.TenantID != en.TenantID ||
			existing.JourneyID != en.JourneyID ||
			existing.Target != en.Target {
			continue
		}

		if existing.Status == autoflow.StatusActive || existing.Status == autoflow.StatusPaused {
			return autoflow.ErrAlreadyEnrolled
		}
	}

	en.Version = 1

	clone := cloneEnrollment(en)
	s.enrollments[en.ID] = clone

	return s.appendOutboxEvent(clone)
}

func (s *EnrollmentStore) Lookup(ctx context.Context, tenantID int64, id string) (*autoflow.Enrollment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	en, ok := s.enrollments[id]
	if !ok || en.TenantID != tenantID {
		return nil, autoflow.ErrEnrollmentNotFound
	}

	return cloneEnrollment(en), nil
}

func (s *EnrollmentStore) ActiveByTarget(ctx context.Context, tenantID, journeyID int64, target autoflow.EntityRef) (*autoflow.Enrollment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, en := range s.enrollments {
		if en.TenantID != tenantID || en.JourneyID != journeyID || en.Target != target {
			continue
		}

		if en.Status == autoflow.StatusActive || en.Status == autoflow.StatusPaused {
			return cloneEnrollment(en), nil
		}
	}

	return nil, autoflow.ErrEnrollmentNotFound
}

func (s *EnrollmentStore) Update(ctx context.Context, en *autoflow.Enrollment) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.enrollments[en.ID]
	if !ok || existing.TenantID != en.TenantID {
		return autoflow.ErrEnrollmentNotFound
	}

	if existing.Version != en.Version {
		return autoflow.ErrStaleEnrollment
	}

	en.Version++

	clone := cloneEnrollment(en)
	s.enrollments[en.ID] = clone

	return s.appendOutboxEvent(clone)
}

func (s *EnrollmentStore) List(ctx context.Context, tenantID int64, journeyID int64) ([]autoflow.Enrollment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ens []autoflow.Enrollment
	for _, en := range s.enrollments {
		if en.TenantID != tenantID || en.JourneyID != journeyID {
			continue
		}

		ens = append(ens, *cloneEnrollment(en))
	}

	return ens, nil
}

func (s *EnrollmentStore) ListOutboxEvents(ctx context.Context, limit int64) ([]autoflow.OutboxEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var events []autoflow.OutboxEvent
	for _, e := range s.outbox {
		events = append(events, e)
		if len(events) >= int(limit) {
			break
		}
	}

	return events, nil
}

func (s *EnrollmentStore) DeleteOutboxEvent(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var filtered []autoflow.OutboxEvent
	for _, e := range s.outbox {
		if e.ID == id {
			continue
		}

		filtered = append(filtered, e)
	}

	s.outbox = filtered
	return nil
}

// appendOutboxEvent must be called with the store lock held.
func (s *EnrollmentStore) appendOutboxEvent(en *autoflow.Enrollment) error {
	eventData, err := autoflow.MakeOutboxEventData(en)
	if err != nil {
		return err
	}

	s.outbox = append(s.outbox, autoflow.OutboxEvent{
		ID:        eventData.ID,
		TenantID:  eventData.TenantID,
		Data:      eventData.Data,
		CreatedAt: s.clock.Now(),
	})

	return nil
}

// cloneEnrollment returns a new pointer so modifications don't affect the
// store.
func cloneEnrollment(en *autoflow.Enrollment) *autoflow.Enrollment {
	clone := *en
	clone.Data.CompletedSteps = append([]int64(nil), en.Data.CompletedSteps...)
	clone.Data.TriggerLog = append([]string(nil), en.Data.TriggerLog...)
	return &clone
}

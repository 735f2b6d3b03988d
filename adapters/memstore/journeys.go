package memstore

import (
	"context"
	"sync"

	"github.com/andrewwormald/autoflow"
)

func NewJourneyStore(opts ...Option) *JourneyStore {
	return &JourneyStore{
		journeys: make(map[int64]*autoflow.Journey),
	}
}

type JourneyStore struct {
	mu          sync.Mutex
	idIncrement int64
	journeys    map[int64]*autoflow.Journey
}

var _ autoflow.JourneyStore = (*JourneyStore)(nil)

func (s *JourneyStore) Create(ctx context.Context, jn *autoflow.Journey) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.idIncrement++
	jn.ID = s.idIncrement

	clone := *jn
	clone.Steps = append([]autoflow.Step(nil), jn.Steps...)
	s.journeys[jn.ID] = &clone

	return jn.ID, nil
}

func (s *JourneyStore) Update(ctx context.Context, jn *autoflow.Journey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.journeys[jn.ID]
	if !ok || existing.TenantID != jn.TenantID {
		return autoflow.ErrJourneyNotFound
	}

	clone := *jn
	clone.Steps = append([]autoflow.Step(nil), jn.Steps...)
	s.journeys[jn.ID] = &clone

	return nil
}

func (s *JourneyStore) Lookup(ctx context.Context, tenantID, id int64) (*autoflow.Journey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	jn, ok := s.journeys[id]
	if !ok || jn.TenantID != tenantID {
		return nil, autoflow.ErrJourneyNotFound
	}

	// Return a new pointer so modifications don't affect the store.
	clone := *jn
	clone.Steps = append([]autoflow.Step(nil), jn.Steps...)
	return &clone, nil
}

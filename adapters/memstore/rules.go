package memstore

import (
	"context"
	"sync"

	"k8s.io/utils/clock"

	"github.com/andrewwormald/autoflow"
)

func NewRuleStore(opts ...Option) *RuleStore {
	opt := buildOptions(opts)

	return &RuleStore{
		clock: opt.clock,
		rules: make(map[int64]*autoflow.Rule),
	}
}

type RuleStore struct {
	mu          sync.Mutex
	clock       clock.Clock
	idIncrement int64
	rules       map[int64]*autoflow.Rule
}

var _ autoflow.RuleStore = (*RuleStore)(nil)

func (s *RuleStore) Create(ctx context.Context, r *autoflow.Rule) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.idIncrement++
	r.ID = s.idIncrement

	clone := *r
	s.rules[r.ID] = &clone

	return r.ID, nil
}

func (s *RuleStore) Update(ctx context.Context, r *autoflow.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.rules[r.ID]
	if !ok || existing.TenantID != r.TenantID {
		return autoflow.ErrRuleNotFound
	}

	clone := *r
	s.rules[r.ID] = &clone

	return nil
}

func (s *RuleStore) Lookup(ctx context.Context, tenantID, id int64) (*autoflow.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rules[id]
	if !ok || r.TenantID != tenantID {
		return nil, autoflow.ErrRuleNotFound
	}

	// Return a new pointer so modifications don't affect the store.
	clone := *r
	return &clone, nil
}

func (s *RuleStore) ListActive(ctx context.Context, tenantID int64, eventType autoflow.EventType) ([]autoflow.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var rules []autoflow.Rule
	for _, r := range s.rules {
		if r.TenantID != tenantID || r.EventType != eventType || !r.Active {
			continue
		}

		rules = append(rules, *r)
	}

	return rules, nil
}

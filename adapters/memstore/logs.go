package memstore

import (
	"context"
	"strconv"
	"sync"

	"github.com/andrewwormald/autoflow"
)

func NewLogStore(opts ...Option) *LogStore {
	return &LogStore{}
}

type LogStore struct {
	mu          sync.Mutex
	idIncrement int64
	entries     []autoflow.LogEntry
}

var _ autoflow.LogStore = (*LogStore)(nil)

func (s *LogStore) Append(ctx context.Context, entry *autoflow.LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.idIncrement++
	entry.ID = s.idIncrement
	s.entries = append(s.entries, *entry)

	return nil
}

func (s *LogStore) ListByTenant(ctx context.Context, tenantID int64) ([]autoflow.LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var entries []autoflow.LogEntry
	for _, e := range s.entries {
		if e.TenantID != tenantID {
			continue
		}

		entries = append(entries, e)
	}

	return entries, nil
}

func NewIdempotencyStore(opts ...Option) *IdempotencyStore {
	return &IdempotencyStore{
		claims: make(map[string]bool),
	}
}

type IdempotencyStore struct {
	mu     sync.Mutex
	claims map[string]bool
}

var _ autoflow.IdempotencyStore = (*IdempotencyStore)(nil)

func (s *IdempotencyStore) Claim(ctx context.Context, tenantID int64, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := strconv.FormatInt(tenantID, 10) + "/" + token
	if s.claims[key] {
		return false, nil
	}

	s.claims[key] = true
	return true, nil
}

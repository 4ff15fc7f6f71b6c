package store

import (
	"context"
	"sync"

	"github.com/skeinai/skein/pkg/domain"
)

// MemoryStore keeps execution records in process memory. Suitable for tests
// and single-node deployments without durability requirements.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]domain.ExecutionRecord
	order   []string
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]domain.ExecutionRecord)}
}

// Append implements ExecutionStore.
func (s *MemoryStore) Append(_ context.Context, record domain.ExecutionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[record.ID]; exists {
		return nil
	}
	s.records[record.ID] = record.Clone()
	s.order = append(s.order, record.ID)
	return nil
}

// Get implements ExecutionStore.
func (s *MemoryStore) Get(_ context.Context, id string) (domain.ExecutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[id]
	if !ok {
		return domain.ExecutionRecord{}, ErrNotFound
	}
	return record.Clone(), nil
}

// List implements ExecutionStore.
func (s *MemoryStore) List(_ context.Context, opts ListOptions) ([]domain.ExecutionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.ExecutionRecord, 0, len(s.order))
	for _, id := range s.order {
		record := s.records[id]
		if opts.GraphID != "" && record.GraphID != opts.GraphID {
			continue
		}
		out = append(out, record.Clone())
		if opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
	}
	return out, nil
}

// Close implements ExecutionStore.
func (s *MemoryStore) Close() error { return nil }

package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
)

// MemoryStore keeps all collections in process memory. It is the default
// backend and the one used by tests.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]map[string]json.RawMessage
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: map[string]map[string]json.RawMessage{}}
}

func (s *MemoryStore) Get(_ context.Context, collection, id string) (json.RawMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	raw, ok := s.data[collection][id]
	if !ok {
		return nil, ErrNotFound
	}
	out := make(json.RawMessage, len(raw))
	copy(out, raw)
	return out, nil
}

func (s *MemoryStore) Set(_ context.Context, collection, id string, doc any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	col, ok := s.data[collection]
	if !ok {
		col = map[string]json.RawMessage{}
		s.data[collection] = col
	}
	col[id] = raw
	return nil
}

func (s *MemoryStore) Patch(_ context.Context, collection, id string, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	col, ok := s.data[collection]
	if !ok {
		col = map[string]json.RawMessage{}
		s.data[collection] = col
	}
	merged, err := MergePatch(col[id], fields)
	if err != nil {
		return err
	}
	col[id] = merged
	return nil
}

func (s *MemoryStore) List(_ context.Context, collection string) ([]json.RawMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	col := s.data[collection]
	ids := make([]string, 0, len(col))
	for id := range col {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out := make([]json.RawMessage, 0, len(col))
	for _, id := range ids {
		raw := col[id]
		cp := make(json.RawMessage, len(raw))
		copy(cp, raw)
		out = append(out, cp)
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }

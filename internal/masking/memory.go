package masking

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore keeps token mappings in process memory. Used by tests and
// by runs that opt out of durable storage.
type MemoryStore struct {
	mu       sync.RWMutex
	mappings map[string]TokenMapping // key: ingestion id + "\x00" + token
}

// NewMemoryStore creates an empty in-memory token store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		mappings: make(map[string]TokenMapping),
	}
}

// Save records mappings. All-or-nothing to mirror the durable store.
func (s *MemoryStore) Save(_ context.Context, mappings []TokenMapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, mapping := range mappings {
		s.mappings[mapping.IngestionID+"\x00"+mapping.Token] = mapping
	}
	return nil
}

// Resolve looks up one mapping by (ingestion, token).
func (s *MemoryStore) Resolve(_ context.Context, ingestionID, token string) (TokenMapping, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	mapping, ok := s.mappings[ingestionID+"\x00"+token]
	if !ok {
		return TokenMapping{}, fmt.Errorf("unknown token %q for ingestion %q", token, ingestionID)
	}
	return mapping, nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}

// Len reports the number of stored mappings.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.mappings)
}

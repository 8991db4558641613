package report

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound is returned when no report exists for an ingestion.
var ErrNotFound = errors.New("report not found")

// MemoryStore keeps reports in process memory, newest last.
type MemoryStore struct {
	mu      sync.RWMutex
	reports map[string][]*ComplianceReport
}

// NewMemoryStore creates an empty in-memory report store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		reports: make(map[string][]*ComplianceReport),
	}
}

// Save appends one report.
func (s *MemoryStore) Save(_ context.Context, report *ComplianceReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports[report.IngestionID] = append(s.reports[report.IngestionID], report)
	return nil
}

// Latest returns the most recently saved report for an ingestion.
func (s *MemoryStore) Latest(_ context.Context, ingestionID string) (*ComplianceReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	runs := s.reports[ingestionID]
	if len(runs) == 0 {
		return nil, ErrNotFound
	}
	return runs[len(runs)-1], nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}

// Package memory is an in-memory usage store for tests and deployments that
// do not need persistence.
package memory

import (
	"context"
	"sync"

	"github.com/Leikymain/chatbot-api/internal/storage"
)

// Store is an in-memory storage.UsageStore.
type Store struct {
	mu      sync.RWMutex
	records []*storage.UsageRecord
}

var _ storage.UsageStore = (*Store)(nil)

// New creates an empty in-memory store.
func New() *Store {
	return &Store{}
}

// RecordUsage stores one record.
func (s *Store) RecordUsage(_ context.Context, rec *storage.UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := *rec
	s.records = append(s.records, &copied)
	return nil
}

// ListUsage returns the most recent records for a client, newest first.
func (s *Store) ListUsage(_ context.Context, clientID string, limit int) ([]*storage.UsageRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*storage.UsageRecord
	for i := len(s.records) - 1; i >= 0 && len(out) < limit; i-- {
		if clientID != "" && s.records[i].ClientID != clientID {
			continue
		}
		copied := *s.records[i]
		out = append(out, &copied)
	}

	return out, nil
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

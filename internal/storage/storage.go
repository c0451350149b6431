// Package storage defines the usage-recording contract and its record types.
package storage

import (
	"context"
	"time"
)

// UsageRecord captures one completed gateway request for accounting.
type UsageRecord struct {
	ID           string
	ClientID     string
	Identity     string
	Model        string
	Status       string // "ok" or the error type that terminated the request
	InputTokens  int
	OutputTokens int
	Duration     time.Duration
	CreatedAt    time.Time
}

// UsageStore persists usage records.
type UsageStore interface {
	// RecordUsage stores one record.
	RecordUsage(ctx context.Context, rec *UsageRecord) error

	// ListUsage returns the most recent records for a client, newest first.
	// A clientID of "" lists across all clients.
	ListUsage(ctx context.Context, clientID string, limit int) ([]*UsageRecord, error)

	// Close releases the store's resources.
	Close() error
}

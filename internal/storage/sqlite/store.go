// Package sqlite is a SQLite implementation of the usage store.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Leikymain/chatbot-api/internal/storage"
)

// Store is a SQLite-backed storage.UsageStore.
type Store struct {
	db *sql.DB
}

var _ storage.UsageStore = (*Store)(nil)

// New opens (or creates) the database at dbPath.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return s, nil
}

func (s *Store) initSchema() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS usage_records (
		id TEXT PRIMARY KEY,
		client_id TEXT NOT NULL,
		identity TEXT NOT NULL,
		model TEXT,
		status TEXT NOT NULL,
		input_tokens INTEGER NOT NULL DEFAULT 0,
		output_tokens INTEGER NOT NULL DEFAULT 0,
		duration_ns INTEGER,
		created_at TIMESTAMP NOT NULL
	)`)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_usage_client_created
		ON usage_records(client_id, created_at DESC)`)
	return err
}

// RecordUsage stores one record.
func (s *Store) RecordUsage(ctx context.Context, rec *storage.UsageRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO usage_records
			(id, client_id, identity, model, status, input_tokens, output_tokens, duration_ns, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.ClientID, rec.Identity, rec.Model, rec.Status,
		rec.InputTokens, rec.OutputTokens, rec.Duration.Nanoseconds(), rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record usage: %w", err)
	}
	return nil
}

// ListUsage returns the most recent records for a client, newest first.
func (s *Store) ListUsage(ctx context.Context, clientID string, limit int) ([]*storage.UsageRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT id, client_id, identity, model, status, input_tokens, output_tokens, duration_ns, created_at
		FROM usage_records`
	args := []any{}
	if clientID != "" {
		query += ` WHERE client_id = ?`
		args = append(args, clientID)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list usage: %w", err)
	}
	defer rows.Close()

	var records []*storage.UsageRecord
	for rows.Next() {
		rec := &storage.UsageRecord{}
		var durationNS int64
		if err := rows.Scan(&rec.ID, &rec.ClientID, &rec.Identity, &rec.Model, &rec.Status,
			&rec.InputTokens, &rec.OutputTokens, &durationNS, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan usage record: %w", err)
		}
		rec.Duration = time.Duration(durationNS)
		records = append(records, rec)
	}

	return records, rows.Err()
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

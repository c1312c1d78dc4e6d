// Package sqlstore persists throttle records in a sync_state table of a
// SQLite database (modernc driver).
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"mediasync/internal/throttle"
)

const (
	createSQL = `CREATE TABLE IF NOT EXISTS sync_state (
  sync_key TEXT PRIMARY KEY,
  last_synced_at_ms INTEGER NOT NULL
);`
	selectSQL = `SELECT last_synced_at_ms FROM sync_state WHERE sync_key = ?`
	upsertSQL = `INSERT INTO sync_state (sync_key, last_synced_at_ms) VALUES (?, ?)
ON CONFLICT(sync_key) DO UPDATE SET last_synced_at_ms = excluded.last_synced_at_ms`
)

// Store implements throttle.Store on a SQLite table.
type Store struct {
	db *sql.DB
}

// Open opens the SQLite file at dsn and creates the sync_state table if needed.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, createSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlstore: create sync_state: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Get(ctx context.Context, key string) (throttle.Record, bool, error) {
	var ms int64
	err := s.db.QueryRowContext(ctx, selectSQL, key).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return throttle.Record{}, false, nil
	}
	if err != nil {
		return throttle.Record{}, false, fmt.Errorf("sqlstore: get %s: %w", key, err)
	}
	return throttle.Record{Key: key, LastSyncedAtMs: ms}, true, nil
}

func (s *Store) Put(ctx context.Context, rec throttle.Record) error {
	if _, err := s.db.ExecContext(ctx, upsertSQL, rec.Key, rec.LastSyncedAtMs); err != nil {
		return fmt.Errorf("sqlstore: put %s: %w", rec.Key, err)
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

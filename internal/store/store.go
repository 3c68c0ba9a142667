// v3
// internal/store/store.go

// Package store provides the durable local state behind the pipeline: the
// dedup identity mapping, the window aggregate table, the stream watermark,
// and the processed-offset bookkeeping that ties them together. Backed by
// SQLite in WAL mode; each deployment instance owns its database file
// exclusively.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS dedup_seen (
  identity     TEXT PRIMARY KEY,
  last_seen_ms INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS source_offsets (
  topic       TEXT    NOT NULL,
  partition   INTEGER NOT NULL,
  last_offset INTEGER NOT NULL,
  PRIMARY KEY (topic, partition)
);

CREATE TABLE IF NOT EXISTS kpi_seen (
  source_id     TEXT    NOT NULL,
  event_time_ms INTEGER NOT NULL,
  PRIMARY KEY (source_id, event_time_ms)
);

CREATE TABLE IF NOT EXISTS window_aggregates (
  kpi             TEXT    NOT NULL,
  group_key       TEXT    NOT NULL,
  window_start_ms INTEGER NOT NULL,
  total           REAL    NOT NULL DEFAULT 0,
  ok_count        INTEGER NOT NULL DEFAULT 0,
  no_count        INTEGER NOT NULL DEFAULT 0,
  PRIMARY KEY (kpi, group_key, window_start_ms)
);

CREATE TABLE IF NOT EXISTS stream_watermarks (
  name          TEXT PRIMARY KEY,
  event_time_ms INTEGER NOT NULL
);
`

// Store wraps the SQLite database holding all durable pipeline state for one
// deployment instance.
type Store struct {
	db *sql.DB
}

// Open creates or opens the state database at the given path, applying
// pragmas and the schema. SQLite supports a single writer, so the connection
// pool is pinned to one connection to avoid SQLITE_BUSY churn.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect state db: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close releases the underlying database. Safe on a nil receiver.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Tx groups state mutations that must land atomically with one input record:
// dedup writes, window upserts, watermark and offset advances.
type Tx struct {
	tx *sql.Tx
}

// Update runs fn inside one transaction. Any error rolls everything back, so
// a crash mid-update leaves the previous committed state intact (crash-only
// recovery).
func (s *Store) Update(ctx context.Context, fn func(*Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin state tx: %w", err)
	}
	if err := fn(&Tx{tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit state tx: %w", err)
	}
	return nil
}

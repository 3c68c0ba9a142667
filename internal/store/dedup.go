// v1
// internal/store/dedup.go
package store

import (
	"database/sql"
	"errors"
	"fmt"
)

// DedupLastSeen returns the last accepted instant recorded for the identity
// key, in epoch milliseconds. Satisfies dedup.Store.
func (s *Store) DedupLastSeen(key string) (int64, bool, error) {
	var ms int64
	err := s.db.QueryRow(
		`SELECT last_seen_ms FROM dedup_seen WHERE identity = ?`, key,
	).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("dedup lookup: %w", err)
	}
	return ms, true, nil
}

// PutDedup records (or overwrites) the last accepted instant for the key.
func (t *Tx) PutDedup(key string, seenMs int64) error {
	_, err := t.tx.Exec(
		`INSERT INTO dedup_seen (identity, last_seen_ms) VALUES (?, ?)
		 ON CONFLICT(identity) DO UPDATE SET last_seen_ms = excluded.last_seen_ms`,
		key, seenMs,
	)
	if err != nil {
		return fmt.Errorf("dedup put: %w", err)
	}
	return nil
}

// SweepDedup deletes identity entries last seen at or before the cutoff and
// returns how many were removed. The logical TTL is enforced by comparison in
// the dedup engine; this sweep only bounds physical growth, so the cutoff
// should trail the TTL by a generous multiple.
func (s *Store) SweepDedup(cutoffMs int64) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM dedup_seen WHERE last_seen_ms <= ?`, cutoffMs)
	if err != nil {
		return 0, fmt.Errorf("dedup sweep: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return n, nil
}

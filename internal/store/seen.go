// v1
// internal/store/seen.go
package store

import (
	"database/sql"
	"errors"
	"fmt"
)

// KpiSeen reports whether a canonical record identity (source id, event
// time) has already been folded into a window aggregate. The upstream
// publisher can re-emit a record at a fresh offset after a crash, so offset
// bookkeeping alone does not catch the repeat.
func (s *Store) KpiSeen(sourceID string, eventTimeMs int64) (bool, error) {
	var one int
	err := s.db.QueryRow(
		`SELECT 1 FROM kpi_seen WHERE source_id = ? AND event_time_ms = ?`,
		sourceID, eventTimeMs,
	).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("kpi seen lookup: %w", err)
	}
	return true, nil
}

// PutKpiSeen records a folded identity. Idempotent on replay.
func (t *Tx) PutKpiSeen(sourceID string, eventTimeMs int64) error {
	_, err := t.tx.Exec(
		`INSERT OR IGNORE INTO kpi_seen (source_id, event_time_ms) VALUES (?, ?)`,
		sourceID, eventTimeMs,
	)
	if err != nil {
		return fmt.Errorf("kpi seen put: %w", err)
	}
	return nil
}

// SweepKpiSeen deletes identities whose event time is at or before the
// cutoff and returns how many were removed. Identities behind the watermark
// by more than a window plus grace belong to closed windows; a repeat of one
// is dropped as late before it can reach an aggregate.
func (s *Store) SweepKpiSeen(cutoffMs int64) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM kpi_seen WHERE event_time_ms <= ?`, cutoffMs)
	if err != nil {
		return 0, fmt.Errorf("kpi seen sweep: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, nil
	}
	return n, nil
}

// v1
// internal/store/windows.go
package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/OnLog-System/onlog-pipeline/internal/kpi"
)

// watermarkName keys the single stream watermark row for the KPI service.
const watermarkName = "kpi"

// LoadWindows returns every persisted partial aggregate, for engine restore
// on startup.
func (s *Store) LoadWindows() ([]kpi.WindowState, error) {
	rows, err := s.db.Query(
		`SELECT kpi, group_key, window_start_ms, total, ok_count, no_count
		 FROM window_aggregates ORDER BY kpi, group_key, window_start_ms`,
	)
	if err != nil {
		return nil, fmt.Errorf("load windows: %w", err)
	}
	defer rows.Close()

	var out []kpi.WindowState
	for rows.Next() {
		var st kpi.WindowState
		if err := rows.Scan(&st.Kpi, &st.GroupKey, &st.StartMs, &st.Total, &st.OkCount, &st.NoCount); err != nil {
			return nil, fmt.Errorf("scan window: %w", err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate windows: %w", err)
	}
	return out, nil
}

// Watermark returns the persisted stream watermark in epoch milliseconds, or
// zero when none has been recorded.
func (s *Store) Watermark() (int64, error) {
	var ms int64
	err := s.db.QueryRow(
		`SELECT event_time_ms FROM stream_watermarks WHERE name = ?`, watermarkName,
	).Scan(&ms)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("watermark lookup: %w", err)
	}
	return ms, nil
}

// UpsertWindow persists one partial aggregate.
func (t *Tx) UpsertWindow(st kpi.WindowState) error {
	_, err := t.tx.Exec(
		`INSERT INTO window_aggregates (kpi, group_key, window_start_ms, total, ok_count, no_count)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(kpi, group_key, window_start_ms) DO UPDATE SET
		   total = excluded.total, ok_count = excluded.ok_count, no_count = excluded.no_count`,
		st.Kpi, st.GroupKey, st.StartMs, st.Total, st.OkCount, st.NoCount,
	)
	if err != nil {
		return fmt.Errorf("window upsert: %w", err)
	}
	return nil
}

// DeleteWindow retires a closed window's aggregate.
func (t *Tx) DeleteWindow(st kpi.WindowState) error {
	_, err := t.tx.Exec(
		`DELETE FROM window_aggregates WHERE kpi = ? AND group_key = ? AND window_start_ms = ?`,
		st.Kpi, st.GroupKey, st.StartMs,
	)
	if err != nil {
		return fmt.Errorf("window delete: %w", err)
	}
	return nil
}

// SetWatermark persists the stream watermark.
func (t *Tx) SetWatermark(ms int64) error {
	_, err := t.tx.Exec(
		`INSERT INTO stream_watermarks (name, event_time_ms) VALUES (?, ?)
		 ON CONFLICT(name) DO UPDATE SET event_time_ms = excluded.event_time_ms`,
		watermarkName, ms,
	)
	if err != nil {
		return fmt.Errorf("watermark set: %w", err)
	}
	return nil
}

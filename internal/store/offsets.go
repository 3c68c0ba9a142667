// v1
// internal/store/offsets.go
package store

import (
	"database/sql"
	"errors"
	"fmt"
)

// LastOffset returns the highest input offset whose effects were committed
// for the topic/partition, and whether any offset has been recorded. Replayed
// records at or below this offset must be skipped to keep output exactly-once.
func (s *Store) LastOffset(topic string, partition int) (int64, bool, error) {
	var off int64
	err := s.db.QueryRow(
		`SELECT last_offset FROM source_offsets WHERE topic = ? AND partition = ?`,
		topic, partition,
	).Scan(&off)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("offset lookup: %w", err)
	}
	return off, true, nil
}

// SetOffset advances the committed offset for the topic/partition. It is
// written in the same transaction as the state mutations the record caused.
func (t *Tx) SetOffset(topic string, partition int, offset int64) error {
	_, err := t.tx.Exec(
		`INSERT INTO source_offsets (topic, partition, last_offset) VALUES (?, ?, ?)
		 ON CONFLICT(topic, partition) DO UPDATE SET last_offset = excluded.last_offset`,
		topic, partition, offset,
	)
	if err != nil {
		return fmt.Errorf("offset set: %w", err)
	}
	return nil
}

// v2
// internal/dedup/engine.go

// Package dedup decides whether a parsed event is a retransmission of a
// reading already accepted within the TTL window. The decision compares the
// event's edge-ingest time against the last accepted instant stored under the
// devEui:fCnt identity, so correctness requires per-device ordered delivery
// into this stage.
package dedup

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// Decision is the outcome of one dedup check.
type Decision int

const (
	// Pass lets the event continue through the pipeline.
	Pass Decision = iota
	// Drop discards the event as a duplicate retransmission.
	Drop
)

// DefaultTTL bounds how long an identity blocks retransmissions.
const DefaultTTL = 30 * time.Minute

// Store is the read side of the persistent identity mapping. Writes are
// staged as Mutations so the caller can commit them atomically with the input
// offset advance.
type Store interface {
	// DedupLastSeen returns the last accepted instant for the identity key,
	// in epoch milliseconds, and whether the key exists.
	DedupLastSeen(key string) (int64, bool, error)
}

// Mutation is a staged write to the identity store: record that the key was
// accepted at the given instant.
type Mutation struct {
	Key    string
	SeenMs int64
}

// Identity carries the fields a dedup decision needs from a parsed event.
type Identity struct {
	DevEUI         string
	FCnt           *int64
	EdgeIngestTime *time.Time
}

// Engine applies the TTL-bounded duplicate check against a persistent store.
type Engine struct {
	store Store
	ttl   time.Duration
}

// New builds an engine over the given store. A non-positive TTL falls back to
// DefaultTTL.
func New(store Store, ttl time.Duration) (*Engine, error) {
	if store == nil {
		return nil, errors.New("dedup store must not be nil")
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Engine{store: store, ttl: ttl}, nil
}

// TTL reports the configured retransmission window.
func (e *Engine) TTL() time.Duration {
	return e.ttl
}

// Decide classifies one event. Events lacking a device id, frame counter, or
// edge-ingest time pass unconditionally: dedup only applies to events with
// full identity. The returned mutation is nil when no state change is needed
// and must otherwise be persisted atomically with the caller's offset commit.
// A store read failure is surfaced to the caller; proceeding without the
// store would silently corrupt dedup correctness.
func (e *Engine) Decide(id Identity) (Decision, *Mutation, error) {
	if id.DevEUI == "" || id.FCnt == nil || id.EdgeIngestTime == nil {
		return Pass, nil, nil
	}

	key := Key(id.DevEUI, *id.FCnt)
	now := id.EdgeIngestTime.UnixMilli()

	last, ok, err := e.store.DedupLastSeen(key)
	if err != nil {
		return Drop, nil, fmt.Errorf("dedup store read %q: %w", key, err)
	}

	// First sight: record and pass.
	if !ok {
		return Pass, &Mutation{Key: key, SeenMs: now}, nil
	}

	// TTL elapsed: a legitimate re-reading (counter wraparound), overwrite.
	if now-last > e.ttl.Milliseconds() {
		return Pass, &Mutation{Key: key, SeenMs: now}, nil
	}

	// Duplicate retransmission within the TTL window.
	return Drop, nil, nil
}

// Key builds the identity key for a device reading.
func Key(devEUI string, fCnt int64) string {
	return devEUI + ":" + strconv.FormatInt(fCnt, 10)
}

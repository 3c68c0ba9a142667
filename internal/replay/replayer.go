// v2
// internal/replay/replayer.go

// Package replay republishes raw records captured by edge collectors. Each
// collector appends to a local sqlite log; the replayer tails those logs and
// feeds the raw Kafka topics, either from near-now (realtime) or from the
// beginning (backfill).
package replay

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/segmentio/kafka-go"

	"github.com/OnLog-System/onlog-pipeline/internal/breaker"
	"github.com/OnLog-System/onlog-pipeline/internal/config"
	"github.com/OnLog-System/onlog-pipeline/internal/metrics"
)

const (
	ModeRealtime = "realtime"
	ModeBackfill = "backfill"
)

const rawLogSchema = `
CREATE TABLE IF NOT EXISTS raw_log (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	received_ms INTEGER NOT NULL,
	body        TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_raw_log_received ON raw_log (received_ms);
`

// InitRawLog creates the raw log schema at path. Edge collectors and tests
// share this layout with the replayer.
func InitRawLog(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open raw log: %w", err)
	}
	if _, err := db.Exec(rawLogSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create raw log schema: %w", err)
	}
	return db, nil
}

// AppendRaw records one captured record. Used by collectors and tests.
func AppendRaw(db *sql.DB, receivedMs int64, body string) error {
	_, err := db.Exec(`INSERT INTO raw_log (received_ms, body) VALUES (?, ?)`, receivedMs, body)
	return err
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// source pairs one raw log database with its destination topic.
type source struct {
	name  string
	db    *sql.DB
	topic string
	// watermark is the highest replayed row id.
	watermark int64
}

// Replayer tails every known raw log under the configured base path.
type Replayer struct {
	cfg config.Config
	log *slog.Logger
	met *metrics.Metrics

	writer  messageWriter
	raw     *kafka.Writer
	sources []*source

	now func() time.Time
}

// New opens the three raw log databases under cfg.Replay.BasePath
// (env.db, scale.db, machine.db) and the shared producer. Missing databases
// are created empty so a collector can start writing later.
func New(cfg config.Config, met *metrics.Metrics, log *slog.Logger) (*Replayer, error) {
	if log == nil {
		return nil, errors.New("logger must not be nil")
	}
	if met == nil {
		return nil, errors.New("metrics must not be nil")
	}

	raw := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
	kb, err := breaker.NewKafkaBreakerFromEnv("replay", log, nil)
	if err != nil {
		log.Error("replay_cb_init_failed", slog.Any("err", err))
	}

	r := &Replayer{
		cfg:    cfg,
		log:    log,
		met:    met,
		writer: breaker.NewKafkaWriter(raw, kb),
		raw:    raw,
		now:    time.Now,
	}

	for name, topic := range map[string]string{
		"env.db":     cfg.Topics.EnvRaw,
		"scale.db":   cfg.Topics.ScaleRaw,
		"machine.db": cfg.Topics.MachineRaw,
	} {
		db, err := InitRawLog(filepath.Join(cfg.Replay.BasePath, name))
		if err != nil {
			r.Close()
			return nil, err
		}
		r.sources = append(r.sources, &source{name: name, db: db, topic: topic})
	}
	return r, nil
}

// Close releases the databases and the producer.
func (r *Replayer) Close() error {
	var firstErr error
	for _, src := range r.sources {
		if err := src.db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if r.raw != nil {
		if err := r.raw.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Run drives the configured mode. Backfill starts at the beginning of every
// log and returns once all are drained; realtime starts just behind now and
// tails forever.
func (r *Replayer) Run(ctx context.Context) error {
	r.log.Info("replay_started",
		slog.String("mode", r.cfg.Replay.Mode),
		slog.String("basePath", r.cfg.Replay.BasePath),
		slog.String("brokers", strings.Join(r.cfg.Brokers, ",")),
	)
	defer r.log.Info("replay_stopped")

	if r.cfg.Replay.Mode == ModeRealtime {
		if err := r.seekRealtime(); err != nil {
			return err
		}
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		published, err := r.pollOnce(ctx)
		if err != nil {
			return err
		}

		if published == 0 {
			if r.cfg.Replay.Mode == ModeBackfill {
				return nil
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(r.cfg.Replay.PollInterval):
			}
		}
	}
}

// seekRealtime advances each watermark past everything older than the
// lookback horizon, so a restart does not re-flood the raw topics.
func (r *Replayer) seekRealtime() error {
	horizon := r.now().Add(-r.cfg.Replay.Lookback).UnixMilli()
	for _, src := range r.sources {
		var max sql.NullInt64
		err := src.db.QueryRow(`SELECT MAX(id) FROM raw_log WHERE received_ms < ?`, horizon).Scan(&max)
		if err != nil {
			return fmt.Errorf("seek %s: %w", src.name, err)
		}
		if max.Valid {
			src.watermark = max.Int64
		}
		r.log.Info("replay_seeked",
			slog.String("source", src.name),
			slog.Int64("watermark", src.watermark),
		)
	}
	return nil
}

// pollOnce replays at most one batch per source, interleaving the logs so a
// large backfill in one does not starve the others.
func (r *Replayer) pollOnce(ctx context.Context) (int, error) {
	total := 0
	for _, src := range r.sources {
		n, err := r.replayBatch(ctx, src)
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

func (r *Replayer) replayBatch(ctx context.Context, src *source) (int, error) {
	rows, err := src.db.QueryContext(ctx, `
		SELECT id, body FROM raw_log
		WHERE id > ?
		ORDER BY id
		LIMIT ?`, src.watermark, r.cfg.Replay.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("read %s: %w", src.name, err)
	}
	defer rows.Close()

	var msgs []kafka.Message
	var lastID int64
	for rows.Next() {
		var id int64
		var body string
		if err := rows.Scan(&id, &body); err != nil {
			return 0, fmt.Errorf("scan %s: %w", src.name, err)
		}
		msgs = append(msgs, kafka.Message{Topic: src.topic, Value: []byte(body)})
		lastID = id
	}
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("iterate %s: %w", src.name, err)
	}
	if len(msgs) == 0 {
		return 0, nil
	}

	if err := r.writer.WriteMessages(ctx, msgs...); err != nil {
		return 0, fmt.Errorf("publish %s batch: %w", src.name, err)
	}
	src.watermark = lastID
	r.met.ReplayPublished.WithLabelValues(src.topic).Add(float64(len(msgs)))
	r.log.Info("replay_batch_published",
		slog.String("source", src.name),
		slog.String("topic", src.topic),
		slog.Int("records", len(msgs)),
		slog.Int64("watermark", lastID),
	)
	return len(msgs), nil
}

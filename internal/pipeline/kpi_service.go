// v3
// internal/pipeline/kpi_service.go
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"

	"github.com/OnLog-System/onlog-pipeline/internal/breaker"
	"github.com/OnLog-System/onlog-pipeline/internal/config"
	"github.com/OnLog-System/onlog-pipeline/internal/kpi"
	"github.com/OnLog-System/onlog-pipeline/internal/metrics"
	"github.com/OnLog-System/onlog-pipeline/internal/model"
	"github.com/OnLog-System/onlog-pipeline/internal/store"
)

// KpiService consumes canonical events and maintains the windowed production
// and yield aggregations, emitting one KPI event per window on close.
type KpiService struct {
	cfg config.Config
	log *slog.Logger
	met *metrics.Metrics
	st  *store.Store
	eng *kpi.Engine

	reader    *kafka.Reader
	fetcher   messageFetcher
	committer messageCommitter
	kpiWriter messageWriter
	writers   []*kafka.Writer

	poll time.Duration

	// Status snapshot, readable from the ops server goroutine.
	statusWatermark atomic.Int64
	statusWindows   atomic.Int64
}

// Status reports the last persisted watermark and open window count.
func (s *KpiService) Status() (watermarkMs int64, openWindows int) {
	return s.statusWatermark.Load(), int(s.statusWindows.Load())
}

// NewKpiService restores window state and the watermark from the shared
// store, so a restart resumes aggregation exactly where the last committed
// record left it.
func NewKpiService(cfg config.Config, st *store.Store, met *metrics.Metrics, log *slog.Logger) (*KpiService, error) {
	if log == nil {
		return nil, errors.New("logger must not be nil")
	}
	if st == nil {
		return nil, errors.New("state store must not be nil")
	}
	if met == nil {
		return nil, errors.New("metrics must not be nil")
	}

	eng := kpi.New(kpi.Config{
		WindowSize: cfg.Kpi.WindowSize,
		Grace:      cfg.Kpi.Grace,
		YieldMin:   cfg.Kpi.YieldMin,
		YieldMax:   cfg.Kpi.YieldMax,
	}, log)

	watermark, err := st.Watermark()
	if err != nil {
		return nil, fmt.Errorf("restore watermark: %w", err)
	}
	states, err := st.LoadWindows()
	if err != nil {
		return nil, fmt.Errorf("restore windows: %w", err)
	}
	eng.Restore(watermark, states)
	log.Info("kpi_state_restored",
		slog.Int64("watermarkMs", watermark),
		slog.Int("openWindows", len(states)),
	)

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.KpiGroupID,
		Topic:       cfg.Topics.Parsed,
		StartOffset: kafka.FirstOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
	})

	kb, err := breaker.NewKafkaBreakerFromEnv("kpi", log, nil)
	if err != nil {
		log.Error("kpi_cb_init_failed", slog.Any("err", err))
	}

	kpiRaw := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topics.KpiEvent,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}

	return &KpiService{
		cfg:       cfg,
		log:       log,
		met:       met,
		st:        st,
		eng:       eng,
		reader:    reader,
		fetcher:   breaker.NewKafkaReader(reader, kb),
		committer: reader,
		kpiWriter: breaker.NewKafkaWriter(kpiRaw, kb),
		writers:   []*kafka.Writer{kpiRaw},
		poll:      defaultPollTimeout,
	}, nil
}

// Close shuts down the Kafka reader and producer.
func (s *KpiService) Close() error {
	var firstErr error
	if s.reader != nil {
		firstErr = s.reader.Close()
	}
	for _, w := range s.writers {
		if err := w.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Run consumes canonical events until the context is cancelled or the state
// store fails.
func (s *KpiService) Run(ctx context.Context) error {
	s.log.Info("kpi_started",
		slog.String("topic", s.cfg.Topics.Parsed),
		slog.String("group", s.cfg.KpiGroupID),
		slog.String("brokers", strings.Join(s.cfg.Brokers, ",")),
		slog.Duration("windowSize", s.cfg.Kpi.WindowSize),
		slog.Duration("grace", s.cfg.Kpi.Grace),
	)
	defer s.log.Info("kpi_stopped")

	nextSweep := time.Now().Add(s.cfg.DedupSweep)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if s.cfg.DedupSweep > 0 && time.Now().After(nextSweep) {
			s.sweepSeen()
			nextSweep = time.Now().Add(s.cfg.DedupSweep)
		}

		fetchCtx, cancel := context.WithTimeout(ctx, s.poll)
		msg, err := s.fetcher.FetchMessage(fetchCtx)
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			if errors.Is(err, context.Canceled) {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				continue
			}
			if errors.Is(err, io.ErrClosedPipe) || errors.Is(err, kafka.ErrGroupClosed) {
				return nil
			}
			s.log.Error("kpi_fetch_error", slog.Any("err", err))
			continue
		}

		if err := s.process(ctx, msg); err != nil {
			s.log.Error("kpi_fatal", slog.Any("err", err),
				slog.Int64("offset", msg.Offset),
			)
			return err
		}

		commitCtx, commitCancel := context.WithTimeout(ctx, s.cfg.CommitTimeout)
		err = s.committer.CommitMessages(commitCtx, msg)
		commitCancel()
		if err != nil && !(errors.Is(err, context.Canceled) && ctx.Err() != nil) {
			s.log.Error("kpi_commit_error", slog.Any("err", err))
		}
	}
}

// process folds one canonical event into the open windows, publishes any
// windows the advancing watermark closed, and persists all touched state
// with the record's offset in one transaction.
func (s *KpiService) process(ctx context.Context, msg kafka.Message) error {
	s.met.RecordsConsumed.WithLabelValues(msg.Topic).Inc()

	last, seen, err := s.st.LastOffset(msg.Topic, msg.Partition)
	if err != nil {
		return fmt.Errorf("offset lookup: %w", err)
	}
	if seen && msg.Offset <= last {
		s.log.Info("kpi_replay_skip",
			slog.Int("partition", msg.Partition),
			slog.Int64("offset", msg.Offset),
		)
		return nil
	}

	var ev model.CanonicalEvent
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		// A malformed canonical record cannot wedge the stream; skip it
		// but still advance the offset.
		s.log.Warn("kpi_decode_error", slog.Any("err", err), slog.Int64("offset", msg.Offset))
		return s.persist(ctx, msg, kpi.Result{}, nil, foldedIdentity{})
	}

	// The parser publishes before committing its own state, so a crash in
	// that gap re-emits an identical canonical record at a fresh offset.
	// Offset bookkeeping misses those; the folded-identity table catches
	// them before they can double-count an aggregate.
	ts := kpi.EventTimeMs(ev)
	if ev.SourceID != "" {
		dup, err := s.st.KpiSeen(ev.SourceID, ts)
		if err != nil {
			return fmt.Errorf("folded identity lookup: %w", err)
		}
		if dup {
			s.met.KpiDuplicatesDropped.Inc()
			s.log.Info("kpi_duplicate_skip",
				slog.String("sourceId", ev.SourceID),
				slog.Int64("eventTimeMs", ts),
				slog.Int64("offset", msg.Offset),
			)
			return s.persist(ctx, msg, kpi.Result{}, nil, foldedIdentity{})
		}
	}

	res := s.eng.Observe(ev)
	if res.Late {
		s.met.KpiLateDropped.Inc()
	}

	var folded foldedIdentity
	if ev.SourceID != "" && (res.Production != nil || res.Yield != nil) {
		folded = foldedIdentity{sourceID: ev.SourceID, eventTimeMs: ts}
	}

	closed := s.eng.Advance()
	if err := s.publishClosed(ctx, closed); err != nil {
		return err
	}

	if err := s.persist(ctx, msg, res, closed, folded); err != nil {
		return err
	}

	s.met.WatermarkMs.Set(float64(s.eng.WatermarkMs()))
	s.met.OpenWindows.Set(float64(s.eng.OpenWindows()))
	s.statusWatermark.Store(s.eng.WatermarkMs())
	s.statusWindows.Store(int64(s.eng.OpenWindows()))
	return nil
}

// publishClosed emits one KPI event per retired window. Message keys are
// derived from the window identity so replays overwrite rather than
// duplicate downstream.
func (s *KpiService) publishClosed(ctx context.Context, closed []kpi.Closed) error {
	if len(closed) == 0 {
		return nil
	}
	msgs := make([]kafka.Message, 0, len(closed))
	for _, c := range closed {
		body, err := json.Marshal(c.Event)
		if err != nil {
			return fmt.Errorf("encode kpi event: %w", err)
		}
		key := c.Event.TenantID + "|" + c.Event.LineID + "|" + c.Event.KpiType + "|" +
			strconv.FormatInt(c.Event.SnapshotTime, 10)
		msgs = append(msgs, kafka.Message{Key: []byte(key), Value: body})
	}
	if err := s.kpiWriter.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish kpi events: %w", err)
	}
	for _, c := range closed {
		s.met.KpiEmitted.WithLabelValues(c.Event.KpiType).Inc()
		s.log.Info("kpi_window_closed",
			slog.String("kpiType", c.Event.KpiType),
			slog.String("tenantId", c.Event.TenantID),
			slog.String("lineId", c.Event.LineID),
			slog.Int64("windowEndMs", c.Event.SnapshotTime),
			slog.Float64("value", c.Event.ValueNum),
		)
	}
	return nil
}

// sweepSeen bounds the folded-identity table. An identity further behind the
// watermark than a window plus grace belongs to a closed window, so a repeat
// of it is dropped as late before any aggregate lookup happens. Sweeping by
// stream time keeps replays deterministic regardless of wall clock.
func (s *KpiService) sweepSeen() {
	cutoff := s.eng.WatermarkMs() - s.cfg.Kpi.WindowSize.Milliseconds() - s.cfg.Kpi.Grace.Milliseconds()
	if cutoff <= 0 {
		return
	}
	removed, err := s.st.SweepKpiSeen(cutoff)
	if err != nil {
		s.log.Error("kpi_seen_sweep_failed", slog.Any("err", err))
		return
	}
	if removed > 0 {
		s.log.Info("kpi_seen_sweep", slog.Int64("removed", removed))
	}
}

// foldedIdentity names the canonical record an aggregate just absorbed. The
// zero value means the record touched no aggregate and leaves no trace.
type foldedIdentity struct {
	sourceID    string
	eventTimeMs int64
}

func (s *KpiService) persist(ctx context.Context, msg kafka.Message, res kpi.Result, closed []kpi.Closed, folded foldedIdentity) error {
	err := s.st.Update(ctx, func(tx *store.Tx) error {
		if folded.sourceID != "" {
			if err := tx.PutKpiSeen(folded.sourceID, folded.eventTimeMs); err != nil {
				return err
			}
		}
		if res.Production != nil {
			if err := tx.UpsertWindow(*res.Production); err != nil {
				return err
			}
		}
		if res.Yield != nil {
			if err := tx.UpsertWindow(*res.Yield); err != nil {
				return err
			}
		}
		for _, c := range closed {
			if err := tx.DeleteWindow(c.State); err != nil {
				return err
			}
		}
		if err := tx.SetWatermark(s.eng.WatermarkMs()); err != nil {
			return err
		}
		return tx.SetOffset(msg.Topic, msg.Partition, msg.Offset)
	})
	if err != nil {
		return fmt.Errorf("persist window state: %w", err)
	}
	return nil
}

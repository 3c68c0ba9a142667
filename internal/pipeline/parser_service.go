// v4
// internal/pipeline/parser_service.go

// Package pipeline hosts the long-running Kafka services: the parser, which
// normalizes raw sensor records into canonical events, and the KPI service,
// which aggregates canonical events into windowed production indicators.
//
// Both services persist their processing state (dedup identities, window
// aggregates, consumed offsets) in a single sqlite transaction per record,
// so a crash between the state write and the Kafka commit replays records
// that are then recognized and skipped by offset.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"

	"github.com/OnLog-System/onlog-pipeline/internal/breaker"
	"github.com/OnLog-System/onlog-pipeline/internal/canon"
	"github.com/OnLog-System/onlog-pipeline/internal/config"
	"github.com/OnLog-System/onlog-pipeline/internal/dedup"
	"github.com/OnLog-System/onlog-pipeline/internal/dlqspill"
	"github.com/OnLog-System/onlog-pipeline/internal/metrics"
	"github.com/OnLog-System/onlog-pipeline/internal/model"
	"github.com/OnLog-System/onlog-pipeline/internal/parse"
	"github.com/OnLog-System/onlog-pipeline/internal/route"
	"github.com/OnLog-System/onlog-pipeline/internal/store"
)

const defaultPollTimeout = 5 * time.Second

// messageFetcher captures the read capability shared by the raw Kafka reader
// and the circuit breaker wrapper.
type messageFetcher interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
}

// messageCommitter acknowledges consumed messages back to the group.
type messageCommitter interface {
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// messageWriter captures the write capability shared by the raw Kafka writer
// and the circuit breaker wrapper.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// ParserService consumes the three raw topics, normalizes each record, and
// fans results out to the canonical topic or the dead letter topic.
type ParserService struct {
	cfg config.Config
	log *slog.Logger
	met *metrics.Metrics
	st  *store.Store
	ded *dedup.Engine
	sp  *dlqspill.Spill

	reader    *kafka.Reader
	fetcher   messageFetcher
	committer messageCommitter

	parsedWriter messageWriter
	dlqWriter    messageWriter
	writers      []*kafka.Writer

	poll time.Duration
}

// NewParserService wires the Kafka reader over the raw topics, the two
// producers, and the dedup engine backed by the shared state store.
func NewParserService(cfg config.Config, st *store.Store, sp *dlqspill.Spill, met *metrics.Metrics, log *slog.Logger) (*ParserService, error) {
	if log == nil {
		return nil, errors.New("logger must not be nil")
	}
	if st == nil {
		return nil, errors.New("state store must not be nil")
	}
	if met == nil {
		return nil, errors.New("metrics must not be nil")
	}

	ded, err := dedup.New(st, cfg.DedupTTL)
	if err != nil {
		return nil, err
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.ParserGroupID,
		GroupTopics: cfg.Topics.RawTopics(),
		StartOffset: kafka.FirstOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
	})

	kb, err := breaker.NewKafkaBreakerFromEnv("parser", log, nil)
	if err != nil {
		log.Error("parser_cb_init_failed", slog.Any("err", err))
	}

	parsedRaw := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topics.Parsed,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}
	dlqRaw := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topics.ParseDLQ,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
	}

	s := &ParserService{
		cfg:          cfg,
		log:          log,
		met:          met,
		st:           st,
		ded:          ded,
		sp:           sp,
		reader:       reader,
		fetcher:      breaker.NewKafkaReader(reader, kb),
		committer:    reader,
		parsedWriter: breaker.NewKafkaWriter(parsedRaw, kb),
		dlqWriter:    breaker.NewKafkaWriter(dlqRaw, kb),
		writers:      []*kafka.Writer{parsedRaw, dlqRaw},
		poll:         defaultPollTimeout,
	}
	return s, nil
}

// Close shuts down the Kafka reader and producers.
func (s *ParserService) Close() error {
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

// Run consumes until the context is cancelled or processing hits an
// unrecoverable fault (a state store failure stops the service rather than
// silently dropping dedup guarantees).
func (s *ParserService) Run(ctx context.Context) error {
	s.log.Info("parser_started",
		slog.String("topics", strings.Join(s.cfg.Topics.RawTopics(), ",")),
		slog.String("group", s.cfg.ParserGroupID),
		slog.String("brokers", strings.Join(s.cfg.Brokers, ",")),
		slog.Duration("dedupTtl", s.ded.TTL()),
	)
	defer s.log.Info("parser_stopped")

	nextSweep := time.Now().Add(s.cfg.DedupSweep)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if s.cfg.DedupSweep > 0 && time.Now().After(nextSweep) {
			s.sweep()
			nextSweep = time.Now().Add(s.cfg.DedupSweep)
		}
		s.drainSpill(ctx)

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
			s.log.Error("parser_fetch_error", slog.Any("err", err))
			continue
		}

		if err := s.process(ctx, msg); err != nil {
			s.log.Error("parser_fatal", slog.Any("err", err),
				slog.String("topic", msg.Topic),
				slog.Int64("offset", msg.Offset),
			)
			return err
		}

		commitCtx, commitCancel := context.WithTimeout(ctx, s.cfg.CommitTimeout)
		err = s.committer.CommitMessages(commitCtx, msg)
		commitCancel()
		if err != nil && !(errors.Is(err, context.Canceled) && ctx.Err() != nil) {
			s.log.Error("parser_commit_error", slog.Any("err", err))
		}
	}
}

// process handles one raw record end to end. A nil return means the message
// may be committed; an error is fatal for the service.
func (s *ParserService) process(ctx context.Context, msg kafka.Message) error {
	s.met.RecordsConsumed.WithLabelValues(msg.Topic).Inc()

	last, seen, err := s.st.LastOffset(msg.Topic, msg.Partition)
	if err != nil {
		return fmt.Errorf("offset lookup: %w", err)
	}
	if seen && msg.Offset <= last {
		// Replayed after a crash between state write and Kafka commit.
		s.log.Info("parser_replay_skip",
			slog.String("topic", msg.Topic),
			slog.Int("partition", msg.Partition),
			slog.Int64("offset", msg.Offset),
		)
		return nil
	}

	ev := parse.Record(msg.Topic, string(msg.Value))
	if ev.Failed() {
		s.met.ParseFailures.Inc()
	}

	decision, mutation, err := s.ded.Decide(dedup.Identity{
		DevEUI:         ev.DevEUI,
		FCnt:           ev.FCnt,
		EdgeIngestTime: ev.EdgeIngestTime,
	})
	if err != nil {
		return fmt.Errorf("identity store unavailable: %w", err)
	}

	if decision == dedup.Drop {
		s.met.DedupDropped.Inc()
		return s.persist(ctx, msg, nil)
	}

	switch route.Classify(ev) {
	case route.DeadLetter:
		dle := route.DeadLetterEvent(ev, time.Now().UTC())
		s.met.DeadLetterEvents.WithLabelValues(dle.Reason).Inc()
		if err := s.publishDeadLetter(ctx, dle); err != nil {
			return err
		}
	case route.Valid:
		cev := canon.Event(ev)
		body, err := json.Marshal(cev)
		if err != nil {
			return fmt.Errorf("encode canonical event: %w", err)
		}
		key := cev.GroupKey() + "|" + cev.DevEUI
		if err := s.parsedWriter.WriteMessages(ctx, kafka.Message{
			Key:   []byte(key),
			Value: body,
		}); err != nil {
			return fmt.Errorf("publish canonical event: %w", err)
		}
		s.met.CanonicalEmitted.Inc()
	}

	return s.persist(ctx, msg, mutation)
}

// publishDeadLetter writes to the dead letter topic, spilling to local disk
// when the broker rejects the write so the pipeline keeps moving.
func (s *ParserService) publishDeadLetter(ctx context.Context, dle model.ParseErrorEvent) error {
	body, err := json.Marshal(dle)
	if err != nil {
		return fmt.Errorf("encode dead letter event: %w", err)
	}
	writeErr := s.dlqWriter.WriteMessages(ctx, kafka.Message{Value: body})
	if writeErr == nil {
		return nil
	}
	if s.sp == nil {
		return fmt.Errorf("publish dead letter event: %w", writeErr)
	}
	s.log.Warn("parser_dlq_publish_failed_spilling", slog.Any("err", writeErr))
	if err := s.sp.Save([]model.ParseErrorEvent{dle}); err != nil {
		return fmt.Errorf("spill dead letter event: %w", err)
	}
	s.met.SpillWrites.Inc()
	s.met.SpillBacklogBytes.Set(float64(s.sp.BacklogBytes()))
	return nil
}

// persist applies the record's state mutation and its offset in one
// transaction. The offset is written before the Kafka commit so replays are
// detected even if the commit never happens.
func (s *ParserService) persist(ctx context.Context, msg kafka.Message, mutation *dedup.Mutation) error {
	err := s.st.Update(ctx, func(tx *store.Tx) error {
		if mutation != nil {
			if err := tx.PutDedup(mutation.Key, mutation.SeenMs); err != nil {
				return err
			}
		}
		return tx.SetOffset(msg.Topic, msg.Partition, msg.Offset)
	})
	if err != nil {
		return fmt.Errorf("persist processing state: %w", err)
	}
	return nil
}

// PublishDeadLetters re-delivers a spilled batch. It satisfies the spill
// drain contract.
func (s *ParserService) PublishDeadLetters(ctx context.Context, events []model.ParseErrorEvent) error {
	msgs := make([]kafka.Message, 0, len(events))
	for _, dle := range events {
		body, err := json.Marshal(dle)
		if err != nil {
			return fmt.Errorf("encode dead letter event: %w", err)
		}
		msgs = append(msgs, kafka.Message{Value: body})
	}
	return s.dlqWriter.WriteMessages(ctx, msgs...)
}

func (s *ParserService) drainSpill(ctx context.Context) {
	if s.sp == nil || s.sp.BacklogBytes() == 0 {
		return
	}
	n, err := s.sp.Drain(ctx, s)
	if n > 0 {
		s.met.SpillRepublished.Add(float64(n))
	}
	s.met.SpillBacklogBytes.Set(float64(s.sp.BacklogBytes()))
	if err != nil && !errors.Is(err, context.Canceled) {
		s.log.Warn("parser_spill_drain_failed", slog.Any("err", err))
	}
}

// sweepTTLMultiple sets how far the physical sweep trails the logical TTL.
// Dedup compares edge-ingest instants, so under consumer lag an identity can
// still be inside its TTL window long after wall clock has passed it; the
// multiple keeps such entries until a delayed duplicate could no longer pass.
const sweepTTLMultiple = 3

func (s *ParserService) sweep() {
	cutoff := time.Now().Add(-sweepTTLMultiple * s.ded.TTL()).UnixMilli()
	removed, err := s.st.SweepDedup(cutoff)
	if err != nil {
		s.log.Error("parser_dedup_sweep_failed", slog.Any("err", err))
		return
	}
	if removed > 0 {
		s.log.Info("parser_dedup_sweep", slog.Int64("removed", removed))
	}
}

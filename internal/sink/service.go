// v2
// internal/sink/service.go
package sink

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
	"github.com/OnLog-System/onlog-pipeline/internal/config"
	"github.com/OnLog-System/onlog-pipeline/internal/metrics"
	"github.com/OnLog-System/onlog-pipeline/internal/model"
)

const defaultPollTimeout = 5 * time.Second

type messageFetcher interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
}

type messageCommitter interface {
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Service consumes the canonical and KPI topics and lands every record in
// the serving database. Duplicate deliveries collapse on the database keys,
// so the service commits only after the row is durable.
type Service struct {
	cfg config.Config
	log *slog.Logger
	met *metrics.Metrics
	db  *DB

	reader    *kafka.Reader
	fetcher   messageFetcher
	committer messageCommitter

	poll time.Duration
}

// NewService opens the serving database and the consumer over both
// downstream topics.
func NewService(cfg config.Config, met *metrics.Metrics, log *slog.Logger) (*Service, error) {
	if log == nil {
		return nil, errors.New("logger must not be nil")
	}
	if met == nil {
		return nil, errors.New("metrics must not be nil")
	}

	db, err := Open(cfg.SinkDBPath)
	if err != nil {
		return nil, err
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		GroupID:     cfg.SinkGroupID,
		GroupTopics: []string{cfg.Topics.Parsed, cfg.Topics.KpiEvent},
		StartOffset: kafka.FirstOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
	})

	kb, err := breaker.NewKafkaBreakerFromEnv("sink", log, nil)
	if err != nil {
		log.Error("sink_cb_init_failed", slog.Any("err", err))
	}

	return &Service{
		cfg:       cfg,
		log:       log,
		met:       met,
		db:        db,
		reader:    reader,
		fetcher:   breaker.NewKafkaReader(reader, kb),
		committer: reader,
		poll:      defaultPollTimeout,
	}, nil
}

// Close shuts down the reader and the serving database.
func (s *Service) Close() error {
	var firstErr error
	if s.reader != nil {
		firstErr = s.reader.Close()
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Run consumes until the context is cancelled or the database fails.
func (s *Service) Run(ctx context.Context) error {
	s.log.Info("sink_started",
		slog.String("topics", s.cfg.Topics.Parsed+","+s.cfg.Topics.KpiEvent),
		slog.String("group", s.cfg.SinkGroupID),
		slog.String("brokers", strings.Join(s.cfg.Brokers, ",")),
		slog.String("db", s.cfg.SinkDBPath),
	)
	defer s.log.Info("sink_stopped")

	for {
		if ctx.Err() != nil {
			return ctx.Err()
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
			s.log.Error("sink_fetch_error", slog.Any("err", err))
			continue
		}

		if err := s.process(ctx, msg); err != nil {
			s.log.Error("sink_fatal", slog.Any("err", err),
				slog.String("topic", msg.Topic),
				slog.Int64("offset", msg.Offset),
			)
			return err
		}

		commitCtx, commitCancel := context.WithTimeout(ctx, s.cfg.CommitTimeout)
		err = s.committer.CommitMessages(commitCtx, msg)
		commitCancel()
		if err != nil && !(errors.Is(err, context.Canceled) && ctx.Err() != nil) {
			s.log.Error("sink_commit_error", slog.Any("err", err))
		}
	}
}

// process dispatches one record by topic. Undecodable records are logged
// and committed; a database failure is fatal.
func (s *Service) process(ctx context.Context, msg kafka.Message) error {
	s.met.RecordsConsumed.WithLabelValues(msg.Topic).Inc()

	switch msg.Topic {
	case s.cfg.Topics.KpiEvent:
		var ev model.KpiEvent
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			s.log.Warn("sink_kpi_decode_error", slog.Any("err", err), slog.Int64("offset", msg.Offset))
			return nil
		}
		inserted, err := s.db.InsertKpi(ctx, ev)
		if err != nil {
			return err
		}
		if inserted {
			s.met.SinkRowsWritten.WithLabelValues(TableKpi).Inc()
		}
	case s.cfg.Topics.Parsed:
		var ev model.CanonicalEvent
		if err := json.Unmarshal(msg.Value, &ev); err != nil {
			s.log.Warn("sink_canonical_decode_error", slog.Any("err", err), slog.Int64("offset", msg.Offset))
			return nil
		}
		table, inserted, err := s.db.InsertCanonical(ctx, ev)
		if err != nil {
			return err
		}
		if inserted {
			s.met.SinkRowsWritten.WithLabelValues(table).Inc()
		}
	default:
		return fmt.Errorf("unexpected topic %q", msg.Topic)
	}
	return nil
}

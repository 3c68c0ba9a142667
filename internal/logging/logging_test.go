// v1
// internal/logging/logging_test.go
package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type failingHandler struct{ err error }

func (h *failingHandler) Enabled(context.Context, slog.Level) bool  { return true }
func (h *failingHandler) Handle(context.Context, slog.Record) error { return h.err }
func (h *failingHandler) WithAttrs([]slog.Attr) slog.Handler        { return h }
func (h *failingHandler) WithGroup(string) slog.Handler             { return h }

func TestFanoutDeliversToEverySink(t *testing.T) {
	var a, b bytes.Buffer
	log := slog.New(fanout{
		slog.NewTextHandler(&a, nil),
		slog.NewTextHandler(&b, nil),
	})

	log.Info("parser_started", slog.String("group", "onlog-parser"))

	require.Contains(t, a.String(), "parser_started")
	require.Contains(t, b.String(), "parser_started")
}

func TestFanoutSinkFailureDoesNotBlockOthers(t *testing.T) {
	var buf bytes.Buffer
	sinkErr := errors.New("disk full")
	h := fanout{
		&failingHandler{err: sinkErr},
		slog.NewTextHandler(&buf, nil),
	}

	rec := slog.NewRecord(time.Now(), slog.LevelInfo, "kpi_window_closed", 0)
	err := h.Handle(context.Background(), rec)

	require.ErrorIs(t, err, sinkErr)
	require.Contains(t, buf.String(), "kpi_window_closed")
}

func TestFanoutRespectsSinkLevels(t *testing.T) {
	var verbose, errorsOnly bytes.Buffer
	h := fanout{
		slog.NewTextHandler(&verbose, &slog.HandlerOptions{Level: slog.LevelDebug}),
		slog.NewTextHandler(&errorsOnly, &slog.HandlerOptions{Level: slog.LevelError}),
	}

	rec := slog.NewRecord(time.Now(), slog.LevelInfo, "dedup_sweep", 0)
	require.True(t, h.Enabled(context.Background(), slog.LevelInfo))
	require.NoError(t, h.Handle(context.Background(), rec))

	require.Contains(t, verbose.String(), "dedup_sweep")
	require.Empty(t, errorsOnly.String())
}

func TestNewWritesLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "parser.log")
	log, file, err := New(path)
	require.NoError(t, err)
	require.NotNil(t, file)
	defer file.Close()

	log.Info("parser_started")

	body, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(body), "parser_started")
}

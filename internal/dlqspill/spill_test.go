// v1
// internal/dlqspill/spill_test.go
package dlqspill

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/OnLog-System/onlog-pipeline/internal/model"
)

type capturePublisher struct {
	batches [][]model.ParseErrorEvent
	err     error
}

func (p *capturePublisher) PublishDeadLetters(ctx context.Context, events []model.ParseErrorEvent) error {
	if p.err != nil {
		return p.err
	}
	p.batches = append(p.batches, events)
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleEvents(n int) []model.ParseErrorEvent {
	out := make([]model.ParseErrorEvent, n)
	for i := range out {
		out[i] = model.ParseErrorEvent{
			OccurredAt: time.Date(2025, 3, 1, 10, 30, i, 0, time.UTC),
			Reason:     "PARSE_FAILED",
			Raw:        `{"broken":`,
		}
	}
	return out
}

func TestSaveThenDrainRoundTrip(t *testing.T) {
	s, err := New(t.TempDir(), 0, quietLogger())
	require.NoError(t, err)

	events := sampleEvents(3)
	require.NoError(t, s.Save(events))
	require.Greater(t, s.BacklogBytes(), int64(0))

	pub := &capturePublisher{}
	n, err := s.Drain(context.Background(), pub)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.Len(t, pub.batches, 1)
	require.Equal(t, events[0].Reason, pub.batches[0][0].Reason)
	require.Equal(t, events[0].Raw, pub.batches[0][0].Raw)
	require.Zero(t, s.BacklogBytes())
}

func TestDrainOldestFirst(t *testing.T) {
	s, err := New(t.TempDir(), 0, quietLogger())
	require.NoError(t, err)

	first := []model.ParseErrorEvent{{OccurredAt: time.Now().UTC(), Reason: "PARSE_FAILED", Raw: "first"}}
	second := []model.ParseErrorEvent{{OccurredAt: time.Now().UTC(), Reason: "PARSE_FAILED", Raw: "second"}}
	require.NoError(t, s.Save(first))
	require.NoError(t, s.Save(second))

	pub := &capturePublisher{}
	_, err = s.Drain(context.Background(), pub)
	require.NoError(t, err)
	require.Len(t, pub.batches, 2)
	require.Equal(t, "first", pub.batches[0][0].Raw)
	require.Equal(t, "second", pub.batches[1][0].Raw)
}

func TestPublishFailureKeepsFile(t *testing.T) {
	s, err := New(t.TempDir(), 0, quietLogger())
	require.NoError(t, err)
	require.NoError(t, s.Save(sampleEvents(1)))

	pub := &capturePublisher{err: errors.New("broker down")}
	_, err = s.Drain(context.Background(), pub)
	require.Error(t, err)
	require.Greater(t, s.BacklogBytes(), int64(0))

	pub.err = nil
	n, err := s.Drain(context.Background(), pub)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestCapacityEvictsOldest(t *testing.T) {
	probe, err := New(t.TempDir(), 0, quietLogger())
	require.NoError(t, err)
	require.NoError(t, probe.Save(sampleEvents(1)))
	batchSize := probe.BacklogBytes()

	// Room for one batch but not two: the second save evicts the first.
	s, err := New(t.TempDir(), batchSize+batchSize/2, quietLogger())
	require.NoError(t, err)
	require.NoError(t, s.Save(sampleEvents(1)))
	require.NoError(t, s.Save([]model.ParseErrorEvent{{
		OccurredAt: time.Now().UTC(), Reason: "PARSE_FAILED", Raw: "latest",
	}}))

	pub := &capturePublisher{}
	_, err = s.Drain(context.Background(), pub)
	require.NoError(t, err)
	require.Len(t, pub.batches, 1)
	require.Equal(t, "latest", pub.batches[0][0].Raw)
}

func TestBacklogRestoredOnReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, 0, quietLogger())
	require.NoError(t, err)
	require.NoError(t, s.Save(sampleEvents(2)))
	saved := s.BacklogBytes()

	reopened, err := New(dir, 0, quietLogger())
	require.NoError(t, err)
	require.Equal(t, saved, reopened.BacklogBytes())
}

func TestEmptyBacklogDrainIsNoop(t *testing.T) {
	s, err := New(t.TempDir(), 0, quietLogger())
	require.NoError(t, err)

	n, err := s.Drain(context.Background(), &capturePublisher{})
	require.NoError(t, err)
	require.Zero(t, n)
}

// v1
// internal/breaker/kafka_test.go
package breaker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

type scriptedWriter struct {
	failures int
	calls    int
}

func (w *scriptedWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.calls++
	if w.calls <= w.failures {
		return errors.New("broker unavailable")
	}
	return nil
}

func testBreaker(t *testing.T, threshold int) *KafkaBreaker {
	t.Helper()
	return &KafkaBreaker{
		enabled:          true,
		failureThreshold: threshold,
		timeout:          time.Second,
		backoff:          time.Millisecond,
		breaker: New("test", Config{MaxFailures: threshold, ResetTimeout: 50 * time.Millisecond},
			slog.New(slog.NewTextHandler(io.Discard, nil)), nil),
	}
}

func TestWriterRetriesUntilSuccess(t *testing.T) {
	inner := &scriptedWriter{failures: 2}
	w := NewKafkaWriter(inner, testBreaker(t, 5))

	err := w.WriteMessages(context.Background(), kafka.Message{Value: []byte("x")})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if inner.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", inner.calls)
	}
}

func TestWriterGivesUpAtThreshold(t *testing.T) {
	inner := &scriptedWriter{failures: 100}
	w := NewKafkaWriter(inner, testBreaker(t, 3))

	err := w.WriteMessages(context.Background(), kafka.Message{Value: []byte("x")})
	if err == nil {
		t.Fatal("expected failure after threshold attempts")
	}
}

func TestDisabledBreakerIsTransparent(t *testing.T) {
	inner := &scriptedWriter{failures: 1}
	w := NewKafkaWriter(inner, nil)

	if err := w.WriteMessages(context.Background(), kafka.Message{}); err == nil {
		t.Fatal("expected pass-through error with disabled breaker")
	}
	if inner.calls != 1 {
		t.Fatalf("expected single attempt, got %d", inner.calls)
	}
}

func TestBreakerOpensAfterFailures(t *testing.T) {
	b := New("open-test", Config{MaxFailures: 2, ResetTimeout: time.Minute},
		slog.New(slog.NewTextHandler(io.Discard, nil)), nil)

	fail := func(ctx context.Context) error { return errors.New("down") }
	_ = b.Execute(context.Background(), fail)
	_ = b.Execute(context.Background(), fail)

	if b.State() != Open {
		t.Fatalf("expected Open, got %s", b.State())
	}
	if err := b.Execute(context.Background(), fail); !errors.Is(err, ErrOpen) {
		t.Fatalf("expected fast-fail ErrOpen, got %v", err)
	}
}

func TestBreakerClosesAfterProbeSuccess(t *testing.T) {
	b := New("probe-test", Config{MaxFailures: 1, ResetTimeout: time.Millisecond},
		slog.New(slog.NewTextHandler(io.Discard, nil)), nil)

	_ = b.Execute(context.Background(), func(ctx context.Context) error { return errors.New("down") })
	if b.State() != Open {
		t.Fatalf("expected Open, got %s", b.State())
	}

	time.Sleep(5 * time.Millisecond)
	if err := b.Execute(context.Background(), func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("expected half-open success, got %v", err)
	}
	if b.State() != Closed {
		t.Fatalf("expected Closed, got %s", b.State())
	}
}

func TestReaderWrapsFetch(t *testing.T) {
	kb := testBreaker(t, 3)
	r := NewKafkaReader(fetcherFunc(func(ctx context.Context) (kafka.Message, error) {
		return kafka.Message{Value: []byte("v")}, nil
	}), kb)

	msg, err := r.FetchMessage(context.Background())
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if string(msg.Value) != "v" {
		t.Fatalf("unexpected message %q", msg.Value)
	}
}

type fetcherFunc func(ctx context.Context) (kafka.Message, error)

func (f fetcherFunc) FetchMessage(ctx context.Context) (kafka.Message, error) {
	return f(ctx)
}

// v2
// internal/dlqspill/spill.go

// Package dlqspill persists dead letter events to local disk when the dead
// letter topic itself is unreachable, and re-publishes them oldest first once
// the broker recovers. Files are gzip-compressed JSONL named
// <unix>_<instance>_<counter>.jsonl.gz so a lexicographic sort is a time
// sort.
package dlqspill

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"

	"github.com/OnLog-System/onlog-pipeline/internal/model"
)

const fileSuffix = ".jsonl.gz"

// Publisher re-delivers a spilled batch to the dead letter topic.
type Publisher interface {
	PublishDeadLetters(ctx context.Context, events []model.ParseErrorEvent) error
}

// Spill owns one spill directory. Concurrent Save and Drain calls are safe.
type Spill struct {
	dir        string
	maxBytes   int64
	instanceID string
	logger     *slog.Logger

	counter   uint64
	mu        sync.Mutex
	sizeBytes int64
}

// New scans dir (creating it if needed) and restores the backlog size from
// the files already present. maxBytes <= 0 disables the size bound.
func New(dir string, maxBytes int64, logger *slog.Logger) (*Spill, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create spill directory: %w", err)
	}

	s := &Spill{
		dir:        dir,
		maxBytes:   maxBytes,
		instanceID: uuid.NewString()[:8],
		logger:     logger,
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("scan spill directory: %w", err)
	}
	var total int64
	var count int
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileSuffix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		total += info.Size()
		count++
	}
	s.sizeBytes = total
	if count > 0 {
		logger.Info("dlq_spill_restored",
			slog.Int("files", count),
			slog.Int64("bytes", total),
		)
	}
	return s, nil
}

// BacklogBytes reports the bytes currently waiting on disk.
func (s *Spill) BacklogBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sizeBytes
}

// Save writes events as one gzip JSONL file. When the directory would exceed
// the size bound, the oldest files are evicted first; if the new batch still
// does not fit it is dropped with a log line rather than blocking the
// pipeline.
func (s *Spill) Save(events []model.ParseErrorEvent) error {
	if len(events) == 0 {
		return nil
	}

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	enc := json.NewEncoder(gz)
	for _, ev := range events {
		if err := enc.Encode(ev); err != nil {
			gz.Close()
			return fmt.Errorf("encode dead letter event: %w", err)
		}
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("compress dead letter batch: %w", err)
	}

	size := int64(buf.Len())

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.ensureCapacityLocked(size) {
		s.logger.Error("dlq_spill_full_drop",
			slog.Int("events", len(events)),
			slog.Int64("bytes", size),
		)
		return nil
	}

	name := s.nextFilename()
	path := filepath.Join(s.dir, name)
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("write spill file: %w", err)
	}
	s.sizeBytes += size

	s.logger.Info("dlq_spill_saved",
		slog.String("file", name),
		slog.Int("events", len(events)),
		slog.Int64("bytes", size),
	)
	return nil
}

// DrainOne re-publishes the oldest spilled batch through pub and removes the
// file on success. It returns the number of events re-published; zero with a
// nil error means the backlog is empty.
func (s *Spill) DrainOne(ctx context.Context, pub Publisher) (int, error) {
	name := s.pickOldest()
	if name == "" {
		return 0, nil
	}
	path := filepath.Join(s.dir, name)

	events, size, err := s.readFile(path)
	if err != nil {
		// Unreadable files would wedge the drain loop permanently, so
		// evict them instead.
		s.logger.Error("dlq_spill_unreadable_evict",
			slog.String("file", name),
			slog.Any("err", err),
		)
		s.removeFile(path, size)
		return 0, nil
	}

	if err := pub.PublishDeadLetters(ctx, events); err != nil {
		return 0, fmt.Errorf("republish spilled batch %s: %w", name, err)
	}

	s.removeFile(path, size)
	s.logger.Info("dlq_spill_republished",
		slog.String("file", name),
		slog.Int("events", len(events)),
	)
	return len(events), nil
}

// Drain repeatedly re-publishes batches until the backlog is empty, the
// publisher fails, or ctx is cancelled.
func (s *Spill) Drain(ctx context.Context, pub Publisher) (int, error) {
	total := 0
	for {
		if ctx.Err() != nil {
			return total, ctx.Err()
		}
		n, err := s.DrainOne(ctx, pub)
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, nil
		}
		total += n
	}
}

func (s *Spill) readFile(path string) ([]model.ParseErrorEvent, int64, error) {
	var size int64
	if info, err := os.Stat(path); err == nil {
		size = info.Size()
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, size, err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, size, err
	}
	defer gz.Close()

	var events []model.ParseErrorEvent
	scanner := bufio.NewReader(gz)
	for {
		line, err := scanner.ReadBytes('\n')
		trimmed := bytes.TrimSpace(line)
		if len(trimmed) > 0 {
			var ev model.ParseErrorEvent
			if uerr := json.Unmarshal(trimmed, &ev); uerr != nil {
				return nil, size, fmt.Errorf("decode spilled line: %w", uerr)
			}
			events = append(events, ev)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, size, err
		}
	}
	if len(events) == 0 {
		return nil, size, fmt.Errorf("empty spill file")
	}
	return events, size, nil
}

func (s *Spill) removeFile(path string, size int64) {
	_ = os.Remove(path)
	s.mu.Lock()
	s.sizeBytes -= size
	if s.sizeBytes < 0 {
		s.sizeBytes = 0
	}
	s.mu.Unlock()
}

func (s *Spill) ensureCapacityLocked(incoming int64) bool {
	if s.maxBytes <= 0 {
		return true
	}
	for s.sizeBytes+incoming > s.maxBytes {
		oldest := s.pickOldest()
		if oldest == "" {
			return incoming <= s.maxBytes
		}
		path := filepath.Join(s.dir, oldest)
		if info, err := os.Stat(path); err == nil {
			s.sizeBytes -= info.Size()
			if s.sizeBytes < 0 {
				s.sizeBytes = 0
			}
		}
		_ = os.Remove(path)
		s.logger.Warn("dlq_spill_capacity_evict", slog.String("file", oldest))
	}
	return true
}

func (s *Spill) pickOldest() string {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return ""
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileSuffix) {
			continue
		}
		names = append(names, e.Name())
	}
	if len(names) == 0 {
		return ""
	}
	sort.Strings(names)
	return names[0]
}

func (s *Spill) nextFilename() string {
	c := atomic.AddUint64(&s.counter, 1) % 1_000_000
	return fmt.Sprintf("%d_%s_%06d%s", time.Now().Unix(), s.instanceID, c, fileSuffix)
}

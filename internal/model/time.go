// v1
// internal/model/time.go
package model

import (
	"errors"
	"strconv"
	"strings"
	"time"
)

// ErrUnparsableTime reports a timestamp string that matched none of the
// accepted layouts.
var ErrUnparsableTime = errors.New("timestamp format not recognized")

// NormalizeTime parses the heterogeneous timestamp strings produced by edge
// devices into a single UTC instant. Accepted forms, in order: RFC3339Nano,
// RFC3339, a space-separated variant without zone ("2006-01-02 15:04:05",
// interpreted as UTC), and Unix epoch milliseconds as a bare integer.
func NormalizeTime(raw string) (time.Time, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return time.Time{}, ErrUnparsableTime
	}
	if ts, err := time.Parse(time.RFC3339Nano, trimmed); err == nil {
		return ts.UTC(), nil
	}
	if ts, err := time.Parse(time.RFC3339, trimmed); err == nil {
		return ts.UTC(), nil
	}
	if ts, err := time.Parse("2006-01-02 15:04:05", trimmed); err == nil {
		return ts.UTC(), nil
	}
	if millis, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
		return time.UnixMilli(millis).UTC(), nil
	}
	return time.Time{}, ErrUnparsableTime
}

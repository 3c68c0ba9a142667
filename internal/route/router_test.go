// v0
// internal/route/router_test.go
package route

import (
	"testing"
	"time"

	"github.com/OnLog-System/onlog-pipeline/internal/parse"
)

func validEvent() *parse.Event {
	at := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	return &parse.Event{
		EdgeIngestTime: &at,
		DevEUI:         "AA11",
		Metric:         "WEIGHT",
	}
}

func TestClassifyTotalAndDisjoint(t *testing.T) {
	noIngest := validEvent()
	noIngest.EdgeIngestTime = nil
	noDevice := validEvent()
	noDevice.DevEUI = ""
	noMetric := validEvent()
	noMetric.Metric = ""
	failed := &parse.Event{ErrorReason: parse.ReasonParseFailed, Raw: "{"}

	cases := []struct {
		name string
		ev   *parse.Event
		want Branch
	}{
		{"nil", nil, DeadLetter},
		{"parse failure", failed, DeadLetter},
		{"no ingest time", noIngest, DeadLetter},
		{"no device", noDevice, DeadLetter},
		{"no metric", noMetric, DeadLetter},
		{"valid", validEvent(), Valid},
	}
	for _, tc := range cases {
		got := Classify(tc.ev)
		if got != tc.want {
			t.Fatalf("%s: expected branch %v, got %v", tc.name, tc.want, got)
		}
		// Total and disjoint: the classification is one of exactly two values.
		if got != DeadLetter && got != Valid {
			t.Fatalf("%s: classification out of range: %v", tc.name, got)
		}
	}
}

func TestDeadLetterEventReasons(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	e := DeadLetterEvent(nil, now)
	if e.Reason != ReasonNullEvent || e.Raw != "null" {
		t.Fatalf("nil event: %+v", e)
	}
	if !e.OccurredAt.Equal(now) {
		t.Fatalf("occurredAt not set: %v", e.OccurredAt)
	}

	failed := &parse.Event{ErrorReason: parse.ReasonParseFailed, Raw: `{"broken`}
	e = DeadLetterEvent(failed, now)
	if e.Reason != parse.ReasonParseFailed {
		t.Fatalf("expected parse reason, got %q", e.Reason)
	}
	if e.Raw != `{"broken` {
		t.Fatalf("raw not preserved: %q", e.Raw)
	}

	noDevice := validEvent()
	noDevice.DevEUI = ""
	e = DeadLetterEvent(noDevice, now)
	if e.Reason != ReasonNoDeviceID {
		t.Fatalf("expected NO_DEVICE_ID, got %q", e.Reason)
	}

	noMetric := validEvent()
	noMetric.Metric = ""
	e = DeadLetterEvent(noMetric, now)
	if e.Reason != ReasonNoMetric {
		t.Fatalf("expected NO_METRIC, got %q", e.Reason)
	}

	noIngest := validEvent()
	noIngest.EdgeIngestTime = nil
	e = DeadLetterEvent(noIngest, now)
	if e.Reason != ReasonNoIngestTime {
		t.Fatalf("expected NO_EDGE_INGEST_TIME, got %q", e.Reason)
	}
}

// v1
// internal/route/router.go

// Package route splits the deduped stream into the dead-letter branch and the
// valid branch. The split is a total function: every event lands in exactly
// one branch.
package route

import (
	"time"

	"github.com/OnLog-System/onlog-pipeline/internal/model"
	"github.com/OnLog-System/onlog-pipeline/internal/parse"
)

// Reasons attached to dead-lettered events that were structurally parseable
// but miss a mandatory field.
const (
	ReasonNullEvent    = "NULL_EVENT"
	ReasonNoIngestTime = "NO_EDGE_INGEST_TIME"
	ReasonNoDeviceID   = "NO_DEVICE_ID"
	ReasonNoMetric     = "NO_METRIC"
)

// Branch names the two disjoint outputs of the router.
type Branch int

const (
	// DeadLetter receives structurally invalid events.
	DeadLetter Branch = iota
	// Valid receives everything else.
	Valid
)

// Classify assigns an event to exactly one branch. The dead-letter conditions
// are evaluated in order: nil event, parse failure tag, missing edge-ingest
// time, missing device id, missing metric.
func Classify(ev *parse.Event) Branch {
	switch {
	case ev == nil:
		return DeadLetter
	case ev.ErrorReason != "":
		return DeadLetter
	case ev.EdgeIngestTime == nil:
		return DeadLetter
	case ev.DevEUI == "":
		return DeadLetter
	case ev.Metric == "":
		return DeadLetter
	default:
		return Valid
	}
}

// DeadLetterEvent maps a dead-lettered event into the DLQ record shape. The
// occurrence time is the caller's clock reading so replays keep an honest
// audit trail of when the rejection was observed.
func DeadLetterEvent(ev *parse.Event, now time.Time) model.ParseErrorEvent {
	out := model.ParseErrorEvent{OccurredAt: now.UTC(), Reason: ReasonNullEvent, Raw: "null"}
	if ev == nil {
		return out
	}

	switch {
	case ev.ErrorReason != "":
		out.Reason = ev.ErrorReason
	case ev.EdgeIngestTime == nil:
		out.Reason = ReasonNoIngestTime
	case ev.DevEUI == "":
		out.Reason = ReasonNoDeviceID
	case ev.Metric == "":
		out.Reason = ReasonNoMetric
	}

	if ev.Raw != "" {
		out.Raw = ev.Raw
	}
	return out
}

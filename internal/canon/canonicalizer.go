// v1
// internal/canon/canonicalizer.go

// Package canon maps valid parsed events into the immutable canonical shape.
package canon

import (
	"github.com/OnLog-System/onlog-pipeline/internal/model"
	"github.com/OnLog-System/onlog-pipeline/internal/parse"
)

// Event projects one valid parsed event into its canonical form and derives
// the deterministic source id. The mapping is pure and total over the valid
// branch: every valid parsed event produces exactly one canonical event.
func Event(ev *parse.Event) model.CanonicalEvent {
	out := model.CanonicalEvent{
		EventTime: ev.EventTime,

		TenantID: ev.TenantID,
		LineID:   ev.LineID,
		Process:  ev.Process,

		DevEUI:     ev.DevEUI,
		DeviceType: ev.DeviceType,
		Metric:     ev.Metric,
		DeviceName: ev.DeviceName,

		ValueNum:  ev.ValueNum,
		ValueBool: ev.ValueBool,

		FCnt: ev.FCnt,

		BatteryMv:     ev.BatteryMv,
		BatteryStatus: ev.BatteryStatus,
		Temperature:   ev.Temperature,
		Humidity:      ev.Humidity,

		SourceID: model.SourceID(ev.TenantID, ev.LineID, ev.Process, ev.DeviceType, ev.Metric),
	}
	if ev.EdgeIngestTime != nil {
		out.EdgeIngestTime = ev.EdgeIngestTime.UTC()
	}
	return out
}

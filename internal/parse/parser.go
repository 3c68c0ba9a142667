// v3
// internal/parse/parser.go

// Package parse turns one raw broker record into the intermediate event shape
// consumed by dedup and routing. Parsing never drops a record: every failure
// is preserved as data (an event tagged with a reason and the verbatim raw
// text) so the router can redirect it to the dead-letter branch.
package parse

import (
	"errors"
	"time"

	json "github.com/goccy/go-json"

	"github.com/OnLog-System/onlog-pipeline/internal/decode"
	"github.com/OnLog-System/onlog-pipeline/internal/model"
)

// Failure reasons attached to events that could not be fully parsed.
const (
	ReasonParseFailed      = "PARSE_FAILED"
	ReasonMalformedPayload = "MALFORMED_PAYLOAD"
)

// Event is the intermediate decoded form of one raw record. All payload
// fields are optional; an event missing mandatory identity fields is still
// produced and classified later by the router. ErrorReason is set when the
// record could not be parsed at all, with Raw preserving the original text.
type Event struct {
	Channel string

	EdgeIngestTime *time.Time
	EventTime      *time.Time

	TenantID   string
	LineID     string
	Process    string
	DeviceType string
	Metric     string

	DevEUI     string
	DeviceName string
	FCnt       *int64

	ValueNum  *float64
	ValueBool *bool

	BatteryMv     *int64
	BatteryStatus string
	Temperature   *float64
	Humidity      *float64

	ErrorReason string
	Raw         string
}

// Failed reports whether the event carries a parse failure tag.
func (e *Event) Failed() bool {
	return e != nil && e.ErrorReason != ""
}

// envelope mirrors the outer record produced by the ingestion edge. The
// payload field is a JSON document carried as a string.
type envelope struct {
	ReceivedAt string `json:"received_at"`
	TenantID   string `json:"tenant_id"`
	LineID     string `json:"line_id"`
	Process    string `json:"process"`
	DeviceType string `json:"device_type"`
	Metric     string `json:"metric"`
	Payload    string `json:"payload"`
}

// payload mirrors the nested device document. Devices disagree on the event
// time key, so both are accepted with eventTime taking precedence.
type payload struct {
	EventTime  string `json:"eventTime"`
	Time       string `json:"time"`
	DeviceInfo struct {
		DevEUI     string `json:"devEui"`
		DeviceName string `json:"deviceName"`
	} `json:"deviceInfo"`
	FCnt      *int64   `json:"fCnt"`
	ValueNum  *float64 `json:"valueNum"`
	ValueBool *bool    `json:"valueBool"`
	Data      string   `json:"data"`
}

// Record parses one raw broker record from the named channel. The returned
// event is never nil: on any parse fault it carries an error reason and the
// original text instead of decoded fields.
func Record(channel, raw string) *Event {
	ev := &Event{Channel: channel}

	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return failed(channel, raw, ReasonParseFailed)
	}

	if env.ReceivedAt != "" {
		ts, err := model.NormalizeTime(env.ReceivedAt)
		if err != nil {
			return failed(channel, raw, ReasonParseFailed)
		}
		ev.EdgeIngestTime = &ts
	}

	ev.TenantID = env.TenantID
	ev.LineID = env.LineID
	ev.Process = env.Process
	ev.DeviceType = env.DeviceType
	ev.Metric = env.Metric

	var pl payload
	if err := json.Unmarshal([]byte(env.Payload), &pl); err != nil {
		return failed(channel, raw, ReasonParseFailed)
	}

	eventTimeStr := pl.EventTime
	if eventTimeStr == "" {
		eventTimeStr = pl.Time
	}
	if eventTimeStr != "" {
		ts, err := model.NormalizeTime(eventTimeStr)
		if err != nil {
			return failed(channel, raw, ReasonParseFailed)
		}
		ev.EventTime = &ts
	}

	ev.DevEUI = pl.DeviceInfo.DevEUI
	ev.DeviceName = pl.DeviceInfo.DeviceName
	ev.FCnt = pl.FCnt
	ev.ValueNum = pl.ValueNum
	ev.ValueBool = pl.ValueBool

	if pl.Data != "" {
		decoded, err := decode.BatteryBase64(pl.Data)
		if err != nil {
			if errors.Is(err, decode.ErrMalformedPayload) {
				return failed(channel, raw, ReasonMalformedPayload)
			}
			return failed(channel, raw, ReasonParseFailed)
		}
		ev.BatteryMv = &decoded.BatteryMv
		ev.BatteryStatus = decoded.BatteryStatus
		temp := decoded.Temperature
		hum := decoded.Humidity
		ev.Temperature = &temp
		ev.Humidity = &hum

		// A decoded quantity becomes the event value when the metric names it.
		switch ev.Metric {
		case model.MetricTemp:
			ev.ValueNum = &temp
		case model.MetricHumidity:
			ev.ValueNum = &hum
		case model.MetricBatteryMv:
			mv := float64(decoded.BatteryMv)
			ev.ValueNum = &mv
		}
	}

	return ev
}

func failed(channel, raw, reason string) *Event {
	return &Event{Channel: channel, ErrorReason: reason, Raw: raw}
}

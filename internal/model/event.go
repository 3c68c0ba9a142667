// v2
// internal/model/event.go

// Package model defines the wire shapes shared by the parser, KPI, and sink
// services: the canonical normalized event, the dead-letter record, and the
// emitted KPI snapshot.
package model

import "time"

// Device types and metrics recognized by the KPI aggregations.
const (
	DevicePackScale = "PACK_SCALE"
	DeviceUnitScale = "UNIT_SCALE"

	MetricWeight    = "WEIGHT"
	MetricTemp      = "TEMP"
	MetricHumidity  = "HUMIDITY"
	MetricBatteryMv = "BATTERY_MV"
)

// KPI identifiers carried on KpiEvent.
const (
	KpiTypeProduction = "production"
	KpiTypeYield      = "yield"

	KpiKeyTotalWeight = "total_weight"
	KpiKeyYieldRatio  = "yield_ratio"
)

// CanonicalEvent is the single normalized event shape consumed by every
// downstream sink and aggregation. It is immutable once produced; the parser
// service emits exactly one per valid input record.
type CanonicalEvent struct {
	EventTime      *time.Time `json:"eventTime,omitempty"`
	EdgeIngestTime time.Time  `json:"edgeIngestTime"`

	TenantID string `json:"tenantId"`
	LineID   string `json:"lineId,omitempty"`
	Process  string `json:"process,omitempty"`

	DevEUI     string `json:"devEui"`
	DeviceType string `json:"deviceType,omitempty"`
	Metric     string `json:"metric"`
	DeviceName string `json:"deviceName,omitempty"`

	ValueNum  *float64 `json:"valueNum,omitempty"`
	ValueBool *bool    `json:"valueBool,omitempty"`

	FCnt *int64 `json:"fCnt,omitempty"`

	BatteryMv     *int64   `json:"batteryMv,omitempty"`
	BatteryStatus string   `json:"batteryStatus,omitempty"`
	Temperature   *float64 `json:"temperature,omitempty"`
	Humidity      *float64 `json:"humidity,omitempty"`

	SourceID string `json:"sourceId"`
}

// GroupKey returns the composite aggregation key shared by both KPI
// aggregations.
func (e CanonicalEvent) GroupKey() string {
	return e.TenantID + "|" + e.LineID
}

// ParseErrorEvent is the dead-letter record written for every input that
// failed structural or semantic validation. The DLQ topic is the sole audit
// trail for rejected input.
type ParseErrorEvent struct {
	OccurredAt time.Time `json:"occurredAt"`
	Reason     string    `json:"reason"`
	Raw        string    `json:"raw"`
}

// KpiEvent is one emitted aggregate result for a closed window.
// SnapshotTime is the window end in epoch milliseconds.
type KpiEvent struct {
	SnapshotTime int64 `json:"snapshotTime"`

	TenantID string `json:"tenantId"`
	LineID   string `json:"lineId"`

	KpiType string `json:"kpiType"`
	KpiKey  string `json:"kpiKey"`

	ValueNum  float64 `json:"valueNum"`
	ValueText string  `json:"valueText,omitempty"`
	ValueBool *bool   `json:"valueBool,omitempty"`
}

// ProductionKpi builds the production snapshot for a closed window. The group
// key is the tenant|line composite produced by CanonicalEvent.GroupKey.
func ProductionKpi(snapshotMs int64, groupKey string, total float64) KpiEvent {
	tenant, line := SplitGroupKey(groupKey)
	return KpiEvent{
		SnapshotTime: snapshotMs,
		TenantID:     tenant,
		LineID:       line,
		KpiType:      KpiTypeProduction,
		KpiKey:       KpiKeyTotalWeight,
		ValueNum:     total,
	}
}

// YieldKpi builds the yield snapshot for a closed window.
func YieldKpi(snapshotMs int64, groupKey string, ratio float64) KpiEvent {
	tenant, line := SplitGroupKey(groupKey)
	return KpiEvent{
		SnapshotTime: snapshotMs,
		TenantID:     tenant,
		LineID:       line,
		KpiType:      KpiTypeYield,
		KpiKey:       KpiKeyYieldRatio,
		ValueNum:     ratio,
	}
}

// SplitGroupKey undoes CanonicalEvent.GroupKey. A key without a separator
// yields an empty line id.
func SplitGroupKey(key string) (tenant, line string) {
	for i := 0; i < len(key); i++ {
		if key[i] == '|' {
			return key[:i], key[i+1:]
		}
	}
	return key, ""
}

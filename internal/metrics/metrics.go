// v2
// internal/metrics/metrics.go

// Package metrics exposes the pipeline's Prometheus instrumentation. Each
// Metrics value carries its own registry so tests and multiple services in
// one process never collide on registration.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the counters and gauges the pipeline services update.
type Metrics struct {
	registry *prometheus.Registry

	RecordsConsumed      *prometheus.CounterVec
	ParseFailures        prometheus.Counter
	DedupDropped         prometheus.Counter
	DeadLetterEvents     *prometheus.CounterVec
	CanonicalEmitted     prometheus.Counter
	KpiEmitted           *prometheus.CounterVec
	KpiLateDropped       prometheus.Counter
	KpiDuplicatesDropped prometheus.Counter
	SpillWrites          prometheus.Counter
	SpillRepublished     prometheus.Counter
	SinkRowsWritten      *prometheus.CounterVec
	ReplayPublished      *prometheus.CounterVec
	WatermarkMs          prometheus.Gauge
	OpenWindows          prometheus.Gauge
	SpillBacklogBytes    prometheus.Gauge
}

// New builds a Metrics with a private registry. namespace distinguishes
// services sharing a scrape endpoint.
func New(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		RecordsConsumed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_consumed_total",
			Help:      "Raw records fetched from Kafka, per source topic.",
		}, []string{"topic"}),
		ParseFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parse_failures_total",
			Help:      "Records that failed envelope or payload parsing.",
		}),
		DedupDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dedup_dropped_total",
			Help:      "Records dropped as duplicates inside the dedup TTL.",
		}),
		DeadLetterEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dead_letter_events_total",
			Help:      "Events routed to the dead letter topic, per reason.",
		}, []string{"reason"}),
		CanonicalEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "canonical_events_total",
			Help:      "Canonical events published to the parsed topic.",
		}),
		KpiEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kpi_events_total",
			Help:      "KPI events published on window close, per KPI type.",
		}, []string{"type"}),
		KpiLateDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kpi_late_dropped_total",
			Help:      "Events dropped because their window already closed.",
		}),
		KpiDuplicatesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kpi_duplicates_dropped_total",
			Help:      "Canonical records dropped because their identity was already folded in.",
		}),
		SpillWrites: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dlq_spill_writes_total",
			Help:      "Dead letter events spilled to local disk.",
		}),
		SpillRepublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dlq_spill_republished_total",
			Help:      "Spilled dead letter events re-published to Kafka.",
		}),
		SinkRowsWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_rows_written_total",
			Help:      "Rows written by the sink, per destination table.",
		}, []string{"table"}),
		ReplayPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "replay_records_total",
			Help:      "Raw log rows re-published by the replayer, per topic.",
		}, []string{"topic"}),
		WatermarkMs: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "kpi_watermark_ms",
			Help:      "Current KPI stream watermark in epoch milliseconds.",
		}),
		OpenWindows: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "kpi_open_windows",
			Help:      "Windows currently open in the KPI engine.",
		}),
		SpillBacklogBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dlq_spill_backlog_bytes",
			Help:      "Bytes of dead letter spill waiting on local disk.",
		}),
	}
	reg.MustRegister(
		m.RecordsConsumed, m.ParseFailures, m.DedupDropped, m.DeadLetterEvents,
		m.CanonicalEmitted, m.KpiEmitted, m.KpiLateDropped, m.KpiDuplicatesDropped,
		m.SpillWrites, m.SpillRepublished,
		m.SinkRowsWritten, m.ReplayPublished,
		m.WatermarkMs, m.OpenWindows, m.SpillBacklogBytes,
	)
	return m
}

// Handler serves the registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

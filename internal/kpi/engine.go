// v4
// internal/kpi/engine.go

// Package kpi derives rolling production and yield KPIs from the canonical
// stream. The engine keeps an explicit per-key window table and closes
// windows by observed stream time (the maximum event time seen so far) rather
// than wall clock, so replays are deterministic.
package kpi

import (
	"log/slog"
	"sort"
	"time"

	"github.com/OnLog-System/onlog-pipeline/internal/model"
)

// Defaults for the windowing and yield tunables.
const (
	DefaultWindowSize = 24 * time.Hour
	DefaultGrace      = 2 * time.Minute
	DefaultYieldMin   = 13.0
	DefaultYieldMax   = 15.0
)

// Config carries the windowing tunables. A non-positive WindowSize and an
// all-zero yield band fall back to defaults; Grace is taken as configured,
// so an explicit zero closes windows exactly at their end.
type Config struct {
	WindowSize time.Duration
	Grace      time.Duration
	YieldMin   float64
	YieldMax   float64
}

func (c Config) withDefaults() Config {
	if c.WindowSize <= 0 {
		c.WindowSize = DefaultWindowSize
	}
	if c.Grace < 0 {
		c.Grace = 0
	}
	if c.YieldMin == 0 && c.YieldMax == 0 {
		c.YieldMin = DefaultYieldMin
		c.YieldMax = DefaultYieldMax
	}
	return c
}

// WindowState is one partial aggregate for a (kpi, group key, window) cell.
// Production uses Total; yield uses OkCount/NoCount.
type WindowState struct {
	Kpi      string
	GroupKey string
	StartMs  int64

	Total   float64
	OkCount int64
	NoCount int64
}

// EndMs returns the exclusive window end for the given size.
func (w WindowState) EndMs(size time.Duration) int64 {
	return w.StartMs + size.Milliseconds()
}

type windowKey struct {
	group   string
	startMs int64
}

// Result reports the effect of observing one event: the aggregates it
// touched (for persistence) and whether it was dropped as late.
type Result struct {
	Production *WindowState
	Yield      *WindowState
	Late       bool
}

// Closed pairs a retired window with the KPI event emitted for it.
type Closed struct {
	State WindowState
	Event model.KpiEvent
}

// Engine runs both keyed windowed aggregations. The two aggregations share
// the tenant|line grouping but no state. The engine is single-writer: the
// surrounding runtime feeds it from one partition worker at a time.
type Engine struct {
	cfg Config
	log *slog.Logger

	watermarkMs int64
	production  map[windowKey]*WindowState
	yield       map[windowKey]*WindowState
}

// New builds an engine with the given tunables.
func New(cfg Config, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		cfg:        cfg.withDefaults(),
		log:        log,
		production: make(map[windowKey]*WindowState),
		yield:      make(map[windowKey]*WindowState),
	}
}

// Restore loads persisted window state and the stream watermark, replacing
// any in-memory aggregates. Used on startup to resume after a crash.
func (e *Engine) Restore(watermarkMs int64, states []WindowState) {
	e.watermarkMs = watermarkMs
	e.production = make(map[windowKey]*WindowState)
	e.yield = make(map[windowKey]*WindowState)
	for _, st := range states {
		cp := st
		k := windowKey{group: st.GroupKey, startMs: st.StartMs}
		switch st.Kpi {
		case model.KpiTypeProduction:
			e.production[k] = &cp
		case model.KpiTypeYield:
			e.yield[k] = &cp
		default:
			e.log.Warn("kpi_restore_unknown_kpi", slog.String("kpi", st.Kpi))
		}
	}
}

// WatermarkMs reports the maximum event time observed so far, in epoch
// milliseconds. Zero means no event has been observed yet.
func (e *Engine) WatermarkMs() int64 {
	return e.watermarkMs
}

// OpenWindows reports the number of live partial aggregates.
func (e *Engine) OpenWindows() int {
	return len(e.production) + len(e.yield)
}

// Observe folds one canonical event into the window table. Every event
// advances the watermark; events whose window already closed (end + grace at
// or behind the watermark) are dropped, not re-opened. Events matching
// neither aggregation only advance stream time.
func (e *Engine) Observe(ev model.CanonicalEvent) Result {
	ts := EventTimeMs(ev)
	if ts > e.watermarkMs {
		e.watermarkMs = ts
	}

	isProduction := ev.DeviceType == model.DevicePackScale && ev.Metric == model.MetricWeight
	isYield := ev.DeviceType == model.DeviceUnitScale && ev.Metric == model.MetricWeight
	if !isProduction && !isYield {
		return Result{}
	}

	size := e.cfg.WindowSize.Milliseconds()
	start := ts - mod(ts, size)
	end := start + size
	if end+e.cfg.Grace.Milliseconds() <= e.watermarkMs {
		e.log.Warn("kpi_late_event_dropped",
			slog.String("groupKey", ev.GroupKey()),
			slog.Int64("eventTimeMs", ts),
			slog.Int64("windowEndMs", end),
			slog.Int64("watermarkMs", e.watermarkMs),
		)
		return Result{Late: true}
	}

	k := windowKey{group: ev.GroupKey(), startMs: start}
	var res Result
	if isProduction {
		st := e.production[k]
		if st == nil {
			st = &WindowState{Kpi: model.KpiTypeProduction, GroupKey: k.group, StartMs: start}
			e.production[k] = st
		}
		if ev.ValueNum != nil {
			st.Total += *ev.ValueNum
		}
		res.Production = st
	}
	if isYield {
		st := e.yield[k]
		if st == nil {
			st = &WindowState{Kpi: model.KpiTypeYield, GroupKey: k.group, StartMs: start}
			e.yield[k] = st
		}
		if ev.ValueNum != nil {
			if *ev.ValueNum >= e.cfg.YieldMin && *ev.ValueNum <= e.cfg.YieldMax {
				st.OkCount++
			} else {
				st.NoCount++
			}
		}
		res.Yield = st
	}
	return res
}

// Advance closes every window whose grace period has elapsed according to
// the watermark, emitting exactly one KPI event per (key, window) per
// aggregation. Closed windows are retired from the table. The result is
// ordered deterministically.
func (e *Engine) Advance() []Closed {
	graceMs := e.cfg.Grace.Milliseconds()
	var out []Closed

	for k, st := range e.production {
		if st.EndMs(e.cfg.WindowSize)+graceMs <= e.watermarkMs {
			out = append(out, Closed{
				State: *st,
				Event: model.ProductionKpi(st.EndMs(e.cfg.WindowSize), st.GroupKey, st.Total),
			})
			delete(e.production, k)
		}
	}
	for k, st := range e.yield {
		if st.EndMs(e.cfg.WindowSize)+graceMs <= e.watermarkMs {
			out = append(out, Closed{
				State: *st,
				Event: model.YieldKpi(st.EndMs(e.cfg.WindowSize), st.GroupKey, yieldRatio(st.OkCount, st.NoCount)),
			})
			delete(e.yield, k)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].State, out[j].State
		if a.Kpi != b.Kpi {
			return a.Kpi < b.Kpi
		}
		if a.GroupKey != b.GroupKey {
			return a.GroupKey < b.GroupKey
		}
		return a.StartMs < b.StartMs
	})
	return out
}

// yieldRatio computes ok/(ok+no), defined as 0.0 when both counts are zero.
// The result is always within [0, 1].
func yieldRatio(ok, no int64) float64 {
	total := ok + no
	if total == 0 {
		return 0.0
	}
	return float64(ok) / float64(total)
}

// EventTimeMs resolves the aggregation clock for an event: the device event
// time when present, otherwise the edge-ingest time.
func EventTimeMs(ev model.CanonicalEvent) int64 {
	if ev.EventTime != nil {
		return ev.EventTime.UnixMilli()
	}
	return ev.EdgeIngestTime.UnixMilli()
}

// mod is a floor modulus that keeps window starts aligned for pre-epoch
// timestamps as well.
func mod(a, b int64) int64 {
	m := a % b
	if m < 0 {
		m += b
	}
	return m
}

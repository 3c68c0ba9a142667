// v2
// internal/sink/db.go

// Package sink lands canonical events and KPI snapshots in the serving
// database. Every insert is keyed on the event identity and applied with
// INSERT OR IGNORE, so replayed Kafka records never produce duplicate rows.
package sink

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"github.com/OnLog-System/onlog-pipeline/internal/model"
)

const (
	TableEnv     = "env_readings"
	TableScale   = "scale_readings"
	TableMachine = "machine_readings"
	TableKpi     = "kpi_snapshots"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS env_readings (
	dev_eui        TEXT    NOT NULL,
	metric         TEXT    NOT NULL,
	edge_ingest_ms INTEGER NOT NULL,
	event_ms       INTEGER,
	tenant_id      TEXT    NOT NULL,
	line_id        TEXT,
	temperature    REAL,
	humidity       REAL,
	battery_mv     INTEGER,
	battery_status TEXT,
	value_num      REAL,
	source_id      TEXT    NOT NULL,
	PRIMARY KEY (dev_eui, metric, edge_ingest_ms)
);
CREATE TABLE IF NOT EXISTS scale_readings (
	dev_eui        TEXT    NOT NULL,
	metric         TEXT    NOT NULL,
	edge_ingest_ms INTEGER NOT NULL,
	event_ms       INTEGER,
	tenant_id      TEXT    NOT NULL,
	line_id        TEXT,
	process        TEXT,
	device_type    TEXT,
	f_cnt          INTEGER,
	value_num      REAL,
	source_id      TEXT    NOT NULL,
	PRIMARY KEY (dev_eui, metric, edge_ingest_ms)
);
CREATE TABLE IF NOT EXISTS machine_readings (
	dev_eui        TEXT    NOT NULL,
	metric         TEXT    NOT NULL,
	edge_ingest_ms INTEGER NOT NULL,
	event_ms       INTEGER,
	tenant_id      TEXT    NOT NULL,
	line_id        TEXT,
	process        TEXT,
	value_num      REAL,
	value_bool     INTEGER,
	source_id      TEXT    NOT NULL,
	PRIMARY KEY (dev_eui, metric, edge_ingest_ms)
);
CREATE TABLE IF NOT EXISTS kpi_snapshots (
	tenant_id   TEXT    NOT NULL,
	line_id     TEXT    NOT NULL,
	kpi_type    TEXT    NOT NULL,
	kpi_key     TEXT    NOT NULL,
	snapshot_ms INTEGER NOT NULL,
	value_num   REAL    NOT NULL,
	value_text  TEXT,
	PRIMARY KEY (tenant_id, line_id, kpi_type, snapshot_ms)
);
`

// DB wraps the serving database handle.
type DB struct {
	db *sql.DB
}

// Open initializes the serving database at path, creating tables as needed.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sink database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sink database: %w", err)
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("create sink schema: %w", err)
	}
	return &DB{db: db}, nil
}

// Close releases the underlying handle.
func (d *DB) Close() error {
	return d.db.Close()
}

// InsertCanonical lands one canonical event in the table chosen by its
// process. It reports whether a new row was written.
func (d *DB) InsertCanonical(ctx context.Context, ev model.CanonicalEvent) (string, bool, error) {
	table := TableFor(ev)
	var (
		res sql.Result
		err error
	)
	edgeMs := ev.EdgeIngestTime.UnixMilli()
	var eventMs *int64
	if ev.EventTime != nil {
		ms := ev.EventTime.UnixMilli()
		eventMs = &ms
	}

	switch table {
	case TableEnv:
		res, err = d.db.ExecContext(ctx, `
			INSERT OR IGNORE INTO env_readings
			(dev_eui, metric, edge_ingest_ms, event_ms, tenant_id, line_id,
			 temperature, humidity, battery_mv, battery_status, value_num, source_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			ev.DevEUI, ev.Metric, edgeMs, eventMs, ev.TenantID, ev.LineID,
			ev.Temperature, ev.Humidity, ev.BatteryMv, nullable(ev.BatteryStatus), ev.ValueNum, ev.SourceID)
	case TableScale:
		res, err = d.db.ExecContext(ctx, `
			INSERT OR IGNORE INTO scale_readings
			(dev_eui, metric, edge_ingest_ms, event_ms, tenant_id, line_id,
			 process, device_type, f_cnt, value_num, source_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			ev.DevEUI, ev.Metric, edgeMs, eventMs, ev.TenantID, ev.LineID,
			ev.Process, ev.DeviceType, ev.FCnt, ev.ValueNum, ev.SourceID)
	default:
		res, err = d.db.ExecContext(ctx, `
			INSERT OR IGNORE INTO machine_readings
			(dev_eui, metric, edge_ingest_ms, event_ms, tenant_id, line_id,
			 process, value_num, value_bool, source_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			ev.DevEUI, ev.Metric, edgeMs, eventMs, ev.TenantID, ev.LineID,
			ev.Process, ev.ValueNum, ev.ValueBool, ev.SourceID)
	}
	if err != nil {
		return table, false, fmt.Errorf("insert into %s: %w", table, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return table, false, err
	}
	return table, n > 0, nil
}

// InsertKpi lands one KPI snapshot. It reports whether a new row was
// written; replayed snapshots with the same window identity are ignored.
func (d *DB) InsertKpi(ctx context.Context, ev model.KpiEvent) (bool, error) {
	res, err := d.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO kpi_snapshots
		(tenant_id, line_id, kpi_type, kpi_key, snapshot_ms, value_num, value_text)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.TenantID, ev.LineID, ev.KpiType, ev.KpiKey, ev.SnapshotTime, ev.ValueNum, nullable(ev.ValueText))
	if err != nil {
		return false, fmt.Errorf("insert into kpi_snapshots: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// TableFor picks the destination table from the event's process: ENV
// telemetry and QC weighings have dedicated tables, everything else lands in
// the machine table.
func TableFor(ev model.CanonicalEvent) string {
	switch ev.Process {
	case "ENV":
		return TableEnv
	case "QC":
		return TableScale
	default:
		return TableMachine
	}
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

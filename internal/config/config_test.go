// v1
// internal/config/config_test.go
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	require.Equal(t, []string{"sensor.env.raw", "sensor.scale.raw", "machine.raw"}, cfg.Topics.RawTopics())
	require.Equal(t, 30*time.Minute, cfg.DedupTTL)
	require.Equal(t, 24*time.Hour, cfg.Kpi.WindowSize)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)
}

func TestLoadYAMLOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "onlog.yaml")
	body := `
brokers: ["kafka-a:9092", "kafka-b:9092"]
topics:
  parsed: custom.parsed
dedupTtl: 45m
kpi:
  windowSize: 1h
  grace: 30s
  yieldMin: 12.5
  yieldMax: 16.0
replay:
  mode: backfill
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, []string{"kafka-a:9092", "kafka-b:9092"}, cfg.Brokers)
	require.Equal(t, "custom.parsed", cfg.Topics.Parsed)
	require.Equal(t, "sensor.env.raw", cfg.Topics.EnvRaw)
	require.Equal(t, 45*time.Minute, cfg.DedupTTL)
	require.Equal(t, time.Hour, cfg.Kpi.WindowSize)
	require.Equal(t, 12.5, cfg.Kpi.YieldMin)
	require.Equal(t, "backfill", cfg.Replay.Mode)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "onlog.yaml")
	require.NoError(t, os.WriteFile(path, []byte("dedupTtl: 45m\n"), 0o644))

	t.Setenv("ONLOG_BROKERS", "env-broker:9092")
	t.Setenv("ONLOG_DEDUP_TTL", "15m")
	t.Setenv("ONLOG_KPI_YIELD_MAX", "17.5")
	t.Setenv("ONLOG_TOPIC_PARSE_DLQ", "dlq.alt")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, []string{"env-broker:9092"}, cfg.Brokers)
	require.Equal(t, 15*time.Minute, cfg.DedupTTL)
	require.Equal(t, 17.5, cfg.Kpi.YieldMax)
	require.Equal(t, "dlq.alt", cfg.Topics.ParseDLQ)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no brokers", func(c *Config) { c.Brokers = nil }},
		{"empty topic", func(c *Config) { c.Topics.KpiEvent = " " }},
		{"zero dedup ttl", func(c *Config) { c.DedupTTL = 0 }},
		{"inverted yield band", func(c *Config) { c.Kpi.YieldMin = 20; c.Kpi.YieldMax = 10 }},
		{"bad replay mode", func(c *Config) { c.Replay.Mode = "streaming" }},
		{"zero batch size", func(c *Config) { c.Replay.BatchSize = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			require.Error(t, cfg.Validate())
		})
	}
}

func TestEnvDurationParseFailure(t *testing.T) {
	t.Setenv("ONLOG_KPI_GRACE", "two minutes")
	_, err := Load("")
	require.Error(t, err)
}

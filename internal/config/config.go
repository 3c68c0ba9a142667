// v2
// internal/config/config.go

// Package config loads pipeline settings in three layers: built-in
// defaults, an optional YAML file, and ONLOG_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Topics names the Kafka topics the pipeline reads and writes.
type Topics struct {
	EnvRaw     string `yaml:"envRaw"`
	ScaleRaw   string `yaml:"scaleRaw"`
	MachineRaw string `yaml:"machineRaw"`
	Parsed     string `yaml:"parsed"`
	ParseDLQ   string `yaml:"parseDlq"`
	KpiEvent   string `yaml:"kpiEvent"`
}

// RawTopics lists the three raw source topics in consume order.
func (t Topics) RawTopics() []string {
	return []string{t.EnvRaw, t.ScaleRaw, t.MachineRaw}
}

// Kpi carries the windowing tunables for the KPI service.
type Kpi struct {
	WindowSize time.Duration `yaml:"windowSize"`
	Grace      time.Duration `yaml:"grace"`
	YieldMin   float64       `yaml:"yieldMin"`
	YieldMax   float64       `yaml:"yieldMax"`
}

// Replay carries the raw-log replayer tunables.
type Replay struct {
	BasePath     string        `yaml:"basePath"`
	Mode         string        `yaml:"mode"` // "realtime" or "backfill"
	PollInterval time.Duration `yaml:"pollInterval"`
	BatchSize    int           `yaml:"batchSize"`
	Lookback     time.Duration `yaml:"lookback"`
}

// Spill carries the dead-letter local spill tunables.
type Spill struct {
	Dir      string `yaml:"dir"`
	MaxBytes int64  `yaml:"maxBytes"`
}

// Config is the full pipeline configuration shared by all subcommands.
type Config struct {
	Brokers []string `yaml:"brokers"`
	Topics  Topics   `yaml:"topics"`

	ParserGroupID string `yaml:"parserGroupId"`
	KpiGroupID    string `yaml:"kpiGroupId"`
	SinkGroupID   string `yaml:"sinkGroupId"`

	StorePath  string `yaml:"storePath"`
	SinkDBPath string `yaml:"sinkDbPath"`
	LogPath    string `yaml:"logPath"`
	ListenAddr string `yaml:"listenAddr"`

	DedupTTL      time.Duration `yaml:"dedupTtl"`
	DedupSweep    time.Duration `yaml:"dedupSweep"`
	CommitTimeout time.Duration `yaml:"commitTimeout"`

	Kpi    Kpi    `yaml:"kpi"`
	Replay Replay `yaml:"replay"`
	Spill  Spill  `yaml:"spill"`
}

// Default returns the configuration used when neither file nor environment
// override a setting.
func Default() Config {
	return Config{
		Brokers: []string{"localhost:9092"},
		Topics: Topics{
			EnvRaw:     "sensor.env.raw",
			ScaleRaw:   "sensor.scale.raw",
			MachineRaw: "machine.raw",
			Parsed:     "sensor.parsed",
			ParseDLQ:   "sensor.parse.dlq",
			KpiEvent:   "kpi.event",
		},
		ParserGroupID: "onlog-parser",
		KpiGroupID:    "onlog-kpi",
		SinkGroupID:   "onlog-sink",
		StorePath:     "data/pipeline.db",
		SinkDBPath:    "data/sink.db",
		LogPath:       "logs/onlog-pipeline.log",
		ListenAddr:    ":8090",
		DedupTTL:      30 * time.Minute,
		DedupSweep:    10 * time.Minute,
		CommitTimeout: 10 * time.Second,
		Kpi: Kpi{
			WindowSize: 24 * time.Hour,
			Grace:      2 * time.Minute,
			YieldMin:   13.0,
			YieldMax:   15.0,
		},
		Replay: Replay{
			BasePath:     "data/rawlogs",
			Mode:         "realtime",
			PollInterval: 500 * time.Millisecond,
			BatchSize:    1000,
			Lookback:     10 * time.Second,
		},
		Spill: Spill{
			Dir:      "data/dlq-spill",
			MaxBytes: 256 << 20,
		},
	}
}

// Load layers the YAML file at path (skipped when path is empty or absent)
// and ONLOG_* environment variables over the defaults, then validates.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("ONLOG_BROKERS"); v != "" {
		c.Brokers = splitCSV(v)
	}
	applyString("ONLOG_TOPIC_ENV_RAW", &c.Topics.EnvRaw)
	applyString("ONLOG_TOPIC_SCALE_RAW", &c.Topics.ScaleRaw)
	applyString("ONLOG_TOPIC_MACHINE_RAW", &c.Topics.MachineRaw)
	applyString("ONLOG_TOPIC_PARSED", &c.Topics.Parsed)
	applyString("ONLOG_TOPIC_PARSE_DLQ", &c.Topics.ParseDLQ)
	applyString("ONLOG_TOPIC_KPI", &c.Topics.KpiEvent)
	applyString("ONLOG_PARSER_GROUP_ID", &c.ParserGroupID)
	applyString("ONLOG_KPI_GROUP_ID", &c.KpiGroupID)
	applyString("ONLOG_SINK_GROUP_ID", &c.SinkGroupID)
	applyString("ONLOG_STORE_PATH", &c.StorePath)
	applyString("ONLOG_SINK_DB_PATH", &c.SinkDBPath)
	applyString("ONLOG_LOG_PATH", &c.LogPath)
	applyString("ONLOG_LISTEN_ADDR", &c.ListenAddr)
	applyString("ONLOG_REPLAY_BASE_PATH", &c.Replay.BasePath)
	applyString("ONLOG_REPLAY_MODE", &c.Replay.Mode)
	applyString("ONLOG_SPILL_DIR", &c.Spill.Dir)

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"ONLOG_DEDUP_TTL", &c.DedupTTL},
		{"ONLOG_DEDUP_SWEEP", &c.DedupSweep},
		{"ONLOG_COMMIT_TIMEOUT", &c.CommitTimeout},
		{"ONLOG_KPI_WINDOW_SIZE", &c.Kpi.WindowSize},
		{"ONLOG_KPI_GRACE", &c.Kpi.Grace},
		{"ONLOG_REPLAY_POLL_INTERVAL", &c.Replay.PollInterval},
		{"ONLOG_REPLAY_LOOKBACK", &c.Replay.Lookback},
	}
	for _, d := range durations {
		if v := os.Getenv(d.key); v != "" {
			parsed, err := time.ParseDuration(v)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", d.key, err)
			}
			*d.dst = parsed
		}
	}

	floats := []struct {
		key string
		dst *float64
	}{
		{"ONLOG_KPI_YIELD_MIN", &c.Kpi.YieldMin},
		{"ONLOG_KPI_YIELD_MAX", &c.Kpi.YieldMax},
	}
	for _, f := range floats {
		if v := os.Getenv(f.key); v != "" {
			parsed, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return fmt.Errorf("invalid %s: %w", f.key, err)
			}
			*f.dst = parsed
		}
	}

	if v := os.Getenv("ONLOG_REPLAY_BATCH_SIZE"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid ONLOG_REPLAY_BATCH_SIZE: %w", err)
		}
		c.Replay.BatchSize = parsed
	}
	if v := os.Getenv("ONLOG_SPILL_MAX_BYTES"); v != "" {
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid ONLOG_SPILL_MAX_BYTES: %w", err)
		}
		c.Spill.MaxBytes = parsed
	}
	return nil
}

// Validate ensures the configuration is internally consistent before use.
func (c Config) Validate() error {
	if len(c.Brokers) == 0 {
		return errors.New("at least one broker is required")
	}
	topics := map[string]string{
		"envRaw":     c.Topics.EnvRaw,
		"scaleRaw":   c.Topics.ScaleRaw,
		"machineRaw": c.Topics.MachineRaw,
		"parsed":     c.Topics.Parsed,
		"parseDlq":   c.Topics.ParseDLQ,
		"kpiEvent":   c.Topics.KpiEvent,
	}
	for name, topic := range topics {
		if strings.TrimSpace(topic) == "" {
			return fmt.Errorf("topic %s is required", name)
		}
	}
	if c.DedupTTL <= 0 {
		return errors.New("dedup TTL must be > 0")
	}
	if c.Kpi.WindowSize <= 0 {
		return errors.New("KPI window size must be > 0")
	}
	if c.Kpi.Grace < 0 {
		return errors.New("KPI grace must be >= 0")
	}
	if c.Kpi.YieldMin > c.Kpi.YieldMax {
		return fmt.Errorf("yield band inverted: min %.2f > max %.2f", c.Kpi.YieldMin, c.Kpi.YieldMax)
	}
	switch c.Replay.Mode {
	case "realtime", "backfill":
	default:
		return fmt.Errorf("unsupported replay mode: %s", c.Replay.Mode)
	}
	if c.Replay.BatchSize < 1 {
		return errors.New("replay batch size must be >= 1")
	}
	if c.Spill.MaxBytes < 0 {
		return errors.New("spill max bytes must be >= 0")
	}
	return nil
}

func applyString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

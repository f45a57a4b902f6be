package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Config is the main configuration struct.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Logging   LoggingConfig   `yaml:"logging"`
	Migration MigrationConfig `yaml:"migration"`
	GC        GCConfig        `yaml:"gc"`
	Retention RetentionConfig `yaml:"retention"`
	Sensor    SensorConfig    `yaml:"sensor"`
}

// ServerConfig holds the diagnostics listener settings.
type ServerConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// StorageConfig selects and tunes the durable tier.
type StorageConfig struct {
	Engine        string    `yaml:"engine"` // "pebble" or "sqlite"
	Path          string    `yaml:"path"`
	Fsync         string    `yaml:"fsync"` // "always", "interval" or "never"
	FsyncInterval Duration  `yaml:"fsync_interval"`
	CacheSize     SizeBytes `yaml:"cache_size"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

// MigrationConfig controls how ephemeral events are drained to the durable tier.
type MigrationConfig struct {
	Enabled            *bool    `yaml:"enabled"`
	TickInterval       Duration `yaml:"tick_interval"`
	BatchSize          int      `yaml:"batch_size"`
	SliceBudget        Duration `yaml:"slice_budget"`
	OpsPerSecond       float64  `yaml:"ops_per_second"`
	Burst              int      `yaml:"burst"`
	CheckpointInterval Duration `yaml:"checkpoint_interval"`
}

// IsEnabled reports whether background migration runs. It defaults to true.
func (m MigrationConfig) IsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

// GCConfig bounds prefix garbage collection work.
type GCConfig struct {
	BatchSize   int `yaml:"batch_size"`
	KeysPerTick int `yaml:"keys_per_tick"`
}

// RetentionConfig holds configuration for the history retention runner.
type RetentionConfig struct {
	Enabled bool   `yaml:"enabled"`
	Cron    string `yaml:"cron"`
	// Period is how much history is kept; events older than now-Period are purged.
	Period  Duration `yaml:"period"`
	DryRun  bool     `yaml:"dry_run"`
	LockTTL Duration `yaml:"lock_ttl"`
}

// SensorConfig controls the storage disk usage sensor.
type SensorConfig struct {
	PollInterval   Duration `yaml:"poll_interval"`
	DiskHighPct    int      `yaml:"disk_high_pct"`
	DiskLowPct     int      `yaml:"disk_low_pct"`
	RecoveryWindow Duration `yaml:"recovery_window"`
}

// SizeBytes represents a number of bytes, unmarshaled from human-friendly strings like "64MB" or plain integers.
type SizeBytes int64

func (s *SizeBytes) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*s = 0
		return nil
	}
	v, err := parseSizeBytes(node.Value)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

func (s SizeBytes) Int64() int64 { return int64(s) }

func (s SizeBytes) String() string { return humanize.IBytes(uint64(s)) }

func parseSizeBytes(raw string) (SizeBytes, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if v, err := humanize.ParseBytes(raw); err == nil {
		return SizeBytes(v), nil
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return SizeBytes(i), nil
	}
	return 0, fmt.Errorf("invalid size value: %q", raw)
}

// Duration is a wrapper around time.Duration that supports YAML parsing from strings like "100ms" or plain numbers (interpreted as seconds).
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*d = Duration(0)
		return nil
	}
	v, err := parseDuration(node.Value)
	if err != nil {
		return err
	}
	*d = v
	return nil
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func parseDuration(raw string) (Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if td, err := time.ParseDuration(raw); err == nil {
		return Duration(td), nil
	}
	// allow numeric seconds
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return Duration(time.Duration(f * float64(time.Second))), nil
	}
	// allow day suffix for retention periods, e.g. "30d"
	if strings.HasSuffix(raw, "d") {
		if n, err := strconv.ParseFloat(strings.TrimSuffix(raw, "d"), 64); err == nil {
			return Duration(time.Duration(n * float64(24*time.Hour))), nil
		}
	}
	return 0, fmt.Errorf("invalid duration value: %q", raw)
}

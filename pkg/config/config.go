package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	"gopkg.in/yaml.v3"
)

const (
	defaultAddress            = "0.0.0.0"
	defaultPort               = 8080
	defaultStorageEngine      = "pebble"
	defaultStoragePath        = "./.chatevents"
	defaultFsync              = "interval"
	defaultFsyncInterval      = 50 * time.Millisecond
	defaultCacheSize          = 64 << 20 // 64 MiB
	defaultLogLevel           = "info"
	defaultLogFormat          = "text"
	defaultTickInterval       = time.Second
	defaultMigrationBatch     = 500
	defaultSliceBudget        = 20 * time.Millisecond
	defaultCheckpointInterval = 30 * time.Second
	defaultGCBatchSize        = 1000
	defaultGCKeysPerTick      = 10000
	defaultRetentionCron      = "0 2 * * *" // daily at 02:00
	defaultRetentionPeriod    = 90 * 24 * time.Hour
	minRetentionPeriod        = time.Hour
	defaultRetentionLockTTL   = time.Minute
	defaultSensorPoll         = 10 * time.Second
	defaultDiskHighPct        = 90
	defaultDiskLowPct         = 80
	defaultRecoveryWindow     = time.Minute
)

// Addr returns the HTTP server address as host:port.
func (c *Config) Addr() string {
	addr := c.Server.Address
	if addr == "" {
		addr = defaultAddress
	}
	port := c.Server.Port
	if port == 0 {
		port = defaultPort
	}
	return fmt.Sprintf("%s:%d", addr, port)
}

// Defaults returns a config with every default applied.
func Defaults() *Config {
	c := &Config{}
	// defaults never fail validation
	_ = c.ValidateConfig()
	return c
}

// LoadConfigFile reads and parses a config file.
func LoadConfigFile(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config file not found: %s: %w", path, err)
		}
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}

// ValidateConfig applies defaults and validates values in the config. It
// mutates the receiver to fill in missing defaults and returns an error if
// any configuration value is invalid.
func (c *Config) ValidateConfig() error {
	if c.Server.Address == "" {
		c.Server.Address = defaultAddress
	}
	if c.Server.Port == 0 {
		c.Server.Port = defaultPort
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server.port: %d", c.Server.Port)
	}

	// Storage defaults
	st := &c.Storage
	st.Engine = strings.ToLower(strings.TrimSpace(st.Engine))
	if st.Engine == "" {
		st.Engine = defaultStorageEngine
	}
	switch st.Engine {
	case "pebble", "sqlite", "memory":
	default:
		return fmt.Errorf("invalid storage.engine: %q (want pebble, sqlite or memory)", st.Engine)
	}
	if st.Path == "" {
		st.Path = defaultStoragePath
	}
	st.Fsync = strings.ToLower(strings.TrimSpace(st.Fsync))
	if st.Fsync == "" {
		st.Fsync = defaultFsync
	}
	switch st.Fsync {
	case "always", "interval", "never":
	default:
		return fmt.Errorf("invalid storage.fsync: %q (want always, interval or never)", st.Fsync)
	}
	if st.FsyncInterval.Duration() == 0 {
		st.FsyncInterval = Duration(defaultFsyncInterval)
	}
	if st.CacheSize.Int64() == 0 {
		st.CacheSize = SizeBytes(defaultCacheSize)
	}

	// Logging defaults
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}

	// Migration defaults
	mc := &c.Migration
	if mc.TickInterval.Duration() <= 0 {
		mc.TickInterval = Duration(defaultTickInterval)
	}
	if mc.BatchSize <= 0 {
		mc.BatchSize = defaultMigrationBatch
	}
	if mc.SliceBudget.Duration() <= 0 {
		mc.SliceBudget = Duration(defaultSliceBudget)
	}
	if mc.OpsPerSecond < 0 {
		return fmt.Errorf("invalid migration.ops_per_second: %v", mc.OpsPerSecond)
	}
	if mc.OpsPerSecond > 0 && mc.Burst <= 0 {
		mc.Burst = mc.BatchSize
	}
	if mc.CheckpointInterval.Duration() <= 0 {
		mc.CheckpointInterval = Duration(defaultCheckpointInterval)
	}

	// GC defaults
	if c.GC.BatchSize <= 0 {
		c.GC.BatchSize = defaultGCBatchSize
	}
	if c.GC.KeysPerTick <= 0 {
		c.GC.KeysPerTick = defaultGCKeysPerTick
	}

	// Retention cron (if not set, default to daily at 02:00)
	if c.Retention.Cron == "" {
		c.Retention.Cron = defaultRetentionCron
	}
	if !gronx.IsValid(c.Retention.Cron) {
		return fmt.Errorf("invalid retention cron expression: %s", c.Retention.Cron)
	}
	if c.Retention.Period.Duration() == 0 {
		c.Retention.Period = Duration(defaultRetentionPeriod)
	}
	if c.Retention.LockTTL.Duration() <= 0 {
		c.Retention.LockTTL = Duration(defaultRetentionLockTTL)
	}
	if c.Retention.Enabled && c.Retention.Period.Duration() < minRetentionPeriod {
		return fmt.Errorf("retention.period %s is below the minimum of %s", c.Retention.Period, minRetentionPeriod)
	}

	// Sensor defaults
	sc := &c.Sensor
	if sc.PollInterval.Duration() <= 0 {
		sc.PollInterval = Duration(defaultSensorPoll)
	}
	if sc.DiskHighPct == 0 {
		sc.DiskHighPct = defaultDiskHighPct
	}
	if sc.DiskLowPct == 0 {
		sc.DiskLowPct = defaultDiskLowPct
	}
	if sc.RecoveryWindow.Duration() <= 0 {
		sc.RecoveryWindow = Duration(defaultRecoveryWindow)
	}
	if sc.DiskHighPct < 0 || sc.DiskHighPct > 100 || sc.DiskLowPct < 0 || sc.DiskLowPct > sc.DiskHighPct {
		return fmt.Errorf("invalid sensor thresholds: low %d%%, high %d%%", sc.DiskLowPct, sc.DiskHighPct)
	}

	return nil
}

// ResolveConfigPath returns the config file path, preferring flag, then env.
func ResolveConfigPath(flagPath string, flagSet bool) string {
	if flagSet {
		return flagPath
	}
	if p := os.Getenv("CHATEVENTS_CONFIG"); p != "" {
		return p
	}
	return flagPath
}

// Summary renders the effective config as lines for logger.LogConfigSummary.
func (c *Config) Summary() []string {
	return []string{
		fmt.Sprintf("listen: %s", c.Addr()),
		fmt.Sprintf("storage: %s at %s (fsync=%s, cache=%s)", c.Storage.Engine, c.Storage.Path, c.Storage.Fsync, c.Storage.CacheSize),
		fmt.Sprintf("migration: enabled=%t tick=%s batch=%d slice=%s", c.Migration.IsEnabled(), c.Migration.TickInterval, c.Migration.BatchSize, c.Migration.SliceBudget),
		fmt.Sprintf("gc: batch=%d keys_per_tick=%d", c.GC.BatchSize, c.GC.KeysPerTick),
		fmt.Sprintf("retention: enabled=%t cron=%q period=%s dry_run=%t", c.Retention.Enabled, c.Retention.Cron, c.Retention.Period, c.Retention.DryRun),
		fmt.Sprintf("sensor: poll=%s disk_high=%d%% disk_low=%d%%", c.Sensor.PollInterval, c.Sensor.DiskHighPct, c.Sensor.DiskLowPct),
	}
}

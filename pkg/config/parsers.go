package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
)

// Flags holds command-line values and which of them were set explicitly.
type Flags struct {
	Addr   string
	Path   string
	Engine string
	Config string
	Set    map[string]bool
}

// ParseConfigFile loads config from file, returning whether one was found.
func ParseConfigFile(flags Flags) (*Config, bool, error) {
	cfgPath := ResolveConfigPath(flags.Config, flags.Set["config"])
	if cfgPath == "" {
		return &Config{}, false, nil
	}
	cfg, err := LoadConfigFile(cfgPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) && !flags.Set["config"] {
			return &Config{}, false, nil
		}
		return nil, false, err
	}
	return cfg, true, nil
}

// ApplyEnv overlays CHATEVENTS_* environment variables onto cfg. It returns
// whether any variable was used.
func ApplyEnv(cfg *Config) (bool, error) {
	used := false
	var errs []error
	str := func(name string, dst *string) {
		if v := strings.TrimSpace(os.Getenv("CHATEVENTS_" + name)); v != "" {
			*dst = v
			used = true
		}
	}
	num := func(name string, dst *int) {
		if v := strings.TrimSpace(os.Getenv("CHATEVENTS_" + name)); v != "" {
			i, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("CHATEVENTS_%s: %w", name, err))
				return
			}
			*dst = i
			used = true
		}
	}
	flt := func(name string, dst *float64) {
		if v := strings.TrimSpace(os.Getenv("CHATEVENTS_" + name)); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("CHATEVENTS_%s: %w", name, err))
				return
			}
			*dst = f
			used = true
		}
	}
	boolean := func(name string, dst *bool) {
		if v := strings.TrimSpace(os.Getenv("CHATEVENTS_" + name)); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("CHATEVENTS_%s: %w", name, err))
				return
			}
			*dst = b
			used = true
		}
	}
	dur := func(name string, dst *Duration) {
		if v := strings.TrimSpace(os.Getenv("CHATEVENTS_" + name)); v != "" {
			d, err := parseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("CHATEVENTS_%s: %w", name, err))
				return
			}
			*dst = d
			used = true
		}
	}
	size := func(name string, dst *SizeBytes) {
		if v := strings.TrimSpace(os.Getenv("CHATEVENTS_" + name)); v != "" {
			s, err := parseSizeBytes(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("CHATEVENTS_%s: %w", name, err))
				return
			}
			*dst = s
			used = true
		}
	}

	str("SERVER_ADDRESS", &cfg.Server.Address)
	num("SERVER_PORT", &cfg.Server.Port)

	str("STORAGE_ENGINE", &cfg.Storage.Engine)
	str("STORAGE_PATH", &cfg.Storage.Path)
	str("STORAGE_FSYNC", &cfg.Storage.Fsync)
	dur("STORAGE_FSYNC_INTERVAL", &cfg.Storage.FsyncInterval)
	size("STORAGE_CACHE_SIZE", &cfg.Storage.CacheSize)

	str("LOG_LEVEL", &cfg.Logging.Level)
	str("LOG_FORMAT", &cfg.Logging.Format)

	if v := strings.TrimSpace(os.Getenv("CHATEVENTS_MIGRATION_ENABLED")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("CHATEVENTS_MIGRATION_ENABLED: %w", err))
		} else {
			cfg.Migration.Enabled = &b
			used = true
		}
	}
	dur("MIGRATION_TICK_INTERVAL", &cfg.Migration.TickInterval)
	num("MIGRATION_BATCH_SIZE", &cfg.Migration.BatchSize)
	dur("MIGRATION_SLICE_BUDGET", &cfg.Migration.SliceBudget)
	flt("MIGRATION_OPS_PER_SECOND", &cfg.Migration.OpsPerSecond)
	num("MIGRATION_BURST", &cfg.Migration.Burst)
	dur("MIGRATION_CHECKPOINT_INTERVAL", &cfg.Migration.CheckpointInterval)

	num("GC_BATCH_SIZE", &cfg.GC.BatchSize)
	num("GC_KEYS_PER_TICK", &cfg.GC.KeysPerTick)

	boolean("RETENTION_ENABLED", &cfg.Retention.Enabled)
	str("RETENTION_CRON", &cfg.Retention.Cron)
	dur("RETENTION_PERIOD", &cfg.Retention.Period)
	boolean("RETENTION_DRY_RUN", &cfg.Retention.DryRun)
	dur("RETENTION_LOCK_TTL", &cfg.Retention.LockTTL)

	dur("SENSOR_POLL_INTERVAL", &cfg.Sensor.PollInterval)
	num("SENSOR_DISK_HIGH_PCT", &cfg.Sensor.DiskHighPct)
	num("SENSOR_DISK_LOW_PCT", &cfg.Sensor.DiskLowPct)

	return used, errors.Join(errs...)
}

// ApplyFlags overlays explicitly set command-line flags onto cfg.
func ApplyFlags(cfg *Config, flags Flags) error {
	if flags.Set["addr"] {
		host, port, err := splitAddr(flags.Addr)
		if err != nil {
			return err
		}
		cfg.Server.Address = host
		cfg.Server.Port = port
	}
	if flags.Set["path"] {
		cfg.Storage.Path = flags.Path
	}
	if flags.Set["engine"] {
		cfg.Storage.Engine = flags.Engine
	}
	return nil
}

// Source records which layers contributed to an effective config.
type Source struct {
	File    bool
	FileEnv bool
	Flags   bool
}

func (s Source) String() string {
	var parts []string
	if s.File {
		parts = append(parts, "config")
	}
	if s.FileEnv {
		parts = append(parts, "env")
	}
	if s.Flags {
		parts = append(parts, "flags")
	}
	if len(parts) == 0 {
		return "defaults"
	}
	return strings.Join(parts, "+")
}

// LoadEffectiveConfig layers file, environment and flags (later wins) and
// then applies defaults and validation.
func LoadEffectiveConfig(flags Flags) (*Config, Source, error) {
	var src Source
	cfg, found, err := ParseConfigFile(flags)
	if err != nil {
		return nil, src, err
	}
	src.File = found
	used, err := ApplyEnv(cfg)
	if err != nil {
		return nil, src, err
	}
	src.FileEnv = used
	if err := ApplyFlags(cfg, flags); err != nil {
		return nil, src, err
	}
	src.Flags = len(flags.Set) > 0
	if err := cfg.ValidateConfig(); err != nil {
		return nil, src, err
	}
	return cfg, src, nil
}

// splitAddr extracts host and port from a host:port string; ":8080" keeps the default host.
func splitAddr(a string) (string, int, error) {
	i := strings.LastIndex(a, ":")
	if i < 0 {
		return "", 0, fmt.Errorf("invalid listen address %q: missing port", a)
	}
	port, err := strconv.Atoi(a[i+1:])
	if err != nil || port < 0 || port > 65535 {
		return "", 0, fmt.Errorf("invalid listen address %q: bad port", a)
	}
	return a[:i], port, nil
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAndResolve(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "cfg.yaml")
	content := []byte(`
server:
  address: 127.0.0.1
  port: 9090
storage:
  engine: sqlite
  cache_size: 8MB
  fsync_interval: 250ms
migration:
  tick_interval: 2
  enabled: false
retention:
  enabled: true
  period: 30d
`)
	require.NoError(t, os.WriteFile(p, content, 0o600))

	c, err := LoadConfigFile(p)
	require.NoError(t, err)
	require.NoError(t, c.ValidateConfig())

	assert.Equal(t, "127.0.0.1:9090", c.Addr())
	assert.Equal(t, "sqlite", c.Storage.Engine)
	assert.Equal(t, int64(8_000_000), c.Storage.CacheSize.Int64())
	assert.Equal(t, 250*time.Millisecond, c.Storage.FsyncInterval.Duration())
	assert.Equal(t, 2*time.Second, c.Migration.TickInterval.Duration())
	assert.False(t, c.Migration.IsEnabled())
	assert.Equal(t, 30*24*time.Hour, c.Retention.Period.Duration())
	assert.Equal(t, defaultRetentionCron, c.Retention.Cron)

	t.Setenv("CHATEVENTS_CONFIG", p)
	assert.Equal(t, p, ResolveConfigPath("/nope", false))
	assert.Equal(t, "/flag", ResolveConfigPath("/flag", true))
}

func TestValidateConfigDefaults(t *testing.T) {
	c := Defaults()
	assert.Equal(t, "pebble", c.Storage.Engine)
	assert.Equal(t, "interval", c.Storage.Fsync)
	assert.Equal(t, defaultMigrationBatch, c.Migration.BatchSize)
	assert.True(t, c.Migration.IsEnabled())
	assert.Equal(t, defaultGCKeysPerTick, c.GC.KeysPerTick)
	assert.Equal(t, "0.0.0.0:8080", c.Addr())
	assert.Equal(t, defaultDiskHighPct, c.Sensor.DiskHighPct)
	assert.Equal(t, time.Minute, c.Retention.LockTTL.Duration())
}

func TestValidateConfigRejects(t *testing.T) {
	cases := []struct {
		name string
		mut  func(*Config)
	}{
		{"bad engine", func(c *Config) { c.Storage.Engine = "leveldb" }},
		{"bad fsync", func(c *Config) { c.Storage.Fsync = "sometimes" }},
		{"bad cron", func(c *Config) { c.Retention.Cron = "not a cron" }},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }},
		{"short retention", func(c *Config) {
			c.Retention.Enabled = true
			c.Retention.Period = Duration(time.Minute)
		}},
		{"negative rate", func(c *Config) { c.Migration.OpsPerSecond = -1 }},
		{"inverted disk thresholds", func(c *Config) {
			c.Sensor.DiskHighPct = 70
			c.Sensor.DiskLowPct = 85
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := &Config{}
			tc.mut(c)
			require.Error(t, c.ValidateConfig())
		})
	}
}

func TestLoadEffectiveConfigLayers(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "cfg.yaml")
	require.NoError(t, os.WriteFile(p, []byte("storage:\n  path: /from/file\nlogging:\n  level: warn\n"), 0o600))

	t.Setenv("CHATEVENTS_LOG_LEVEL", "debug")
	t.Setenv("CHATEVENTS_MIGRATION_BATCH_SIZE", "42")

	flags := Flags{
		Config: p,
		Addr:   ":9191",
		Set:    map[string]bool{"config": true, "addr": true},
	}
	cfg, src, err := LoadEffectiveConfig(flags)
	require.NoError(t, err)

	assert.Equal(t, "/from/file", cfg.Storage.Path)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 42, cfg.Migration.BatchSize)
	// an empty host from the flag falls back to the default bind address
	assert.Equal(t, "0.0.0.0:9191", cfg.Addr())
	assert.Equal(t, "config+env+flags", src.String())
}

func TestApplyEnvReportsBadValues(t *testing.T) {
	t.Setenv("CHATEVENTS_GC_BATCH_SIZE", "lots")
	_, err := ApplyEnv(&Config{})
	require.Error(t, err)
}

func TestMissingConfigFile(t *testing.T) {
	_, found, err := ParseConfigFile(Flags{Config: filepath.Join(t.TempDir(), "absent.yaml"), Set: map[string]bool{}})
	require.NoError(t, err)
	assert.False(t, found)

	_, _, err = ParseConfigFile(Flags{Config: filepath.Join(t.TempDir(), "absent.yaml"), Set: map[string]bool{"config": true}})
	require.Error(t, err)
}

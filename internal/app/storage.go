package app

import (
	"fmt"
	"os"
	"path/filepath"

	"chatevents/pkg/config"
	"chatevents/pkg/store/db"
	"chatevents/pkg/store/db/pebbledb"
	"chatevents/pkg/store/db/sqlitekv"
)

const sqliteFile = "events.db"

// OpenStorage opens the durable tier named by cfg.Engine. It also returns
// the directory for the retention lease, empty for in-memory storage.
func OpenStorage(cfg config.StorageConfig, hook db.MetricsHook) (db.KV, string, error) {
	fsync := db.ParseFsyncMode(cfg.Fsync)
	switch cfg.Engine {
	case "memory":
		kv, err := pebbledb.Open(pebbledb.Options{DataDir: "mem", InMemory: true, Fsync: db.FsyncModeNever, Metrics: hook})
		return kv, "", err
	case "sqlite":
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, "", fmt.Errorf("create storage dir %s: %w", cfg.Path, err)
		}
		kv, err := sqlitekv.Open(sqlitekv.Options{Path: filepath.Join(cfg.Path, sqliteFile), Fsync: fsync, Metrics: hook})
		if err != nil {
			return nil, "", fmt.Errorf("open sqlite at %s: %w", cfg.Path, err)
		}
		return kv, cfg.Path, nil
	case "pebble":
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, "", fmt.Errorf("create storage dir %s: %w", cfg.Path, err)
		}
		kv, err := pebbledb.Open(pebbledb.Options{
			DataDir:       filepath.Join(cfg.Path, "pebble"),
			Fsync:         fsync,
			FsyncInterval: cfg.FsyncInterval.Duration(),
			CacheSize:     cfg.CacheSize.Int64(),
			Metrics:       hook,
		})
		if err != nil {
			return nil, "", fmt.Errorf("open pebble at %s: %w", cfg.Path, err)
		}
		return kv, cfg.Path, nil
	default:
		return nil, "", fmt.Errorf("unknown storage engine %q", cfg.Engine)
	}
}

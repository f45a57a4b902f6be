// Package progressor records the durable format version and refuses to run
// against a store written by a newer format.
package progressor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"chatevents/pkg/logger"
	"chatevents/pkg/store/db"
	"chatevents/pkg/store/keys"
	"chatevents/pkg/timeutil"
)

// FormatVersion is the durable layout written by this build.
const FormatVersion = 1

// ErrNewerFormat is returned for stores written by a newer build.
var ErrNewerFormat = errors.New("store format is newer than this build")

var (
	versionKey    = keys.SystemKey("format_version")
	inProgressKey = keys.SystemKey("upgrade_in_progress")
)

// Upgrade rewrites a store from version From to From+1. Steps must be
// idempotent: an interrupted upgrade runs again on the next start.
type Upgrade struct {
	From  int
	Apply func(ctx context.Context, kv db.KV) error
}

// StoredVersion reads the recorded version. A store without one is version
// 0 when it holds data, and the current version when it is empty.
func StoredVersion(ctx context.Context, kv db.KV) (int, error) {
	b, err := kv.Get(versionKey)
	if err == nil {
		v, perr := strconv.Atoi(string(b))
		if perr != nil {
			return 0, fmt.Errorf("parse format version %q: %w", b, perr)
		}
		return v, nil
	}
	if !errors.Is(err, db.ErrNotFound) {
		return 0, fmt.Errorf("read format version: %w", err)
	}
	empty := true
	err = kv.Scan(ctx, db.ScanOptions{Limit: 1}, func(_, _ []byte) (bool, error) {
		empty = false
		return false, nil
	})
	if err != nil {
		return 0, err
	}
	if empty {
		return FormatVersion, nil
	}
	return 0, nil
}

// Run brings kv up to FormatVersion using steps and records the result. It
// reports whether any upgrade ran.
func Run(ctx context.Context, kv db.KV, steps []Upgrade) (bool, error) {
	stored, err := StoredVersion(ctx, kv)
	if err != nil {
		return false, err
	}
	if stored > FormatVersion {
		return false, fmt.Errorf("%w: stored %d, supported %d", ErrNewerFormat, stored, FormatVersion)
	}
	if _, err := kv.Get(inProgressKey); err == nil {
		logger.Warn("progressor_resuming_upgrade", "from", stored)
	}
	upgraded := false
	for stored < FormatVersion {
		var step *Upgrade
		for i := range steps {
			if steps[i].From == stored {
				step = &steps[i]
				break
			}
		}
		if err := startUpgrade(kv, stored); err != nil {
			return upgraded, err
		}
		if step != nil {
			logger.Info("progressor_upgrade_start", "from", stored, "to", stored+1)
			if err := step.Apply(ctx, kv); err != nil {
				return upgraded, fmt.Errorf("upgrade %d->%d: %w", stored, stored+1, err)
			}
		}
		stored++
		if err := kv.Set(versionKey, []byte(strconv.Itoa(stored))); err != nil {
			return upgraded, fmt.Errorf("persist format version: %w", err)
		}
		upgraded = true
	}
	if upgraded {
		if err := kv.Delete(inProgressKey); err != nil && !errors.Is(err, db.ErrNotFound) {
			logger.Error("progressor_delete_inprogress_failed", "error", err)
		}
		logger.Info("progressor_version_persisted", "version", stored)
		return true, nil
	}
	if _, err := kv.Get(versionKey); errors.Is(err, db.ErrNotFound) {
		if err := kv.Set(versionKey, []byte(strconv.Itoa(FormatVersion))); err != nil {
			return false, fmt.Errorf("persist format version: %w", err)
		}
	}
	return false, nil
}

func startUpgrade(kv db.KV, from int) error {
	marker, _ := json.Marshal(map[string]any{"from": from, "started_at": timeutil.Now().Format(time.RFC3339)})
	if err := kv.Set(inProgressKey, marker); err != nil {
		return fmt.Errorf("write upgrade marker: %w", err)
	}
	return nil
}

// Package pebbledb is the cockroachdb/pebble backend of db.KV.
package pebbledb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"

	"chatevents/pkg/logger"
	"chatevents/pkg/store/db"
)

const defaultFsyncInterval = 5 * time.Millisecond

// Options configures the Pebble store wrapper.
type Options struct {
	// DataDir is the path to the Pebble database directory.
	DataDir string
	// InMemory keeps all data in a memory filesystem; DataDir is then only a name.
	InMemory bool
	// Fsync determines when to sync the WAL.
	Fsync db.FsyncMode
	// FsyncInterval controls group-commit when Fsync=FsyncModeInterval.
	FsyncInterval time.Duration
	// CacheSize is the block cache size in bytes; zero keeps Pebble's default.
	CacheSize int64
	// PebbleOptions allows advanced tuning of Pebble. If nil, defaults are used.
	PebbleOptions *pebble.Options
	// Metrics observes read and commit latencies. Optional.
	Metrics db.MetricsHook
}

// DB wraps a Pebble database instance with fsync policy and basic helpers.
type DB struct {
	inner     *pebble.DB
	writeSync bool
	metrics   db.MetricsHook
}

var _ db.KV = (*DB)(nil)

// Open creates or opens a Pebble database with the provided options.
func Open(opts Options) (*DB, error) {
	if opts.DataDir == "" && !opts.InMemory {
		return nil, errors.New("pebbledb: Options.DataDir is required")
	}

	po := opts.PebbleOptions
	if po == nil {
		po = &pebble.Options{}
	}
	if opts.InMemory {
		po.FS = vfs.NewMem()
	}
	if opts.CacheSize > 0 {
		cache := pebble.NewCache(opts.CacheSize)
		defer cache.Unref()
		po.Cache = cache
	}
	if po.Logger == nil {
		po.Logger = pebbleLogger{}
	}

	switch opts.Fsync {
	case db.FsyncModeAlways:
		// Sync is passed on every commit.
	case db.FsyncModeInterval:
		if opts.FsyncInterval <= 0 {
			opts.FsyncInterval = defaultFsyncInterval
		}
		interval := opts.FsyncInterval
		po.WALMinSyncInterval = func() time.Duration { return interval }
	case db.FsyncModeNever:
	default:
		po.WALMinSyncInterval = func() time.Duration { return defaultFsyncInterval }
	}

	inner, err := pebble.Open(opts.DataDir, po)
	if err != nil {
		logger.Error("pebble_open_failed", "path", opts.DataDir, "error", err)
		return nil, fmt.Errorf("open pebble at %s: %w", opts.DataDir, err)
	}

	metrics := opts.Metrics
	if metrics == nil {
		metrics = db.NoopMetrics{}
	}
	logger.Info("pebble_opened", "path", opts.DataDir, "in_memory", opts.InMemory, "fsync", opts.Fsync)
	return &DB{
		inner:     inner,
		writeSync: opts.Fsync != db.FsyncModeNever,
		metrics:   metrics,
	}, nil
}

// OpenInMemory opens an empty store backed by a memory filesystem.
func OpenInMemory() (*DB, error) {
	return Open(Options{DataDir: "mem", InMemory: true, Fsync: db.FsyncModeNever})
}

// Close closes the Pebble database.
func (d *DB) Close() error {
	if d == nil || d.inner == nil {
		return nil
	}
	err := d.inner.Close()
	d.inner = nil
	return err
}

func (d *DB) syncOpt() *pebble.WriteOptions {
	if d.writeSync {
		return pebble.Sync
	}
	return pebble.NoSync
}

// Get copies the value for the given key.
func (d *DB) Get(key []byte) ([]byte, error) {
	if d.inner == nil {
		return nil, db.ErrClosed
	}
	start := time.Now()
	val, closer, err := d.inner.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, db.ErrNotFound
		}
		return nil, err
	}
	defer closer.Close()
	buf := append([]byte(nil), val...)
	d.metrics.ObserveRead(time.Since(start), len(buf))
	return buf, nil
}

// Set sets a key to a value using a small internal batch respecting fsync policy.
func (d *DB) Set(key, value []byte) error {
	b := d.NewBatch()
	defer b.Close()
	if err := b.Set(key, value); err != nil {
		return err
	}
	return b.Commit(context.Background())
}

// Delete removes a key using a small internal batch respecting fsync policy.
func (d *DB) Delete(key []byte) error {
	b := d.NewBatch()
	defer b.Close()
	if err := b.Delete(key); err != nil {
		return err
	}
	return b.Commit(context.Background())
}

// NewBatch creates a new batch for atomic multi-key updates.
func (d *DB) NewBatch() db.Batch {
	if d.inner == nil {
		return &batch{db: d}
	}
	return &batch{db: d, inner: d.inner.NewBatch()}
}

// Scan iterates [Lower, Upper) forward or backward.
func (d *DB) Scan(ctx context.Context, opts db.ScanOptions, fn func(key, value []byte) (bool, error)) error {
	if d.inner == nil {
		return db.ErrClosed
	}
	iter, err := d.inner.NewIter(&pebble.IterOptions{LowerBound: opts.Lower, UpperBound: opts.Upper})
	if err != nil {
		return err
	}
	defer iter.Close()

	move := iter.Next
	ok := iter.First()
	if opts.Reverse {
		move = iter.Prev
		ok = iter.Last()
	}
	n := 0
	for ; ok; ok = move() {
		if n%256 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		cont, err := fn(iter.Key(), iter.Value())
		if err != nil {
			return err
		}
		n++
		if !cont || (opts.Limit > 0 && n >= opts.Limit) {
			break
		}
	}
	return iter.Error()
}

// Flush forces memtable contents to disk.
func (d *DB) Flush() error {
	if d.inner == nil {
		return db.ErrClosed
	}
	return d.inner.Flush()
}

// CompactRange requests compaction of the key range [start, end), e.g. after a
// large prefix deletion.
func (d *DB) CompactRange(start, end []byte) error {
	if d.inner == nil {
		return db.ErrClosed
	}
	return d.inner.Compact(start, end, true)
}

type batch struct {
	db    *DB
	inner *pebble.Batch
}

func (b *batch) Set(key, value []byte) error {
	if b.inner == nil {
		return db.ErrClosed
	}
	return b.inner.Set(key, value, nil)
}

func (b *batch) Delete(key []byte) error {
	if b.inner == nil {
		return db.ErrClosed
	}
	return b.inner.Delete(key, nil)
}

func (b *batch) Count() int {
	if b.inner == nil {
		return 0
	}
	return int(b.inner.Count())
}

// Commit commits the batch with the configured fsync policy.
func (b *batch) Commit(ctx context.Context) error {
	if b.inner == nil {
		return db.ErrClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	start := time.Now()
	ops, size := b.Count(), b.inner.Len()
	err := b.inner.Commit(b.db.syncOpt())
	b.db.metrics.ObserveBatchCommit(time.Since(start), ops, size)
	return err
}

func (b *batch) Close() error {
	if b.inner == nil {
		return nil
	}
	err := b.inner.Close()
	b.inner = nil
	return err
}

// pebbleLogger routes Pebble's internal logging through the process logger.
type pebbleLogger struct{}

func (pebbleLogger) Infof(format string, args ...interface{}) {
	logger.Debug("pebble_info", "msg", fmt.Sprintf(format, args...))
}

func (pebbleLogger) Errorf(format string, args ...interface{}) {
	logger.Error("pebble_error", "msg", fmt.Sprintf(format, args...))
}

func (pebbleLogger) Fatalf(format string, args ...interface{}) {
	logger.Error("pebble_fatal", "msg", fmt.Sprintf(format, args...))
	panic(fmt.Sprintf(format, args...))
}

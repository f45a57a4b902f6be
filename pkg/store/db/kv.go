// Package db defines the durable ordered byte store the event store is built on.
package db

import (
	"context"
	"errors"
	"time"

	"chatevents/pkg/store/keys"
)

var (
	// ErrNotFound is returned by Get for absent keys.
	ErrNotFound = errors.New("db: key not found")
	// ErrClosed is returned by operations on a closed store.
	ErrClosed = errors.New("db: closed")
)

// KV is a persistent ordered byte map with range scans.
type KV interface {
	// Get returns a copy of the value stored at key, or ErrNotFound.
	Get(key []byte) ([]byte, error)
	Set(key, value []byte) error
	Delete(key []byte) error
	// NewBatch starts an atomic group of writes.
	NewBatch() Batch
	// Scan visits keys in [Lower, Upper) in order. Key and value slices are
	// only valid during the callback; fn returns false to stop early.
	Scan(ctx context.Context, opts ScanOptions, fn func(key, value []byte) (bool, error)) error
	Close() error
}

// Batch is an atomic set of writes. Nothing is visible until Commit returns nil.
type Batch interface {
	Set(key, value []byte) error
	Delete(key []byte) error
	Count() int
	Commit(ctx context.Context) error
	Close() error
}

// ScanOptions bounds a scan. A nil Upper means no upper bound.
type ScanOptions struct {
	Lower   []byte
	Upper   []byte
	Reverse bool
	Limit   int
}

// PrefixScan returns options covering every key with the given prefix.
func PrefixScan(prefix []byte) ScanOptions {
	return ScanOptions{Lower: prefix, Upper: keys.PrefixUpperBound(prefix)}
}

// FsyncMode defines durability behavior for write operations.
type FsyncMode int

const (
	FsyncModeUnspecified FsyncMode = iota
	// FsyncModeAlways syncs the WAL on each committed batch/write.
	FsyncModeAlways
	// FsyncModeInterval lets the engine coalesce syncs within FsyncInterval.
	FsyncModeInterval
	// FsyncModeNever never forces a sync from the application.
	FsyncModeNever
)

// ParseFsyncMode maps the config strings "always", "interval" and "never".
func ParseFsyncMode(s string) FsyncMode {
	switch s {
	case "always":
		return FsyncModeAlways
	case "interval":
		return FsyncModeInterval
	case "never":
		return FsyncModeNever
	default:
		return FsyncModeUnspecified
	}
}

// MetricsHook is a minimal hook surface for storage observations.
type MetricsHook interface {
	ObserveRead(elapsed time.Duration, bytes int)
	ObserveBatchCommit(elapsed time.Duration, numOps int, bytes int)
}

// NoopMetrics is used when no metrics hook is provided.
type NoopMetrics struct{}

func (NoopMetrics) ObserveRead(time.Duration, int)             {}
func (NoopMetrics) ObserveBatchCommit(time.Duration, int, int) {}

// Collect copies out every key/value pair matched by opts. Intended for
// bounded ranges.
func Collect(ctx context.Context, kv KV, opts ScanOptions) (ks, vs [][]byte, err error) {
	err = kv.Scan(ctx, opts, func(k, v []byte) (bool, error) {
		ks = append(ks, append([]byte(nil), k...))
		vs = append(vs, append([]byte(nil), v...))
		return true, nil
	})
	return ks, vs, err
}

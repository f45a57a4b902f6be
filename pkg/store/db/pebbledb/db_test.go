package pebbledb

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatevents/pkg/store/db"
	"chatevents/pkg/store/db/kvtest"
)

func TestPebbleKV(t *testing.T) {
	kvtest.Run(t, func(t *testing.T) db.KV {
		d, err := OpenInMemory()
		require.NoError(t, err)
		t.Cleanup(func() { _ = d.Close() })
		return d
	})
}

type countingMetrics struct {
	commits int
	ops     int
	reads   int
}

func (m *countingMetrics) ObserveRead(time.Duration, int) { m.reads++ }
func (m *countingMetrics) ObserveBatchCommit(_ time.Duration, ops int, _ int) {
	m.commits++
	m.ops += ops
}

func TestReopenOnDisk(t *testing.T) {
	dir := t.TempDir()
	m := &countingMetrics{}
	d, err := Open(Options{DataDir: dir, Fsync: db.FsyncModeAlways, CacheSize: 1 << 20, Metrics: m})
	require.NoError(t, err)
	require.NoError(t, d.Set([]byte("k"), []byte("v")))
	require.NoError(t, d.Close())
	assert.Equal(t, 1, m.commits)
	assert.Equal(t, 1, m.ops)

	d, err = Open(Options{DataDir: dir, Fsync: db.FsyncModeInterval, FsyncInterval: time.Millisecond, Metrics: m})
	require.NoError(t, err)
	defer d.Close()
	v, err := d.Get([]byte("k"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), v)
	assert.Equal(t, 1, m.reads)
}

func TestClosedStore(t *testing.T) {
	d, err := OpenInMemory()
	require.NoError(t, err)
	require.NoError(t, d.Close())
	_, err = d.Get([]byte("k"))
	require.ErrorIs(t, err, db.ErrClosed)
	require.ErrorIs(t, d.Set([]byte("k"), nil), db.ErrClosed)
}

func TestOpenRequiresDir(t *testing.T) {
	_, err := Open(Options{})
	require.Error(t, err)
}

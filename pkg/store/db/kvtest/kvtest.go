// Package kvtest holds a behavioural suite every db.KV backend must pass.
package kvtest

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatevents/pkg/store/db"
)

// Run exercises open's store. open must return an empty store.
func Run(t *testing.T, open func(t *testing.T) db.KV) {
	t.Helper()
	ctx := context.Background()

	t.Run("GetSetDelete", func(t *testing.T) {
		kv := open(t)
		_, err := kv.Get([]byte("a"))
		require.ErrorIs(t, err, db.ErrNotFound)

		require.NoError(t, kv.Set([]byte("a"), []byte("1")))
		v, err := kv.Get([]byte("a"))
		require.NoError(t, err)
		assert.Equal(t, []byte("1"), v)

		require.NoError(t, kv.Set([]byte("a"), []byte("2")))
		v, err = kv.Get([]byte("a"))
		require.NoError(t, err)
		assert.Equal(t, []byte("2"), v)

		require.NoError(t, kv.Delete([]byte("a")))
		_, err = kv.Get([]byte("a"))
		require.ErrorIs(t, err, db.ErrNotFound)
		// deleting an absent key is not an error
		require.NoError(t, kv.Delete([]byte("a")))
	})

	t.Run("EmptyValue", func(t *testing.T) {
		kv := open(t)
		require.NoError(t, kv.Set([]byte("nil"), nil))
		require.NoError(t, kv.Set([]byte("empty"), []byte{}))
		for _, k := range []string{"empty", "nil"} {
			v, err := kv.Get([]byte(k))
			require.NoError(t, err, k)
			assert.Empty(t, v, k)
		}

		b := kv.NewBatch()
		require.NoError(t, b.Set([]byte("batched"), nil))
		require.NoError(t, b.Commit(ctx))
		require.NoError(t, b.Close())
		ks, vs, err := db.Collect(ctx, kv, db.ScanOptions{})
		require.NoError(t, err)
		require.Len(t, ks, 3)
		for _, v := range vs {
			assert.Empty(t, v)
		}
	})

	t.Run("BatchIsAtomic", func(t *testing.T) {
		kv := open(t)
		require.NoError(t, kv.Set([]byte("gone"), []byte("x")))
		b := kv.NewBatch()
		require.NoError(t, b.Set([]byte("k1"), []byte("v1")))
		require.NoError(t, b.Set([]byte("k2"), []byte("v2")))
		require.NoError(t, b.Delete([]byte("gone")))
		assert.Equal(t, 3, b.Count())

		_, err := kv.Get([]byte("k1"))
		require.ErrorIs(t, err, db.ErrNotFound, "uncommitted writes must be invisible")

		require.NoError(t, b.Commit(ctx))
		require.NoError(t, b.Close())

		v, err := kv.Get([]byte("k2"))
		require.NoError(t, err)
		assert.Equal(t, []byte("v2"), v)
		_, err = kv.Get([]byte("gone"))
		require.ErrorIs(t, err, db.ErrNotFound)
	})

	t.Run("AbandonedBatchWritesNothing", func(t *testing.T) {
		kv := open(t)
		b := kv.NewBatch()
		require.NoError(t, b.Set([]byte("k"), []byte("v")))
		require.NoError(t, b.Close())
		_, err := kv.Get([]byte("k"))
		require.ErrorIs(t, err, db.ErrNotFound)
	})

	t.Run("ScanOrderAndBounds", func(t *testing.T) {
		kv := open(t)
		for i := 0; i < 20; i++ {
			require.NoError(t, kv.Set([]byte{'p', byte(i)}, []byte(fmt.Sprint(i))))
		}
		require.NoError(t, kv.Set([]byte{'q', 0}, []byte("other")))
		require.NoError(t, kv.Set([]byte{'o', 0xff}, []byte("before")))

		ks, vs, err := db.Collect(ctx, kv, db.PrefixScan([]byte{'p'}))
		require.NoError(t, err)
		require.Len(t, ks, 20)
		for i := range ks {
			assert.Equal(t, []byte{'p', byte(i)}, ks[i])
			assert.Equal(t, fmt.Sprint(i), string(vs[i]))
		}

		ks, _, err = db.Collect(ctx, kv, db.ScanOptions{Lower: []byte{'p', 5}, Upper: []byte{'p', 8}})
		require.NoError(t, err)
		assert.Equal(t, [][]byte{{'p', 5}, {'p', 6}, {'p', 7}}, ks)

		opts := db.PrefixScan([]byte{'p'})
		opts.Reverse = true
		opts.Limit = 3
		ks, _, err = db.Collect(ctx, kv, opts)
		require.NoError(t, err)
		assert.Equal(t, [][]byte{{'p', 19}, {'p', 18}, {'p', 17}}, ks)

		var seen int
		err = kv.Scan(ctx, db.PrefixScan([]byte{'p'}), func(k, v []byte) (bool, error) {
			seen++
			return seen < 4, nil
		})
		require.NoError(t, err)
		assert.Equal(t, 4, seen)

		ks, _, err = db.Collect(ctx, kv, db.ScanOptions{Lower: []byte{'q'}})
		require.NoError(t, err)
		assert.Equal(t, [][]byte{{'q', 0}}, ks)
	})

	t.Run("ScanCallbackError", func(t *testing.T) {
		kv := open(t)
		require.NoError(t, kv.Set([]byte("a"), nil))
		boom := fmt.Errorf("boom")
		err := kv.Scan(ctx, db.ScanOptions{}, func(k, v []byte) (bool, error) { return false, boom })
		require.ErrorIs(t, err, boom)
	})

	t.Run("ScanHonoursContext", func(t *testing.T) {
		kv := open(t)
		require.NoError(t, kv.Set([]byte("a"), []byte("1")))
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		err := kv.Scan(cctx, db.ScanOptions{}, func(k, v []byte) (bool, error) { return true, nil })
		require.ErrorIs(t, err, context.Canceled)
	})
}

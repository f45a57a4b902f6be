package progressor

import (
	"context"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatevents/pkg/store/db"
	"chatevents/pkg/store/db/pebbledb"
)

func newKV(t *testing.T) db.KV {
	t.Helper()
	kv, err := pebbledb.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })
	return kv
}

func TestEmptyStoreIsStamped(t *testing.T) {
	ctx := context.Background()
	kv := newKV(t)
	upgraded, err := Run(ctx, kv, nil)
	require.NoError(t, err)
	assert.False(t, upgraded)

	b, err := kv.Get(versionKey)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(FormatVersion), string(b))
}

func TestUnversionedStoreIsUpgraded(t *testing.T) {
	ctx := context.Background()
	kv := newKV(t)
	require.NoError(t, kv.Set([]byte("e-legacy"), []byte("x")))

	v, err := StoredVersion(ctx, kv)
	require.NoError(t, err)
	assert.Equal(t, 0, v)

	calls := 0
	steps := []Upgrade{{From: 0, Apply: func(context.Context, db.KV) error {
		calls++
		return nil
	}}}
	upgraded, err := Run(ctx, kv, steps)
	require.NoError(t, err)
	assert.True(t, upgraded)
	assert.Equal(t, 1, calls)
	_, err = kv.Get(inProgressKey)
	assert.ErrorIs(t, err, db.ErrNotFound)

	upgraded, err = Run(ctx, kv, steps)
	require.NoError(t, err)
	assert.False(t, upgraded)
	assert.Equal(t, 1, calls)
}

func TestNewerFormatIsRejected(t *testing.T) {
	kv := newKV(t)
	require.NoError(t, kv.Set(versionKey, []byte(strconv.Itoa(FormatVersion+1))))
	_, err := Run(context.Background(), kv, nil)
	require.ErrorIs(t, err, ErrNewerFormat)
}

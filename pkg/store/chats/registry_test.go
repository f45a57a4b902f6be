package chats

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chatevents/pkg/budget"
	"chatevents/pkg/migration"
	"chatevents/pkg/models"
	"chatevents/pkg/store/db"
	"chatevents/pkg/store/db/pebbledb"
	"chatevents/pkg/store/events"
	"chatevents/pkg/store/keys"
)

func newRegistry(t *testing.T) (*Registry, db.KV) {
	t.Helper()
	kv, err := pebbledb.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = kv.Close() })
	return NewRegistry(kv, Options{MigrationBatch: 8}), kv
}

func pushN(t *testing.T, r *Registry, scope models.ChatScope, from, to uint64) {
	t.Helper()
	require.NoError(t, pushRange(r, scope, from, to))
}

func pushRange(r *Registry, scope models.ChatScope, from, to uint64) error {
	return r.With(context.Background(), scope, func(c *events.ChatEvents) error {
		for n := from; n < to; n++ {
			_, err := c.PushMessage(events.PushMessageArgs{
				Sender:    "alice",
				MessageID: models.MessageIDFromUint64(n),
				Content:   models.TextContent{Text: fmt.Sprintf("m%d", n)},
				Now:       models.TimestampMillis(n),
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

func latest(t *testing.T, r *Registry, scope models.ChatScope) (models.EventIndex, bool) {
	t.Helper()
	var (
		idx models.EventIndex
		ok  bool
	)
	require.NoError(t, r.With(context.Background(), scope, func(c *events.ChatEvents) error {
		var err error
		idx, ok, err = c.LatestEventIndex(nil)
		return err
	}))
	return idx, ok
}

func TestConcurrentWritersPerChat(t *testing.T) {
	r, _ := newRegistry(t)
	scopes := []models.ChatScope{models.GroupChat(1), models.GroupChat(2), models.Channel(5, 1)}

	var wg sync.WaitGroup
	for _, s := range scopes {
		for w := 0; w < 4; w++ {
			wg.Add(1)
			go func(s models.ChatScope, w int) {
				defer wg.Done()
				base := uint64(w * 1000)
				assert.NoError(t, pushRange(r, s, base+1, base+26))
			}(s, w)
		}
	}
	wg.Wait()

	assert.Equal(t, []models.ChatScope{models.Channel(5, 1), models.GroupChat(1), models.GroupChat(2)}, r.Scopes())
	for _, s := range scopes {
		idx, ok := latest(t, r, s)
		require.True(t, ok)
		assert.Equal(t, models.EventIndex(99), idx)
	}
}

func TestMigrateInterleavesWithWrites(t *testing.T) {
	ctx := context.Background()
	r, _ := newRegistry(t)
	s := models.GroupChat(3)
	pushN(t, r, s, 1, 41)

	p, err := r.Migrate(ctx, s, budget.NewOps(16))
	require.NoError(t, err)
	assert.Equal(t, uint32(16), p.Migrated)
	assert.True(t, p.Rescheduled)
	assert.Equal(t, migration.Draining, r.MigrationState(s))

	pushN(t, r, s, 41, 45)
	p, err = r.Migrate(ctx, s, budget.Unlimited())
	require.NoError(t, err)
	assert.Equal(t, uint32(28), p.Migrated)
	assert.True(t, p.Finished)
	assert.Equal(t, migration.Idle, r.MigrationState(s))
}

func TestLoadAllAfterRestart(t *testing.T) {
	ctx := context.Background()
	r, kv := newRegistry(t)
	pushN(t, r, models.GroupChat(1), 1, 11)
	pushN(t, r, models.DirectChat(2), 1, 4)
	_, err := r.Migrate(ctx, models.GroupChat(1), nil)
	require.NoError(t, err)
	require.NoError(t, r.CheckpointAll(ctx))

	restarted := NewRegistry(kv, Options{})
	n, err := restarted.LoadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	idx, ok := latest(t, restarted, models.DirectChat(2))
	require.True(t, ok)
	assert.Equal(t, models.EventIndex(2), idx)

	stats, err := restarted.Stats(ctx)
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, models.DirectChat(2), stats[0].Chat)
	assert.Equal(t, 3, stats[0].EphemeralEvents)
}

func TestDeleteChat(t *testing.T) {
	ctx := context.Background()
	r, kv := newRegistry(t)
	s := models.GroupChat(9)
	pushN(t, r, s, 1, 21)
	_, err := r.Migrate(ctx, s, nil)
	require.NoError(t, err)
	require.NoError(t, r.CheckpointAll(ctx))

	prefix, err := r.Delete(ctx, s)
	require.NoError(t, err)
	assert.Equal(t, keys.ChatPrefix(s), prefix)
	assert.Empty(t, r.Scopes())

	pending, err := events.PendingGCMarkers(ctx, kv)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{prefix}, pending)

	// reopening the scope finishes the deletion first
	_, ok := latest(t, r, s)
	assert.False(t, ok)
	pending, err = events.PendingGCMarkers(ctx, kv)
	require.NoError(t, err)
	assert.Empty(t, pending)
	ks, _, err := db.Collect(ctx, kv, db.PrefixScan(prefix))
	require.NoError(t, err)
	assert.Empty(t, ks)
}

func TestStaleScopeAfterDelete(t *testing.T) {
	ctx := context.Background()
	r, kv := newRegistry(t)
	s := models.GroupChat(3)
	pushN(t, r, s, 1, 200)
	_, err := r.Migrate(ctx, s, budget.NewOps(4))
	require.NoError(t, err)
	stale := r.Scopes()

	prefix, err := r.Delete(ctx, s)
	require.NoError(t, err)

	_, err = r.Migrate(ctx, stale[0], budget.NewOps(1))
	require.ErrorIs(t, err, ErrDeleted)
	assert.Equal(t, migration.Idle, r.MigrationState(stale[0]))
	err = r.WithLoaded(ctx, stale[0], func(*events.ChatEvents) error { return nil })
	require.ErrorIs(t, err, ErrDeleted)
	require.NoError(t, r.CheckpointAll(ctx))
	stats, err := r.Stats(ctx)
	require.NoError(t, err)
	assert.Empty(t, stats)
	assert.Empty(t, r.Scopes())

	// the durable events are left to budgeted GC
	pending, err := events.PendingGCMarkers(ctx, kv)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{prefix}, pending)
	ks, _, err := db.Collect(ctx, kv, db.PrefixScan(prefix))
	require.NoError(t, err)
	require.Greater(t, len(ks), 1)
	n, err := events.GarbageCollectBatched(ctx, kv, prefix, budget.NewOps(1), 1)
	require.ErrorIs(t, err, budget.ErrBudgetExceeded)
	assert.Equal(t, 1, n)
}

func TestMigrateUnknownScope(t *testing.T) {
	r, _ := newRegistry(t)
	_, err := r.Migrate(context.Background(), models.GroupChat(42), budget.Unlimited())
	require.ErrorIs(t, err, ErrDeleted)
	assert.Empty(t, r.Scopes())
}

func TestWithRejectsInvalidScope(t *testing.T) {
	r, _ := newRegistry(t)
	err := r.With(context.Background(), models.ChatScope{}, func(*events.ChatEvents) error { return nil })
	require.ErrorIs(t, err, events.ErrInvalidArgument)
}

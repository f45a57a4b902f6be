package events

import (
	"context"
	"fmt"

	"chatevents/pkg/budget"
	"chatevents/pkg/logger"
	"chatevents/pkg/models"
	"chatevents/pkg/store/db"
	"chatevents/pkg/store/keys"
)

// DefaultGCBatchSize is the number of keys deleted per committed batch.
const DefaultGCBatchSize = 500

// MigrateNextBatch moves up to maxEvents of the oldest ephemeral events into
// the durable tier in one atomic batch: the main log first, then thread logs
// in root order. Events leave memory only after the batch commits. finished
// reports that nothing ephemeral remains.
func (c *ChatEvents) MigrateNextBatch(ctx context.Context, maxEvents int) (migrated uint32, finished bool, err error) {
	if maxEvents <= 0 {
		return 0, false, fmt.Errorf("%w: batch size must be positive", ErrInvalidArgument)
	}
	if !c.HasEphemeralEvents() {
		return 0, true, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, false, err
	}

	type take struct {
		l *eventsList
		n int
	}
	var takes []take
	b := c.kv.NewBatch()
	defer b.Close()
	remaining := maxEvents
	for _, l := range c.lists() {
		if remaining == 0 {
			break
		}
		evs := l.mem.Oldest(remaining)
		if len(evs) == 0 {
			continue
		}
		for _, e := range evs {
			raw, err := models.EncodeEvent(e)
			if err != nil {
				return 0, false, fmt.Errorf("encode event %d of %s: %w", e.Index, l.scope, err)
			}
			if err := b.Set(l.key(e.Index), raw); err != nil {
				return 0, false, fmt.Errorf("stage event %d of %s: %w", e.Index, l.scope, err)
			}
		}
		takes = append(takes, take{l: l, n: len(evs)})
		remaining -= len(evs)
	}
	if err := b.Commit(ctx); err != nil {
		return 0, false, fmt.Errorf("commit migration batch for %s: %w", c.chat, err)
	}
	for _, t := range takes {
		t.l.mem.PopOldest(t.n)
		migrated += uint32(t.n)
	}
	c.observer.EventsMigrated(int(migrated))
	finished = !c.HasEphemeralEvents()
	logger.Debug("migration_batch_committed", "chat", c.chat.String(), "events", migrated, "finished", finished)
	return migrated, finished, nil
}

// DeleteThread drops the thread log rooted at root from memory, clears the
// root's summary and records a GC marker for its durable prefix. The prefix
// is returned for GarbageCollect.
func (c *ChatEvents) DeleteThread(root models.MessageIndex) ([]byte, error) {
	l, ok := c.threads[root]
	if !ok {
		return nil, fmt.Errorf("%w: thread %d in %s", ErrNotFound, root, c.chat)
	}
	if err := markForGC(c.kv, l.prefix, l.scope.String()); err != nil {
		return nil, err
	}
	delete(c.threads, root)
	if idx, ok := c.main.byMessage[root]; ok {
		_, err := c.mutateMessage(c.main, idx, func(m *models.Message) error {
			m.ThreadSummary = nil
			return nil
		})
		if err != nil {
			return l.prefix, err
		}
	}
	logger.Info("thread_deleted", "chat", c.chat.String(), "root", root)
	return l.prefix, nil
}

func markForGC(kv db.KV, prefix []byte, label string) error {
	if err := kv.Set(keys.GCMarkerKey(prefix), []byte(label)); err != nil {
		return fmt.Errorf("write gc marker for %s: %w", label, err)
	}
	return nil
}

// MarkForGC records a pending deletion of everything under prefix.
func MarkForGC(kv db.KV, prefix []byte) error {
	return markForGC(kv, prefix, keys.Format(prefix))
}

// GarbageCollect deletes every key under prefix in batches of
// DefaultGCBatchSize while b allows. A nil error means the prefix is empty
// and its GC marker is gone; budget.ErrBudgetExceeded means call again with
// the same prefix. It returns the number of keys deleted by this call.
func GarbageCollect(ctx context.Context, kv db.KV, prefix []byte, b budget.Budget) (int, error) {
	return GarbageCollectBatched(ctx, kv, prefix, b, DefaultGCBatchSize)
}

// GarbageCollectBatched is GarbageCollect with an explicit batch size.
func GarbageCollectBatched(ctx context.Context, kv db.KV, prefix []byte, b budget.Budget, batchSize int) (int, error) {
	if len(prefix) == 0 {
		return 0, fmt.Errorf("%w: refusing to collect an empty prefix", ErrInvalidArgument)
	}
	if batchSize <= 0 {
		batchSize = DefaultGCBatchSize
	}
	if b == nil {
		b = budget.Unlimited()
	}
	opts := db.PrefixScan(prefix)
	opts.Limit = batchSize
	deleted := 0
	for !b.Exceeded() {
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
		var ks [][]byte
		err := kv.Scan(ctx, opts, func(k, _ []byte) (bool, error) {
			ks = append(ks, append([]byte(nil), k...))
			return true, nil
		})
		if err != nil {
			return deleted, fmt.Errorf("scan %s: %w", keys.Format(prefix), err)
		}
		if len(ks) > 0 {
			batch := kv.NewBatch()
			for _, k := range ks {
				if err := batch.Delete(k); err != nil {
					batch.Close()
					return deleted, fmt.Errorf("stage delete under %s: %w", keys.Format(prefix), err)
				}
			}
			err := batch.Commit(ctx)
			batch.Close()
			if err != nil {
				return deleted, fmt.Errorf("commit gc batch under %s: %w", keys.Format(prefix), err)
			}
			deleted += len(ks)
			b.Spend(len(ks))
		}
		if len(ks) < batchSize {
			if err := kv.Delete(keys.GCMarkerKey(prefix)); err != nil && !isNotFound(err) {
				return deleted, fmt.Errorf("clear gc marker for %s: %w", keys.Format(prefix), err)
			}
			logger.Info("gc_prefix_complete", "prefix", keys.Format(prefix), "deleted", deleted)
			return deleted, nil
		}
	}
	return deleted, budget.ErrBudgetExceeded
}

// PendingGCMarkers lists prefixes whose deletion has not completed.
func PendingGCMarkers(ctx context.Context, kv db.KV) ([][]byte, error) {
	var out [][]byte
	err := kv.Scan(ctx, db.PrefixScan(keys.GCMarkerPrefix()), func(k, _ []byte) (bool, error) {
		p, err := keys.ParseGCMarkerKey(k)
		if err != nil {
			return false, err
		}
		out = append(out, append([]byte(nil), p...))
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan gc markers: %w", err)
	}
	return out, nil
}

// finishPendingGC synchronously collects prefix if it carries a GC marker.
func finishPendingGC(kv db.KV, prefix []byte) error {
	marked, err := hasGCMarker(kv, prefix)
	if err != nil || !marked {
		return err
	}
	if _, err := GarbageCollect(context.Background(), kv, prefix, budget.Unlimited()); err != nil {
		return fmt.Errorf("finish pending gc of %s: %w", keys.Format(prefix), err)
	}
	return nil
}

// hasGCMarker reports whether prefix, or any prefix of it, is pending deletion.
func hasGCMarker(kv db.KV, prefix []byte) (bool, error) {
	for n := len(prefix); n > 0; n-- {
		_, err := kv.Get(keys.GCMarkerKey(prefix[:n]))
		if err == nil {
			return true, nil
		}
		if !isNotFound(err) {
			return false, err
		}
	}
	return false, nil
}

package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"chatevents/pkg/logger"
	"chatevents/pkg/models"
	"chatevents/pkg/store/db"
	"chatevents/pkg/store/ephemeral"
	"chatevents/pkg/store/keys"
	"chatevents/pkg/store/visibility"
)

const snapshotVersion = 1

type snapshotFile struct {
	Version int           `json:"version"`
	Chat    string        `json:"chat"`
	Logs    []logSnapshot `json:"logs"`
}

type logSnapshot struct {
	ThreadRoot  *models.MessageIndex                      `json:"thread_root,omitempty"`
	First       models.EventIndex                         `json:"first"`
	Events      []models.Event                            `json:"events,omitempty"`
	NextMessage models.MessageIndex                       `json:"next_message"`
	LatestTS    models.TimestampMillis                    `json:"latest_ts"`
	ByID        map[models.MessageID]models.EventIndex    `json:"by_id,omitempty"`
	ByMessage   map[models.MessageIndex]models.EventIndex `json:"by_message,omitempty"`
}

func (c *ChatEvents) saveFloors() error {
	raw, err := json.Marshal(c.floors.Snapshot())
	if err != nil {
		return fmt.Errorf("encode floors of %s: %w", c.chat, err)
	}
	if err := c.kv.Set(keys.FloorsKey(c.chat), raw); err != nil {
		return fmt.Errorf("write floors of %s: %w", c.chat, err)
	}
	return nil
}

// Checkpoint persists the ephemeral tier and indices so Open can resume
// without a full rebuild. Events appended after the last checkpoint and not
// yet migrated are lost on a crash.
func (c *ChatEvents) Checkpoint(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	snap := snapshotFile{Version: snapshotVersion, Chat: c.chat.String()}
	for _, l := range c.lists() {
		ls := logSnapshot{
			ThreadRoot:  l.scope.ThreadRoot,
			First:       l.mem.First(),
			Events:      l.mem.Events(),
			NextMessage: l.nextMessage,
			LatestTS:    l.latestTS,
			ByID:        l.byID,
			ByMessage:   l.byMessage,
		}
		snap.Logs = append(snap.Logs, ls)
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot of %s: %w", c.chat, err)
	}
	if err := c.kv.Set(keys.SnapshotKey(c.chat), raw); err != nil {
		return fmt.Errorf("write snapshot of %s: %w", c.chat, err)
	}
	logger.Debug("chat_checkpointed", "chat", c.chat.String(), "logs", len(snap.Logs), "bytes", len(raw))
	return nil
}

// DeleteSnapshot removes the snapshot and floors of chat.
func DeleteSnapshot(kv db.KV, chat models.ChatScope) error {
	for _, k := range [][]byte{keys.SnapshotKey(chat), keys.FloorsKey(chat)} {
		if err := kv.Delete(k); err != nil && !isNotFound(err) {
			return fmt.Errorf("delete %s: %w", keys.Format(k), err)
		}
	}
	return nil
}

// New returns an empty chat with no durable state. Use Open for chats that
// may already exist.
func New(chat models.ChatScope, kv db.KV, opts Options) (*ChatEvents, error) {
	return newChatEvents(chat, kv, opts)
}

// Open loads a chat from its last checkpoint, reconciled against the durable
// tier, or rebuilds it from durable events when there is no checkpoint.
func Open(ctx context.Context, chat models.ChatScope, kv db.KV, opts Options) (*ChatEvents, error) {
	c, err := newChatEvents(chat, kv, opts)
	if err != nil {
		return nil, err
	}
	pending, err := hasGCMarker(kv, c.main.prefix)
	if err != nil {
		return nil, err
	}
	if pending {
		return nil, fmt.Errorf("%w: %s is pending deletion", ErrNotFound, chat)
	}

	haveFloors := true
	raw, err := kv.Get(keys.FloorsKey(chat))
	switch {
	case err == nil:
		var fs visibility.Snapshot
		if err := json.Unmarshal(raw, &fs); err != nil {
			return nil, fmt.Errorf("decode floors of %s: %w", chat, err)
		}
		c.floors = visibility.Restore(fs)
	case isNotFound(err):
		haveFloors = false
	default:
		return nil, fmt.Errorf("read floors of %s: %w", chat, err)
	}

	fromSnapshot := make(map[models.MessageIndex]bool)
	loaded := false
	raw, err = kv.Get(keys.SnapshotKey(chat))
	switch {
	case err == nil:
		loaded = true
		var snap snapshotFile
		if err := json.Unmarshal(raw, &snap); err != nil {
			return nil, fmt.Errorf("decode snapshot of %s: %w", chat, err)
		}
		if snap.Version != snapshotVersion {
			return nil, fmt.Errorf("snapshot of %s has version %d, want %d", chat, snap.Version, snapshotVersion)
		}
		for _, ls := range snap.Logs {
			l := restoreList(chat, ls)
			if l.scope.IsThread() {
				marked, err := hasGCMarker(kv, l.prefix)
				if err != nil {
					return nil, err
				}
				if marked {
					continue
				}
				c.threads[*l.scope.ThreadRoot] = l
				fromSnapshot[*l.scope.ThreadRoot] = true
			} else {
				c.main = l
			}
		}
		for _, l := range c.lists() {
			if err := c.reconcile(ctx, l); err != nil {
				return nil, err
			}
		}
	case isNotFound(err):
		if err := c.reconcile(ctx, c.main); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("read snapshot of %s: %w", chat, err)
	}

	roots, err := durableThreadRoots(ctx, kv, chat)
	if err != nil {
		return nil, err
	}
	for _, root := range roots {
		if fromSnapshot[root] {
			continue
		}
		l := newList(models.ThreadLog(chat, root))
		marked, err := hasGCMarker(kv, l.prefix)
		if err != nil {
			return nil, err
		}
		if marked {
			continue
		}
		if err := c.reconcile(ctx, l); err != nil {
			return nil, err
		}
		c.threads[root] = l
	}

	if !haveFloors {
		if err := c.recoverRetentionFloor(ctx); err != nil {
			return nil, err
		}
	}
	logger.Debug("chat_opened", "chat", chat.String(), "threads", len(c.threads), "from_snapshot", loaded)
	return c, nil
}

func restoreList(chat models.ChatScope, ls logSnapshot) *eventsList {
	scope := models.MainLog(chat)
	if ls.ThreadRoot != nil {
		scope = models.ThreadLog(chat, *ls.ThreadRoot)
	}
	l := newList(scope)
	l.mem = ephemeral.Restore(ls.First, ls.Events)
	l.nextMessage = ls.NextMessage
	l.latestTS = ls.LatestTS
	for k, v := range ls.ByID {
		l.byID[k] = v
	}
	for k, v := range ls.ByMessage {
		l.byMessage[k] = v
	}
	return l
}

// reconcile aligns l with the durable tier. Memory events that were migrated
// after the checkpoint are dropped, and durable events the checkpoint never
// saw are replayed into the indices.
func (c *ChatEvents) reconcile(ctx context.Context, l *eventsList) error {
	durableNext, err := c.durableNext(ctx, l)
	if err != nil {
		return err
	}
	seen := l.mem.Next()
	if durableNext <= l.mem.First() {
		return nil
	}
	if durableNext >= seen {
		l.mem = ephemeral.New(durableNext)
	} else {
		l.mem.PopOldest(int(durableNext - l.mem.First()))
	}
	if seen >= durableNext {
		return nil
	}
	opts := db.ScanOptions{Lower: l.key(seen), Upper: l.key(durableNext)}
	return c.kv.Scan(ctx, opts, func(k, v []byte) (bool, error) {
		e, err := models.DecodeEvent(v)
		if err != nil {
			return false, fmt.Errorf("rebuild %s at %s: %w", l.scope, keys.Format(k), err)
		}
		l.index(e)
		return true, nil
	})
}

func (c *ChatEvents) durableNext(ctx context.Context, l *eventsList) (models.EventIndex, error) {
	opts := db.PrefixScan(l.prefix)
	opts.Reverse = true
	opts.Limit = 1
	var next models.EventIndex
	err := c.kv.Scan(ctx, opts, func(k, _ []byte) (bool, error) {
		_, idx, err := keys.ParseEventKey(k)
		if err != nil {
			return false, err
		}
		next = idx + 1
		return false, nil
	})
	if err != nil {
		return 0, fmt.Errorf("find durable tail of %s: %w", l.scope, err)
	}
	return next, nil
}

// durableThreadRoots skips through the thread key space one root at a time.
func durableThreadRoots(ctx context.Context, kv db.KV, chat models.ChatScope) ([]models.MessageIndex, error) {
	prefix := keys.ThreadsPrefix(chat)
	upper := keys.PrefixUpperBound(prefix)
	lower := prefix
	var roots []models.MessageIndex
	for {
		var found *models.MessageIndex
		err := kv.Scan(ctx, db.ScanOptions{Lower: lower, Upper: upper, Limit: 1}, func(k, _ []byte) (bool, error) {
			scope, _, err := keys.ParseEventKey(k)
			if err != nil {
				return false, err
			}
			found = scope.ThreadRoot
			return false, nil
		})
		if err != nil {
			return nil, fmt.Errorf("discover threads of %s: %w", chat, err)
		}
		if found == nil {
			break
		}
		roots = append(roots, *found)
		lower = keys.PrefixUpperBound(keys.LogPrefix(models.ThreadLog(chat, *found)))
		if lower == nil {
			break
		}
	}
	return roots, nil
}

// recoverRetentionFloor derives the floor from the leading run of Purged
// slots when the floors key is missing.
func (c *ChatEvents) recoverRetentionFloor(ctx context.Context) error {
	var floor models.EventIndex
	err := c.main.scan(ctx, c.kv, 0, c.main.next(), false, func(e models.Event) (bool, error) {
		if _, ok := e.Payload.(models.Purged); !ok {
			return false, nil
		}
		floor = e.Index + 1
		return true, nil
	})
	if err != nil {
		return err
	}
	if c.floors.RaiseRetention(floor) {
		return c.saveFloors()
	}
	return nil
}

// DiscoverChats lists every chat with durable events or a checkpoint, in key
// order. Chats pending deletion are left out.
func DiscoverChats(ctx context.Context, kv db.KV) ([]models.ChatScope, error) {
	seen := make(map[models.ChatScope]bool)
	var out []models.ChatScope
	add := func(chat models.ChatScope) error {
		if seen[chat] {
			return nil
		}
		seen[chat] = true
		marked, err := hasGCMarker(kv, keys.LogPrefix(models.MainLog(chat)))
		if err != nil {
			return err
		}
		if !marked {
			out = append(out, chat)
		}
		return nil
	}

	err := kv.Scan(ctx, db.PrefixScan(keys.SnapshotPrefix()), func(k, _ []byte) (bool, error) {
		chat, err := keys.ParseSnapshotKey(k)
		if err != nil {
			return false, err
		}
		return true, add(chat)
	})
	if err != nil {
		return nil, fmt.Errorf("scan snapshots: %w", err)
	}

	lower := []byte{keys.TagEvent}
	upper := keys.PrefixUpperBound(lower)
	for lower != nil {
		var found *models.ChatScope
		err := kv.Scan(ctx, db.ScanOptions{Lower: lower, Upper: upper, Limit: 1}, func(k, _ []byte) (bool, error) {
			scope, _, err := keys.ParseEventKey(k)
			if err != nil {
				return false, err
			}
			found = &scope.Chat
			return false, nil
		})
		if err != nil {
			return nil, fmt.Errorf("discover chats: %w", err)
		}
		if found == nil {
			break
		}
		if err := add(*found); err != nil {
			return nil, err
		}
		lower = keys.PrefixUpperBound(keys.ChatPrefix(*found))
	}
	sort.Slice(out, func(i, j int) bool {
		return string(keys.ChatPrefix(out[i])) < string(keys.ChatPrefix(out[j]))
	})
	return out, nil
}

package events

import (
	"context"
	"fmt"

	"chatevents/pkg/logger"
	"chatevents/pkg/models"
)

// DeleteHistoryBefore purges every main log event with a timestamp below
// args.Before. Purged slots keep their index and hold a Purged tombstone;
// threads rooted in the purged range are dropped and their prefixes marked
// for GC. The retention floor moves to the first surviving event.
func (c *ChatEvents) DeleteHistoryBefore(ctx context.Context, args DeleteHistoryArgs) (DeleteHistoryResult, error) {
	l := c.main
	start := c.floors.Retention()
	res := DeleteHistoryResult{Floor: start}

	var victims []models.Event
	err := l.scan(ctx, c.kv, start, l.next(), false, func(e models.Event) (bool, error) {
		if e.Timestamp >= args.Before {
			return false, nil
		}
		victims = append(victims, e)
		return true, nil
	})
	if err != nil {
		return res, err
	}
	if len(victims) == 0 {
		return res, nil
	}

	tombstone := func(e models.Event) models.Event {
		p := models.Purged{}
		if m, ok := e.AsMessage(); ok {
			mi := m.MessageIndex
			p.Message = &mi
		}
		return models.Event{Index: e.Index, Timestamp: e.Timestamp, Payload: p}
	}

	memFirst := l.mem.First()
	batch := c.kv.NewBatch()
	defer batch.Close()
	for _, e := range victims {
		if e.Index >= memFirst {
			continue
		}
		raw, err := models.EncodeEvent(tombstone(e))
		if err != nil {
			return res, fmt.Errorf("encode purged event %d of %s: %w", e.Index, l.scope, err)
		}
		if err := batch.Set(l.key(e.Index), raw); err != nil {
			return res, fmt.Errorf("stage purged event %d of %s: %w", e.Index, l.scope, err)
		}
	}
	if batch.Count() > 0 {
		if err := batch.Commit(ctx); err != nil {
			return res, fmt.Errorf("commit history purge for %s: %w", c.chat, err)
		}
	}

	var roots []models.MessageIndex
	for _, e := range victims {
		if m, ok := e.AsMessage(); ok {
			delete(l.byID, m.MessageID)
			delete(l.byMessage, m.MessageIndex)
			if _, ok := c.threads[m.MessageIndex]; ok {
				roots = append(roots, m.MessageIndex)
			}
		}
		if slot, ok := l.mem.Get(e.Index); ok {
			*slot = tombstone(e)
		}
	}
	for _, root := range roots {
		t := c.threads[root]
		if err := markForGC(c.kv, t.prefix, t.scope.String()); err != nil {
			return res, err
		}
		delete(c.threads, root)
		res.ThreadPrefixes = append(res.ThreadPrefixes, t.prefix)
	}

	res.Purged = uint32(len(victims))
	res.Floor = victims[len(victims)-1].Index + 1
	c.floors.RaiseRetention(res.Floor)
	if err := c.saveFloors(); err != nil {
		return res, err
	}
	ev := c.append(l, models.HistoryDeleted{DeletedBy: args.Caller, Before: args.Before, Purged: res.Purged}, args.CorrelationID, args.Now)
	res.EventIndex = ev.Index
	logger.Info("history_purged", "chat", c.chat.String(), "purged", res.Purged, "floor", res.Floor, "threads", len(roots))
	return res, nil
}

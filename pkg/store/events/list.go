package events

import (
	"context"
	"errors"
	"fmt"

	"chatevents/pkg/models"
	"chatevents/pkg/store/db"
	"chatevents/pkg/store/ephemeral"
	"chatevents/pkg/store/keys"
)

// eventsList is one log: a durable prefix [0, mem.First()) in the KV store
// and an in-memory suffix, plus the indices that make lookups O(1).
type eventsList struct {
	scope  models.LogScope
	prefix []byte
	mem    *ephemeral.Log

	latestTS    models.TimestampMillis
	nextMessage models.MessageIndex
	byID        map[models.MessageID]models.EventIndex
	byMessage   map[models.MessageIndex]models.EventIndex
}

func newList(scope models.LogScope) *eventsList {
	return &eventsList{
		scope:     scope,
		prefix:    keys.LogPrefix(scope),
		mem:       ephemeral.New(0),
		byID:      make(map[models.MessageID]models.EventIndex),
		byMessage: make(map[models.MessageIndex]models.EventIndex),
	}
}

func (l *eventsList) next() models.EventIndex { return l.mem.Next() }

func (l *eventsList) empty() bool { return l.mem.Next() == 0 }

func (l *eventsList) latest() (models.EventIndex, bool) {
	if l.empty() {
		return 0, false
	}
	return l.mem.Next() - 1, true
}

// stamp is the timestamp the next event of l gets: now, but never earlier
// than the newest event.
func (l *eventsList) stamp(now models.TimestampMillis) models.TimestampMillis {
	if now < l.latestTS {
		return l.latestTS
	}
	return now
}

// index records e in the lookup maps. Used by appends and by rebuilds.
func (l *eventsList) index(e models.Event) {
	if e.Timestamp > l.latestTS {
		l.latestTS = e.Timestamp
	}
	switch p := e.Payload.(type) {
	case *models.Message:
		l.byID[p.MessageID] = e.Index
		l.byMessage[p.MessageIndex] = e.Index
		if p.MessageIndex >= l.nextMessage {
			l.nextMessage = p.MessageIndex + 1
		}
	case models.Purged:
		if p.Message != nil && *p.Message >= l.nextMessage {
			l.nextMessage = *p.Message + 1
		}
	}
}

func (l *eventsList) key(idx models.EventIndex) []byte {
	return keys.EventKey(l.scope, idx)
}

// get loads one event from whichever tier holds it. The returned event is
// owned by the caller.
func (l *eventsList) get(kv db.KV, idx models.EventIndex) (models.Event, error) {
	if e, ok := l.mem.Get(idx); ok {
		return e.Clone(), nil
	}
	if idx >= l.next() {
		return models.Event{}, fmt.Errorf("%w: event %d of %s", ErrNotFound, idx, l.scope)
	}
	raw, err := kv.Get(l.key(idx))
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return models.Event{}, fmt.Errorf("%w: durable event %d of %s", ErrNotFound, idx, l.scope)
		}
		return models.Event{}, fmt.Errorf("read event %d of %s: %w", idx, l.scope, err)
	}
	return models.DecodeEvent(raw)
}

// scan visits events with indices in [lo, hi), ascending or descending,
// reading the durable prefix and the in-memory suffix as one sequence.
// Events are passed by value and may be retained.
func (l *eventsList) scan(ctx context.Context, kv db.KV, lo, hi models.EventIndex, reverse bool, fn func(models.Event) (bool, error)) error {
	if hi > l.next() {
		hi = l.next()
	}
	if lo >= hi {
		return nil
	}
	memFirst := l.mem.First()

	durable := func() (bool, error) {
		dHi := hi
		if dHi > memFirst {
			dHi = memFirst
		}
		if lo >= dHi {
			return true, nil
		}
		cont := true
		err := kv.Scan(ctx, db.ScanOptions{Lower: l.key(lo), Upper: l.key(dHi), Reverse: reverse}, func(k, v []byte) (bool, error) {
			e, err := models.DecodeEvent(v)
			if err != nil {
				return false, fmt.Errorf("%s at %s: %w", l.scope, keys.Format(k), err)
			}
			cont, err = fn(e)
			return cont, err
		})
		return cont, err
	}
	memory := func() (bool, error) {
		mLo := lo
		if mLo < memFirst {
			mLo = memFirst
		}
		if mLo >= hi {
			return true, nil
		}
		evs := l.mem.Events()[mLo-memFirst : hi-memFirst]
		for i := range evs {
			e := evs[i]
			if reverse {
				e = evs[len(evs)-1-i]
			}
			cont, err := fn(e.Clone())
			if err != nil || !cont {
				return false, err
			}
		}
		return true, nil
	}

	first, second := durable, memory
	if reverse {
		first, second = memory, durable
	}
	cont, err := first()
	if err != nil || !cont {
		return err
	}
	_, err = second()
	return err
}

// messageEvent resolves a message id to its event index.
func (l *eventsList) messageEvent(id models.MessageID) (models.EventIndex, bool) {
	idx, ok := l.byID[id]
	return idx, ok
}

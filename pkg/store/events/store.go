// Package events implements the per-chat event log: a main log plus one log
// per thread, each split into a durable prefix and an in-memory suffix.
//
// A ChatEvents value is not safe for concurrent use; chats.Registry
// serialises access per chat.
package events

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"chatevents/pkg/models"
	"chatevents/pkg/store/db"
	"chatevents/pkg/store/visibility"
)

// MaxEventsPerRead caps every page regardless of the requested size.
const MaxEventsPerRead = 10_000

// Observer is notified of store activity. Implementations must be cheap.
type Observer interface {
	EventAppended(kind models.EventKind)
	EventsMigrated(n int)
	SearchCompleted(elapsed time.Duration)
}

type noopObserver struct{}

func (noopObserver) EventAppended(models.EventKind) {}
func (noopObserver) EventsMigrated(int)             {}
func (noopObserver) SearchCompleted(time.Duration)  {}

// Options tunes a ChatEvents. The zero value is usable.
type Options struct {
	Observer Observer
}

// ChatEvents owns every log of one chat.
type ChatEvents struct {
	chat     models.ChatScope
	kv       db.KV
	observer Observer

	main    *eventsList
	threads map[models.MessageIndex]*eventsList
	floors  *visibility.Floors
}

func newChatEvents(chat models.ChatScope, kv db.KV, opts Options) (*ChatEvents, error) {
	if err := chat.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	if kv == nil {
		return nil, fmt.Errorf("%w: nil store", ErrInvalidArgument)
	}
	obs := opts.Observer
	if obs == nil {
		obs = noopObserver{}
	}
	return &ChatEvents{
		chat:     chat,
		kv:       kv,
		observer: obs,
		main:     newList(models.MainLog(chat)),
		threads:  make(map[models.MessageIndex]*eventsList),
		floors:   visibility.New(),
	}, nil
}

func (c *ChatEvents) Chat() models.ChatScope { return c.chat }

// list resolves a thread root (nil for the main log).
func (c *ChatEvents) list(root *models.MessageIndex) (*eventsList, error) {
	if root == nil {
		return c.main, nil
	}
	l, ok := c.threads[*root]
	if !ok {
		return nil, fmt.Errorf("%w: thread %d in %s", ErrNotFound, *root, c.chat)
	}
	return l, nil
}

// floor is the effective visibility floor for a read or viewer-scoped
// mutation. A thread is only reachable while its root is visible in the main
// log; inside it everything from index zero is visible.
func (c *ChatEvents) floor(l *eventsList, viewer models.UserID, requested models.EventIndex) (models.EventIndex, error) {
	if !l.scope.IsThread() {
		return c.floors.Effective(l.scope, viewer, requested), nil
	}
	rootEvent, ok := c.main.byMessage[*l.scope.ThreadRoot]
	if !ok || rootEvent < c.floors.Effective(c.main.scope, viewer, requested) {
		return 0, fmt.Errorf("%w: thread %d in %s", ErrNotFound, *l.scope.ThreadRoot, c.chat)
	}
	return c.floors.Effective(l.scope, viewer, requested), nil
}

// append adds payload at the tail of l with a non-decreasing timestamp.
func (c *ChatEvents) append(l *eventsList, payload models.Payload, correlationID uint64, now models.TimestampMillis) models.Event {
	e := models.Event{Index: l.next(), Timestamp: l.stamp(now), CorrelationID: correlationID, Payload: payload}
	l.mem.Append(e)
	l.index(e)
	c.observer.EventAppended(payload.Kind())
	return e
}

// message loads the current view of a visible message by id.
func (c *ChatEvents) message(l *eventsList, id models.MessageID, floor models.EventIndex) (models.EventIndex, *models.Message, error) {
	idx, ok := l.messageEvent(id)
	if !ok || idx < floor {
		return 0, nil, fmt.Errorf("%w: message %s in %s", ErrNotFound, id, l.scope)
	}
	e, err := l.get(c.kv, idx)
	if err != nil {
		return 0, nil, err
	}
	m, ok := e.AsMessage()
	if !ok {
		return 0, nil, fmt.Errorf("event %d of %s indexed as message but holds %s", idx, l.scope, e.Payload.Kind())
	}
	return idx, m, nil
}

// mutateMessage applies fn to the stored view of the message event at idx,
// in whichever tier holds it. fn works on a copy, so an error leaves the
// store untouched.
func (c *ChatEvents) mutateMessage(l *eventsList, idx models.EventIndex, fn func(*models.Message) error) (*models.Message, error) {
	if e, ok := l.mem.Get(idx); ok {
		m, ok := e.AsMessage()
		if !ok {
			return nil, fmt.Errorf("event %d of %s is %s, not a message", idx, l.scope, e.Payload.Kind())
		}
		next := m.Clone()
		if err := fn(next); err != nil {
			return nil, err
		}
		e.Payload = next
		return next, nil
	}
	e, err := l.get(c.kv, idx)
	if err != nil {
		return nil, err
	}
	m, ok := e.AsMessage()
	if !ok {
		return nil, fmt.Errorf("event %d of %s is %s, not a message", idx, l.scope, e.Payload.Kind())
	}
	if err := fn(m); err != nil {
		return nil, err
	}
	e.Payload = m
	raw, err := models.EncodeEvent(e)
	if err != nil {
		return nil, fmt.Errorf("encode event %d of %s: %w", idx, l.scope, err)
	}
	if err := c.kv.Set(l.key(idx), raw); err != nil {
		return nil, fmt.Errorf("write event %d of %s: %w", idx, l.scope, err)
	}
	return m, nil
}

// LatestEventIndex returns the newest index of a log; ok is false for an empty log.
func (c *ChatEvents) LatestEventIndex(threadRoot *models.MessageIndex) (models.EventIndex, bool, error) {
	l, err := c.list(threadRoot)
	if err != nil {
		return 0, false, err
	}
	idx, ok := l.latest()
	return idx, ok, nil
}

// ThreadRoots lists the message indices that have a thread, ascending.
func (c *ChatEvents) ThreadRoots() []models.MessageIndex {
	out := make([]models.MessageIndex, 0, len(c.threads))
	for r := range c.threads {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// lists returns the main log followed by thread logs in root order.
func (c *ChatEvents) lists() []*eventsList {
	out := make([]*eventsList, 0, 1+len(c.threads))
	out = append(out, c.main)
	for _, r := range c.ThreadRoots() {
		out = append(out, c.threads[r])
	}
	return out
}

// HasEphemeralEvents reports whether any log holds events not yet migrated.
func (c *ChatEvents) HasEphemeralEvents() bool {
	for _, l := range c.lists() {
		if !l.mem.Empty() {
			return true
		}
	}
	return false
}

// Stats summarises one chat.
type Stats struct {
	Chat            models.ChatScope
	Threads         int
	Events          uint64
	EphemeralEvents int
	RetentionFloor  models.EventIndex
}

func (c *ChatEvents) Stats() Stats {
	s := Stats{Chat: c.chat, Threads: len(c.threads), RetentionFloor: c.floors.Retention()}
	for _, l := range c.lists() {
		s.Events += uint64(l.next())
		s.EphemeralEvents += l.mem.Len()
	}
	return s
}

// RaiseVisibilityFloor moves viewer's main log floor up to idx. Lower values
// are a no-op. The floor is written through to the durable tier.
func (c *ChatEvents) RaiseVisibilityFloor(viewer models.UserID, idx models.EventIndex) (bool, error) {
	if viewer == "" {
		return false, fmt.Errorf("%w: viewer is required", ErrInvalidArgument)
	}
	if !c.floors.Raise(viewer, idx) {
		return false, nil
	}
	if err := c.saveFloors(); err != nil {
		return true, err
	}
	return true, nil
}

// VisibilityFloor reports the effective main log floor for viewer.
func (c *ChatEvents) VisibilityFloor(viewer models.UserID) models.EventIndex {
	return c.floors.Effective(c.main.scope, viewer, 0)
}

func isNotFound(err error) bool { return errors.Is(err, db.ErrNotFound) }

// Package ephemeral holds the in-memory suffix of an event log.
package ephemeral

import (
	"chatevents/pkg/models"
)

// Log is a contiguous run of events [First, First+Len). Appends go to the
// tail, migration pops from the head.
type Log struct {
	first  models.EventIndex
	events []models.Event
}

// New returns an empty log whose next append must carry index first.
func New(first models.EventIndex) *Log {
	return &Log{first: first}
}

// Restore builds a log from events that are already contiguous.
func Restore(first models.EventIndex, events []models.Event) *Log {
	return &Log{first: first, events: events}
}

func (l *Log) Len() int { return len(l.events) }

func (l *Log) Empty() bool { return len(l.events) == 0 }

// First is the index of the oldest held event, or of the next append when empty.
func (l *Log) First() models.EventIndex { return l.first }

// Next is the index the next append must carry.
func (l *Log) Next() models.EventIndex { return l.first + models.EventIndex(len(l.events)) }

// Contains reports whether idx is held in memory.
func (l *Log) Contains(idx models.EventIndex) bool {
	return idx >= l.first && idx < l.Next()
}

// Append adds e, which must carry index Next.
func (l *Log) Append(e models.Event) bool {
	if e.Index != l.Next() {
		return false
	}
	l.events = append(l.events, e)
	return true
}

// Get returns a pointer into the log so callers can mutate the current view.
// The pointer is invalidated by Append and PopOldest.
func (l *Log) Get(idx models.EventIndex) (*models.Event, bool) {
	if !l.Contains(idx) {
		return nil, false
	}
	return &l.events[idx-l.first], true
}

// Oldest returns up to n events from the head without removing them.
func (l *Log) Oldest(n int) []models.Event {
	if n > len(l.events) {
		n = len(l.events)
	}
	return l.events[:n]
}

// PopOldest drops n events from the head.
func (l *Log) PopOldest(n int) {
	if n > len(l.events) {
		n = len(l.events)
	}
	l.first += models.EventIndex(n)
	// zero popped slots so message views can be collected
	for i := 0; i < n; i++ {
		l.events[i] = models.Event{}
	}
	l.events = l.events[n:]
	if len(l.events) == 0 {
		l.events = nil
	}
}

// Events returns the held events; callers must not retain or mutate the slice.
func (l *Log) Events() []models.Event { return l.events }

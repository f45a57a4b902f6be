// Package visibility centralises the minimum-visible-event policy.
//
// A read is clamped to the largest of the floor requested by the caller, the
// viewer's own floor (e.g. the index they joined at) and the chat-wide
// retention floor. Thread logs always expose their full history.
package visibility

import (
	"sort"

	"chatevents/pkg/models"
)

// Floors holds the monotonic floors of one chat's main log.
type Floors struct {
	retention models.EventIndex
	viewers   map[models.UserID]models.EventIndex
}

func New() *Floors {
	return &Floors{viewers: make(map[models.UserID]models.EventIndex)}
}

// Raise moves a viewer's floor up to idx. Lower values are ignored; it
// reports whether the floor changed.
func (f *Floors) Raise(viewer models.UserID, idx models.EventIndex) bool {
	if f.viewers == nil {
		f.viewers = make(map[models.UserID]models.EventIndex)
	}
	if cur, ok := f.viewers[viewer]; ok && cur >= idx {
		return false
	}
	f.viewers[viewer] = idx
	return true
}

// RaiseRetention moves the chat-wide floor up to idx.
func (f *Floors) RaiseRetention(idx models.EventIndex) bool {
	if idx <= f.retention {
		return false
	}
	f.retention = idx
	return true
}

func (f *Floors) Retention() models.EventIndex { return f.retention }

// Viewer returns the floor recorded for viewer alone.
func (f *Floors) Viewer(viewer models.UserID) models.EventIndex {
	return f.viewers[viewer]
}

// Effective is the floor a read of log by viewer must honour.
func (f *Floors) Effective(log models.LogScope, viewer models.UserID, requested models.EventIndex) models.EventIndex {
	if log.IsThread() {
		return 0
	}
	floor := requested
	if v := f.viewers[viewer]; v > floor {
		floor = v
	}
	if f.retention > floor {
		floor = f.retention
	}
	return floor
}

// Snapshot is the persisted form of Floors.
type Snapshot struct {
	Retention models.EventIndex                  `json:"retention,omitempty"`
	Viewers   map[models.UserID]models.EventIndex `json:"viewers,omitempty"`
}

func (f *Floors) Snapshot() Snapshot {
	s := Snapshot{Retention: f.retention}
	if len(f.viewers) > 0 {
		s.Viewers = make(map[models.UserID]models.EventIndex, len(f.viewers))
		for k, v := range f.viewers {
			s.Viewers[k] = v
		}
	}
	return s
}

// Restore rebuilds floors from a snapshot.
func Restore(s Snapshot) *Floors {
	f := New()
	f.retention = s.Retention
	for k, v := range s.Viewers {
		f.viewers[k] = v
	}
	return f
}

// ViewerIDs lists viewers with an explicit floor, sorted.
func (f *Floors) ViewerIDs() []models.UserID {
	out := make([]models.UserID, 0, len(f.viewers))
	for k := range f.viewers {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

package timeutil

import (
	"sync"
	"time"
)

// Clock is the wall-clock source used by the store and its background jobs.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// System returns the process wall clock.
func System() Clock { return systemClock{} }

var (
	defaultMu    sync.RWMutex
	defaultClock Clock = NewMonotonic(System())
)

// Now returns the time from the default clock.
func Now() time.Time {
	defaultMu.RLock()
	c := defaultClock
	defaultMu.RUnlock()
	return c.Now()
}

// NowMillis returns the default clock as unix milliseconds.
func NowMillis() uint64 {
	return Millis(Now())
}

// SetDefault replaces the default clock and returns a restore function.
func SetDefault(c Clock) func() {
	defaultMu.Lock()
	prev := defaultClock
	defaultClock = c
	defaultMu.Unlock()
	return func() {
		defaultMu.Lock()
		defaultClock = prev
		defaultMu.Unlock()
	}
}

// Millis converts t to unix milliseconds, clamping times before the epoch to zero.
func Millis(t time.Time) uint64 {
	ms := t.UnixMilli()
	if ms < 0 {
		return 0
	}
	return uint64(ms)
}

// FromMillis converts unix milliseconds back to a time.Time in UTC.
func FromMillis(ms uint64) time.Time {
	return time.UnixMilli(int64(ms)).UTC()
}

// Monotonic wraps a clock so that successive readings never go backwards.
type Monotonic struct {
	mu    sync.Mutex
	inner Clock
	last  time.Time
}

func NewMonotonic(inner Clock) *Monotonic {
	return &Monotonic{inner: inner}
}

func (m *Monotonic) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.inner.Now()
	if now.Before(m.last) {
		return m.last
	}
	m.last = now
	return now
}

// Manual is a clock that only moves when told to. Used by tests and the bench command.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) Advance(d time.Duration) time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = m.now.Add(d)
	return m.now
}

func (m *Manual) Set(t time.Time) {
	m.mu.Lock()
	m.now = t
	m.mu.Unlock()
}

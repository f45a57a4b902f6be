// Package sensor watches disk usage of the storage directory.
package sensor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"chatevents/pkg/logger"
	"chatevents/pkg/timeutil"
)

// Reading is one disk usage sample.
type Reading struct {
	Total     uint64
	Available uint64
	UsedPct   float64
}

// StatFunc samples disk usage at path.
type StatFunc func(path string) (Reading, error)

// Statfs samples disk usage with statfs(2).
func Statfs(path string) (Reading, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return Reading{}, fmt.Errorf("statfs %s: %w", path, err)
	}
	r := Reading{
		Total:     st.Blocks * uint64(st.Bsize),
		Available: st.Bavail * uint64(st.Bsize),
	}
	if r.Total > 0 {
		r.UsedPct = float64(r.Total-r.Available) / float64(r.Total) * 100
	}
	return r, nil
}

// Config holds the alert thresholds. The alert raises above HighPct and
// clears once usage has stayed below LowPct for RecoveryWindow.
type Config struct {
	Path           string
	PollInterval   time.Duration
	HighPct        int
	LowPct         int
	RecoveryWindow time.Duration
}

// Sensor tracks one directory. It is safe for concurrent use.
type Sensor struct {
	cfg    Config
	stat   StatFunc
	clock  timeutil.Clock
	onRead func(Reading)

	mu       sync.Mutex
	last     Reading
	alert    bool
	lowSince time.Time
}

// New builds a Sensor. A nil stat uses Statfs; onRead, if set, is called
// with every successful sample.
func New(cfg Config, stat StatFunc, clock timeutil.Clock, onRead func(Reading)) *Sensor {
	if stat == nil {
		stat = Statfs
	}
	if clock == nil {
		clock = timeutil.System()
	}
	return &Sensor{cfg: cfg, stat: stat, clock: clock, onRead: onRead}
}

// Check takes one sample and updates the alert state.
func (s *Sensor) Check() (Reading, error) {
	r, err := s.stat(s.cfg.Path)
	if err != nil {
		return r, err
	}
	now := s.clock.Now()
	s.mu.Lock()
	s.last = r
	switch {
	case r.UsedPct > float64(s.cfg.HighPct):
		if !s.alert {
			logger.Warn("disk_usage_high", "path", s.cfg.Path, "used_pct", r.UsedPct, "threshold", s.cfg.HighPct)
		}
		s.alert = true
		s.lowSince = time.Time{}
	case s.alert && r.UsedPct < float64(s.cfg.LowPct):
		if s.lowSince.IsZero() {
			s.lowSince = now
		}
		if now.Sub(s.lowSince) >= s.cfg.RecoveryWindow {
			logger.Info("disk_usage_recovered", "path", s.cfg.Path, "used_pct", r.UsedPct)
			s.alert = false
			s.lowSince = time.Time{}
		}
	case s.alert:
		s.lowSince = time.Time{}
	}
	s.mu.Unlock()
	if s.onRead != nil {
		s.onRead(r)
	}
	return r, nil
}

// Alert reports whether disk usage is currently considered high.
func (s *Sensor) Alert() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.alert
}

// Last returns the most recent sample.
func (s *Sensor) Last() Reading {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Run samples every PollInterval until ctx is done.
func (s *Sensor) Run(ctx context.Context) error {
	if _, err := s.Check(); err != nil {
		logger.Error("disk_stat_failed", "path", s.cfg.Path, "error", err)
	}
	t := time.NewTicker(s.cfg.PollInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if _, err := s.Check(); err != nil {
				logger.Error("disk_stat_failed", "path", s.cfg.Path, "error", err)
			}
		}
	}
}

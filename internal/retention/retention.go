package retention

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/google/uuid"

	"chatevents/pkg/config"
	"chatevents/pkg/logger"
	"chatevents/pkg/models"
	"chatevents/pkg/store/chats"
	"chatevents/pkg/store/events"
	"chatevents/pkg/timeutil"
)

const retentionCaller models.UserID = "system:retention"

// ErrRunInProgress is returned by RunOnce while another run is active.
var ErrRunInProgress = errors.New("retention run already in progress")

// RunResult summarises one retention run.
type RunResult struct {
	RunID  string
	Cutoff time.Time
	// Skipped is set when another process holds the lease.
	Skipped bool
	Chats   int
	Purged  uint32
	// ThreadPrefixes counts dropped thread logs; the runner's GC pass collects them.
	ThreadPrefixes int
	Failed         int
}

// Manager purges history older than the retention period on a cron schedule.
type Manager struct {
	reg   *chats.Registry
	cfg   config.RetentionConfig
	clock timeutil.Clock
	lease *FileLease
	owner string

	mu      sync.Mutex
	running bool
}

// NewManager builds a Manager. leaseDir is the directory holding
// retention.lock; an empty leaseDir disables the lease.
func NewManager(reg *chats.Registry, cfg config.RetentionConfig, leaseDir string, clock timeutil.Clock) *Manager {
	if clock == nil {
		clock = timeutil.System()
	}
	m := &Manager{reg: reg, cfg: cfg, clock: clock, owner: uuid.NewString()}
	if leaseDir != "" {
		m.lease = NewFileLease(leaseDir, clock)
	}
	return m
}

// Run waits for each cron tick and runs a purge until ctx is done.
func (m *Manager) Run(ctx context.Context) error {
	if !m.cfg.Enabled {
		logger.Info("retention_disabled")
		<-ctx.Done()
		return nil
	}
	logger.Info("retention_enabled", "cron", m.cfg.Cron, "period", m.cfg.Period, "dry_run", m.cfg.DryRun)
	for {
		next, err := gronx.NextTickAfter(m.cfg.Cron, m.clock.Now(), false)
		if err != nil {
			logger.Error("retention_nexttick_failed", "cron", m.cfg.Cron, "error", err)
			next = m.clock.Now().Add(30 * time.Second)
		}
		wait := next.Sub(m.clock.Now())
		if wait < time.Second {
			wait = time.Second
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
		if err == nil {
			if _, err := m.RunOnce(ctx); err != nil && !errors.Is(err, ErrRunInProgress) && ctx.Err() == nil {
				logger.Error("retention_run_error", "error", err)
			}
		}
	}
}

// RunOnce purges every loaded chat's history older than now-Period.
func (m *Manager) RunOnce(ctx context.Context) (RunResult, error) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return RunResult{}, ErrRunInProgress
	}
	m.running = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
	}()

	res := RunResult{RunID: uuid.NewString()}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if m.lease != nil {
		ok, err := m.lease.Acquire(m.owner, m.cfg.LockTTL.Duration())
		if err != nil {
			return res, fmt.Errorf("lease acquire failed: %w", err)
		}
		if !ok {
			logger.Info("retention_lease_not_acquired", "run_id", res.RunID)
			res.Skipped = true
			return res, nil
		}
		defer func() {
			if err := m.lease.Release(m.owner); err != nil {
				logger.Error("retention_lease_release_error", "error", err)
			}
		}()
		go m.heartbeat(runCtx, cancel)
	}

	now := m.clock.Now()
	res.Cutoff = now.Add(-m.cfg.Period.Duration())
	before := models.TimestampMillis(timeutil.Millis(res.Cutoff))
	logger.AuditInfo("retention_audit_header", "run_id", res.RunID, "started_at", now.Format(time.RFC3339), "cutoff", res.Cutoff.Format(time.RFC3339), "dry_run", m.cfg.DryRun)

	for _, scope := range m.reg.Scopes() {
		if err := runCtx.Err(); err != nil {
			return res, fmt.Errorf("retention run aborted: %w", err)
		}
		res.Chats++
		var (
			purged  uint32
			threads int
			status  = "success"
		)
		err := m.reg.WithLoaded(runCtx, scope, func(c *events.ChatEvents) error {
			if m.cfg.DryRun {
				n, err := countBefore(runCtx, c, before)
				purged = n
				return err
			}
			out, err := c.DeleteHistoryBefore(runCtx, events.DeleteHistoryArgs{
				Caller: retentionCaller,
				Before: before,
				Now:    models.TimestampMillis(timeutil.Millis(now)),
			})
			purged, threads = out.Purged, len(out.ThreadPrefixes)
			return err
		})
		switch {
		case errors.Is(err, chats.ErrDeleted):
			res.Chats--
			continue
		case err != nil:
			status = "failed"
			res.Failed++
			logger.Error("retention_purge_failed", "chat", scope.String(), "error", err)
		case m.cfg.DryRun:
			status = "dry_run"
		}
		if purged == 0 && err == nil {
			continue
		}
		res.Purged += purged
		res.ThreadPrefixes += threads
		logger.AuditInfo("retention_audit_item", "run_id", res.RunID, "chat", scope.String(), "events", purged, "threads", threads, "status", status)
	}

	logger.AuditInfo("retention_audit_footer", "run_id", res.RunID, "chats", res.Chats, "purged", res.Purged, "threads", res.ThreadPrefixes, "failed", res.Failed)
	logger.Info("retention_run_complete", "run_id", res.RunID, "chats", res.Chats, "purged", res.Purged, "dry_run", m.cfg.DryRun)
	if res.Failed > 0 {
		return res, fmt.Errorf("retention: %d chats failed", res.Failed)
	}
	return res, nil
}

// heartbeat renews the lease and aborts the run after repeated failures.
func (m *Manager) heartbeat(ctx context.Context, abort context.CancelFunc) {
	ttl := m.cfg.LockTTL.Duration()
	t := time.NewTicker(ttl / 3)
	defer t.Stop()
	const maxConsecutiveRenewFails = 3
	fails := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := m.lease.Renew(m.owner, ttl); err != nil {
				fails++
				logger.Error("retention_lease_renew_failed", "error", err, "count", fails)
				if fails >= maxConsecutiveRenewFails {
					abort()
					return
				}
				continue
			}
			fails = 0
		}
	}
}

// countBefore counts visible main log events older than before.
func countBefore(ctx context.Context, c *events.ChatEvents, before models.TimestampMillis) (uint32, error) {
	const page = 1000
	var n uint32
	start := c.Stats().RetentionFloor
	for {
		evs, err := c.FromIndex(ctx, events.EventsArgs{Start: start, Ascending: true, MaxEvents: page})
		if errors.Is(err, events.ErrOutOfRange) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		for _, e := range evs {
			if e.Timestamp >= before {
				return n, nil
			}
			n++
		}
		if len(evs) < page {
			return n, nil
		}
		start = evs[len(evs)-1].Index + 1
	}
}

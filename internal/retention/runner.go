// Package retention runs the store's background work: migration slices,
// GC continuations, periodic checkpoints and cron-driven history retention.
package retention

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"chatevents/pkg/budget"
	"chatevents/pkg/config"
	"chatevents/pkg/logger"
	"chatevents/pkg/store/chats"
	"chatevents/pkg/store/events"
	"chatevents/pkg/timeutil"
)

// Observer receives runner activity. *metrics.Collector implements it.
type Observer interface {
	ObserveTick(outcome string, elapsed time.Duration)
	KeysCollected(n int)
	SetLoad(chats, ephemeral int)
}

type noopObserver struct{}

func (noopObserver) ObserveTick(string, time.Duration) {}
func (noopObserver) KeysCollected(int)                {}
func (noopObserver) SetLoad(int, int)                 {}

// TickReport summarises one Runner tick.
type TickReport struct {
	Migrated    uint32
	Rescheduled int
	Collected   int
	PendingGC   int
}

func (r TickReport) outcome() string {
	switch {
	case r.Rescheduled > 0 || r.PendingGC > 0:
		return "rescheduled"
	case r.Migrated > 0 || r.Collected > 0:
		return "progress"
	default:
		return "idle"
	}
}

// Runner drives migration and GC for every chat in a registry.
type Runner struct {
	reg      *chats.Registry
	mig      config.MigrationConfig
	gc       config.GCConfig
	clock    timeutil.Clock
	limiter  *rate.Limiter
	observer Observer
}

func NewRunner(reg *chats.Registry, cfg *config.Config, clock timeutil.Clock, obs Observer) *Runner {
	if clock == nil {
		clock = timeutil.System()
	}
	if obs == nil {
		obs = noopObserver{}
	}
	r := &Runner{reg: reg, mig: cfg.Migration, gc: cfg.GC, clock: clock, observer: obs}
	if cfg.Migration.OpsPerSecond > 0 {
		r.limiter = rate.NewLimiter(rate.Limit(cfg.Migration.OpsPerSecond), cfg.Migration.Burst)
	}
	return r
}

// sliceBudget bounds one chat's migration work within a tick.
func (r *Runner) sliceBudget() budget.Budget {
	parts := []budget.Budget{budget.Deadline(r.clock, r.mig.SliceBudget.Duration())}
	if r.limiter != nil {
		parts = append(parts, budget.NewRate(r.limiter, r.clock))
	}
	return budget.All(parts...)
}

// Tick runs one migration slice per chat followed by one bounded GC pass.
func (r *Runner) Tick(ctx context.Context) (TickReport, error) {
	start := r.clock.Now()
	var (
		rep  TickReport
		errs []error
	)
	if r.mig.IsEnabled() {
		for _, scope := range r.reg.Scopes() {
			if err := ctx.Err(); err != nil {
				return rep, err
			}
			p, err := r.reg.Migrate(ctx, scope, r.sliceBudget())
			rep.Migrated += p.Migrated
			if p.Rescheduled {
				rep.Rescheduled++
			}
			if err != nil && !errors.Is(err, chats.ErrDeleted) {
				errs = append(errs, fmt.Errorf("migrate %s: %w", scope, err))
			}
		}
	}

	n, pending, err := r.collect(ctx)
	rep.Collected, rep.PendingGC = n, pending
	if err != nil {
		errs = append(errs, err)
	}

	if stats, err := r.reg.Stats(ctx); err == nil {
		eph := 0
		for _, s := range stats {
			eph += s.EphemeralEvents
		}
		r.observer.SetLoad(len(stats), eph)
	}

	err = errors.Join(errs...)
	outcome := rep.outcome()
	if err != nil {
		outcome = "error"
	}
	r.observer.ObserveTick(outcome, r.clock.Now().Sub(start))
	return rep, err
}

// collect continues pending prefix deletions within the per-tick key budget.
// It returns the keys deleted and how many markers remain.
func (r *Runner) collect(ctx context.Context) (int, int, error) {
	kv := r.reg.KV()
	markers, err := events.PendingGCMarkers(ctx, kv)
	if err != nil {
		return 0, 0, fmt.Errorf("list gc markers: %w", err)
	}
	b := budget.NewOps(r.gc.KeysPerTick)
	deleted := 0
	remaining := len(markers)
	for _, prefix := range markers {
		if b.Exceeded() {
			break
		}
		n, err := events.GarbageCollectBatched(ctx, kv, prefix, b, r.gc.BatchSize)
		deleted += n
		if n > 0 {
			r.observer.KeysCollected(n)
		}
		if errors.Is(err, budget.ErrBudgetExceeded) {
			break
		}
		if err != nil {
			return deleted, remaining, err
		}
		remaining--
	}
	return deleted, remaining, nil
}

// Run ticks until ctx is done, checkpointing every chat on its own interval.
func (r *Runner) Run(ctx context.Context) error {
	tick := time.NewTicker(r.mig.TickInterval.Duration())
	defer tick.Stop()
	checkpoint := time.NewTicker(r.mig.CheckpointInterval.Duration())
	defer checkpoint.Stop()

	logger.Info("runner_started", "tick", r.mig.TickInterval, "checkpoint", r.mig.CheckpointInterval, "migration", r.mig.IsEnabled())
	for {
		select {
		case <-ctx.Done():
			logger.Info("runner_stopped")
			return nil
		case <-tick.C:
			rep, err := r.Tick(ctx)
			if err != nil && ctx.Err() == nil {
				logger.Error("runner_tick_failed", "error", err)
			}
			if rep.Migrated > 0 || rep.Collected > 0 {
				logger.Debug("runner_tick", "migrated", rep.Migrated, "rescheduled", rep.Rescheduled, "gc_deleted", rep.Collected, "gc_pending", rep.PendingGC)
			}
		case <-checkpoint.C:
			if err := r.reg.CheckpointAll(ctx); err != nil {
				logger.Error("checkpoint_failed", "error", err)
			}
		}
	}
}

// Shutdown drains every chat's ephemeral tier and checkpoints. It ignores
// the migration enabled flag.
func (r *Runner) Shutdown(ctx context.Context) error {
	var errs []error
	migrated := uint32(0)
	for _, scope := range r.reg.Scopes() {
		p, err := r.reg.Migrate(ctx, scope, budget.Unlimited())
		migrated += p.Migrated
		if err != nil && !errors.Is(err, chats.ErrDeleted) {
			errs = append(errs, fmt.Errorf("drain %s: %w", scope, err))
		}
	}
	if err := r.reg.CheckpointAll(ctx); err != nil {
		errs = append(errs, err)
	}
	logger.Info("runner_drained", "migrated", migrated)
	return errors.Join(errs...)
}

// Package app wires configuration, storage, the chat registry, background
// runners and the diagnostics listener into one process.
package app

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/valyala/fasthttp"
	"golang.org/x/sync/errgroup"

	"chatevents/internal/retention"
	"chatevents/pkg/config"
	"chatevents/pkg/config/banner"
	"chatevents/pkg/logger"
	"chatevents/pkg/metrics"
	"chatevents/pkg/progressor"
	"chatevents/pkg/sensor"
	"chatevents/pkg/store/chats"
	"chatevents/pkg/store/db"
	"chatevents/pkg/store/events"
	"chatevents/pkg/timeutil"
)

const auditFile = "retention_audit.jsonl"

// App groups server state and components.
type App struct {
	cfg     *config.Config
	src     config.Source
	version string

	kv        db.KV
	reg       *chats.Registry
	promReg   *prometheus.Registry
	metrics   *metrics.Collector
	runner    *retention.Runner
	retention *retention.Manager
	disk      *sensor.Sensor

	srv        *fasthttp.Server
	ready      atomic.Bool
	closeAudit func() error
}

// New opens storage and loads every chat. It does not start background work
// or the listener; call Run for that.
func New(ctx context.Context, cfg *config.Config, src config.Source, version string) (*App, error) {
	a := &App{cfg: cfg, src: src, version: version, promReg: prometheus.NewRegistry()}
	a.promReg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.New(a.promReg)

	kv, leaseDir, err := OpenStorage(cfg.Storage, a.metrics)
	if err != nil {
		return nil, err
	}
	a.kv = kv
	if _, err := progressor.Run(ctx, kv, nil); err != nil {
		_ = kv.Close()
		return nil, err
	}
	a.reg = chats.NewRegistry(kv, chats.Options{
		Events:         events.Options{Observer: a.metrics},
		MigrationBatch: cfg.Migration.BatchSize,
		GCBatch:        cfg.GC.BatchSize,
	})

	start := time.Now()
	n, err := a.reg.LoadAll(ctx)
	if err != nil {
		_ = kv.Close()
		return nil, fmt.Errorf("load chats: %w", err)
	}
	logger.Info("chats_loaded", "count", n, "took", time.Since(start))

	if leaseDir != "" && cfg.Retention.Enabled {
		closeAudit, err := logger.AttachAuditFile(filepath.Join(leaseDir, auditFile))
		if err != nil {
			_ = kv.Close()
			return nil, err
		}
		a.closeAudit = closeAudit
	}

	clock := timeutil.NewMonotonic(timeutil.System())
	if leaseDir != "" {
		a.disk = sensor.New(sensor.Config{
			Path:           leaseDir,
			PollInterval:   cfg.Sensor.PollInterval.Duration(),
			HighPct:        cfg.Sensor.DiskHighPct,
			LowPct:         cfg.Sensor.DiskLowPct,
			RecoveryWindow: cfg.Sensor.RecoveryWindow.Duration(),
		}, nil, clock, func(r sensor.Reading) { a.metrics.ObserveDisk(r.UsedPct, r.Available) })
	}
	a.runner = retention.NewRunner(a.reg, cfg, clock, a.metrics)
	a.retention = retention.NewManager(a.reg, cfg.Retention, leaseDir, clock)
	return a, nil
}

// Registry exposes the chat registry to embedding callers.
func (a *App) Registry() *chats.Registry { return a.reg }

// Run starts the runners and the listener and blocks until ctx is done or
// one of them fails. The store is drained and checkpointed before it returns.
func (a *App) Run(ctx context.Context) error {
	banner.Print(a.cfg, a.src, a.version)
	logger.LogConfigSummary("effective_config", a.summary())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.runner.Run(gctx) })
	g.Go(func() error { return a.retention.Run(gctx) })
	if a.disk != nil {
		g.Go(func() error { return a.disk.Run(gctx) })
	}

	a.srv = newServer(a)
	g.Go(func() error {
		logger.Info("http_listening", "addr", a.cfg.Addr())
		if err := a.srv.ListenAndServe(a.cfg.Addr()); err != nil {
			return fmt.Errorf("http listener: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return a.srv.Shutdown()
	})
	a.ready.Store(true)

	err := g.Wait()
	a.ready.Store(false)
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return errors.Join(err, a.Shutdown(context.Background()))
}

// Shutdown drains every ephemeral tier, checkpoints, and closes storage.
func (a *App) Shutdown(ctx context.Context) error {
	if a.kv == nil {
		return nil
	}
	start := time.Now()
	err := a.runner.Shutdown(ctx)
	if cerr := a.kv.Close(); cerr != nil {
		err = errors.Join(err, fmt.Errorf("close storage: %w", cerr))
	}
	a.kv = nil
	if a.closeAudit != nil {
		err = errors.Join(err, a.closeAudit())
		a.closeAudit = nil
	}
	logger.Info("shutdown_complete", "took", time.Since(start), "error", err)
	return err
}

func (a *App) summary() []string {
	items := a.cfg.Summary()
	stats, err := a.reg.Stats(context.Background())
	if err != nil {
		return items
	}
	var total uint64
	for _, s := range stats {
		total += s.Events
	}
	return append(items,
		fmt.Sprintf("chats: %s", humanize.Comma(int64(len(stats)))),
		fmt.Sprintf("events: %s", humanize.Comma(int64(total))),
	)
}

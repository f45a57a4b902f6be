// Package chats owns the set of open chats and serialises access to each.
package chats

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"chatevents/pkg/budget"
	"chatevents/pkg/logger"
	"chatevents/pkg/migration"
	"chatevents/pkg/models"
	"chatevents/pkg/store/db"
	"chatevents/pkg/store/events"
	"chatevents/pkg/store/keys"
)

// ErrDeleted is returned to callers that raced a chat deletion.
var ErrDeleted = errors.New("chat deleted")

// Options tunes a Registry.
type Options struct {
	Events         events.Options
	MigrationBatch int
	GCBatch        int
}

type entry struct {
	mu      sync.Mutex
	chat    *events.ChatEvents
	deleted bool
	sched   *migration.Scheduler
}

// Registry maps chat scopes to their loaded ChatEvents. Each chat has its own
// mutex; independent chats only share the KV handle.
type Registry struct {
	kv   db.KV
	opts Options

	mu    sync.Mutex
	chats map[models.ChatScope]*entry
}

func NewRegistry(kv db.KV, opts Options) *Registry {
	if opts.GCBatch <= 0 {
		opts.GCBatch = events.DefaultGCBatchSize
	}
	return &Registry{kv: kv, opts: opts, chats: make(map[models.ChatScope]*entry)}
}

func (r *Registry) KV() db.KV { return r.kv }

func (r *Registry) lookup(scope models.ChatScope) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.chats[scope]
	if !ok {
		e = &entry{}
		e.sched = migration.NewScheduler(lockedTarget{r: r, scope: scope}, r.opts.MigrationBatch)
		r.chats[scope] = e
	}
	return e
}

// acquire returns the locked, loaded entry for scope.
func (r *Registry) acquire(ctx context.Context, scope models.ChatScope) (*entry, error) {
	if err := scope.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", events.ErrInvalidArgument, err)
	}
	for {
		e := r.lookup(scope)
		e.mu.Lock()
		if e.deleted {
			e.mu.Unlock()
			continue
		}
		if e.chat == nil {
			c, err := r.open(ctx, scope)
			if err != nil {
				e.mu.Unlock()
				return nil, err
			}
			e.chat = c
		}
		return e, nil
	}
}

// loaded returns the locked entry of a chat that is already resident. It never
// creates an entry: a missing scope, a deleted entry or one whose events carry
// a GC marker is ErrDeleted.
func (r *Registry) loaded(ctx context.Context, scope models.ChatScope) (*entry, error) {
	r.mu.Lock()
	e, ok := r.chats[scope]
	r.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeleted, scope)
	}
	e.mu.Lock()
	if e.deleted {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDeleted, scope)
	}
	if e.chat == nil {
		// a failed first load left the entry empty
		if _, err := r.kv.Get(keys.GCMarkerKey(keys.ChatPrefix(scope))); err == nil {
			e.mu.Unlock()
			return nil, fmt.Errorf("%w: %s", ErrDeleted, scope)
		}
		c, err := events.Open(ctx, scope, r.kv, r.opts.Events)
		if err != nil {
			e.mu.Unlock()
			return nil, err
		}
		e.chat = c
	}
	return e, nil
}

// open loads scope, first finishing any deletion of it left pending by a
// previous process.
func (r *Registry) open(ctx context.Context, scope models.ChatScope) (*events.ChatEvents, error) {
	prefix := keys.ChatPrefix(scope)
	if _, err := r.kv.Get(keys.GCMarkerKey(prefix)); err == nil {
		n, err := events.GarbageCollectBatched(ctx, r.kv, prefix, budget.Unlimited(), r.opts.GCBatch)
		if err != nil {
			return nil, fmt.Errorf("finish pending deletion of %s: %w", scope, err)
		}
		logger.Info("chat_pending_deletion_finished", "chat", scope.String(), "keys", n)
	} else if !errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("read gc marker of %s: %w", scope, err)
	}
	return events.Open(ctx, scope, r.kv, r.opts.Events)
}

// With runs fn with exclusive access to the chat, loading it on first use.
func (r *Registry) With(ctx context.Context, scope models.ChatScope, fn func(*events.ChatEvents) error) error {
	e, err := r.acquire(ctx, scope)
	if err != nil {
		return err
	}
	defer e.mu.Unlock()
	return fn(e.chat)
}

// WithLoaded is With for chats that are already resident. It returns
// ErrDeleted instead of loading or recreating the chat, so background work
// holding a stale Scopes list cannot bring a deleted chat back.
func (r *Registry) WithLoaded(ctx context.Context, scope models.ChatScope, fn func(*events.ChatEvents) error) error {
	e, err := r.loaded(ctx, scope)
	if err != nil {
		return err
	}
	defer e.mu.Unlock()
	return fn(e.chat)
}

// LoadAll opens every chat found in the store and returns how many were loaded.
func (r *Registry) LoadAll(ctx context.Context) (int, error) {
	scopes, err := events.DiscoverChats(ctx, r.kv)
	if err != nil {
		return 0, err
	}
	for _, s := range scopes {
		e, err := r.acquire(ctx, s)
		if err != nil {
			return 0, fmt.Errorf("load %s: %w", s, err)
		}
		e.mu.Unlock()
	}
	return len(scopes), nil
}

// Scopes lists loaded chats in key order.
func (r *Registry) Scopes() []models.ChatScope {
	r.mu.Lock()
	out := make([]models.ChatScope, 0, len(r.chats))
	for s := range r.chats {
		out = append(out, s)
	}
	r.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		return string(keys.ChatPrefix(out[i])) < string(keys.ChatPrefix(out[j]))
	})
	return out
}

// Delete forgets a chat and marks its events for GC. The returned prefix is
// collected by the runner or by the next Open of the same scope.
func (r *Registry) Delete(ctx context.Context, scope models.ChatScope) ([]byte, error) {
	e, err := r.acquire(ctx, scope)
	if err != nil {
		return nil, err
	}
	defer e.mu.Unlock()
	prefix := keys.ChatPrefix(scope)
	if err := events.MarkForGC(r.kv, prefix); err != nil {
		return nil, err
	}
	if err := events.DeleteSnapshot(r.kv, scope); err != nil {
		return prefix, err
	}
	e.deleted = true
	e.chat = nil
	r.mu.Lock()
	delete(r.chats, scope)
	r.mu.Unlock()
	logger.Info("chat_deleted", "chat", scope.String())
	return prefix, nil
}

// CheckpointAll writes a snapshot of every loaded chat. It keeps going past
// failures and returns them joined.
func (r *Registry) CheckpointAll(ctx context.Context) error {
	var errs []error
	for _, s := range r.Scopes() {
		err := r.WithLoaded(ctx, s, func(c *events.ChatEvents) error { return c.Checkpoint(ctx) })
		if err != nil && !errors.Is(err, ErrDeleted) {
			errs = append(errs, fmt.Errorf("checkpoint %s: %w", s, err))
		}
	}
	return errors.Join(errs...)
}

// scheduler returns the migration scheduler of a resident chat.
func (r *Registry) scheduler(scope models.ChatScope) (*migration.Scheduler, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.chats[scope]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDeleted, scope)
	}
	return e.sched, nil
}

// Migrate advances the migration scheduler of one resident chat; a chat that
// is not loaded is ErrDeleted. Only one goroutine may call Migrate for a given
// scope at a time.
func (r *Registry) Migrate(ctx context.Context, scope models.ChatScope, b budget.Budget) (migration.Progress, error) {
	sched, err := r.scheduler(scope)
	if err != nil {
		return migration.Progress{}, err
	}
	return sched.Tick(ctx, b)
}

// MigrationState reports the scheduler state of a chat. Chats that are not
// loaded are Idle.
func (r *Registry) MigrationState(scope models.ChatScope) migration.State {
	sched, err := r.scheduler(scope)
	if err != nil {
		return migration.Idle
	}
	return sched.State()
}

// Stats summarises every loaded chat.
func (r *Registry) Stats(ctx context.Context) ([]events.Stats, error) {
	var out []events.Stats
	for _, s := range r.Scopes() {
		err := r.WithLoaded(ctx, s, func(c *events.ChatEvents) error {
			out = append(out, c.Stats())
			return nil
		})
		if errors.Is(err, ErrDeleted) {
			continue
		}
		if err != nil {
			return out, err
		}
	}
	return out, nil
}

// lockedTarget takes the chat lock for each migration batch so writes can
// interleave between batches.
type lockedTarget struct {
	r     *Registry
	scope models.ChatScope
}

func (t lockedTarget) HasEphemeralEvents() bool {
	var has bool
	_ = t.r.WithLoaded(context.Background(), t.scope, func(c *events.ChatEvents) error {
		has = c.HasEphemeralEvents()
		return nil
	})
	return has
}

func (t lockedTarget) MigrateNextBatch(ctx context.Context, maxEvents int) (uint32, bool, error) {
	var (
		n        uint32
		finished bool
	)
	err := t.r.WithLoaded(ctx, t.scope, func(c *events.ChatEvents) error {
		var err error
		n, finished, err = c.MigrateNextBatch(ctx, maxEvents)
		return err
	})
	return n, finished, err
}

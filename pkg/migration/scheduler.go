// Package migration drives the ephemeral-to-durable drain of a chat as an
// explicit Idle/Draining state machine advanced by external ticks.
package migration

import (
	"context"
	"fmt"

	"chatevents/pkg/budget"
	"chatevents/pkg/logger"
)

// State of a Scheduler.
type State int

const (
	Idle State = iota
	Draining
)

func (s State) String() string {
	if s == Draining {
		return "draining"
	}
	return "idle"
}

// Target is the store being drained. events.ChatEvents implements it, and
// chats.Registry wraps it so each batch runs under the chat lock.
type Target interface {
	HasEphemeralEvents() bool
	MigrateNextBatch(ctx context.Context, maxEvents int) (uint32, bool, error)
}

// Progress reports what one Tick did.
type Progress struct {
	Batches  int
	Migrated uint32
	// Finished is set when the target ran out of ephemeral events.
	Finished bool
	// Rescheduled is set when the budget ran out first; the next Tick resumes.
	Rescheduled bool
}

// Scheduler is not safe for concurrent use; one goroutine ticks it.
type Scheduler struct {
	target    Target
	batchSize int
	state     State
}

func NewScheduler(target Target, batchSize int) *Scheduler {
	if batchSize <= 0 {
		batchSize = 500
	}
	return &Scheduler{target: target, batchSize: batchSize}
}

func (s *Scheduler) State() State { return s.state }

// Tick runs migration batches while b allows. Each batch migrates what is
// ephemeral when the batch begins, so writes between batches are picked up
// by later ones. Spending is one unit per migrated event.
func (s *Scheduler) Tick(ctx context.Context, b budget.Budget) (Progress, error) {
	var p Progress
	if b == nil {
		b = budget.Unlimited()
	}
	if s.state == Idle {
		if !s.target.HasEphemeralEvents() {
			p.Finished = true
			return p, nil
		}
		s.state = Draining
		logger.Debug("migration_draining")
	}
	for {
		if err := ctx.Err(); err != nil {
			return p, err
		}
		if b.Exceeded() {
			p.Rescheduled = true
			return p, nil
		}
		n, finished, err := s.target.MigrateNextBatch(ctx, s.batchSize)
		if err != nil {
			// the state stays Draining, the batch that failed is retried next tick
			return p, fmt.Errorf("migration batch: %w", err)
		}
		p.Batches++
		p.Migrated += n
		b.Spend(int(n))
		if finished {
			s.state = Idle
			p.Finished = true
			logger.Debug("migration_idle", "batches", p.Batches, "migrated", p.Migrated)
			return p, nil
		}
	}
}

// Drain ticks without a budget until the target is empty.
func Drain(ctx context.Context, target Target, batchSize int) (uint32, error) {
	p, err := NewScheduler(target, batchSize).Tick(ctx, budget.Unlimited())
	return p.Migrated, err
}

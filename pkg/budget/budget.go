// Package budget provides best-effort compute budgets that slice long
// background work (migration, prefix garbage collection) into bounded steps.
package budget

import (
	"errors"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"chatevents/pkg/timeutil"
)

// ErrBudgetExceeded signals that work stopped early and should be resumed
// later with the same arguments. It is never fatal.
var ErrBudgetExceeded = errors.New("budget exceeded")

// Budget is checked between units of work. Spend reports n units done.
type Budget interface {
	Exceeded() bool
	Spend(n int)
}

type unlimited struct{}

func (unlimited) Exceeded() bool { return false }
func (unlimited) Spend(int)      {}

// Unlimited never runs out.
func Unlimited() Budget { return unlimited{} }

// Ops allows max units of work in total.
type Ops struct {
	mu    sync.Mutex
	max   int
	spent int
}

func NewOps(max int) *Ops { return &Ops{max: max} }

func (o *Ops) Exceeded() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.spent >= o.max
}

func (o *Ops) Spend(n int) {
	o.mu.Lock()
	o.spent += n
	o.mu.Unlock()
}

// Remaining is how many units may still be spent, never negative.
func (o *Ops) Remaining() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.spent >= o.max {
		return 0
	}
	return o.max - o.spent
}

// Spent is the total reported so far.
func (o *Ops) Spent() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.spent
}

type deadline struct {
	clock timeutil.Clock
	at    time.Time
}

// Deadline runs out d after now, as observed by clock.
func Deadline(clock timeutil.Clock, d time.Duration) Budget {
	if clock == nil {
		clock = timeutil.System()
	}
	return &deadline{clock: clock, at: clock.Now().Add(d)}
}

func (d *deadline) Exceeded() bool { return !d.clock.Now().Before(d.at) }
func (d *deadline) Spend(int)      {}

// Rate draws spent units from a shared token bucket so that every chat's
// background work together stays under the configured ops per second.
type Rate struct {
	mu        sync.Mutex
	limiter   *rate.Limiter
	clock     timeutil.Clock
	exhausted bool
}

func NewRate(l *rate.Limiter, clock timeutil.Clock) *Rate {
	if clock == nil {
		clock = timeutil.System()
	}
	return &Rate{limiter: l, clock: clock}
}

func (r *Rate) Exceeded() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.exhausted
}

func (r *Rate) Spend(n int) {
	if n <= 0 {
		return
	}
	if b := r.limiter.Burst(); n > b {
		n = b
	}
	ok := r.limiter.AllowN(r.clock.Now(), n)
	r.mu.Lock()
	if !ok {
		r.exhausted = true
	}
	r.mu.Unlock()
}

type all []Budget

// All is exceeded as soon as any part is exceeded; Spend reaches every part.
func All(parts ...Budget) Budget {
	out := make(all, 0, len(parts))
	for _, p := range parts {
		if p != nil {
			out = append(out, p)
		}
	}
	return out
}

func (a all) Exceeded() bool {
	for _, p := range a {
		if p.Exceeded() {
			return true
		}
	}
	return false
}

func (a all) Spend(n int) {
	for _, p := range a {
		p.Spend(n)
	}
}

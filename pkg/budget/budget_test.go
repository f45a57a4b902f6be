package budget

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"

	"chatevents/pkg/timeutil"
)

func TestOps(t *testing.T) {
	o := NewOps(3)
	assert.False(t, o.Exceeded())
	o.Spend(2)
	assert.Equal(t, 1, o.Remaining())
	assert.False(t, o.Exceeded())
	o.Spend(5)
	assert.True(t, o.Exceeded())
	assert.Equal(t, 0, o.Remaining())
	assert.Equal(t, 7, o.Spent())
}

func TestDeadline(t *testing.T) {
	clock := timeutil.NewManual(time.Unix(100, 0))
	d := Deadline(clock, time.Second)
	assert.False(t, d.Exceeded())
	clock.Advance(999 * time.Millisecond)
	assert.False(t, d.Exceeded())
	clock.Advance(time.Millisecond)
	assert.True(t, d.Exceeded())
}

func TestRate(t *testing.T) {
	clock := timeutil.NewManual(time.Unix(100, 0))
	l := rate.NewLimiter(rate.Limit(10), 10)
	r := NewRate(l, clock)
	r.Spend(10)
	assert.False(t, r.Exceeded())
	r.Spend(1)
	assert.True(t, r.Exceeded())
}

func TestAll(t *testing.T) {
	o := NewOps(2)
	b := All(Unlimited(), o, nil)
	assert.False(t, b.Exceeded())
	b.Spend(2)
	assert.True(t, b.Exceeded())
	assert.False(t, Unlimited().Exceeded())
}

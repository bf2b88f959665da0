package player

import (
	"slices"
	"sync"
	"time"
)

// Clock tells time and waits. The player sleeps through it so that tests can
// run gaits without real delays.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type realClock struct{}

func (realClock) Now() time.Time        { return time.Now() }
func (realClock) Sleep(d time.Duration) { time.Sleep(d) }

// RealClock returns a Clock backed by the time package.
func RealClock() Clock { return realClock{} }

// ManualClock is a Clock whose Sleep advances time instantly.
type ManualClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration

	// OnSleep, when set, runs after every Sleep.
	OnSleep func(d time.Duration)
}

// NewManualClock creates a clock starting at start.
func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *ManualClock) Sleep(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.sleeps = append(c.sleeps, d)
	hook := c.OnSleep
	c.mu.Unlock()

	if hook != nil {
		hook(d)
	}
}

// Sleeps returns every duration passed to Sleep, in order.
func (c *ManualClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.sleeps)
}

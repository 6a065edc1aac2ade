// ABOUTME: Manually advanced clock for deterministic engine tests
// ABOUTME: SleepUntil blocks until the test moves time past the deadline
package audiotest

import (
	"context"
	"sync"
	"time"
)

// FakeClock implements the engine Clock without real sleeping
type FakeClock struct {
	mu        sync.Mutex
	now       time.Time
	wake      chan struct{}
	deadlines []time.Time
}

// NewFakeClock returns a clock frozen at start
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start, wake: make(chan struct{})}
}

// Now returns the current fake time
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// SleepUntil records deadline and blocks until Advance moves past it
func (c *FakeClock) SleepUntil(ctx context.Context, deadline time.Time) error {
	c.mu.Lock()
	c.deadlines = append(c.deadlines, deadline)
	for c.now.Before(deadline) {
		wake := c.wake
		c.mu.Unlock()
		select {
		case <-wake:
		case <-ctx.Done():
			return ctx.Err()
		}
		c.mu.Lock()
	}
	c.mu.Unlock()
	return ctx.Err()
}

// Advance moves time forward and wakes sleepers
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.broadcastLocked()
	c.mu.Unlock()
}

// AdvanceToLastDeadline moves time to the most recent SleepUntil deadline
func (c *FakeClock) AdvanceToLastDeadline() {
	c.mu.Lock()
	if n := len(c.deadlines); n > 0 && c.deadlines[n-1].After(c.now) {
		c.now = c.deadlines[n-1]
	}
	c.broadcastLocked()
	c.mu.Unlock()
}

func (c *FakeClock) broadcastLocked() {
	close(c.wake)
	c.wake = make(chan struct{})
}

// Sleeps returns how many times SleepUntil was entered
func (c *FakeClock) Sleeps() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.deadlines)
}

// Deadlines returns a copy of every requested deadline
func (c *FakeClock) Deadlines() []time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Time, len(c.deadlines))
	copy(out, c.deadlines)
	return out
}

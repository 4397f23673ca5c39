package testutil

import (
	"sync"
	"time"
)

// Epoch is the default start of a DeterministicClock.
var Epoch = time.Date(2024, time.January, 15, 10, 0, 0, 0, time.UTC)

// DeterministicClock is a thread-safe wall clock for tests.
//
// Each call to Now returns the current instant and then advances it by the
// step, so consecutive saves get strictly increasing modification times.
// A zero step freezes the clock.
type DeterministicClock struct {
	mu    sync.Mutex
	start time.Time
	now   time.Time
	step  time.Duration
}

// NewDeterministicClock creates a clock frozen at start.
func NewDeterministicClock(start time.Time) *DeterministicClock {
	return NewSteppingClock(start, 0)
}

// NewSteppingClock creates a clock that advances by step on every Now.
func NewSteppingClock(start time.Time, step time.Duration) *DeterministicClock {
	return &DeterministicClock{start: start, now: start, step: step}
}

// Now returns the current instant, then advances by the step.
func (c *DeterministicClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

// Current returns the current instant without advancing.
func (c *DeterministicClock) Current() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *DeterministicClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Reset returns the clock to its start instant.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.start
}

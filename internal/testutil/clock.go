package testutil

import (
	"sync"
	"time"
)

// Epoch is the wall time tests start their clocks at.
var Epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// StepClock is a deterministic wall clock for tests.
//
// Every call to Now returns the previous value plus Step, so a run driven by a
// StepClock stamps byte-identical timestamps each time it is replayed.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type StepClock struct {
	mu   sync.Mutex
	next time.Time
	step time.Duration
}

// NewStepClock creates a clock whose first Now returns start.
func NewStepClock(start time.Time, step time.Duration) *StepClock {
	return &StepClock{next: start, step: step}
}

// Now returns the current time and advances the clock by one step.
func (c *StepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.next
	c.next = c.next.Add(c.step)
	return t
}

// Peek returns what the next Now will return, without advancing.
func (c *StepClock) Peek() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.next
}

// Reset moves the clock back to start.
//
// Used for test reuse. After Reset(start), the next call to Now() returns start.
func (c *StepClock) Reset(start time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.next = start
}

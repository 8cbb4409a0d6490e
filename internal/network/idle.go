package network

import (
	"context"
	"sync"
	"time"
)

const (
	// DefaultMaxInflight is how many requests may still be in flight while
	// the network counts as idle.
	DefaultMaxInflight = 2

	// DefaultQuiet is how long the in-flight count must stay at or below
	// DefaultMaxInflight.
	DefaultQuiet = 500 * time.Millisecond
)

// IdleTracker decides when the network has gone quiet: at most MaxInflight
// requests outstanding, continuously, for Quiet.
//
// Thread-safety: all methods are safe for concurrent use.
type IdleTracker struct {
	maxInflight int
	quiet       time.Duration
	now         func() time.Time

	mu       sync.Mutex
	inflight map[string]struct{}
	since    time.Time // when the count last dropped to <= maxInflight
}

// NewIdleTracker creates a tracker with the given thresholds.
func NewIdleTracker(maxInflight int, quiet time.Duration) *IdleTracker {
	return newIdleTracker(maxInflight, quiet, time.Now)
}

func newIdleTracker(maxInflight int, quiet time.Duration, now func() time.Time) *IdleTracker {
	if maxInflight < 0 {
		maxInflight = 0
	}
	return &IdleTracker{
		maxInflight: maxInflight,
		quiet:       quiet,
		now:         now,
		inflight:    make(map[string]struct{}),
		since:       now(),
	}
}

// Started records a request going out. Repeated IDs (redirect hops) count once.
func (t *IdleTracker) Started(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inflight[id] = struct{}{}
	if len(t.inflight) == t.maxInflight+1 {
		t.since = time.Time{}
	}
}

// Finished records a request completing or failing. Unknown IDs are ignored.
func (t *IdleTracker) Finished(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.inflight[id]; !ok {
		return
	}
	delete(t.inflight, id)
	if len(t.inflight) == t.maxInflight {
		t.since = t.now()
	}
}

// Inflight returns the number of outstanding requests.
func (t *IdleTracker) Inflight() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.inflight)
}

// Idle reports whether the network is currently idle.
func (t *IdleTracker) Idle() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.inflight) > t.maxInflight || t.since.IsZero() {
		return false
	}
	return t.now().Sub(t.since) >= t.quiet
}

// Wait blocks until the network is idle or ctx is done.
func (t *IdleTracker) Wait(ctx context.Context) error {
	interval := t.quiet / 5
	if interval < 10*time.Millisecond {
		interval = 10 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if t.Idle() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

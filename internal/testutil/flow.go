package testutil

import (
	"fmt"
	"sync"
)

// SequentialRunIDs generates predictable run IDs for tests.
//
// IDs have the form "<prefix>-0001", "<prefix>-0002", ... so golden files and
// store assertions can name a run before it exists.
//
// Thread-safety: SequentialRunIDs is safe for concurrent use via internal mutex.
type SequentialRunIDs struct {
	mu     sync.Mutex
	prefix string
	n      int
}

// NewSequentialRunIDs creates a generator. If prefix is empty, "run" is used.
func NewSequentialRunIDs(prefix string) *SequentialRunIDs {
	if prefix == "" {
		prefix = "run"
	}
	return &SequentialRunIDs{prefix: prefix}
}

// Generate returns the next ID.
//
// Implements collector.RunIDGenerator.
func (g *SequentialRunIDs) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("%s-%04d", g.prefix, g.n)
}

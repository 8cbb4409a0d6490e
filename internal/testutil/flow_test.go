package testutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSequentialRunIDs_Sequence(t *testing.T) {
	gen := NewSequentialRunIDs("test")

	assert.Equal(t, "test-0001", gen.Generate())
	assert.Equal(t, "test-0002", gen.Generate())
}

func TestSequentialRunIDs_DefaultPrefix(t *testing.T) {
	gen := NewSequentialRunIDs("")
	assert.Equal(t, "run-0001", gen.Generate())
}

func TestSequentialRunIDs_ThreadSafe(t *testing.T) {
	gen := NewSequentialRunIDs("p")

	var mu sync.Mutex
	seen := make(map[string]bool)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				id := gen.Generate()
				mu.Lock()
				seen[id] = true
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 500)
}

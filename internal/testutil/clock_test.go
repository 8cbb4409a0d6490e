package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStepClock_FirstNowIsStart(t *testing.T) {
	clock := NewStepClock(Epoch, time.Second)
	assert.Equal(t, Epoch, clock.Now())
}

func TestStepClock_AdvancesByStep(t *testing.T) {
	clock := NewStepClock(Epoch, 10*time.Millisecond)

	clock.Now()
	assert.Equal(t, Epoch.Add(10*time.Millisecond), clock.Now())
	assert.Equal(t, Epoch.Add(20*time.Millisecond), clock.Peek())
	assert.Equal(t, Epoch.Add(20*time.Millisecond), clock.Now(), "Peek must not advance")
}

func TestStepClock_Reset(t *testing.T) {
	clock := NewStepClock(Epoch, time.Second)
	clock.Now()
	clock.Now()

	clock.Reset(Epoch)
	assert.Equal(t, Epoch, clock.Now())
}

func TestStepClock_ThreadSafe(t *testing.T) {
	clock := NewStepClock(Epoch, time.Millisecond)
	const goroutines = 10
	const calls = 100

	var wg sync.WaitGroup
	times := make(chan time.Time, goroutines*calls)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < calls; j++ {
				times <- clock.Now()
			}
		}()
	}
	wg.Wait()
	close(times)

	seen := make(map[time.Time]bool)
	for ts := range times {
		require.False(t, seen[ts], "time %v issued twice", ts)
		seen[ts] = true
	}
	assert.Len(t, seen, goroutines*calls)
}

package engine

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSystemClock_StrictlyIncreasing(t *testing.T) {
	c := NewSystemClock()
	prev := c.Now()
	for i := 0; i < 1000; i++ {
		next := c.Now()
		assert.Greater(t, next, prev)
		prev = next
	}
}

func TestSystemClock_ConcurrentCallsUnique(t *testing.T) {
	c := NewSystemClock()

	const n = 100
	out := make(chan int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out <- c.Now()
		}()
	}
	wg.Wait()
	close(out)

	seen := map[int64]bool{}
	for ts := range out {
		assert.False(t, seen[ts], "timestamp %d issued twice", ts)
		seen[ts] = true
	}
}

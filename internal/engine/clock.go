package engine

import (
	"sync"
	"time"
)

// Clock supplies timestamps for locally written actions.
//
// Replay order across clients is (timestamp, store seq), so timestamps
// must be strictly increasing within one session. Wall-clock skew between
// sessions is tolerable: the store's insertion sequence breaks ties, and
// round resolution never depends on cross-client timestamp comparison.
type Clock interface {
	// Now returns the next timestamp in unix nanoseconds.
	Now() int64
}

// SystemClock fuses wall-clock time with a monotonic floor: each call
// returns at least one more than the previous call, even if the wall
// clock stalls or steps backwards.
type SystemClock struct {
	mu   sync.Mutex
	last int64
}

// NewSystemClock creates a system clock.
func NewSystemClock() *SystemClock {
	return &SystemClock{}
}

// Now returns max(wall clock, last+1).
func (c *SystemClock) Now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now().UnixNano()
	if now <= c.last {
		now = c.last + 1
	}
	c.last = now
	return now
}

// Package testutil provides deterministic substitutes for the engine's
// environment: a logical clock and a recording command sink.
package testutil

import "sync"

// DeterministicClock is a thread-safe logical clock for tests. Each call to
// Now returns the previous value plus one, so traces carry small, readable
// timestamps and reruns are byte-identical.
//
// Unlike the engine's system clock it can be reset for test reuse.
type DeterministicClock struct {
	mu  sync.Mutex
	seq int64
}

// NewDeterministicClock creates a clock starting at 0; the first call to
// Now returns 1.
func NewDeterministicClock() *DeterministicClock {
	return &DeterministicClock{}
}

// Now increments and returns the next timestamp.
func (c *DeterministicClock) Now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	return c.seq
}

// Current returns the current value without incrementing.
func (c *DeterministicClock) Current() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// Reset restarts the clock at 0.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq = 0
}

package task

import "sync/atomic"

// Ceiling is the global cross-domain worker limit for one process. Every
// pool registers worker spawns against the same Ceiling, so a spike in one
// domain cannot starve the others of worker slots.
type Ceiling struct {
	max int64
	n   atomic.Int64
}

// NewCeiling creates a Ceiling allowing at most max workers in total.
func NewCeiling(max int) *Ceiling {
	return &Ceiling{max: int64(max)}
}

// TryAcquire claims one worker slot, returning false when the ceiling is
// reached.
func (c *Ceiling) TryAcquire() bool {
	for {
		cur := c.n.Load()
		if cur >= c.max {
			return false
		}
		if c.n.CompareAndSwap(cur, cur+1) {
			return true
		}
	}
}

// Release returns one worker slot.
func (c *Ceiling) Release() {
	c.n.Add(-1)
}

// Count returns the number of claimed slots.
func (c *Ceiling) Count() int {
	return int(c.n.Load())
}

// Max returns the ceiling.
func (c *Ceiling) Max() int {
	return int(c.max)
}

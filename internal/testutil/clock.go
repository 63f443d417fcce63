// Package testutil provides deterministic time sources for tests and
// scenarios.
package testutil

import (
	"sync"

	"github.com/TOMATOFGY/oceanbase/internal/share"
)

// SCNClock is a thread-safe monotonic logical clock.
//
// Unlike a real timestamp source it can be reset, so the same scenario run
// twice sees identical SCN values.
type SCNClock struct {
	mu    sync.Mutex
	start share.SCN
	step  share.SCN
	cur   share.SCN
}

// NewSCNClock returns a clock positioned at start. Each Next advances it by
// step; a step below 1 is treated as 1.
func NewSCNClock(start share.SCN, step int64) *SCNClock {
	if step < 1 {
		step = 1
	}
	return &SCNClock{start: start, step: share.SCN(step), cur: start}
}

// Next advances the clock and returns the new value.
func (c *SCNClock) Next() share.SCN {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cur += c.step
	return c.cur
}

// Current returns the clock value without advancing it.
func (c *SCNClock) Current() share.SCN {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cur
}

// Reset moves the clock back to its start.
func (c *SCNClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cur = c.start
}

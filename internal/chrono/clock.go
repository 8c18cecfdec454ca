// Package chrono provides the process-wide clock abstraction, the per-user
// game clock (seconds since that user's epoch), and the microsecond wire
// timestamp format.
//
// All persisted timestamps are UTC. User-relative times are integer seconds
// since user.epoch and are converted to absolute datetimes only at I/O
// boundaries.
package chrono

import (
	"sync"
	"time"
)

// Clock yields "now" for all domain code. Exactly two implementations exist:
// SystemClock for production and OffsetClock for tests and the replay harness.
type Clock interface {
	Now() time.Time
}

// SystemClock returns the OS wall clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// OffsetClock wraps another clock with a mutable offset, and can optionally
// freeze at a fixed instant. Advance and Rewind shift the offset; Restore
// drops both the freeze and the offset in a single call.
type OffsetClock struct {
	mu     sync.Mutex
	base   Clock
	offset time.Duration
	frozen *time.Time
}

func NewOffsetClock(base Clock) *OffsetClock {
	if base == nil {
		base = SystemClock{}
	}
	return &OffsetClock{base: base}
}

func (c *OffsetClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.frozen != nil {
		return c.frozen.Add(c.offset)
	}
	return c.base.Now().Add(c.offset)
}

// Freeze pins the clock at t (plus any later Advance/Rewind adjustments).
func (c *OffsetClock) Freeze(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	utc := t.UTC()
	c.frozen = &utc
	c.offset = 0
}

// Advance shifts the clock forward by d.
func (c *OffsetClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offset += d
}

// Rewind shifts the clock backward by d.
func (c *OffsetClock) Rewind(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.offset -= d
}

// Restore returns the clock to real time, clearing freeze and offset.
func (c *OffsetClock) Restore() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frozen = nil
	c.offset = 0
}

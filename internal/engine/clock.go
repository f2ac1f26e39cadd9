package engine

import "sync/atomic"

// Clock stamps trace events with a strictly increasing sequence number.
//
// Ordering never depends on wall-clock time, so two runs of the same
// program produce the same sequence of (seq, event) pairs.
//
// Thread-safety: Clock is safe for concurrent use, although only the
// reactor goroutine calls Next in practice.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock starting at a specific sequence number.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the current sequence number without incrementing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}

package evidence

import "sync/atomic"

// Clock is the monotonic logical clock that assigns log positions.
//
// Every appended event is stamped with a strictly increasing Seq. Ordering in
// the log is defined by Seq alone, never by wall-clock timestamps.
//
// Clock is safe for concurrent use. In practice only the Writer calls Next.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock starting at 0. The first Next returns 1.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock whose next value is start+1.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last issued sequence number without advancing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}

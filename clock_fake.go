package jobqueue

import (
	"sort"
	"sync"
	"time"
)

// FakeClock is a synchronous, deterministically advanceable Clock for
// tests, modeled directly on original_source's Clock(_Clock) /
// MemoryReactorWithClock fakes: Advance fires every call whose deadline has
// been reached, in deadline order, before returning.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	pending []*fakeTimer
	seq     int
}

type fakeTimer struct {
	deadline time.Time
	seq      int
	f        func()
	stopped  bool
	fired    bool
}

// Stop implements Timer.
func (t *fakeTimer) Stop() bool {
	wasLive := !t.stopped && !t.fired
	t.stopped = true
	return wasLive
}

// NewFakeClock creates a FakeClock starting at the given time.
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

// Now implements Clock.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// AfterFunc implements Clock.
func (c *FakeClock) AfterFunc(d time.Duration, f func()) (Timer, error) {
	if d < 0 {
		return nil, ErrNegativeDelay
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	t := &fakeTimer{deadline: c.now.Add(d), seq: c.seq, f: f}
	c.pending = append(c.pending, t)
	return t, nil
}

// Advance moves the clock forward by d, synchronously running every pending
// call whose deadline has now been reached, in (deadline, scheduling order)
// order — matching twisted's Clock.advance semantics.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	deadline := c.now
	c.mu.Unlock()

	for {
		due := c.popDue(deadline)
		if due == nil {
			return
		}
		due.f()
	}
}

// popDue removes and returns the earliest not-yet-fired, not-stopped timer
// whose deadline is <= at, or nil if none is due.
func (c *FakeClock) popDue(at time.Time) *fakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()

	sort.Slice(c.pending, func(i, j int) bool {
		if c.pending[i].deadline.Equal(c.pending[j].deadline) {
			return c.pending[i].seq < c.pending[j].seq
		}
		return c.pending[i].deadline.Before(c.pending[j].deadline)
	})

	for i, t := range c.pending {
		if t.stopped || t.fired {
			continue
		}
		if t.deadline.After(at) {
			break
		}
		t.fired = true
		c.pending = append(c.pending[:i], c.pending[i+1:]...)
		return t
	}
	return nil
}

package jobqueue

import (
	"time"
)

// Timer is a handle to a scheduled deferred call, returned by
// Clock.AfterFunc. Stop cancels it if it hasn't fired yet.
type Timer interface {
	Stop() bool
}

// Clock is the injected time source and deferred-call scheduler spec.md
// §2/§9 requires so the whole system is deterministically testable,
// grounded on original_source's twisted.internet.task.Clock /
// MemoryReactorWithClock fakes. The notBefore timers, the lost-work scan and
// the NODE_INFO timestamps go through a Clock; the peer discovery ticker and
// StopService's drain timeout use the standard library's real time and do
// not follow a FakeClock.
type Clock interface {
	// Now returns the clock's current time.
	Now() time.Time

	// AfterFunc schedules f to run after d elapses and returns a Timer that
	// can cancel it. A negative d is a programmer error and fails fast with
	// ErrNegativeDelay rather than scheduling anything (spec.md §7).
	AfterFunc(d time.Duration, f func()) (Timer, error)
}

// realClock is the production Clock, backed by the standard library's time
// package.
type realClock struct{}

// NewRealClock returns the production Clock implementation.
func NewRealClock() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) (Timer, error) {
	if d < 0 {
		return nil, ErrNegativeDelay
	}
	return time.AfterFunc(d, f), nil
}

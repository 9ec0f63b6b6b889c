// Package schedule runs deferred callbacks on a mockable clock.
package schedule

import (
	"time"

	"github.com/benbjohnson/clock"
)

// Cancel stops a pending callback and reports whether it was still pending.
// A false result means the callback already fired or is about to; callers
// that need exactness must also guard the callback with their own token.
type Cancel func() bool

// Scheduler defers callbacks. When a dispatch function is set, expiries are
// handed to it instead of running on the timer goroutine, which lets an
// event loop own every callback.
type Scheduler struct {
	clock    clock.Clock
	dispatch func(func())
}

// New creates a Scheduler. A nil clock uses the wall clock; a nil dispatch
// runs callbacks directly on the timer goroutine.
func New(clk clock.Clock, dispatch func(func())) *Scheduler {
	if clk == nil {
		clk = clock.New()
	}
	return &Scheduler{clock: clk, dispatch: dispatch}
}

// After runs fn once d has elapsed
func (s *Scheduler) After(d time.Duration, fn func()) Cancel {
	t := s.clock.AfterFunc(d, func() {
		if s.dispatch != nil {
			s.dispatch(fn)
			return
		}
		fn()
	})
	return t.Stop
}

// Now returns the scheduler's current time
func (s *Scheduler) Now() time.Time {
	return s.clock.Now()
}

// Clock exposes the underlying clock
func (s *Scheduler) Clock() clock.Clock {
	return s.clock
}

// Package clock provides an injectable time source so cache staleness and
// timestamps can be driven deterministically in tests.
package clock

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// Clock returns the current time. Any clockwork.Clock satisfies it.
type Clock interface {
	Now() time.Time
}

// Real returns the wall clock.
func Real() Clock { return clockwork.NewRealClock() }

// FakeClock is a Clock that only moves when told to. Safe for concurrent use.
type FakeClock struct {
	clockwork.FakeClock
}

// Fake returns a FakeClock stopped at initial.
func Fake(initial time.Time) *FakeClock {
	return &FakeClock{FakeClock: clockwork.NewFakeClockAt(initial)}
}

// Set jumps the clock to t. Moving backwards is allowed.
func (c *FakeClock) Set(t time.Time) {
	c.Advance(t.Sub(c.Now()))
}

package domain

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// clock stamps index records. Tests freeze it via SetClock.
var clock = clockwork.NewRealClock()

// SetClock swaps the time source. Pass nil to reset to real time.
func SetClock(c clockwork.Clock) {
	if c == nil {
		clock = clockwork.NewRealClock()
		return
	}
	clock = c
}

// StartTimer starts a scoped stopwatch on c and returns a function reporting
// the time elapsed since the call.
func StartTimer(c clockwork.Clock) func() time.Duration {
	if c == nil {
		c = clock
	}
	start := c.Now()
	return func() time.Duration {
		return c.Since(start)
	}
}

// Package clock is the time source shared by the scheduler, resolver and workers.
package clock

import (
	"time"

	bclock "github.com/benbjohnson/clock"
)

// Clock reads the current time and creates timers against it
type Clock = bclock.Clock

// Fake is a manually driven clock; its timers fire when it is moved forward
type Fake = bclock.Mock

// New returns the system clock
func New() Clock {
	return bclock.New()
}

// NewFake creates a fake clock frozen at now
func NewFake(now time.Time) *Fake {
	f := bclock.NewMock()
	f.Set(now)
	return f
}

package suspension

import (
	"time"

	"github.com/benbjohnson/clock"
)

type Options struct {
	// WaitTimeout is how long an execution waits for its resume before the wait is cancelled. 0 waits forever.
	WaitTimeout time.Duration

	Clock clock.Clock
}

type Option func(*Options)

func WithWaitTimeout(d time.Duration) Option {
	return func(o *Options) {
		o.WaitTimeout = d
	}
}

func WithClock(c clock.Clock) Option {
	return func(o *Options) {
		o.Clock = c
	}
}

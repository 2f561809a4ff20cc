package dispatcher

import (
	"time"

	"github.com/benbjohnson/clock"
)

type Options struct {
	Clock clock.Clock

	// RecentlySettledTTL is how long settled execution ids are remembered to tell duplicate resume events apart
	// from resume events for ids that never existed.
	RecentlySettledTTL time.Duration

	// RecentlySettledSize caps the number of remembered execution ids
	RecentlySettledSize int

	// RemoveRetries is how often removing the entry of a settled execution is retried before giving up. A stale
	// entry is cleaned up by the next resume or cancel for the execution.
	RemoveRetries       int
	RemoveRetryInterval time.Duration
}

var DefaultOptions = Options{
	RecentlySettledTTL:  time.Minute * 10,
	RecentlySettledSize: 10_000,
	RemoveRetries:       4,
	RemoveRetryInterval: time.Millisecond * 50,
}

type Option func(*Options)

func WithClock(c clock.Clock) Option {
	return func(o *Options) {
		o.Clock = c
	}
}

func WithRemoveRetries(retries int, interval time.Duration) Option {
	return func(o *Options) {
		o.RemoveRetries = retries
		o.RemoveRetryInterval = interval
	}
}

func WithRecentlySettled(ttl time.Duration, size int) Option {
	return func(o *Options) {
		o.RecentlySettledTTL = ttl
		o.RecentlySettledSize = size
	}
}

package worker

import (
	"time"

	"github.com/benbjohnson/clock"
)

type Options struct {
	// WaitTimeout is how long suspended executions wait for their resume before the wait is cancelled. The default
	// is 0 which waits forever.
	WaitTimeout time.Duration

	// ExpirationInterval is the interval between checks for expired waits. 0 disables expiration. Defaults to
	// 30 seconds.
	ExpirationInterval time.Duration

	// ExpirationBatchSize is the maximum number of expired waits cancelled per check. Defaults to 100.
	ExpirationBatchSize int

	// RecentlySettledTTL is how long resumed or cancelled execution ids are remembered to classify late resume
	// events as duplicates. Defaults to 10 minutes.
	RecentlySettledTTL time.Duration

	// RecentlySettledSize caps the number of remembered execution ids. Defaults to 10000.
	RecentlySettledSize int

	// LogRequests registers a request handler that logs the headers of every request event
	LogRequests bool

	Clock clock.Clock
}

var DefaultOptions = Options{
	WaitTimeout:         0,
	ExpirationInterval:  30 * time.Second,
	ExpirationBatchSize: 100,
	RecentlySettledTTL:  10 * time.Minute,
	RecentlySettledSize: 10_000,
	LogRequests:         true,
}

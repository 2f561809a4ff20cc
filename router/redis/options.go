package redis

import (
	"time"

	"github.com/cschleiden/go-resume/router"
)

type Options struct {
	router.Options

	// StreamPrefix is prepended to the stream names of both channels
	StreamPrefix string

	// StreamMaxLen caps the approximate number of messages kept per stream. Messages are acknowledged but not
	// deleted since every consumer group reads the same stream. 0 does not trim.
	StreamMaxLen int64

	// BlockTimeout is how long a single read waits for new messages
	BlockTimeout time.Duration

	// ClaimIdleTimeout is the time after which a message delivered to a consumer that never acknowledged it is
	// claimed by another consumer.
	ClaimIdleTimeout time.Duration
}

type RouterOption func(*Options)

func WithRouterOptions(opts ...router.RouterOption) RouterOption {
	return func(o *Options) {
		for _, opt := range opts {
			opt(&o.Options)
		}
	}
}

func WithStreamPrefix(prefix string) RouterOption {
	return func(o *Options) {
		o.StreamPrefix = prefix
	}
}

func WithBlockTimeout(timeout time.Duration) RouterOption {
	return func(o *Options) {
		o.BlockTimeout = timeout
	}
}

func WithClaimIdleTimeout(timeout time.Duration) RouterOption {
	return func(o *Options) {
		o.ClaimIdleTimeout = timeout
	}
}

func WithStreamMaxLen(n int64) RouterOption {
	return func(o *Options) {
		o.StreamMaxLen = n
	}
}

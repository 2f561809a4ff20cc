package redis

import (
	"time"

	"github.com/cschleiden/go-resume/backend"
)

type RedisOptions struct {
	backend.Options

	KeyPrefix string

	// LockTimeout is how long a per-execution lock is held at most if the holder never releases it
	LockTimeout time.Duration

	// LockRetryInterval is the maximum wait between attempts to acquire a held lock
	LockRetryInterval time.Duration
}

type RedisBackendOption func(*RedisOptions)

func WithBackendOptions(opts ...backend.BackendOption) RedisBackendOption {
	return func(o *RedisOptions) {
		for _, opt := range opts {
			opt(&o.Options)
		}
	}
}

func WithKeyPrefix(keyPrefix string) RedisBackendOption {
	return func(o *RedisOptions) {
		o.KeyPrefix = keyPrefix
	}
}

func WithLockTimeout(timeout time.Duration) RedisBackendOption {
	return func(o *RedisOptions) {
		o.LockTimeout = timeout
	}
}

func WithLockRetryInterval(interval time.Duration) RedisBackendOption {
	return func(o *RedisOptions) {
		o.LockRetryInterval = interval
	}
}

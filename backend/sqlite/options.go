package sqlite

import (
	"time"

	"github.com/cschleiden/go-resume/backend"
)

type options struct {
	*backend.Options

	// LockTimeout is how long a per-execution lock is held at most if the holder never releases it
	LockTimeout time.Duration

	// LockRetryInterval is the maximum wait between attempts to acquire a held lock
	LockRetryInterval time.Duration

	// ApplyMigrations automatically applies database migrations on startup.
	ApplyMigrations bool

	// BusyTimeout is passed to sqlite as the busy_timeout pragma in milliseconds. Only applies to file databases.
	BusyTimeout int
}

type option func(*options)

// WithApplyMigrations automatically applies database migrations on startup.
func WithApplyMigrations(applyMigrations bool) option {
	return func(o *options) {
		o.ApplyMigrations = applyMigrations
	}
}

// WithBusyTimeout sets how long, in milliseconds, sqlite waits for a locked database before failing a statement.
func WithBusyTimeout(ms int) option {
	return func(o *options) {
		o.BusyTimeout = ms
	}
}

func WithLockTimeout(timeout time.Duration) option {
	return func(o *options) {
		o.LockTimeout = timeout
	}
}

func WithLockRetryInterval(interval time.Duration) option {
	return func(o *options) {
		o.LockRetryInterval = interval
	}
}

// WithBackendOptions allows to pass generic backend options.
func WithBackendOptions(opts ...backend.BackendOption) option {
	return func(o *options) {
		for _, opt := range opts {
			opt(o.Options)
		}
	}
}

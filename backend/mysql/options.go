package mysql

import (
	"database/sql"
	"time"

	"github.com/cschleiden/go-resume/backend"
)

type options struct {
	*backend.Options

	// LockTimeout is how long a per-execution lock is held at most if the holder never releases it
	LockTimeout time.Duration

	// LockRetryInterval is the maximum wait between attempts to acquire a held lock
	LockRetryInterval time.Duration

	// MySQLOptions is called with the connection pool before migrations run, e.g. to size the pool
	MySQLOptions func(db *sql.DB)

	// ApplyMigrations creates or upgrades the correlation entries table on startup.
	ApplyMigrations bool
}

type option func(*options)

// WithApplyMigrations controls whether the correlation entries table is migrated on startup.
func WithApplyMigrations(applyMigrations bool) option {
	return func(o *options) {
		o.ApplyMigrations = applyMigrations
	}
}

// WithMySQLOptions configures the underlying *sql.DB, e.g. connection limits.
func WithMySQLOptions(f func(db *sql.DB)) option {
	return func(o *options) {
		o.MySQLOptions = f
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

// WithBackendOptions passes logger, metrics and tracer options to the backend.
func WithBackendOptions(opts ...backend.BackendOption) option {
	return func(o *options) {
		for _, opt := range opts {
			opt(o.Options)
		}
	}
}

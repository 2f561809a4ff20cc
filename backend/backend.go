package backend

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/cschleiden/go-resume/core"
	"github.com/cschleiden/go-resume/metrics"
)

var (
	// ErrDuplicateRegistration is returned when an execution is registered while a live entry for the same
	// execution id exists.
	ErrDuplicateRegistration = errors.New("execution already registered")

	// ErrUnknownExecution is returned when no live entry exists for an execution id. Expected for late,
	// duplicate or forged resume events.
	ErrUnknownExecution = errors.New("unknown execution")
)

const TracerName = "go-resume"

// Backend is the correlation table. It maps execution ids of suspended executions to their correlation entries.
//
// All operations are atomic with respect to concurrent callers on the same execution id, and a Register is observable
// by every later Resolve or Remove for the same id.
type Backend interface {
	// Register adds a correlation entry for a suspended execution. Returns ErrDuplicateRegistration if an entry for
	// the execution id already exists, the existing entry is left untouched.
	Register(ctx context.Context, entry *core.Entry) error

	// Resolve returns the live entry for the given execution id, or ErrUnknownExecution.
	Resolve(ctx context.Context, executionID string) (*core.Entry, error)

	// Remove deletes the entry for the given execution id. Removing an id without an entry is a no-op.
	Remove(ctx context.Context, executionID string) error

	// ExpiredEntries returns up to limit entries whose expiration lies at or before now
	ExpiredEntries(ctx context.Context, now time.Time, limit int) ([]*core.Entry, error)

	// GetEntries returns up to count entries ordered by execution id, starting after the given id. Used for
	// diagnostics.
	GetEntries(ctx context.Context, afterExecutionID string, count int) ([]*core.Entry, error)

	// GetStats returns stats about the backend
	GetStats(ctx context.Context) (*Stats, error)

	// Logger returns the configured logger for the backend
	Logger() *slog.Logger

	// Tracer returns the configured trace provider for the backend
	Tracer() trace.Tracer

	// Metrics returns the configured metrics client for the backend
	Metrics() metrics.Client

	// Options returns the configured options for the backend
	Options() *Options

	// Close closes any underlying resources
	Close() error
}

// Locker is implemented by backends that can serialize operations on a single execution id across processes.
type Locker interface {
	// Lock blocks until the lock for the execution id is acquired or the context is done. The returned function
	// releases the lock.
	Lock(ctx context.Context, executionID string) (unlock func(), err error)
}

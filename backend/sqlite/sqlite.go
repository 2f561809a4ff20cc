package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cschleiden/go-resume/backend"
	"github.com/cschleiden/go-resume/core"
	"github.com/cschleiden/go-resume/internal/metrickeys"
	"github.com/cschleiden/go-resume/metrics"
	"github.com/golang-migrate/migrate/v4"
	msqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	_ "modernc.org/sqlite"
)

//go:embed db/migrations/*.sql
var migrationsFS embed.FS

var _ backend.Backend = (*sqliteBackend)(nil)

// NewInMemoryBackend returns a sqlite backend using a private in-memory database.
func NewInMemoryBackend(opts ...option) *sqliteBackend {
	// Every in-memory backend gets its own named database, shared between the connections of this backend only
	b := newSqliteBackend(fmt.Sprintf("file:%v?mode=memory&cache=shared", uuid.NewString()), opts...)

	b.db.SetMaxOpenConns(1)

	return b
}

func NewSqliteBackend(path string, opts ...option) *sqliteBackend {
	return newSqliteBackend(fmt.Sprintf("file:%v?_pragma=journal_mode(WAL)", path), opts...)
}

func newSqliteBackend(dsn string, opts ...option) *sqliteBackend {
	options := &options{
		Options:         &backend.Options{},
		ApplyMigrations:   true,
		BusyTimeout:       5000,
		LockTimeout:       time.Second * 30,
		LockRetryInterval: time.Millisecond * 100,
	}
	*options.Options = backend.ApplyOptions()

	for _, opt := range opts {
		opt(options)
	}

	if options.BusyTimeout > 0 {
		dsn += fmt.Sprintf("&_pragma=busy_timeout(%d)", options.BusyTimeout)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		panic(err)
	}

	b := &sqliteBackend{
		db:      db,
		options: options,
	}

	if options.ApplyMigrations {
		if err := b.Migrate(); err != nil {
			panic(err)
		}
	}

	return b
}

type sqliteBackend struct {
	db      *sql.DB
	options *options
}

// Migrate applies any pending database migrations.
func (sb *sqliteBackend) Migrate() error {
	dbi, err := msqlite.WithInstance(sb.db, &msqlite.Config{})
	if err != nil {
		return fmt.Errorf("creating migration instance: %w", err)
	}

	migrations, err := iofs.New(migrationsFS, "db/migrations")
	if err != nil {
		return fmt.Errorf("creating migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", migrations, "sqlite", dbi)
	if err != nil {
		return fmt.Errorf("creating migration: %w", err)
	}

	// Do not close m here, that would close the backend's connection
	if err := m.Up(); err != nil {
		if !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("running migrations: %w", err)
		}
	}

	return nil
}

func (sb *sqliteBackend) Logger() *slog.Logger {
	return sb.options.Logger
}

func (sb *sqliteBackend) Tracer() trace.Tracer {
	return sb.options.TracerProvider.Tracer(backend.TracerName)
}

func (sb *sqliteBackend) Metrics() metrics.Client {
	return sb.options.Metrics.WithTags(metrics.Tags{metrickeys.Backend: "sqlite"})
}

func (sb *sqliteBackend) Options() *backend.Options {
	return sb.options.Options
}

func (sb *sqliteBackend) Close() error {
	return sb.db.Close()
}

func (sb *sqliteBackend) Register(ctx context.Context, entry *core.Entry) error {
	metadata, err := marshalMetadata(entry.Metadata)
	if err != nil {
		return err
	}

	res, err := sb.db.ExecContext(
		ctx,
		"INSERT OR IGNORE INTO `entries` (execution_id, process_instance_id, activity_id, registered_at, expires_at, metadata) VALUES (?, ?, ?, ?, ?, ?)",
		entry.ExecutionID,
		entry.ProcessInstanceID,
		entry.ActivityID,
		entry.RegisteredAt.UnixNano(),
		toNullInt(entry.ExpiresAt),
		metadata,
	)
	if err != nil {
		return fmt.Errorf("inserting entry: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if rows != 1 {
		return fmt.Errorf("registering %v: %w", entry.ExecutionID, backend.ErrDuplicateRegistration)
	}

	return nil
}

func (sb *sqliteBackend) Resolve(ctx context.Context, executionID string) (*core.Entry, error) {
	row := sb.db.QueryRowContext(
		ctx,
		"SELECT execution_id, process_instance_id, activity_id, registered_at, expires_at, metadata FROM `entries` WHERE execution_id = ?",
		executionID,
	)

	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, backend.ErrUnknownExecution
		}

		return nil, fmt.Errorf("resolving entry: %w", err)
	}

	return e, nil
}

func (sb *sqliteBackend) Remove(ctx context.Context, executionID string) error {
	if _, err := sb.db.ExecContext(ctx, "DELETE FROM `entries` WHERE execution_id = ?", executionID); err != nil {
		return fmt.Errorf("removing entry: %w", err)
	}

	return nil
}

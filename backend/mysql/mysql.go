package mysql

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/cschleiden/go-resume/backend"
	"github.com/cschleiden/go-resume/core"
	"github.com/cschleiden/go-resume/internal/metrickeys"
	"github.com/cschleiden/go-resume/metrics"
	_ "github.com/go-sql-driver/mysql"
	"github.com/golang-migrate/migrate/v4"
	mmysql "github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.opentelemetry.io/otel/trace"
)

//go:embed db/migrations/*.sql
var migrationsFS embed.FS

var _ backend.Backend = (*mysqlBackend)(nil)

func NewMysqlBackend(host string, port int, user, password, database string, opts ...option) *mysqlBackend {
	options := &options{
		Options:         &backend.Options{},
		ApplyMigrations:   true,
		LockTimeout:       time.Second * 30,
		LockRetryInterval: time.Millisecond * 100,
	}
	*options.Options = backend.ApplyOptions()

	for _, opt := range opts {
		opt(options)
	}

	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&interpolateParams=true", user, password, host, port, database)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		panic(err)
	}

	if options.MySQLOptions != nil {
		options.MySQLOptions(db)
	}

	b := &mysqlBackend{
		dsn:     dsn,
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

type mysqlBackend struct {
	dsn     string
	db      *sql.DB
	options *options
}

// Migrate applies any pending database migrations.
func (b *mysqlBackend) Migrate() error {
	// Migrations need multi statement support, open a dedicated connection for them
	schemaDsn := b.dsn + "&multiStatements=true"
	db, err := sql.Open("mysql", schemaDsn)
	if err != nil {
		return fmt.Errorf("opening schema database: %w", err)
	}

	dbi, err := mmysql.WithInstance(db, &mmysql.Config{})
	if err != nil {
		return fmt.Errorf("creating migration instance: %w", err)
	}

	migrations, err := iofs.New(migrationsFS, "db/migrations")
	if err != nil {
		return fmt.Errorf("creating migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", migrations, "mysql", dbi)
	if err != nil {
		return fmt.Errorf("creating migration: %w", err)
	}

	if err := m.Up(); err != nil {
		if !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("running migrations: %w", err)
		}
	}

	if err := db.Close(); err != nil {
		return fmt.Errorf("closing schema database: %w", err)
	}

	return nil
}

func (b *mysqlBackend) Logger() *slog.Logger {
	return b.options.Logger
}

func (b *mysqlBackend) Tracer() trace.Tracer {
	return b.options.TracerProvider.Tracer(backend.TracerName)
}

func (b *mysqlBackend) Metrics() metrics.Client {
	return b.options.Metrics.WithTags(metrics.Tags{metrickeys.Backend: "mysql"})
}

func (b *mysqlBackend) Options() *backend.Options {
	return b.options.Options
}

func (b *mysqlBackend) Close() error {
	return b.db.Close()
}

func (b *mysqlBackend) Register(ctx context.Context, entry *core.Entry) error {
	var metadata sql.NullString
	if len(entry.Metadata) > 0 {
		m, err := json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("marshaling metadata: %w", err)
		}

		metadata = sql.NullString{String: string(m), Valid: true}
	}

	var expiresAt sql.NullInt64
	if entry.ExpiresAt != nil {
		expiresAt = sql.NullInt64{Int64: entry.ExpiresAt.UnixNano(), Valid: true}
	}

	res, err := b.db.ExecContext(
		ctx,
		"INSERT IGNORE INTO `entries` (execution_id, process_instance_id, activity_id, registered_at, expires_at, metadata) VALUES (?, ?, ?, ?, ?, ?)",
		entry.ExecutionID,
		entry.ProcessInstanceID,
		entry.ActivityID,
		entry.RegisteredAt.UnixNano(),
		expiresAt,
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

func (b *mysqlBackend) Resolve(ctx context.Context, executionID string) (*core.Entry, error) {
	row := b.db.QueryRowContext(
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

func (b *mysqlBackend) Remove(ctx context.Context, executionID string) error {
	if _, err := b.db.ExecContext(ctx, "DELETE FROM `entries` WHERE execution_id = ?", executionID); err != nil {
		return fmt.Errorf("removing entry: %w", err)
	}

	return nil
}

func (b *mysqlBackend) ExpiredEntries(ctx context.Context, now time.Time, limit int) ([]*core.Entry, error) {
	rows, err := b.db.QueryContext(
		ctx,
		"SELECT execution_id, process_instance_id, activity_id, registered_at, expires_at, metadata FROM `entries` WHERE expires_at IS NOT NULL AND expires_at <= ? ORDER BY expires_at LIMIT ?",
		now.UnixNano(),
		sqlLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("querying expired entries: %w", err)
	}

	return scanEntries(rows)
}

func (b *mysqlBackend) GetEntries(ctx context.Context, afterExecutionID string, count int) ([]*core.Entry, error) {
	rows, err := b.db.QueryContext(
		ctx,
		"SELECT execution_id, process_instance_id, activity_id, registered_at, expires_at, metadata FROM `entries` WHERE execution_id > ? ORDER BY execution_id LIMIT ?",
		afterExecutionID,
		sqlLimit(count),
	)
	if err != nil {
		return nil, fmt.Errorf("querying entries: %w", err)
	}

	return scanEntries(rows)
}

func (b *mysqlBackend) GetStats(ctx context.Context) (*backend.Stats, error) {
	s := &backend.Stats{}

	row := b.db.QueryRowContext(ctx, "SELECT COUNT(*), COUNT(expires_at) FROM `entries`")
	if err := row.Scan(&s.AwaitingExecutions, &s.ExpiringExecutions); err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}

	return s, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*core.Entry, error) {
	var (
		e            core.Entry
		registeredAt int64
		expiresAt    sql.NullInt64
		metadata     sql.NullString
	)

	if err := row.Scan(&e.ExecutionID, &e.ProcessInstanceID, &e.ActivityID, &registeredAt, &expiresAt, &metadata); err != nil {
		return nil, err
	}

	e.RegisteredAt = time.Unix(0, registeredAt)

	if expiresAt.Valid {
		at := time.Unix(0, expiresAt.Int64)
		e.ExpiresAt = &at
	}

	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &e.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshaling metadata: %w", err)
		}
	}

	return &e, nil
}

func scanEntries(rows *sql.Rows) ([]*core.Entry, error) {
	defer rows.Close()

	var r []*core.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning entry: %w", err)
		}

		r = append(r, e)
	}

	return r, rows.Err()
}

func sqlLimit(n int) int {
	if n <= 0 {
		return math.MaxInt32
	}

	return n
}

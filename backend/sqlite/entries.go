package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cschleiden/go-resume/backend"
	"github.com/cschleiden/go-resume/core"
)

func (sb *sqliteBackend) ExpiredEntries(ctx context.Context, now time.Time, limit int) ([]*core.Entry, error) {
	rows, err := sb.db.QueryContext(
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

func (sb *sqliteBackend) GetEntries(ctx context.Context, afterExecutionID string, count int) ([]*core.Entry, error) {
	rows, err := sb.db.QueryContext(
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

func (sb *sqliteBackend) GetStats(ctx context.Context) (*backend.Stats, error) {
	s := &backend.Stats{}

	row := sb.db.QueryRowContext(
		ctx,
		"SELECT COUNT(*), COUNT(expires_at) FROM `entries`",
	)
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

func marshalMetadata(m map[string]string) (sql.NullString, error) {
	if len(m) == 0 {
		return sql.NullString{}, nil
	}

	b, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshaling metadata: %w", err)
	}

	return sql.NullString{String: string(b), Valid: true}, nil
}

func toNullInt(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}

	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

// sqlLimit maps a non-positive limit to sqlite's "no limit"
func sqlLimit(n int) int {
	if n <= 0 {
		return -1
	}

	return n
}

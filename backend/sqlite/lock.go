package sqlite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cschleiden/go-resume/backend"
	"github.com/cschleiden/go-resume/log"
	"github.com/google/uuid"
)

var _ backend.Locker = (*sqliteBackend)(nil)

var errLockHeld = errors.New("lock held")

// Lock serializes work on a single execution across all processes sharing the database file. A lock row expires
// after the configured lock timeout so a crashed holder cannot block an execution forever.
func (sb *sqliteBackend) Lock(ctx context.Context, executionID string) (func(), error) {
	token := uuid.NewString()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Millisecond * 5
	b.MaxInterval = sb.options.LockRetryInterval
	b.MaxElapsedTime = 0

	if err := backoff.Retry(func() error {
		return sb.tryLock(ctx, executionID, token)
	}, backoff.WithContext(b, ctx)); err != nil {
		return nil, fmt.Errorf("acquiring lock for %v: %w", executionID, err)
	}

	return func() {
		// Use a fresh context, the caller's might already be done
		if _, err := sb.db.ExecContext(
			context.Background(),
			"DELETE FROM `locks` WHERE execution_id = ? AND token = ?",
			executionID, token,
		); err != nil {
			sb.options.Logger.Error("could not release execution lock", log.ExecutionIDKey, executionID, "error", err)
		}
	}, nil
}

func (sb *sqliteBackend) tryLock(ctx context.Context, executionID, token string) error {
	now := time.Now()

	// Reclaim a lock abandoned by a crashed holder
	if _, err := sb.db.ExecContext(
		ctx,
		"DELETE FROM `locks` WHERE execution_id = ? AND expires_at < ?",
		executionID, now.UnixNano(),
	); err != nil {
		return backoff.Permanent(fmt.Errorf("reclaiming expired lock: %w", err))
	}

	res, err := sb.db.ExecContext(
		ctx,
		"INSERT OR IGNORE INTO `locks` (execution_id, token, expires_at) VALUES (?, ?, ?)",
		executionID, token, now.Add(sb.options.LockTimeout).UnixNano(),
	)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("inserting lock: %w", err))
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return backoff.Permanent(err)
	}

	if rows != 1 {
		return errLockHeld
	}

	return nil
}

package mysql

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

var _ backend.Locker = (*mysqlBackend)(nil)

var errLockHeld = errors.New("lock held")

// Lock serializes work on a single execution across all processes sharing the database. A lock row expires after
// the configured lock timeout so a crashed holder cannot block an execution forever.
func (b *mysqlBackend) Lock(ctx context.Context, executionID string) (func(), error) {
	token := uuid.NewString()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Millisecond * 5
	bo.MaxInterval = b.options.LockRetryInterval
	bo.MaxElapsedTime = 0

	if err := backoff.Retry(func() error {
		return b.tryLock(ctx, executionID, token)
	}, backoff.WithContext(bo, ctx)); err != nil {
		return nil, fmt.Errorf("acquiring lock for %v: %w", executionID, err)
	}

	return func() {
		// Use a fresh context, the caller's might already be done
		if _, err := b.db.ExecContext(
			context.Background(),
			"DELETE FROM `locks` WHERE execution_id = ? AND token = ?",
			executionID, token,
		); err != nil {
			b.options.Logger.Error("could not release execution lock", log.ExecutionIDKey, executionID, "error", err)
		}
	}, nil
}

func (b *mysqlBackend) tryLock(ctx context.Context, executionID, token string) error {
	now := time.Now()

	// Reclaim a lock abandoned by a crashed holder
	if _, err := b.db.ExecContext(
		ctx,
		"DELETE FROM `locks` WHERE execution_id = ? AND expires_at < ?",
		executionID, now.UnixNano(),
	); err != nil {
		return backoff.Permanent(fmt.Errorf("reclaiming expired lock: %w", err))
	}

	res, err := b.db.ExecContext(
		ctx,
		"INSERT IGNORE INTO `locks` (execution_id, token, expires_at) VALUES (?, ?, ?)",
		executionID, token, now.Add(b.options.LockTimeout).UnixNano(),
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

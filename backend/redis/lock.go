package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Release a lock only if it is still held by the given token
// KEYS[1] - lock key
// ARGV[1] - token
var unlockCmd = redis.NewScript(`
	if redis.call("GET", KEYS[1]) == ARGV[1] then
		return redis.call("DEL", KEYS[1])
	end
	return 0
`)

var errLockHeld = errors.New("lock held")

// Lock serializes work on a single execution across all processes sharing this redis instance. Locks expire after
// the configured lock timeout so a crashed holder cannot block an execution forever.
func (rb *redisBackend) Lock(ctx context.Context, executionID string) (func(), error) {
	key := rb.keys.lockKey(executionID)
	token := uuid.NewString()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Millisecond * 5
	b.MaxInterval = rb.options.LockRetryInterval
	b.MaxElapsedTime = 0

	if err := backoff.Retry(func() error {
		ok, err := rb.rdb.SetNX(ctx, key, token, rb.options.LockTimeout).Result()
		if err != nil {
			return backoff.Permanent(err)
		}

		if !ok {
			return errLockHeld
		}

		return nil
	}, backoff.WithContext(b, ctx)); err != nil {
		return nil, fmt.Errorf("acquiring lock for %v: %w", executionID, err)
	}

	return func() {
		// Use a fresh context, the caller's might already be done
		if err := unlockCmd.Run(context.Background(), rb.rdb, []string{key}, token).Err(); err != nil {
			rb.options.Logger.Error("could not release execution lock", "key", key, "error", err)
		}
	}, nil
}

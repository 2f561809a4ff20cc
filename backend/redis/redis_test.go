package redis

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cschleiden/go-resume/backend"
	"github.com/cschleiden/go-resume/backend/test"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

const (
	address  = "localhost:6379"
	user     = ""
	password = "RedisPassw0rd"
)

func Test_RedisBackend(t *testing.T) {
	client := getClient(t)

	test.BackendTest(t, func(t *testing.T) backend.Backend {
		return getBackend(t, client)
	}, nil)
}

func Test_RedisBackend_Lock(t *testing.T) {
	client := getClient(t)
	b := getBackend(t, client)
	ctx := context.Background()

	unlock, err := b.Lock(ctx, "e1")
	require.NoError(t, err)

	// Second lock attempt cannot acquire while the first is held
	lctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err = b.Lock(lctx, "e1")
	require.Error(t, err)

	// Other executions are not affected
	unlockOther, err := b.Lock(ctx, "e2")
	require.NoError(t, err)
	unlockOther()

	unlock()

	unlock, err = b.Lock(ctx, "e1")
	require.NoError(t, err)
	unlock()
}

func Test_RedisBackend_Lock_Serializes(t *testing.T) {
	client := getClient(t)
	b := getBackend(t, client)
	ctx := context.Background()

	var mu sync.Mutex
	inside := 0
	maxInside := 0

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			unlock, err := b.Lock(ctx, "e1")
			if err != nil {
				t.Error(err)
				return
			}
			defer unlock()

			mu.Lock()
			inside++
			maxInside = max(maxInside, inside)
			mu.Unlock()

			time.Sleep(5 * time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
		}()
	}

	wg.Wait()
	require.Equal(t, 1, maxInside)
}

func getClient(t *testing.T) redis.UniversalClient {
	if testing.Short() {
		t.Skip()
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{address},
		Username: user,
		Password: password,
		DB:       0,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skip("redis not reachable: " + err.Error())
	}

	return client
}

func getBackend(t *testing.T, client redis.UniversalClient) *redisBackend {
	// Every test gets its own key space instead of flushing the database
	b, err := NewRedisBackend(client, WithKeyPrefix("test-"+uuid.NewString()), WithLockRetryInterval(time.Millisecond*10))
	require.NoError(t, err)

	return b
}

package redis

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cschleiden/go-resume/core"
	"github.com/cschleiden/go-resume/router"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func getClient(t *testing.T) redis.UniversalClient {
	// These cases rely on redis being reachable on localhost:6379. Skip this test if `-short` is set.
	if testing.Short() {
		t.Skip()
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{"localhost:6379"},
		Password: "RedisPassw0rd",
		DB:       1,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skip("redis not reachable: " + err.Error())
	}

	return client
}

func newTestRouter(client redis.UniversalClient, prefix string, opts ...router.RouterOption) *redisRouter {
	opts = append([]router.RouterOption{
		router.WithLogger(slog.New(slog.DiscardHandler)),
		router.WithRetryInterval(time.Millisecond, time.Millisecond*5),
	}, opts...)

	return NewRedisRouter(client,
		WithStreamPrefix(prefix),
		WithBlockTimeout(time.Millisecond*50),
		WithClaimIdleTimeout(time.Second*30),
		WithRouterOptions(opts...),
	)
}

func Test_RedisRouter_FansOutRequests(t *testing.T) {
	client := getClient(t)
	r := newTestRouter(client, "test-"+uuid.NewString()+":")

	var mu sync.Mutex
	received := map[string][]string{}
	var wg sync.WaitGroup
	wg.Add(2)

	for _, name := range []string{"log", "replies"} {
		r.HandleRequests(name, func(ctx context.Context, event *core.RequestEvent) error {
			mu.Lock()
			defer mu.Unlock()

			received[name] = append(received[name], event.ExecutionID)
			wg.Done()
			return nil
		})
	}

	require.NoError(t, r.Start(context.Background()))

	e := core.NewExecution("e1", "p1", "wait")
	e.Headers["processKey"] = "asyncProcess"
	require.NoError(t, r.PublishRequest(context.Background(), core.NewRequestEvent(e, time.Now())))

	wg.Wait()
	require.NoError(t, r.Close())

	require.Equal(t, []string{"e1"}, received["log"])
	require.Equal(t, []string{"e1"}, received["replies"])
}

func Test_RedisRouter_PreservesHeaders(t *testing.T) {
	client := getClient(t)
	r := newTestRouter(client, "test-"+uuid.NewString()+":")

	got := make(chan *core.RequestEvent, 1)
	r.HandleRequests("capture", func(ctx context.Context, event *core.RequestEvent) error {
		got <- event
		return nil
	})

	require.NoError(t, r.Start(context.Background()))
	defer r.Close()

	e := core.NewExecution("e1", "p1", "wait")
	e.Headers["processKey"] = "asyncProcess"
	require.NoError(t, r.PublishRequest(context.Background(), core.NewRequestEvent(e, time.Now())))

	select {
	case event := <-got:
		require.Equal(t, "e1", event.ExecutionID)
		require.Equal(t, "e1", event.Headers[core.HeaderExecutionID])
		require.Equal(t, "asyncProcess", event.Headers["processKey"])
	case <-time.After(time.Second * 5):
		t.Fatal("request not delivered")
	}
}

func Test_RedisRouter_RetriesFailedHandler(t *testing.T) {
	client := getClient(t)
	r := newTestRouter(client, "test-"+uuid.NewString()+":", router.WithMaxDeliveryAttempts(5))

	var calls int32
	done := make(chan struct{})
	r.HandleResumes(func(ctx context.Context, event *core.ResumeEvent) error {
		if atomic.AddInt32(&calls, 1) < 3 {
			return errors.New("transient")
		}

		close(done)
		return nil
	})

	require.NoError(t, r.Start(context.Background()))
	require.NoError(t, r.PublishResume(context.Background(), core.NewResumeEvent("e1")))

	select {
	case <-done:
	case <-time.After(time.Second * 5):
		t.Fatal("resume not delivered")
	}

	require.NoError(t, r.Close())
	require.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func Test_RedisRouter_SharesLoadBetweenProcesses(t *testing.T) {
	client := getClient(t)
	prefix := "test-" + uuid.NewString() + ":"

	var calls int32
	var wg sync.WaitGroup
	wg.Add(10)

	handler := func(ctx context.Context, event *core.ResumeEvent) error {
		atomic.AddInt32(&calls, 1)
		wg.Done()
		return nil
	}

	r1 := newTestRouter(client, prefix)
	r1.HandleResumes(handler)
	r2 := newTestRouter(client, prefix)
	r2.HandleResumes(handler)

	require.NoError(t, r1.Start(context.Background()))
	require.NoError(t, r2.Start(context.Background()))

	for i := 0; i < 10; i++ {
		require.NoError(t, r1.PublishResume(context.Background(), core.NewResumeEvent(uuid.NewString())))
	}

	wg.Wait()
	require.NoError(t, r1.Close())
	require.NoError(t, r2.Close())

	// Each event is handled by exactly one of the two consumers
	require.Equal(t, int32(10), atomic.LoadInt32(&calls))
}

func Test_RedisRouter_PublishAfterCloseErrors(t *testing.T) {
	client := getClient(t)
	r := newTestRouter(client, "test-"+uuid.NewString()+":")

	require.NoError(t, r.Start(context.Background()))
	require.NoError(t, r.Close())

	err := r.PublishResume(context.Background(), core.NewResumeEvent("e1"))
	require.ErrorIs(t, err, router.ErrRouterClosed)
}

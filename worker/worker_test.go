package worker

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cschleiden/go-resume/backend"
	"github.com/cschleiden/go-resume/backend/memory"
	"github.com/cschleiden/go-resume/core"
	em "github.com/cschleiden/go-resume/engine/memory"
	"github.com/cschleiden/go-resume/router"
	rm "github.com/cschleiden/go-resume/router/memory"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

type testSetup struct {
	b backend.Backend
	r router.Router
	e *em.Engine
	w *Worker

	mu       sync.Mutex
	requests []*core.RequestEvent
	signals  map[string]int
}

func newTestSetup(t *testing.T, options *Options) *testSetup {
	logger := slog.New(slog.DiscardHandler)

	ts := &testSetup{
		b:       memory.NewMemoryBackend(backend.WithLogger(logger)),
		r:       rm.NewMemoryRouter(16, router.WithLogger(logger), router.WithRetryInterval(time.Millisecond, time.Millisecond)),
		e:       em.NewEngine(em.WithLogger(logger)),
		signals: map[string]int{},
	}

	require.NoError(t, ts.e.RegisterProcess(em.NewProcess("asyncProcess",
		em.Wait("wait"),
		em.Task("continue", func(ctx context.Context, e *core.Execution) error {
			ts.mu.Lock()
			defer ts.mu.Unlock()

			ts.signals[e.ProcessInstanceID]++
			return nil
		}),
	)))

	ts.w = New(ts.b, ts.r, ts.e, options)
	ts.w.HandleRequests("capture", func(ctx context.Context, event *core.RequestEvent) error {
		ts.mu.Lock()
		defer ts.mu.Unlock()

		ts.requests = append(ts.requests, event)
		return nil
	})

	return ts
}

func (ts *testSetup) requestCount() int {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	return len(ts.requests)
}

func (ts *testSetup) signalCount(processInstanceID string) int {
	ts.mu.Lock()
	defer ts.mu.Unlock()

	return ts.signals[processInstanceID]
}

func Test_Worker_StartSuspendResume(t *testing.T) {
	defer goleak.VerifyNone(t)

	ts := newTestSetup(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, ts.w.Start(ctx))

	executionID, err := ts.e.StartInstance(ctx, "asyncProcess")
	require.NoError(t, err)

	// Registered and request observed
	_, err = ts.b.Resolve(ctx, executionID)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return ts.requestCount() == 1 }, time.Second*5, time.Millisecond)
	require.Equal(t, executionID, ts.requests[0].ExecutionID)
	require.Equal(t, executionID, ts.requests[0].Headers[core.HeaderExecutionID])

	i, err := ts.e.Instance(executionID)
	require.NoError(t, err)

	// Two resumes back to back
	require.NoError(t, ts.r.PublishResume(ctx, core.NewResumeEvent(executionID)))
	require.NoError(t, ts.r.PublishResume(ctx, core.NewResumeEvent(executionID)))

	require.Eventually(t, func() bool {
		i, err := ts.e.Instance(executionID)
		return err == nil && i.State == em.InstanceStateCompleted
	}, time.Second*5, time.Millisecond)

	cancel()
	require.NoError(t, ts.w.WaitForCompletion())

	require.Equal(t, 1, ts.signalCount(i.InstanceID))

	_, err = ts.b.Resolve(context.Background(), executionID)
	require.ErrorIs(t, err, backend.ErrUnknownExecution)
}

func Test_Worker_ResumeForUnknownExecution(t *testing.T) {
	defer goleak.VerifyNone(t)

	ts := newTestSetup(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, ts.w.Start(ctx))

	state, err := ts.w.Dispatcher().Resume(ctx, core.NewResumeEvent("ghost"))
	require.NoError(t, err)
	require.Equal(t, core.ExecutionStateDropped, state)

	cancel()
	require.NoError(t, ts.w.WaitForCompletion())
}

func Test_Worker_ExpiresWaits(t *testing.T) {
	c := clock.NewMock()
	c.Set(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))

	options := DefaultOptions
	options.Clock = c
	options.WaitTimeout = time.Minute

	ts := newTestSetup(t, &options)
	ctx := context.Background()

	executionID, err := ts.e.StartInstance(ctx, "asyncProcess")
	require.NoError(t, err)

	// Not yet expired
	n, err := ts.w.expire(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, n)

	c.Add(time.Minute)

	n, err = ts.w.expire(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	_, err = ts.b.Resolve(ctx, executionID)
	require.ErrorIs(t, err, backend.ErrUnknownExecution)

	i, err := ts.e.Instance(executionID)
	require.NoError(t, err)
	require.Equal(t, em.InstanceStateCancelled, i.State)
	require.Equal(t, ReasonExpired, i.Reason)

	// A late resume is dropped
	state, err := ts.w.Dispatcher().Resume(ctx, core.NewResumeEvent(executionID))
	require.NoError(t, err)
	require.Equal(t, core.ExecutionStateDropped, state)
	require.Equal(t, 0, ts.signalCount(i.InstanceID))

	require.NoError(t, ts.r.Close())
}

func Test_Worker_ExpirationLoop(t *testing.T) {
	defer goleak.VerifyNone(t)

	c := clock.NewMock()

	options := DefaultOptions
	options.Clock = c
	options.WaitTimeout = time.Minute
	options.ExpirationInterval = time.Second * 30

	ts := newTestSetup(t, &options)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, ts.w.Start(ctx))

	executionID, err := ts.e.StartInstance(ctx, "asyncProcess")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		c.Add(time.Second * 30)

		i, err := ts.e.Instance(executionID)
		return err == nil && i.State == em.InstanceStateCancelled
	}, time.Second*5, time.Millisecond*10)

	cancel()
	require.NoError(t, ts.w.WaitForCompletion())
}

func Test_Worker_RepliesFromRequestHandlerUnderSmallBuffers(t *testing.T) {
	defer goleak.VerifyNone(t)

	logger := slog.New(slog.DiscardHandler)
	b := memory.NewMemoryBackend(backend.WithLogger(logger))
	r := rm.NewMemoryRouter(4,
		router.WithLogger(logger),
		router.WithMaxParallelDeliveries(2),
		router.WithRetryInterval(time.Millisecond, time.Millisecond*5),
	)
	e := em.NewEngine(em.WithLogger(logger))

	var completed atomic.Int32
	require.NoError(t, e.RegisterProcess(em.NewProcess("threeWaits",
		em.Wait("first"),
		em.Wait("second"),
		em.Wait("third"),
		em.Task("done", func(ctx context.Context, e *core.Execution) error {
			completed.Add(1)
			return nil
		}),
	)))

	options := DefaultOptions
	options.LogRequests = false

	w := New(b, r, e, &options)
	w.HandleRequests("reply", func(ctx context.Context, event *core.RequestEvent) error {
		return r.PublishResume(ctx, core.NewResumeEvent(event.ExecutionID))
	})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, w.Start(ctx))

	const instances = 200

	var wg sync.WaitGroup
	for i := 0; i < instances; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			_, err := e.StartInstance(ctx, "threeWaits")
			require.NoError(t, err)
		}()
	}

	wg.Wait()

	require.Eventually(t, func() bool {
		return completed.Load() == instances
	}, 10*time.Second, 10*time.Millisecond)

	// Entries are removed after the final signal returned
	require.Eventually(t, func() bool {
		stats, err := b.GetStats(ctx)
		return err == nil && stats.AwaitingExecutions == 0
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, w.WaitForCompletion())
}

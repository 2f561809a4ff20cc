package dispatcher

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/cschleiden/go-resume/backend"
	"github.com/cschleiden/go-resume/backend/memory"
	"github.com/cschleiden/go-resume/core"
	"github.com/cschleiden/go-resume/engine"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestBackend() backend.Backend {
	return memory.NewMemoryBackend(backend.WithLogger(slog.New(slog.DiscardHandler)))
}

func register(t *testing.T, b backend.Backend, executionID string) {
	t.Helper()

	entry := core.NewEntry(core.NewExecution(executionID, "p1", "wait"), time.Now())
	require.NoError(t, b.Register(context.Background(), entry))
}

func Test_Dispatcher_Resume(t *testing.T) {
	b := newTestBackend()
	e := engine.NewMockEngine(t)
	e.On("Signal", mock.Anything, "e1").Return(nil).Once()

	d := New(b, e)
	ctx := context.Background()

	register(t, b, "e1")

	state, err := d.Resume(ctx, core.NewResumeEvent("e1"))
	require.NoError(t, err)
	require.Equal(t, core.ExecutionStateResumed, state)

	_, err = b.Resolve(ctx, "e1")
	require.ErrorIs(t, err, backend.ErrUnknownExecution)
}

func Test_Dispatcher_Resume_UnknownExecution(t *testing.T) {
	b := newTestBackend()
	e := engine.NewMockEngine(t)
	d := New(b, e)

	state, err := d.Resume(context.Background(), core.NewResumeEvent("ghost"))
	require.NoError(t, err)
	require.Equal(t, core.ExecutionStateDropped, state)

	state, err = d.Resume(context.Background(), core.NewResumeEvent(""))
	require.NoError(t, err)
	require.Equal(t, core.ExecutionStateDropped, state)

	e.AssertNotCalled(t, "Signal", mock.Anything, mock.Anything)
}

func Test_Dispatcher_Resume_BackToBack(t *testing.T) {
	b := newTestBackend()
	e := engine.NewMockEngine(t)
	e.On("Signal", mock.Anything, "e1").Return(nil)

	d := New(b, e)
	ctx := context.Background()

	register(t, b, "e1")

	state, err := d.Resume(ctx, core.NewResumeEvent("e1"))
	require.NoError(t, err)
	require.Equal(t, core.ExecutionStateResumed, state)

	state, err = d.Resume(ctx, core.NewResumeEvent("e1"))
	require.NoError(t, err)
	require.Equal(t, core.ExecutionStateDropped, state)

	// Remembered as settled, so the second event is classified as a duplicate
	s, ok := d.recent.get("e1")
	require.True(t, ok)
	require.Equal(t, core.ExecutionStateResumed, s)

	e.AssertNumberOfCalls(t, "Signal", 1)
}

func Test_Dispatcher_Resume_ExactlyOnceUnderConcurrency(t *testing.T) {
	b := newTestBackend()
	e := engine.NewMockEngine(t)
	e.On("Signal", mock.Anything, "e1").Return(nil).Run(func(args mock.Arguments) {
		// Widen the window for racing resumes
		time.Sleep(time.Millisecond * 5)
	})

	d := New(b, e)
	register(t, b, "e1")

	const n = 20

	var mu sync.Mutex
	states := map[core.ExecutionState]int{}

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			state, err := d.Resume(context.Background(), core.NewResumeEvent("e1"))
			if err != nil {
				t.Error(err)
				return
			}

			mu.Lock()
			states[state]++
			mu.Unlock()
		}()
	}

	wg.Wait()

	e.AssertNumberOfCalls(t, "Signal", 1)
	require.Equal(t, 1, states[core.ExecutionStateResumed])
	require.Equal(t, n-1, states[core.ExecutionStateDropped])
}

func Test_Dispatcher_Resume_SignalFailureRemovesEntry(t *testing.T) {
	b := newTestBackend()
	e := engine.NewMockEngine(t)
	e.On("Signal", mock.Anything, "e1").Return(engine.SignalFailure("e1", engine.ErrExecutionNotWaiting)).Once()
	e.On("Signal", mock.Anything, "e2").Return(errors.New("engine unavailable")).Once()

	d := New(b, e)
	ctx := context.Background()

	for _, id := range []string{"e1", "e2"} {
		register(t, b, id)

		state, err := d.Resume(ctx, core.NewResumeEvent(id))
		require.ErrorIs(t, err, engine.ErrEngineSignalFailure)
		require.Equal(t, core.ExecutionStateDropped, state)

		_, err = b.Resolve(ctx, id)
		require.ErrorIs(t, err, backend.ErrUnknownExecution)
	}
}

func Test_Dispatcher_HandleResume(t *testing.T) {
	b := newTestBackend()
	e := engine.NewMockEngine(t)
	e.On("Signal", mock.Anything, "e1").Return(engine.SignalFailure("e1", engine.ErrExecutionNotFound)).Once()

	d := New(b, e)
	ctx := context.Background()

	register(t, b, "e1")

	// Signal failures and drops are settled, the router must not redeliver them
	require.NoError(t, d.HandleResume(ctx, core.NewResumeEvent("e1")))
	require.NoError(t, d.HandleResume(ctx, core.NewResumeEvent("ghost")))
}

type failingBackend struct {
	backend.Backend
}

func (failingBackend) Resolve(ctx context.Context, executionID string) (*core.Entry, error) {
	return nil, errors.New("connection refused")
}

func Test_Dispatcher_HandleResume_TransientErrorsAreReturned(t *testing.T) {
	e := engine.NewMockEngine(t)
	d := New(failingBackend{newTestBackend()}, e)

	err := d.HandleResume(context.Background(), core.NewResumeEvent("e1"))
	require.ErrorContains(t, err, "connection refused")
}

// unreliableRemoveBackend fails the first calls to Remove
type unreliableRemoveBackend struct {
	backend.Backend

	mu       sync.Mutex
	failures int
	calls    int
}

func (b *unreliableRemoveBackend) Remove(ctx context.Context, executionID string) error {
	b.mu.Lock()
	b.calls++
	fail := b.calls <= b.failures
	b.mu.Unlock()

	if fail {
		return errors.New("database is locked")
	}

	return b.Backend.Remove(ctx, executionID)
}

func Test_Dispatcher_Resume_RemoveFailureIsRetried(t *testing.T) {
	b := &unreliableRemoveBackend{Backend: newTestBackend(), failures: 1}
	e := engine.NewMockEngine(t)
	e.On("Signal", mock.Anything, "e1").Return(nil).Once()

	d := New(b, e, WithRemoveRetries(3, time.Millisecond))
	ctx := context.Background()

	register(t, b, "e1")

	require.NoError(t, d.HandleResume(ctx, core.NewResumeEvent("e1")))

	_, err := b.Resolve(ctx, "e1")
	require.ErrorIs(t, err, backend.ErrUnknownExecution)
	require.Equal(t, 2, b.calls)

	// Redelivery is dropped
	require.NoError(t, d.HandleResume(ctx, core.NewResumeEvent("e1")))
	e.AssertNumberOfCalls(t, "Signal", 1)
}

func Test_Dispatcher_Resume_SettledDespiteRemoveFailure(t *testing.T) {
	b := &unreliableRemoveBackend{Backend: newTestBackend(), failures: 1}
	e := engine.NewMockEngine(t)
	e.On("Signal", mock.Anything, "e1").Return(nil).Once()

	d := New(b, e, WithRemoveRetries(0, time.Millisecond))
	ctx := context.Background()

	register(t, b, "e1")

	// The failure is not returned, the router must not redeliver the event
	require.NoError(t, d.HandleResume(ctx, core.NewResumeEvent("e1")))

	_, err := b.Resolve(ctx, "e1")
	require.NoError(t, err, "entry left behind")

	// A redelivered event does not signal again and cleans up the stale entry
	state, err := d.Resume(ctx, core.NewResumeEvent("e1"))
	require.NoError(t, err)
	require.Equal(t, core.ExecutionStateDropped, state)

	e.AssertNumberOfCalls(t, "Signal", 1)

	_, err = b.Resolve(ctx, "e1")
	require.ErrorIs(t, err, backend.ErrUnknownExecution)
}

func Test_Dispatcher_Cancel_SettledExecution(t *testing.T) {
	b := &unreliableRemoveBackend{Backend: newTestBackend(), failures: 1}
	e := engine.NewMockEngine(t)
	e.On("Signal", mock.Anything, "e1").Return(nil).Once()

	d := New(b, e, WithRemoveRetries(0, time.Millisecond))
	ctx := context.Background()

	register(t, b, "e1")

	state, err := d.Resume(ctx, core.NewResumeEvent("e1"))
	require.NoError(t, err)
	require.Equal(t, core.ExecutionStateResumed, state)

	// The stale entry is removed, the resumed execution is not abandoned
	require.ErrorIs(t, d.Cancel(ctx, "e1", "expired"), backend.ErrUnknownExecution)
	e.AssertNotCalled(t, "Abandon", mock.Anything, mock.Anything, mock.Anything)

	_, err = b.Resolve(ctx, "e1")
	require.ErrorIs(t, err, backend.ErrUnknownExecution)
}

func Test_Dispatcher_Cancel(t *testing.T) {
	b := newTestBackend()
	e := engine.NewMockEngine(t)
	e.On("Abandon", mock.Anything, "e1", "timeout").Return(nil).Once()

	d := New(b, e)
	ctx := context.Background()

	register(t, b, "e1")

	require.NoError(t, d.Cancel(ctx, "e1", "timeout"))

	_, err := b.Resolve(ctx, "e1")
	require.ErrorIs(t, err, backend.ErrUnknownExecution)

	// Resume after cancel is dropped, the engine is never signaled
	state, err := d.Resume(ctx, core.NewResumeEvent("e1"))
	require.NoError(t, err)
	require.Equal(t, core.ExecutionStateDropped, state)

	// Cancelling again fails, Abandon was called once
	require.ErrorIs(t, d.Cancel(ctx, "e1", "timeout"), backend.ErrUnknownExecution)
	e.AssertNumberOfCalls(t, "Abandon", 1)
	e.AssertNotCalled(t, "Signal", mock.Anything, mock.Anything)
}

func Test_Dispatcher_Cancel_AbandonFailure(t *testing.T) {
	b := newTestBackend()
	e := engine.NewMockEngine(t)
	e.On("Abandon", mock.Anything, "e1", "manual").Return(engine.ErrExecutionNotWaiting).Once()

	d := New(b, e)
	ctx := context.Background()

	register(t, b, "e1")

	err := d.Cancel(ctx, "e1", "manual")
	require.ErrorIs(t, err, ErrAbandonFailed)
	require.ErrorIs(t, err, engine.ErrExecutionNotWaiting)

	// Entry is removed regardless
	_, err = b.Resolve(ctx, "e1")
	require.ErrorIs(t, err, backend.ErrUnknownExecution)
}

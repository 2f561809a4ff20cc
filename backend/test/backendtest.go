package test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cschleiden/go-resume/backend"
	"github.com/cschleiden/go-resume/core"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

// BackendTest runs the correlation table conformance suite against the backend returned by setup. Each test gets
// a fresh backend.
func BackendTest(t *testing.T, setup func(t *testing.T) backend.Backend, teardown func(b backend.Backend)) {
	tests := []struct {
		name string
		f    func(t *testing.T, ctx context.Context, b backend.Backend)
	}{
		{
			name: "Register_DoesNotError",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				err := b.Register(ctx, newEntry(uuid.NewString()))
				require.NoError(t, err)
			},
		},
		{
			name: "Register_SameExecutionIDErrors",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				executionID := uuid.NewString()

				first := newEntry(executionID)
				first.ActivityID = "first"
				require.NoError(t, b.Register(ctx, first))

				second := newEntry(executionID)
				second.ActivityID = "second"
				err := b.Register(ctx, second)
				require.ErrorIs(t, err, backend.ErrDuplicateRegistration)

				// Existing entry is not overwritten
				e, err := b.Resolve(ctx, executionID)
				require.NoError(t, err)
				require.Equal(t, "first", e.ActivityID)

				s, err := b.GetStats(ctx)
				require.NoError(t, err)
				require.Equal(t, int64(1), s.AwaitingExecutions)
			},
		},
		{
			name: "Register_Concurrent_OnlyOneSucceeds",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				executionID := uuid.NewString()

				const n = 8
				errs := make(chan error, n)

				var wg sync.WaitGroup
				for i := 0; i < n; i++ {
					wg.Add(1)
					go func() {
						defer wg.Done()
						errs <- b.Register(ctx, newEntry(executionID))
					}()
				}

				wg.Wait()
				close(errs)

				succeeded := 0
				for err := range errs {
					if err == nil {
						succeeded++
					} else {
						require.ErrorIs(t, err, backend.ErrDuplicateRegistration)
					}
				}

				require.Equal(t, 1, succeeded)
			},
		},
		{
			name: "Resolve_UnknownExecutionErrors",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				e, err := b.Resolve(ctx, "ghost")
				require.ErrorIs(t, err, backend.ErrUnknownExecution)
				require.Nil(t, e)
			},
		},
		{
			name: "Resolve_ReturnsRegisteredEntry",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				executionID := uuid.NewString()

				entry := newEntry(executionID)
				expiresAt := entry.RegisteredAt.Add(time.Hour)
				entry.ExpiresAt = &expiresAt
				entry.Metadata["traceparent"] = "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01"

				require.NoError(t, b.Register(ctx, entry))

				e, err := b.Resolve(ctx, executionID)
				require.NoError(t, err)
				require.Equal(t, executionID, e.ExecutionID)
				require.Equal(t, entry.ProcessInstanceID, e.ProcessInstanceID)
				require.Equal(t, entry.ActivityID, e.ActivityID)
				require.WithinDuration(t, entry.RegisteredAt, e.RegisteredAt, time.Millisecond)
				require.NotNil(t, e.ExpiresAt)
				require.WithinDuration(t, expiresAt, *e.ExpiresAt, time.Millisecond)
				require.Equal(t, entry.Metadata, e.Metadata)
			},
		},
		{
			name: "Remove_IsIdempotent",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				executionID := uuid.NewString()
				require.NoError(t, b.Register(ctx, newEntry(executionID)))

				require.NoError(t, b.Remove(ctx, executionID))
				require.NoError(t, b.Remove(ctx, executionID))
				require.NoError(t, b.Remove(ctx, "never-registered"))

				_, err := b.Resolve(ctx, executionID)
				require.ErrorIs(t, err, backend.ErrUnknownExecution)

				s, err := b.GetStats(ctx)
				require.NoError(t, err)
				require.Equal(t, int64(0), s.AwaitingExecutions)
			},
		},
		{
			name: "Register_AfterRemove_Succeeds",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				executionID := uuid.NewString()
				require.NoError(t, b.Register(ctx, newEntry(executionID)))
				require.NoError(t, b.Remove(ctx, executionID))

				require.NoError(t, b.Register(ctx, newEntry(executionID)))

				_, err := b.Resolve(ctx, executionID)
				require.NoError(t, err)
			},
		},
		{
			name: "ExpiredEntries_ReturnsOnlyExpired",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				now := time.Now()

				past := now.Add(-time.Minute)
				older := now.Add(-time.Hour)
				future := now.Add(time.Hour)

				expired := newEntry("expired")
				expired.ExpiresAt = &past
				require.NoError(t, b.Register(ctx, expired))

				expiredOlder := newEntry("expired-older")
				expiredOlder.ExpiresAt = &older
				require.NoError(t, b.Register(ctx, expiredOlder))

				pending := newEntry("pending")
				pending.ExpiresAt = &future
				require.NoError(t, b.Register(ctx, pending))

				require.NoError(t, b.Register(ctx, newEntry("forever")))

				r, err := b.ExpiredEntries(ctx, now, 10)
				require.NoError(t, err)
				require.Len(t, r, 2)
				require.Equal(t, "expired-older", r[0].ExecutionID)
				require.Equal(t, "expired", r[1].ExecutionID)

				r, err = b.ExpiredEntries(ctx, now, 1)
				require.NoError(t, err)
				require.Len(t, r, 1)
				require.Equal(t, "expired-older", r[0].ExecutionID)

				// Removed entries are not reported again
				require.NoError(t, b.Remove(ctx, "expired-older"))
				r, err = b.ExpiredEntries(ctx, now, 10)
				require.NoError(t, err)
				require.Len(t, r, 1)
				require.Equal(t, "expired", r[0].ExecutionID)

				s, err := b.GetStats(ctx)
				require.NoError(t, err)
				require.Equal(t, int64(3), s.AwaitingExecutions)
				require.Equal(t, int64(2), s.ExpiringExecutions)
			},
		},
		{
			name: "GetEntries_Paginates",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				for _, id := range []string{"c", "a", "b", "d"} {
					require.NoError(t, b.Register(ctx, newEntry(id)))
				}

				r, err := b.GetEntries(ctx, "", 2)
				require.NoError(t, err)
				require.Equal(t, []string{"a", "b"}, executionIDs(r))

				r, err = b.GetEntries(ctx, "b", 2)
				require.NoError(t, err)
				require.Equal(t, []string{"c", "d"}, executionIDs(r))

				r, err = b.GetEntries(ctx, "d", 2)
				require.NoError(t, err)
				require.Empty(t, r)
			},
		},
		{
			name: "Lock_ExcludesSameExecution",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				l, ok := b.(backend.Locker)
				if !ok {
					t.Skip("backend does not implement backend.Locker")
				}

				unlock, err := l.Lock(ctx, "e1")
				require.NoError(t, err)

				// Cannot acquire while held
				lctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
				defer cancel()
				_, err = l.Lock(lctx, "e1")
				require.Error(t, err)

				// Other executions are not affected
				unlockOther, err := l.Lock(ctx, "e2")
				require.NoError(t, err)
				unlockOther()

				unlock()

				unlock, err = l.Lock(ctx, "e1")
				require.NoError(t, err)
				unlock()
			},
		},
		{
			name: "Lock_Serializes",
			f: func(t *testing.T, ctx context.Context, b backend.Backend) {
				l, ok := b.(backend.Locker)
				if !ok {
					t.Skip("backend does not implement backend.Locker")
				}

				var mu sync.Mutex
				inside, maxInside := 0, 0

				var wg sync.WaitGroup
				for i := 0; i < 5; i++ {
					wg.Add(1)
					go func() {
						defer wg.Done()

						unlock, err := l.Lock(ctx, "e1")
						if err != nil {
							t.Error(err)
							return
						}
						defer unlock()

						mu.Lock()
						inside++
						maxInside = max(maxInside, inside)
						mu.Unlock()

						time.Sleep(time.Millisecond * 2)

						mu.Lock()
						inside--
						mu.Unlock()
					}()
				}

				wg.Wait()
				require.Equal(t, 1, maxInside)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := setup(t)
			ctx := context.Background()

			tt.f(t, ctx, b)

			if teardown != nil {
				teardown(b)
			}
		})
	}
}

func newEntry(executionID string) *core.Entry {
	e := core.NewEntry(core.NewExecution(executionID, uuid.NewString(), "wait"), time.Now())
	return e
}

func executionIDs(entries []*core.Entry) []string {
	r := make([]string, 0, len(entries))
	for _, e := range entries {
		r = append(r, e.ExecutionID)
	}

	return r
}

package keylock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func Test_Locks_Serializes(t *testing.T) {
	l := New()

	var mu sync.Mutex
	inside, maxInside := 0, 0

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			unlock, err := l.Lock(context.Background(), "e1")
			if err != nil {
				t.Error(err)
				return
			}
			defer unlock()

			mu.Lock()
			inside++
			maxInside = max(maxInside, inside)
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			inside--
			mu.Unlock()
		}()
	}

	wg.Wait()

	require.Equal(t, 1, maxInside)
	require.Equal(t, 0, l.Len())
}

func Test_Locks_IndependentKeys(t *testing.T) {
	l := New()

	unlock1, err := l.Lock(context.Background(), "e1")
	require.NoError(t, err)

	unlock2, err := l.Lock(context.Background(), "e2")
	require.NoError(t, err)
	require.Equal(t, 2, l.Len())

	unlock1()
	unlock2()
	require.Equal(t, 0, l.Len())
}

func Test_Locks_ContextCancelled(t *testing.T) {
	l := New()

	unlock, err := l.Lock(context.Background(), "e1")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond*10)
	defer cancel()

	_, err = l.Lock(ctx, "e1")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	require.Equal(t, 0, l.Len())

	unlock, err = l.Lock(context.Background(), "e1")
	require.NoError(t, err)
	unlock()
}

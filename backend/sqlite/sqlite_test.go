package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cschleiden/go-resume/backend"
	"github.com/cschleiden/go-resume/backend/test"
	"github.com/stretchr/testify/require"
)

func Test_SqliteBackend(t *testing.T) {
	test.BackendTest(t, func(t *testing.T) backend.Backend {
		return NewInMemoryBackend()
	}, func(b backend.Backend) {
		if err := b.Close(); err != nil {
			panic(err)
		}
	})
}

func Test_SqliteFileBackend(t *testing.T) {
	dir := t.TempDir()

	test.BackendTest(t, func(t *testing.T) backend.Backend {
		f, err := os.CreateTemp(dir, "resume-*.sqlite")
		require.NoError(t, err)
		require.NoError(t, f.Close())

		return NewSqliteBackend(f.Name())
	}, func(b backend.Backend) {
		if err := b.Close(); err != nil {
			panic(err)
		}
	})
}

func Test_SqliteBackend_MigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resume.sqlite")

	b := NewSqliteBackend(path)
	require.NoError(t, b.Migrate())
	require.NoError(t, b.Close())

	// Reopening an existing database does not fail on already applied migrations
	b = NewSqliteBackend(path)
	defer b.Close()

	var count int
	require.NoError(t, b.db.QueryRow("SELECT COUNT(*) FROM `entries`").Scan(&count))
	require.Equal(t, 0, count)
}

func Test_SqliteBackend_LockExpires(t *testing.T) {
	b := NewInMemoryBackend(WithLockTimeout(20*time.Millisecond), WithLockRetryInterval(5*time.Millisecond))
	defer b.Close()

	ctx := context.Background()

	// Never released, as if the holder crashed
	_, err := b.Lock(ctx, "e1")
	require.NoError(t, err)

	lctx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	unlock, err := b.Lock(lctx, "e1")
	require.NoError(t, err)
	unlock()
}

func Test_SqliteBackend_UnlockKeepsForeignLock(t *testing.T) {
	b := NewInMemoryBackend(WithLockTimeout(20*time.Millisecond), WithLockRetryInterval(5*time.Millisecond))
	defer b.Close()

	ctx := context.Background()

	staleUnlock, err := b.Lock(ctx, "e1")
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)

	// Reclaimed by the next holder, the stale holder must not release it
	unlock, err := b.Lock(ctx, "e1")
	require.NoError(t, err)

	staleUnlock()

	var count int
	require.NoError(t, b.db.QueryRow("SELECT COUNT(*) FROM `locks` WHERE execution_id = ?", "e1").Scan(&count))
	require.Equal(t, 1, count)

	unlock()
}

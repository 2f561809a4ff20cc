package sqlite

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func Test_SqliteBackend_PragmaSettings(t *testing.T) {
	t.Run("In-memory database has memory journal mode", func(t *testing.T) {
		backend := NewInMemoryBackend()
		defer backend.Close()

		// WAL mode is not supported for in-memory databases
		var journalMode string
		err := backend.db.QueryRow("PRAGMA journal_mode").Scan(&journalMode)
		require.NoError(t, err)
		require.Equal(t, "memory", journalMode)
	})

	t.Run("File backend has WAL mode", func(t *testing.T) {
		backend := NewSqliteBackend(filepath.Join(t.TempDir(), "test_pragma.db"))
		defer backend.Close()

		var journalMode string
		err := backend.db.QueryRow("PRAGMA journal_mode").Scan(&journalMode)
		require.NoError(t, err)
		require.Equal(t, "wal", journalMode)
	})

	t.Run("Busy timeout is applied", func(t *testing.T) {
		backend := NewSqliteBackend(filepath.Join(t.TempDir(), "test_busy.db"), WithBusyTimeout(1234))
		defer backend.Close()

		var timeout int
		err := backend.db.QueryRow("PRAGMA busy_timeout").Scan(&timeout)
		require.NoError(t, err)
		require.Equal(t, 1234, timeout)
	})
}

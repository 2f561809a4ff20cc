package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func env(vars map[string]string) func(string) string {
	return func(key string) string {
		return vars[key]
	}
}

func Test_Load_Defaults(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)

	l, err := cfg.Level()
	require.NoError(t, err)
	require.Equal(t, slog.LevelInfo, l)
}

func Test_Load_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resume.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
addr: ":9090"
log_level: debug
backend:
  type: sqlite
  sqlite:
    path: /tmp/resume.db
router:
  type: redis
  max_delivery_attempts: 3
worker:
  wait_timeout: 1h
`), 0o600))

	cfg, err := Load(path, nil)
	require.NoError(t, err)

	require.Equal(t, ":9090", cfg.Addr)
	require.Equal(t, "sqlite", cfg.Backend.Type)
	require.Equal(t, "/tmp/resume.db", cfg.Backend.SQLite.Path)
	require.Equal(t, "redis", cfg.Router.Type)
	require.Equal(t, 3, cfg.Router.MaxDeliveryAttempts)
	require.Equal(t, time.Hour, cfg.Worker.WaitTimeout)

	// Unset values keep their defaults
	require.Equal(t, 1024, cfg.Router.BufferSize)
	require.Equal(t, 30*time.Second, cfg.Worker.ExpirationInterval)
	require.True(t, cfg.Worker.LogRequests)

	l, err := cfg.Level()
	require.NoError(t, err)
	require.Equal(t, slog.LevelDebug, l)
}

func Test_Load_RejectsUnknownFields(t *testing.T) {
	cfg := Default()
	err := Parse([]byte("adress: \":9090\"\n"), cfg)
	require.Error(t, err)
}

func Test_Load_Environment(t *testing.T) {
	cfg, err := Load("", env(map[string]string{
		"RESUME_ADDR":         ":7070",
		"RESUME_BACKEND":      "redis",
		"RESUME_REDIS_ADDR":   "redis:6379",
		"RESUME_REDIS_DB":     "2",
		"RESUME_WAIT_TIMEOUT": "15m",
	}))
	require.NoError(t, err)

	require.Equal(t, ":7070", cfg.Addr)
	require.Equal(t, "redis", cfg.Backend.Type)
	require.Equal(t, "redis:6379", cfg.Redis.Addr)
	require.Equal(t, 2, cfg.Redis.DB)
	require.Equal(t, 15*time.Minute, cfg.Worker.WaitTimeout)
}

func Test_Load_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"backend", map[string]string{"RESUME_BACKEND": "cassandra"}},
		{"router", map[string]string{"RESUME_ROUTER": "kafka"}},
		{"exporter", map[string]string{"RESUME_TRACING_EXPORTER": "zipkin"}},
		{"log level", map[string]string{"RESUME_LOG_LEVEL": "loud"}},
		{"port", map[string]string{"RESUME_MYSQL_PORT": "abc"}},
		{"wait timeout", map[string]string{"RESUME_WAIT_TIMEOUT": "-1m"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load("", env(tt.env))
			require.Error(t, err)
		})
	}
}

func Test_Config_Warnings(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)
	require.Empty(t, cfg.Warnings())

	cfg, err = Load("", env(map[string]string{"RESUME_ROUTER": "redis"}))
	require.NoError(t, err)

	w := cfg.Warnings()
	require.Len(t, w, 1)
	require.Contains(t, w[0], "single resumed process")
	require.Contains(t, w[0], "resume:")
}

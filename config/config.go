package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/goccy/go-yaml"
)

// Config configures the resumed binary
type Config struct {
	// Addr is the address the HTTP server listens on
	Addr string `yaml:"addr"`

	// LogLevel is one of debug, info, warn, error
	LogLevel string `yaml:"log_level"`

	Backend BackendConfig `yaml:"backend"`
	Router  RouterConfig  `yaml:"router"`
	Redis   RedisConfig   `yaml:"redis"`
	Tracing TracingConfig `yaml:"tracing"`
	Worker  WorkerConfig  `yaml:"worker"`
}

type BackendConfig struct {
	// Type is one of memory, sqlite, mysql, redis
	Type string `yaml:"type"`

	SQLite SQLiteConfig `yaml:"sqlite"`
	MySQL  MySQLConfig  `yaml:"mysql"`
}

type SQLiteConfig struct {
	// Path of the database file. Empty uses an in-memory database.
	Path string `yaml:"path"`
}

type MySQLConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`

	// MaxOpenConns limits the connection pool. 0 is unlimited.
	MaxOpenConns int `yaml:"max_open_conns"`
}

// RedisConfig is shared by the redis backend and the redis router
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// RouterConfig selects the transport between the gateway and the worker.
//
// Executions live in the memory of the resumed process that started them. The redis router persists events in
// streams, but it does not let several resumed processes share one key prefix: a resume consumed by a process that
// does not own the execution is dropped. Run a single resumed process per key prefix.
type RouterConfig struct {
	// Type is one of memory, redis
	Type string `yaml:"type"`

	// BufferSize is the number of events buffered per channel by the memory router
	BufferSize int `yaml:"buffer_size"`

	MaxDeliveryAttempts int `yaml:"max_delivery_attempts"`
}

type TracingConfig struct {
	// Exporter is one of none, stdout, otlp
	Exporter string `yaml:"exporter"`

	// Endpoint of the OTLP HTTP collector
	Endpoint string `yaml:"endpoint"`
}

type WorkerConfig struct {
	WaitTimeout        time.Duration `yaml:"wait_timeout"`
	ExpirationInterval time.Duration `yaml:"expiration_interval"`
	LogRequests        bool          `yaml:"log_requests"`
}

func Default() *Config {
	return &Config{
		Addr:     ":8080",
		LogLevel: "info",
		Backend: BackendConfig{
			Type: "memory",
			MySQL: MySQLConfig{
				Host:         "localhost",
				Port:         3306,
				User:         "root",
				Database:     "resume",
				MaxOpenConns: 10,
			},
		},
		Router: RouterConfig{
			Type:                "memory",
			BufferSize:          1024,
			MaxDeliveryAttempts: 5,
		},
		Redis: RedisConfig{
			Addr:      "localhost:6379",
			KeyPrefix: "resume:",
		},
		Tracing: TracingConfig{
			Exporter: "none",
			Endpoint: "localhost:4318",
		},
		Worker: WorkerConfig{
			ExpirationInterval: 30 * time.Second,
			LogRequests:        true,
		},
	}
}

// Load returns the default configuration, overlaid with the YAML file at path if path is not empty, overlaid with
// RESUME_* environment variables.
func Load(path string, getenv func(string) string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}

		if err := Parse(data, cfg); err != nil {
			return nil, err
		}
	}

	if getenv != nil {
		if err := cfg.applyEnv(getenv); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Parse decodes YAML into cfg. Unknown fields are rejected.
func Parse(data []byte, cfg *Config) error {
	if err := yaml.UnmarshalWithOptions(data, cfg, yaml.Strict()); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}

	return nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := getenv(key); v != "" {
			*dst = v
		}
	}

	integer := func(key string, dst *int) error {
		if v := getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return fmt.Errorf("parsing %s: %w", key, err)
			}

			*dst = n
		}

		return nil
	}

	str("RESUME_ADDR", &c.Addr)
	str("RESUME_LOG_LEVEL", &c.LogLevel)
	str("RESUME_BACKEND", &c.Backend.Type)
	str("RESUME_SQLITE_PATH", &c.Backend.SQLite.Path)
	str("RESUME_MYSQL_HOST", &c.Backend.MySQL.Host)
	str("RESUME_MYSQL_USER", &c.Backend.MySQL.User)
	str("RESUME_MYSQL_PASSWORD", &c.Backend.MySQL.Password)
	str("RESUME_MYSQL_DATABASE", &c.Backend.MySQL.Database)
	str("RESUME_ROUTER", &c.Router.Type)
	str("RESUME_REDIS_ADDR", &c.Redis.Addr)
	str("RESUME_REDIS_USERNAME", &c.Redis.Username)
	str("RESUME_REDIS_PASSWORD", &c.Redis.Password)
	str("RESUME_TRACING_EXPORTER", &c.Tracing.Exporter)
	str("RESUME_OTLP_ENDPOINT", &c.Tracing.Endpoint)

	if err := integer("RESUME_MYSQL_PORT", &c.Backend.MySQL.Port); err != nil {
		return err
	}

	if err := integer("RESUME_REDIS_DB", &c.Redis.DB); err != nil {
		return err
	}

	if v := getenv("RESUME_WAIT_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parsing RESUME_WAIT_TIMEOUT: %w", err)
		}

		c.Worker.WaitTimeout = d
	}

	return nil
}

func (c *Config) Validate() error {
	var errs []error

	switch c.Backend.Type {
	case "memory", "sqlite", "mysql", "redis":
	default:
		errs = append(errs, fmt.Errorf("unknown backend type %q", c.Backend.Type))
	}

	switch c.Router.Type {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Errorf("unknown router type %q", c.Router.Type))
	}

	switch c.Tracing.Exporter {
	case "none", "stdout", "otlp":
	default:
		errs = append(errs, fmt.Errorf("unknown tracing exporter %q", c.Tracing.Exporter))
	}

	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}

	if c.Worker.WaitTimeout < 0 {
		errs = append(errs, errors.New("wait timeout must not be negative"))
	}

	if c.Worker.ExpirationInterval < 0 {
		errs = append(errs, errors.New("expiration interval must not be negative"))
	}

	return errors.Join(errs...)
}

// Warnings returns operational caveats of a valid configuration
func (c *Config) Warnings() []string {
	var w []string

	if c.Router.Type == "redis" {
		w = append(w, fmt.Sprintf(
			"redis router with in-process executions supports a single resumed process per key prefix %q", c.Redis.KeyPrefix))
	}

	return w
}

// Level returns the configured log level
func (c *Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return l, fmt.Errorf("invalid log level %q: %w", c.LogLevel, err)
	}

	return l, nil
}

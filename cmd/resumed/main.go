package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cschleiden/go-resume/backend"
	"github.com/cschleiden/go-resume/backend/memory"
	"github.com/cschleiden/go-resume/backend/mysql"
	redisbackend "github.com/cschleiden/go-resume/backend/redis"
	"github.com/cschleiden/go-resume/backend/sqlite"
	"github.com/cschleiden/go-resume/client"
	"github.com/cschleiden/go-resume/config"
	"github.com/cschleiden/go-resume/core"
	enginememory "github.com/cschleiden/go-resume/engine/memory"
	"github.com/cschleiden/go-resume/internal/logger"
	"github.com/cschleiden/go-resume/router"
	routermemory "github.com/cschleiden/go-resume/router/memory"
	routerredis "github.com/cschleiden/go-resume/router/redis"
	"github.com/cschleiden/go-resume/web"
	"github.com/cschleiden/go-resume/worker"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.4.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath, os.Getenv)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	if err := run(cfg); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	level, err := cfg.Level()
	if err != nil {
		return err
	}

	l := logger.New(os.Stdout, level)

	for _, w := range cfg.Warnings() {
		l.Warn(w)
	}

	tp, shutdownTracing, err := newTracerProvider(ctx, cfg.Tracing)
	if err != nil {
		return fmt.Errorf("setting up tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			l.Error("shutting down tracing", "error", err)
		}
	}()

	var rdb redis.UniversalClient
	if cfg.Backend.Type == "redis" || cfg.Router.Type == "redis" {
		rdb = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:        []string{cfg.Redis.Addr},
			Username:     cfg.Redis.Username,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			WriteTimeout: time.Second * 30,
			ReadTimeout:  time.Second * 30,
		})
		defer rdb.Close()
	}

	b, err := newBackend(cfg, rdb, backend.WithLogger(l), backend.WithTracerProvider(tp))
	if err != nil {
		return fmt.Errorf("creating backend: %w", err)
	}
	defer b.Close()

	r := newRouter(cfg, rdb, router.WithLogger(l), router.WithMaxDeliveryAttempts(cfg.Router.MaxDeliveryAttempts))

	e := enginememory.NewEngine(enginememory.WithLogger(l))
	if err := e.RegisterProcess(asyncProcess(l)); err != nil {
		return err
	}

	wo := worker.DefaultOptions
	wo.WaitTimeout = cfg.Worker.WaitTimeout
	wo.LogRequests = cfg.Worker.LogRequests
	if cfg.Worker.ExpirationInterval > 0 {
		wo.ExpirationInterval = cfg.Worker.ExpirationInterval
	}

	w := worker.New(b, r, e, &wo)
	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("starting worker: %w", err)
	}

	c := client.New(e, r, w.Dispatcher(), b)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           web.NewMux(c, b),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		l.Info("listening", "addr", cfg.Addr, "backend", cfg.Backend.Type, "router", cfg.Router.Type)
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if !errors.Is(err, http.ErrServerClosed) {
			l.Error("http server stopped", "error", err)
		}
		stop()
	}

	l.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		l.Error("shutting down http server", "error", err)
	}

	return w.WaitForCompletion()
}

func newBackend(cfg *config.Config, rdb redis.UniversalClient, opts ...backend.BackendOption) (backend.Backend, error) {
	switch cfg.Backend.Type {
	case "memory":
		return memory.NewMemoryBackend(opts...), nil

	case "sqlite":
		if cfg.Backend.SQLite.Path == "" {
			return sqlite.NewInMemoryBackend(sqlite.WithBackendOptions(opts...)), nil
		}

		return sqlite.NewSqliteBackend(cfg.Backend.SQLite.Path, sqlite.WithBackendOptions(opts...)), nil

	case "mysql":
		m := cfg.Backend.MySQL
		return mysql.NewMysqlBackend(m.Host, m.Port, m.User, m.Password, m.Database,
			mysql.WithMySQLOptions(func(db *sql.DB) {
				db.SetMaxOpenConns(m.MaxOpenConns)
			}),
			mysql.WithBackendOptions(opts...),
		), nil

	case "redis":
		return redisbackend.NewRedisBackend(rdb,
			redisbackend.WithKeyPrefix(cfg.Redis.KeyPrefix),
			redisbackend.WithBackendOptions(opts...),
		)

	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend.Type)
	}
}

func newRouter(cfg *config.Config, rdb redis.UniversalClient, opts ...router.RouterOption) router.Router {
	if cfg.Router.Type == "redis" {
		return routerredis.NewRedisRouter(rdb,
			routerredis.WithStreamPrefix(cfg.Redis.KeyPrefix),
			routerredis.WithRouterOptions(opts...),
		)
	}

	return routermemory.NewMemoryRouter(cfg.Router.BufferSize, opts...)
}

func newTracerProvider(ctx context.Context, cfg config.TracingConfig) (trace.TracerProvider, func(context.Context) error, error) {
	if cfg.Exporter == "none" {
		return noop.NewTracerProvider(), func(context.Context) error { return nil }, nil
	}

	r := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceNameKey.String("resumed"),
		attribute.String("environment", "dev"),
	)

	var opt sdktrace.TracerProviderOption
	switch cfg.Exporter {
	case "stdout":
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, nil, err
		}

		opt = sdktrace.WithSyncer(exp)

	case "otlp":
		oclient := otlptracehttp.NewClient(otlptracehttp.WithEndpoint(cfg.Endpoint), otlptracehttp.WithInsecure())
		exp, err := otlptrace.New(ctx, oclient)
		if err != nil {
			return nil, nil, err
		}

		opt = sdktrace.WithBatcher(exp)

	default:
		return nil, nil, fmt.Errorf("unknown exporter %q", cfg.Exporter)
	}

	tp := sdktrace.NewTracerProvider(opt, sdktrace.WithResource(r))
	otel.SetTracerProvider(tp)

	return tp, tp.Shutdown, nil
}

// asyncProcess runs a task, waits for a resume event, then runs a second task
func asyncProcess(l *slog.Logger) *enginememory.Process {
	return enginememory.NewProcess("asyncProcess",
		enginememory.Task("prepare", func(ctx context.Context, e *core.Execution) error {
			l.InfoContext(ctx, "preparing", "process_instance", e.ProcessInstanceID)
			return nil
		}),
		enginememory.Wait("awaitCallback"),
		enginememory.Task("finish", func(ctx context.Context, e *core.Execution) error {
			l.InfoContext(ctx, "finished", "process_instance", e.ProcessInstanceID)
			return nil
		}),
	)
}

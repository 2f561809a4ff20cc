package router

import (
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	mi "github.com/cschleiden/go-resume/internal/metrics"
	"github.com/cschleiden/go-resume/metrics"
)

type Options struct {
	Logger *slog.Logger

	Metrics metrics.Client

	// MaxDeliveryAttempts is the number of times a handler is invoked for one event before the event is dropped for
	// that handler. 0 retries forever.
	MaxDeliveryAttempts int

	// RetryInitialInterval and RetryMaxInterval bound the exponential backoff between delivery attempts
	RetryInitialInterval time.Duration
	RetryMaxInterval     time.Duration

	// MaxParallelDeliveries limits concurrently running handler invocations per channel. 0 is unlimited.
	MaxParallelDeliveries int

	Clock clock.Clock
}

var DefaultOptions = Options{
	Logger:                slog.Default(),
	Metrics:               mi.NewNoopMetricsClient(),
	MaxDeliveryAttempts:   5,
	RetryInitialInterval:  time.Millisecond * 50,
	RetryMaxInterval:      time.Second * 5,
	MaxParallelDeliveries: 16,
}

type RouterOption func(*Options)

func WithLogger(logger *slog.Logger) RouterOption {
	return func(o *Options) {
		o.Logger = logger
	}
}

func WithMetrics(client metrics.Client) RouterOption {
	return func(o *Options) {
		o.Metrics = client
	}
}

func WithMaxDeliveryAttempts(attempts int) RouterOption {
	return func(o *Options) {
		o.MaxDeliveryAttempts = attempts
	}
}

func WithRetryInterval(initial, max time.Duration) RouterOption {
	return func(o *Options) {
		o.RetryInitialInterval = initial
		o.RetryMaxInterval = max
	}
}

func WithMaxParallelDeliveries(n int) RouterOption {
	return func(o *Options) {
		o.MaxParallelDeliveries = n
	}
}

func WithClock(c clock.Clock) RouterOption {
	return func(o *Options) {
		o.Clock = c
	}
}

func ApplyOptions(opts ...RouterOption) Options {
	options := DefaultOptions

	for _, opt := range opts {
		opt(&options)
	}

	if options.Logger == nil {
		options.Logger = slog.Default()
	}

	if options.Metrics == nil {
		options.Metrics = mi.NewNoopMetricsClient()
	}

	if options.Clock == nil {
		options.Clock = clock.New()
	}

	return options
}

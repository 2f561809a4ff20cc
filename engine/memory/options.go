package memory

import (
	"log/slog"

	mi "github.com/cschleiden/go-resume/internal/metrics"
	"github.com/cschleiden/go-resume/metrics"
)

type Options struct {
	Logger *slog.Logger

	Metrics metrics.Client
}

type Option func(*Options)

func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

func WithMetrics(client metrics.Client) Option {
	return func(o *Options) {
		o.Metrics = client
	}
}

func applyOptions(opts ...Option) Options {
	options := Options{
		Logger:  slog.Default(),
		Metrics: mi.NewNoopMetricsClient(),
	}

	for _, opt := range opts {
		opt(&options)
	}

	return options
}

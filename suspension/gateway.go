package suspension

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/benbjohnson/clock"
	"github.com/cschleiden/go-resume/backend"
	"github.com/cschleiden/go-resume/core"
	"github.com/cschleiden/go-resume/internal/metrickeys"
	"github.com/cschleiden/go-resume/internal/tracing"
	"github.com/cschleiden/go-resume/log"
	"github.com/cschleiden/go-resume/metrics"
	"github.com/cschleiden/go-resume/router"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrMissingExecutionID = errors.New("execution id must not be empty")

	// ErrActivityFailed wraps every error returned from Execute. The engine has to treat it as fatal to the
	// activity that tried to suspend.
	ErrActivityFailed = errors.New("wait activity failed")
)

// Gateway suspends executions: it registers them in the correlation table and publishes a request event instead of
// blocking until the resume arrives.
type Gateway struct {
	backend backend.Backend
	router  router.Router
	options Options

	logger  *slog.Logger
	tracer  trace.Tracer
	metrics metrics.Client
}

var _ Handler = (*Gateway)(nil)

func NewGateway(b backend.Backend, r router.Router, opts ...Option) *Gateway {
	options := Options{
		Clock: clock.New(),
	}

	for _, opt := range opts {
		opt(&options)
	}

	return &Gateway{
		backend: b,
		router:  r,
		options: options,
		logger:  b.Logger(),
		tracer:  b.Tracer(),
		metrics: b.Metrics(),
	}
}

func (g *Gateway) Execute(ctx context.Context, e *core.Execution) (err error) {
	if e == nil || e.ExecutionID == "" {
		return fmt.Errorf("%w: %w", ErrActivityFailed, ErrMissingExecutionID)
	}

	ctx, span := g.tracer.Start(ctx, "Gateway.Execute", trace.WithAttributes(
		attribute.String(tracing.ExecutionID, e.ExecutionID),
		attribute.String(tracing.ProcessInstanceID, e.ProcessInstanceID),
		attribute.String(tracing.ActivityID, e.ActivityID),
	))
	defer func() {
		_ = tracing.WithSpanError(span, err)
		span.End()
	}()

	logger := g.logger.With(
		log.ExecutionIDKey, e.ExecutionID,
		log.ProcessInstanceIDKey, e.ProcessInstanceID,
		log.ActivityIDKey, e.ActivityID,
	)

	now := g.options.Clock.Now()

	entry := core.NewEntry(e, now)
	if g.options.WaitTimeout > 0 {
		expiresAt := now.Add(g.options.WaitTimeout)
		entry.ExpiresAt = &expiresAt
	}

	tracing.Inject(ctx, entry.Metadata)

	if err := g.backend.Register(ctx, entry); err != nil {
		if errors.Is(err, backend.ErrDuplicateRegistration) {
			// The first registration already published a request, do not publish another one
			logger.ErrorContext(ctx, "execution already waiting", "error", err)
		}

		return fmt.Errorf("%w: registering execution %s: %w", ErrActivityFailed, e.ExecutionID, err)
	}

	g.metrics.Counter(metrickeys.ExecutionRegistered, metrics.Tags{}, 1)

	event := core.NewRequestEvent(e, now)
	tracing.InjectHeaders(ctx, event.Headers)

	if err := g.router.PublishRequest(ctx, event); err != nil {
		// Nobody will ever be told about this wait point, the engine fails the activity
		if rerr := g.backend.Remove(context.WithoutCancel(ctx), e.ExecutionID); rerr != nil {
			logger.ErrorContext(ctx, "removing entry after failed publish", "error", rerr)
		}

		return fmt.Errorf("%w: publishing request for execution %s: %w", ErrActivityFailed, e.ExecutionID, err)
	}

	args := []any{log.RegisteredAtKey, now}
	if entry.ExpiresAt != nil {
		args = append(args, log.ExpiresAtKey, *entry.ExpiresAt)
	}

	logger.DebugContext(ctx, "execution suspended", args...)

	return nil
}

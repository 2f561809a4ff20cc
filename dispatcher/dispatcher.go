package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"github.com/cschleiden/go-resume/backend"
	"github.com/cschleiden/go-resume/core"
	"github.com/cschleiden/go-resume/engine"
	"github.com/cschleiden/go-resume/internal/keylock"
	"github.com/cschleiden/go-resume/internal/metrickeys"
	"github.com/cschleiden/go-resume/internal/tracing"
	"github.com/cschleiden/go-resume/log"
	"github.com/cschleiden/go-resume/metrics"
	"github.com/cschleiden/go-resume/router"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ErrAbandonFailed is returned from Cancel when the entry was removed but the engine could not abandon the wait
var ErrAbandonFailed = errors.New("engine could not abandon execution")

const (
	dropReasonUnknown   = "unknown"
	dropReasonDuplicate = "duplicate"
)

// Dispatcher is the only component calling back into the engine for suspended executions. It resolves resume
// events against the correlation table and signals each execution at most once.
type Dispatcher struct {
	backend backend.Backend
	engine  engine.Engine
	options Options

	locker backend.Locker
	recent *recentlySettled

	logger  *slog.Logger
	tracer  trace.Tracer
	metrics metrics.Client
}

func New(b backend.Backend, e engine.Engine, opts ...Option) *Dispatcher {
	options := DefaultOptions
	for _, opt := range opts {
		opt(&options)
	}

	if options.Clock == nil {
		options.Clock = clock.New()
	}

	// Serialize per execution across processes if the backend supports it, otherwise within this process
	var locker backend.Locker = keylock.New()
	if l, ok := b.(backend.Locker); ok {
		locker = l
	}

	return &Dispatcher{
		backend: b,
		engine:  e,
		options: options,
		locker:  locker,
		recent:  newRecentlySettled(b.Metrics(), options.RecentlySettledSize, options.RecentlySettledTTL),
		logger:  b.Logger(),
		tracer:  b.Tracer(),
		metrics: b.Metrics(),
	}
}

// Resume signals the execution the event is meant for if it is waiting. Events for unknown or already settled
// executions are dropped without an error. An error wrapping engine.ErrEngineSignalFailure is returned if the engine
// rejected the signal, the entry is removed regardless. Other errors occur before the engine is called, they are
// transient and the event can be retried.
func (d *Dispatcher) Resume(ctx context.Context, event *core.ResumeEvent) (state core.ExecutionState, err error) {
	executionID := event.ExecutionID

	ctx, span := d.tracer.Start(ctx, "Dispatcher.Resume", trace.WithAttributes(
		attribute.String(tracing.ExecutionID, executionID),
	))
	defer func() {
		span.SetAttributes(attribute.String(tracing.State, state.String()))
		_ = tracing.WithSpanError(span, err)
		span.End()
	}()

	logger := d.logger.With(log.ExecutionIDKey, executionID)

	if executionID == "" {
		return d.drop(ctx, logger, executionID), nil
	}

	unlock, err := d.locker.Lock(ctx, executionID)
	if err != nil {
		return core.ExecutionStateUnregistered, fmt.Errorf("locking execution %s: %w", executionID, err)
	}
	defer unlock()

	// Settled executions are never signaled again, even if removing their entry failed earlier
	if _, ok := d.recent.get(executionID); ok {
		d.removeEntry(ctx, logger, executionID)
		return d.drop(ctx, logger, executionID), nil
	}

	entry, err := d.backend.Resolve(ctx, executionID)
	if err != nil {
		if errors.Is(err, backend.ErrUnknownExecution) {
			return d.drop(ctx, logger, executionID), nil
		}

		return core.ExecutionStateUnregistered, fmt.Errorf("resolving execution %s: %w", executionID, err)
	}

	state = core.ExecutionStateAwaiting

	// Connect the resume to the trace the execution was suspended in
	if sc := trace.SpanContextFromContext(tracing.Extract(ctx, entry.Metadata)); sc.IsValid() {
		span.AddLink(trace.Link{SpanContext: sc})
	}

	timer := metrics.NewTimer(d.metrics, d.options.Clock, metrickeys.SignalLatency, metrics.Tags{})
	serr := d.engine.Signal(ctx, executionID)
	timer.Stop()

	// From here on the execution is settled. The entry is removed even if the engine rejected the signal, retrying a
	// stale signal could resume a later wait of the same execution.
	settled := core.ExecutionStateResumed
	if serr != nil {
		settled = core.ExecutionStateDropped
	}

	d.recent.add(executionID, settled)
	d.removeEntry(ctx, logger, executionID)

	d.metrics.Timing(metrickeys.ExecutionWaitTime, metrics.Tags{}, d.options.Clock.Since(entry.RegisteredAt))

	if serr != nil {
		if !errors.Is(serr, engine.ErrEngineSignalFailure) {
			serr = engine.SignalFailure(executionID, serr)
		}

		d.metrics.Counter(metrickeys.SignalFailed, metrics.Tags{}, 1)
		logger.WarnContext(ctx, "engine rejected signal, entry removed", "error", serr)

		return core.ExecutionStateDropped, serr
	}

	d.metrics.Counter(metrickeys.ExecutionResumed, metrics.Tags{}, 1)
	logger.DebugContext(ctx, "execution resumed", log.ActivityIDKey, entry.ActivityID)

	return core.ExecutionStateResumed, nil
}

// removeEntry removes the entry of a settled execution. Failures are retried and then logged, never returned: the
// execution is already remembered as settled and a redelivered event must not signal it again.
func (d *Dispatcher) removeEntry(ctx context.Context, logger *slog.Logger, executionID string) {
	ctx = context.WithoutCancel(ctx)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = d.options.RemoveRetryInterval
	b.MaxElapsedTime = 0

	err := backoff.Retry(func() error {
		return d.backend.Remove(ctx, executionID)
	}, backoff.WithMaxRetries(b, uint64(d.options.RemoveRetries)))
	if err != nil {
		logger.ErrorContext(ctx, "removing entry of settled execution", "error", err)
	}
}

func (d *Dispatcher) drop(ctx context.Context, logger *slog.Logger, executionID string) core.ExecutionState {
	reason := dropReasonUnknown
	if _, ok := d.recent.get(executionID); ok {
		reason = dropReasonDuplicate
	}

	d.metrics.Counter(metrickeys.ExecutionDropped, metrics.Tags{metrickeys.DropReason: reason}, 1)
	logger.WarnContext(ctx, "dropping resume event", log.ReasonKey, reason, "error", backend.ErrUnknownExecution)

	return core.ExecutionStateDropped
}

// Cancel ends the wait of a suspended execution without resuming it. The entry is removed and the engine is told
// the wait was abandoned. Returns backend.ErrUnknownExecution if the execution is not waiting.
func (d *Dispatcher) Cancel(ctx context.Context, executionID, reason string) (err error) {
	ctx, span := d.tracer.Start(ctx, "Dispatcher.Cancel", trace.WithAttributes(
		attribute.String(tracing.ExecutionID, executionID),
	))
	defer func() {
		_ = tracing.WithSpanError(span, err)
		span.End()
	}()

	unlock, err := d.locker.Lock(ctx, executionID)
	if err != nil {
		return fmt.Errorf("locking execution %s: %w", executionID, err)
	}
	defer unlock()

	// An entry left behind by a settled execution is stale, the execution is no longer waiting
	if _, ok := d.recent.get(executionID); ok {
		d.removeEntry(ctx, d.logger.With(log.ExecutionIDKey, executionID), executionID)
		return fmt.Errorf("cancelling execution %s: %w", executionID, backend.ErrUnknownExecution)
	}

	if _, err := d.backend.Resolve(ctx, executionID); err != nil {
		return fmt.Errorf("cancelling execution %s: %w", executionID, err)
	}

	if err := d.backend.Remove(ctx, executionID); err != nil {
		return fmt.Errorf("removing execution %s: %w", executionID, err)
	}

	d.recent.add(executionID, core.ExecutionStateCancelled)
	d.metrics.Counter(metrickeys.ExecutionCancelled, metrics.Tags{}, 1)

	d.logger.InfoContext(ctx, "execution cancelled", log.ExecutionIDKey, executionID, log.ReasonKey, reason)

	if err := d.engine.Abandon(ctx, executionID, reason); err != nil {
		return fmt.Errorf("%w %s: %w", ErrAbandonFailed, executionID, err)
	}

	return nil
}

// HandleResume adapts Resume to a router handler. Dropped events and rejected signals are settled and must never be
// redelivered, only transient failures are returned to the router.
func (d *Dispatcher) HandleResume(ctx context.Context, event *core.ResumeEvent) error {
	_, err := d.Resume(ctx, event)
	if err != nil && errors.Is(err, engine.ErrEngineSignalFailure) {
		return nil
	}

	return err
}

var _ router.ResumeHandler = (*Dispatcher)(nil).HandleResume

// StartEviction forgets recently settled executions once they expire, until ctx is done
func (d *Dispatcher) StartEviction(ctx context.Context) {
	d.recent.startEviction(ctx)
}

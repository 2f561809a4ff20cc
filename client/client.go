package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"github.com/cschleiden/go-resume/backend"
	"github.com/cschleiden/go-resume/core"
	"github.com/cschleiden/go-resume/dispatcher"
	"github.com/cschleiden/go-resume/engine"
	"github.com/cschleiden/go-resume/internal/metrickeys"
	"github.com/cschleiden/go-resume/internal/tracing"
	"github.com/cschleiden/go-resume/log"
	"github.com/cschleiden/go-resume/metrics"
	"github.com/cschleiden/go-resume/router"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var ErrWaitTimeout = errors.New("execution did not settle in specified timeout")

// Client is the transport agnostic entry point for starting process instances and resuming or cancelling suspended
// executions.
type Client struct {
	engine     engine.Engine
	router     router.Router
	dispatcher *dispatcher.Dispatcher
	backend    backend.Backend
	clock      clock.Clock
}

func New(e engine.Engine, r router.Router, d *dispatcher.Dispatcher, b backend.Backend) *Client {
	return &Client{
		engine:     e,
		router:     r,
		dispatcher: d,
		backend:    b,
		clock:      clock.New(),
	}
}

// StartInstance starts a new instance of the given process and returns the id of its current execution.
func (c *Client) StartInstance(ctx context.Context, processKey string) (string, error) {
	ctx, span := c.backend.Tracer().Start(ctx, "StartInstance", trace.WithAttributes(
		attribute.String(tracing.ProcessKey, processKey),
	))
	defer span.End()

	executionID, err := c.engine.StartInstance(ctx, processKey)
	if err != nil {
		return "", tracing.WithSpanError(span, fmt.Errorf("starting instance of %s: %w", processKey, err))
	}

	span.SetAttributes(attribute.String(tracing.ExecutionID, executionID))

	c.backend.Logger().DebugContext(ctx, "started instance",
		log.ProcessKeyKey, processKey,
		log.ExecutionIDKey, executionID,
	)

	return executionID, nil
}

// Resume sends a resume event for the given execution. It succeeds as long as the event could be handed to the
// router, whether or not the execution is waiting.
func (c *Client) Resume(ctx context.Context, executionID string) error {
	ctx, span := c.backend.Tracer().Start(ctx, "Resume", trace.WithAttributes(
		attribute.String(tracing.ExecutionID, executionID),
	))
	defer span.End()

	if err := c.router.PublishResume(ctx, core.NewResumeEvent(executionID)); err != nil {
		return tracing.WithSpanError(span, fmt.Errorf("sending resume for %s: %w", executionID, err))
	}

	c.backend.Logger().DebugContext(ctx, "sent resume", log.ExecutionIDKey, executionID)

	return nil
}

// Cancel ends the wait of the given execution without resuming it. Returns backend.ErrUnknownExecution if the
// execution is not waiting.
func (c *Client) Cancel(ctx context.Context, executionID, reason string) error {
	return c.dispatcher.Cancel(ctx, executionID, reason)
}

// Pending returns the correlation entry of a waiting execution, or backend.ErrUnknownExecution.
func (c *Client) Pending(ctx context.Context, executionID string) (*core.Entry, error) {
	return c.backend.Resolve(ctx, executionID)
}

// WaitForResolution waits until the given execution is no longer waiting, or until the timeout has expired.
func (c *Client) WaitForResolution(ctx context.Context, executionID string, timeout time.Duration) error {
	if timeout == 0 {
		timeout = time.Second * 20
	}

	ctx, span := c.backend.Tracer().Start(ctx, "WaitForResolution", trace.WithAttributes(
		attribute.String(tracing.ExecutionID, executionID),
	))
	defer span.End()

	b := backoff.ExponentialBackOff{
		InitialInterval:     time.Millisecond * 1,
		MaxInterval:         time.Second * 1,
		Multiplier:          1.5,
		RandomizationFactor: 0.5,
		MaxElapsedTime:      timeout,
		Stop:                backoff.Stop,
		Clock:               c.clock,
	}
	b.Reset()

	ticker := backoff.NewTicker(backoff.WithContext(&b, ctx))
	defer ticker.Stop()

	for range ticker.C {
		_, err := c.backend.Resolve(ctx, executionID)
		if errors.Is(err, backend.ErrUnknownExecution) {
			return nil
		}

		if err != nil {
			return fmt.Errorf("resolving execution: %w", err)
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	return ErrWaitTimeout
}

// GetStats returns the number of waiting executions and gauges it.
func (c *Client) GetStats(ctx context.Context) (*backend.Stats, error) {
	s, err := c.backend.GetStats(ctx)
	if err != nil {
		return nil, err
	}

	c.backend.Metrics().Gauge(metrickeys.EntriesAwaiting, metrics.Tags{}, s.AwaitingExecutions)

	return s, nil
}

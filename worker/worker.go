package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/cschleiden/go-resume/backend"
	"github.com/cschleiden/go-resume/dispatcher"
	"github.com/cschleiden/go-resume/engine"
	"github.com/cschleiden/go-resume/internal/metrickeys"
	"github.com/cschleiden/go-resume/log"
	"github.com/cschleiden/go-resume/metrics"
	"github.com/cschleiden/go-resume/router"
	"github.com/cschleiden/go-resume/suspension"
)

const ReasonExpired = "expired"

// Worker holds the components of the correlation core for one process. It wires suspended executions from the engine
// through the router and resume events back to the engine.
type Worker struct {
	backend backend.Backend
	router  router.Router
	engine  engine.Engine

	gateway    *suspension.Gateway
	dispatcher *dispatcher.Dispatcher

	options *Options
	clock   clock.Clock
	logger  *slog.Logger

	wg sync.WaitGroup
}

// New creates a worker. Engines implementing suspension.Binder are bound to the worker's gateway.
func New(b backend.Backend, r router.Router, e engine.Engine, options *Options) *Worker {
	if options == nil {
		options = &DefaultOptions
	}

	c := options.Clock
	if c == nil {
		c = clock.New()
	}

	gateway := suspension.NewGateway(b, r,
		suspension.WithWaitTimeout(options.WaitTimeout),
		suspension.WithClock(c),
	)

	d := dispatcher.New(b, e,
		dispatcher.WithClock(c),
		dispatcher.WithRecentlySettled(options.RecentlySettledTTL, options.RecentlySettledSize),
	)

	r.HandleResumes(d.HandleResume)

	if options.LogRequests {
		r.HandleRequests("log", router.LogRequests(b.Logger()))
	}

	if binder, ok := e.(suspension.Binder); ok {
		binder.BindSuspensionHandler(gateway)
	}

	return &Worker{
		backend:    b,
		router:     r,
		engine:     e,
		gateway:    gateway,
		dispatcher: d,
		options:    options,
		clock:      c,
		logger:     b.Logger(),
	}
}

// HandleRequests registers a handler receiving every request event. Has to be called before Start.
func (w *Worker) HandleRequests(name string, h router.RequestHandler) {
	w.router.HandleRequests(name, h)
}

func (w *Worker) Gateway() *suspension.Gateway {
	return w.gateway
}

func (w *Worker) Dispatcher() *dispatcher.Dispatcher {
	return w.dispatcher
}

// Start starts delivering events and cancelling expired waits.
//
// To stop the worker, cancel the context passed to Start. To wait for in-flight deliveries to complete, call
// `WaitForCompletion`.
func (w *Worker) Start(ctx context.Context) error {
	if err := w.router.Start(ctx); err != nil {
		return fmt.Errorf("starting router: %w", err)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()

		w.dispatcher.StartEviction(ctx)
	}()

	if w.options.ExpirationInterval > 0 {
		w.wg.Add(1)
		go w.expirationLoop(ctx)
	}

	return nil
}

// WaitForCompletion waits for the worker to stop after the context passed to Start was canceled.
func (w *Worker) WaitForCompletion() error {
	w.wg.Wait()

	if err := w.router.Close(); err != nil {
		return fmt.Errorf("closing router: %w", err)
	}

	return nil
}

func (w *Worker) expirationLoop(ctx context.Context) {
	defer w.wg.Done()

	ticker := w.clock.Ticker(w.options.ExpirationInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := w.expire(ctx); err != nil && ctx.Err() == nil {
				w.logger.ErrorContext(ctx, "cancelling expired waits", "error", err)
			}

		case <-ctx.Done():
			return
		}
	}
}

// expire cancels waits that expired. Returns the number of cancelled waits.
func (w *Worker) expire(ctx context.Context) (int, error) {
	entries, err := w.backend.ExpiredEntries(ctx, w.clock.Now(), w.options.ExpirationBatchSize)
	if err != nil {
		return 0, fmt.Errorf("getting expired entries: %w", err)
	}

	expired := 0

	for _, entry := range entries {
		if err := w.dispatcher.Cancel(ctx, entry.ExecutionID, ReasonExpired); err != nil {
			if errors.Is(err, backend.ErrUnknownExecution) {
				// Resumed or cancelled since the entries were read
				continue
			}

			if !errors.Is(err, dispatcher.ErrAbandonFailed) {
				w.logger.ErrorContext(ctx, "cancelling expired wait", log.ExecutionIDKey, entry.ExecutionID, "error", err)
				continue
			}

			// Entry is removed, only the engine failed
			w.logger.WarnContext(ctx, "expired wait removed", log.ExecutionIDKey, entry.ExecutionID, "error", err)
		}

		expired++
		w.backend.Metrics().Counter(metrickeys.ExecutionExpired, metrics.Tags{}, 1)
	}

	return expired, nil
}

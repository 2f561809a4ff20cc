package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/cschleiden/go-resume/core"
	"github.com/cschleiden/go-resume/internal/metrickeys"
	"github.com/cschleiden/go-resume/internal/workqueue"
	"github.com/cschleiden/go-resume/log"
	"github.com/cschleiden/go-resume/metrics"
	"github.com/cschleiden/go-resume/router"
)

const defaultBufferSize = 1024

var _ router.Router = (*memoryRouter)(nil)

type requestHandler struct {
	name string
	h    router.RequestHandler
}

type memoryRouter struct {
	options router.Options

	requests *workqueue.Queue[core.RequestEvent]
	resumes  *workqueue.Queue[core.ResumeEvent]

	mu              sync.Mutex
	requestHandlers []requestHandler
	resumeHandler   router.ResumeHandler
	started         bool

	ctx    context.Context
	cancel context.CancelFunc

	done      chan struct{}
	closeOnce sync.Once

	loopsWg      sync.WaitGroup
	deliveriesWg sync.WaitGroup
}

// NewMemoryRouter returns a router delivering events between goroutines of the current process.
//
// Publishing a request never blocks, the suspension gateway publishes from inside resume deliveries and must not
// wait for request handlers. Resume events are buffered up to bufferSize, PublishResume blocks while the buffer is
// full until ctx is done or the router is closed.
func NewMemoryRouter(bufferSize int, opts ...router.RouterOption) *memoryRouter {
	if bufferSize <= 0 {
		bufferSize = defaultBufferSize
	}

	options := router.ApplyOptions(opts...)
	options.Metrics = options.Metrics.WithTags(metrics.Tags{metrickeys.Router: "memory"})

	return &memoryRouter{
		options:  options,
		requests: workqueue.NewUnbounded[core.RequestEvent](options.MaxParallelDeliveries, bufferSize),
		resumes:  workqueue.New[core.ResumeEvent](options.MaxParallelDeliveries, bufferSize),
		done:     make(chan struct{}),
	}
}

func (r *memoryRouter) PublishRequest(ctx context.Context, event *core.RequestEvent) error {
	if r.closed() {
		return router.ErrRouterClosed
	}

	if err := r.requests.Add(ctx, event); err != nil {
		return publishError(err)
	}

	r.options.Metrics.Counter(metrickeys.MessagePublished, metrics.Tags{metrickeys.Channel: router.ChannelRequests}, 1)

	return nil
}

func (r *memoryRouter) PublishResume(ctx context.Context, event *core.ResumeEvent) error {
	if r.closed() {
		return router.ErrRouterClosed
	}

	if err := r.resumes.Add(ctx, event); err != nil {
		return publishError(err)
	}

	r.options.Metrics.Counter(metrickeys.MessagePublished, metrics.Tags{metrickeys.Channel: router.ChannelResumes}, 1)

	return nil
}

func publishError(err error) error {
	if errors.Is(err, workqueue.ErrClosed) {
		return router.ErrRouterClosed
	}

	return err
}

func (r *memoryRouter) HandleRequests(name string, h router.RequestHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.requestHandlers = append(r.requestHandlers, requestHandler{name: name, h: h})
}

func (r *memoryRouter) HandleResumes(h router.ResumeHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.resumeHandler = h
}

func (r *memoryRouter) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return errors.New("router already started")
	}

	if r.closed() {
		return router.ErrRouterClosed
	}

	r.started = true
	r.ctx, r.cancel = context.WithCancel(ctx)

	r.loopsWg.Add(2)
	go r.requestLoop()
	go r.resumeLoop()

	return nil
}

// Close stops accepting events. Events already buffered are still delivered, Close returns once all deliveries
// finished.
func (r *memoryRouter) Close() error {
	r.shutdown()

	r.mu.Lock()
	started := r.started
	r.mu.Unlock()

	if !started {
		return nil
	}

	r.loopsWg.Wait()
	r.deliveriesWg.Wait()

	return nil
}

func (r *memoryRouter) shutdown() {
	r.closeOnce.Do(func() {
		close(r.done)
		r.requests.Close()
		r.resumes.Close()
	})
}

func (r *memoryRouter) closed() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

func (r *memoryRouter) requestLoop() {
	defer r.loopsWg.Done()

	for {
		select {
		case event := <-r.requests.Items():
			r.requests.Refill()
			r.dispatchRequest(event)

		case <-r.ctx.Done():
			r.drain()
			return

		case <-r.done:
			r.drain()
			return
		}
	}
}

func (r *memoryRouter) resumeLoop() {
	defer r.loopsWg.Done()

	for {
		select {
		case event := <-r.resumes.Items():
			r.dispatchResume(event)

		case <-r.ctx.Done():
			return

		case <-r.done:
			return
		}
	}
}

// drain delivers everything still buffered once the router stops. Stops further retries for in-flight deliveries
// but lets running handler invocations complete.
func (r *memoryRouter) drain() {
	r.shutdown()

	r.cancel()

	for {
		select {
		case event := <-r.requests.Items():
			r.requests.Refill()
			r.dispatchRequest(event)
		case event := <-r.resumes.Items():
			r.dispatchResume(event)
		default:
			return
		}
	}
}

func (r *memoryRouter) dispatchRequest(event *core.RequestEvent) {
	r.mu.Lock()
	handlers := r.requestHandlers
	r.mu.Unlock()

	for _, h := range handlers {
		r.deliver(r.requests.Reserve, r.requests.Release, router.ChannelRequests, h.name, func(ctx context.Context) error {
			return h.h(ctx, event)
		})
	}
}

func (r *memoryRouter) dispatchResume(event *core.ResumeEvent) {
	r.mu.Lock()
	h := r.resumeHandler
	r.mu.Unlock()

	if h == nil {
		r.options.Logger.Warn("no resume handler registered, dropping resume event", log.ExecutionIDKey, event.ExecutionID)
		return
	}

	r.deliver(r.resumes.Reserve, r.resumes.Release, router.ChannelResumes, "resume", func(ctx context.Context) error {
		return h(ctx, event)
	})
}

func (r *memoryRouter) deliver(reserve func(context.Context) error, release func(), channel, name string, f func(context.Context) error) {
	// Waiting for a slot must not be interrupted by shutdown, otherwise drained events would be lost
	if err := reserve(context.Background()); err != nil {
		return
	}

	r.deliveriesWg.Add(1)
	go func() {
		defer r.deliveriesWg.Done()
		defer release()

		_ = router.Deliver(r.ctx, &r.options, channel, name, f)
	}()
}

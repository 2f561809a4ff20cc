package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cschleiden/go-resume/core"
	"github.com/cschleiden/go-resume/internal/metrickeys"
	"github.com/cschleiden/go-resume/internal/workqueue"
	"github.com/cschleiden/go-resume/log"
	"github.com/cschleiden/go-resume/metrics"
	"github.com/cschleiden/go-resume/router"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var _ router.Router = (*redisRouter)(nil)

type requestHandler struct {
	name string
	h    router.RequestHandler
}

type redisRouter struct {
	rdb      redis.UniversalClient
	options  Options
	consumer string

	mu              sync.Mutex
	requestHandlers []requestHandler
	resumeHandler   router.ResumeHandler
	started         bool
	closed          bool

	cancel context.CancelFunc

	slots *workqueue.Queue[struct{}]

	loopsWg      sync.WaitGroup
	deliveriesWg sync.WaitGroup
}

// NewRedisRouter returns a router backed by redis streams. Each request handler reads the requests stream through its
// own consumer group, so every handler sees every request event. Processes sharing the same stream prefix share the
// load of each handler.
func NewRedisRouter(rdb redis.UniversalClient, opts ...RouterOption) *redisRouter {
	options := &Options{
		Options:          router.ApplyOptions(),
		StreamPrefix:     "resume:",
		StreamMaxLen:     10_000,
		BlockTimeout:     time.Second,
		ClaimIdleTimeout: time.Minute,
	}

	for _, opt := range opts {
		opt(options)
	}

	options.Metrics = options.Metrics.WithTags(metrics.Tags{metrickeys.Router: "redis"})

	return &redisRouter{
		rdb:      rdb,
		options:  *options,
		consumer: uuid.NewString(),
		slots:    workqueue.New[struct{}](options.MaxParallelDeliveries, 0),
	}
}

func (r *redisRouter) streamName(channel string) string {
	return r.options.StreamPrefix + channel
}

func (r *redisRouter) PublishRequest(ctx context.Context, event *core.RequestEvent) error {
	return r.publish(ctx, router.ChannelRequests, event)
}

func (r *redisRouter) PublishResume(ctx context.Context, event *core.ResumeEvent) error {
	return r.publish(ctx, router.ChannelResumes, event)
}

func (r *redisRouter) publish(ctx context.Context, channel string, event any) error {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()

	if closed {
		return router.ErrRouterClosed
	}

	if err := add(ctx, r.rdb, r.streamName(channel), r.options.StreamMaxLen, event); err != nil {
		return err
	}

	r.options.Metrics.Counter(metrickeys.MessagePublished, metrics.Tags{metrickeys.Channel: channel}, 1)

	return nil
}

func (r *redisRouter) HandleRequests(name string, h router.RequestHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.requestHandlers = append(r.requestHandlers, requestHandler{name: name, h: h})
}

func (r *redisRouter) HandleResumes(h router.ResumeHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.resumeHandler = h
}

func (r *redisRouter) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return router.ErrRouterClosed
	}

	if r.started {
		return errors.New("router already started")
	}

	ctx, cancel := context.WithCancel(ctx)

	type consumer struct {
		s       *stream
		channel string
		name    string
		handle  func(ctx context.Context, payload []byte) error
	}

	consumers := make([]consumer, 0, len(r.requestHandlers)+1)

	for _, rh := range r.requestHandlers {
		s, err := newStream(ctx, r.rdb, r.streamName(router.ChannelRequests), "requests:"+rh.name, r.consumer,
			r.options.ClaimIdleTimeout, r.options.BlockTimeout)
		if err != nil {
			cancel()
			return err
		}

		h := rh.h
		consumers = append(consumers, consumer{s, router.ChannelRequests, rh.name, func(ctx context.Context, payload []byte) error {
			var event core.RequestEvent
			if err := json.Unmarshal(payload, &event); err != nil {
				return fmt.Errorf("unmarshaling request event: %w", err)
			}

			return h(ctx, &event)
		}})
	}

	if r.resumeHandler != nil {
		s, err := newStream(ctx, r.rdb, r.streamName(router.ChannelResumes), "resumes", r.consumer,
			r.options.ClaimIdleTimeout, r.options.BlockTimeout)
		if err != nil {
			cancel()
			return err
		}

		h := r.resumeHandler
		consumers = append(consumers, consumer{s, router.ChannelResumes, "resume", func(ctx context.Context, payload []byte) error {
			var event core.ResumeEvent
			if err := json.Unmarshal(payload, &event); err != nil {
				return fmt.Errorf("unmarshaling resume event: %w", err)
			}

			return h(ctx, &event)
		}})
	}

	r.started = true
	r.cancel = cancel

	for _, c := range consumers {
		r.loopsWg.Add(1)
		go r.consume(ctx, c.s, c.channel, c.name, c.handle)
	}

	return nil
}

func (r *redisRouter) Close() error {
	r.mu.Lock()
	r.closed = true
	cancel := r.cancel
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	r.loopsWg.Wait()
	r.deliveriesWg.Wait()

	return nil
}

func (r *redisRouter) consume(ctx context.Context, s *stream, channel, name string, handle func(context.Context, []byte) error) {
	defer r.loopsWg.Done()

	logger := r.options.Logger.With(log.ChannelKey, channel, log.HandlerKey, name)

	for {
		if err := r.slots.Reserve(ctx); err != nil {
			return
		}

		msg, err := s.read(ctx)
		if err != nil {
			r.slots.Release()

			if ctx.Err() != nil {
				return
			}

			logger.ErrorContext(ctx, "reading from stream", "error", err)

			select {
			case <-ctx.Done():
				return
			case <-time.After(r.options.RetryInitialInterval):
			}

			continue
		}

		if msg == nil {
			r.slots.Release()
			continue
		}

		r.deliveriesWg.Add(1)
		go func() {
			defer r.deliveriesWg.Done()
			defer r.slots.Release()

			err := router.Deliver(ctx, &r.options.Options, channel, name, func(ctx context.Context) error {
				return handle(ctx, msg.Payload)
			})
			if err != nil && ctx.Err() != nil {
				// Leave the message pending, another consumer claims it once it has been idle long enough
				return
			}

			// Messages that could not be delivered after all attempts are dropped
			if err := s.ack(context.WithoutCancel(ctx), msg.ID); err != nil {
				logger.ErrorContext(ctx, "acknowledging message", log.MessageKey, msg.ID, "error", err)
			}
		}()
	}
}

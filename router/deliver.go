package router

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cschleiden/go-resume/internal/metrickeys"
	"github.com/cschleiden/go-resume/log"
	"github.com/cschleiden/go-resume/metrics"
)

// Deliver invokes f until it succeeds, the configured number of attempts is exhausted, or ctx is done. Returns the
// last error if the event could not be delivered. Canceling ctx stops further attempts but does not cancel the
// context passed to a running attempt.
func Deliver(ctx context.Context, o *Options, channel, handler string, f func(ctx context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.RetryInitialInterval
	b.MaxInterval = o.RetryMaxInterval
	b.MaxElapsedTime = 0
	b.Clock = o.Clock

	var bo backoff.BackOff = b
	if o.MaxDeliveryAttempts > 0 {
		bo = backoff.WithMaxRetries(b, uint64(o.MaxDeliveryAttempts-1))
	}

	tags := metrics.Tags{metrickeys.Channel: channel}

	attempt := 0
	timer := metrics.NewTimer(o.Metrics, o.Clock, metrickeys.MessageDeliveryTime, tags)
	err := backoff.RetryNotify(
		func() error {
			attempt++
			return f(context.WithoutCancel(ctx))
		},
		backoff.WithContext(bo, ctx),
		func(err error, next time.Duration) {
			o.Metrics.Counter(metrickeys.MessageRetried, tags, 1)
			o.Logger.WarnContext(ctx, "handler failed, retrying delivery",
				log.ChannelKey, channel,
				log.HandlerKey, handler,
				log.AttemptKey, attempt,
				"next", next,
				"error", err,
			)
		},
	)
	if err != nil {
		o.Metrics.Counter(metrickeys.MessageAbandoned, tags, 1)
		o.Logger.ErrorContext(ctx, "giving up delivery",
			log.ChannelKey, channel,
			log.HandlerKey, handler,
			log.AttemptKey, attempt,
			"error", err,
		)

		return err
	}

	o.Metrics.Counter(metrickeys.MessageDelivered, tags, 1)
	timer.Stop()

	return nil
}

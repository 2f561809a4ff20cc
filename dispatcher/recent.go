package dispatcher

import (
	"context"
	"time"

	"github.com/cschleiden/go-resume/core"
	"github.com/cschleiden/go-resume/internal/metrickeys"
	"github.com/cschleiden/go-resume/metrics"
	"github.com/jellydator/ttlcache/v3"
)

// recentlySettled remembers how executions were settled for a while after their entry was removed
type recentlySettled struct {
	c *ttlcache.Cache[string, core.ExecutionState]
}

func newRecentlySettled(mc metrics.Client, size int, expiration time.Duration) *recentlySettled {
	c := ttlcache.New(
		ttlcache.WithCapacity[string, core.ExecutionState](uint64(size)),
		ttlcache.WithTTL[string, core.ExecutionState](expiration),
	)

	c.OnEviction(func(ctx context.Context, er ttlcache.EvictionReason, i *ttlcache.Item[string, core.ExecutionState]) {
		reason := ""
		switch er {
		case ttlcache.EvictionReasonExpired:
			reason = "expired"
		case ttlcache.EvictionReasonCapacityReached:
			reason = "capacity"
		}

		mc.Counter(metrickeys.RecentCacheEviction, metrics.Tags{metrickeys.EvictionReason: reason}, 1)
	})

	return &recentlySettled{c: c}
}

func (rs *recentlySettled) add(executionID string, state core.ExecutionState) {
	rs.c.Set(executionID, state, ttlcache.DefaultTTL)
}

func (rs *recentlySettled) get(executionID string) (core.ExecutionState, bool) {
	i := rs.c.Get(executionID)
	if i == nil {
		return core.ExecutionStateUnregistered, false
	}

	return i.Value(), true
}

// startEviction removes expired ids until ctx is done
func (rs *recentlySettled) startEviction(ctx context.Context) {
	go rs.c.Start()

	<-ctx.Done()

	rs.c.Stop()
}

package metrickeys

const (
	Prefix = "resume."

	// Correlation table
	ExecutionRegistered = Prefix + "execution.registered"
	ExecutionResumed    = Prefix + "execution.resumed"
	ExecutionDropped    = Prefix + "execution.dropped"
	ExecutionCancelled  = Prefix + "execution.cancelled"
	ExecutionExpired    = Prefix + "execution.expired"
	ExecutionWaitTime   = Prefix + "execution.wait_time"
	EntriesAwaiting     = Prefix + "entries.awaiting"

	SignalFailed  = Prefix + "engine.signal_failed"
	SignalLatency = Prefix + "engine.signal_latency"

	InstanceStarted = Prefix + "instance.started"

	// Router
	MessagePublished = Prefix + "router.published"
	MessageDelivered = Prefix + "router.delivered"
	MessageRetried   = Prefix + "router.retried"
	MessageAbandoned = Prefix + "router.abandoned"

	// MessageDeliveryTime is the time from the first delivery attempt until a handler succeeded
	MessageDeliveryTime = Prefix + "router.delivery_time"

	RecentCacheEviction = Prefix + "dispatcher.recent.eviction"
)

// Tag names
const (
	// Backend being used
	Backend = "backend"

	// Router implementation being used
	Router = "router"

	// Channel a router message was sent on, "requests" or "resumes"
	Channel = "channel"

	// Reason an event was dropped, "unknown" or "duplicate"
	DropReason = "reason"

	// Reason for evicting an entry from the recently settled cache
	EvictionReason = "reason"
)

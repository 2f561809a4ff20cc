package metrics

import "time"

type Tags map[string]string

// Client receives the metrics recorded by backends, routers and the dispatcher. Implementations forward them to a
// metrics system of choice.
type Client interface {
	// Counter adds value to the counter name
	Counter(name string, tags Tags, value int64)

	Distribution(name string, tags Tags, value float64)

	// Gauge sets name to value, e.g. the number of awaiting executions
	Gauge(name string, tags Tags, value int64)

	Timing(name string, tags Tags, duration time.Duration)

	// WithTags returns a client that adds tags to every metric
	WithTags(tags Tags) Client
}

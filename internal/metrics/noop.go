package metrics

import (
	"time"

	m "github.com/cschleiden/go-resume/metrics"
)

// noopClient discards all metrics. It is the default for backends, routers and the reference engine.
type noopClient struct{}

var _ m.Client = noopClient{}

func NewNoopMetricsClient() m.Client {
	return noopClient{}
}

func (noopClient) Counter(string, m.Tags, int64) {}

func (noopClient) Distribution(string, m.Tags, float64) {}

func (noopClient) Gauge(string, m.Tags, int64) {}

func (noopClient) Timing(string, m.Tags, time.Duration) {}

func (c noopClient) WithTags(m.Tags) m.Client {
	return c
}

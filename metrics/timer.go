package metrics

import (
	"time"

	"github.com/benbjohnson/clock"
)

// Timer measures the duration of an operation against a clock, so tests can control the elapsed time.
type Timer struct {
	client Client
	clock  clock.Clock
	start  time.Time
	name   string
	tags   Tags
}

func NewTimer(client Client, c clock.Clock, name string, tags Tags) *Timer {
	return &Timer{
		client: client,
		clock:  c,
		start:  c.Now(),
		name:   name,
		tags:   tags,
	}
}

// Stop reports the time elapsed since the timer was created as a timing metric
func (t *Timer) Stop() time.Duration {
	elapsed := t.clock.Since(t.start)
	t.client.Timing(t.name, t.tags, elapsed)
	return elapsed
}

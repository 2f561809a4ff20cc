package memory

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/cschleiden/go-resume/backend"
	"github.com/cschleiden/go-resume/core"
	"github.com/cschleiden/go-resume/internal/metrickeys"
	"github.com/cschleiden/go-resume/metrics"
	"go.opentelemetry.io/otel/trace"
)

var _ backend.Backend = (*memoryBackend)(nil)

// NewMemoryBackend returns a correlation table that keeps all entries in process memory. Entries do not survive a
// restart.
func NewMemoryBackend(opts ...backend.BackendOption) *memoryBackend {
	options := backend.ApplyOptions(opts...)

	return &memoryBackend{
		entries: map[string]*core.Entry{},
		options: &options,
	}
}

type memoryBackend struct {
	mu      sync.RWMutex
	entries map[string]*core.Entry

	options *backend.Options
}

func (mb *memoryBackend) Register(ctx context.Context, entry *core.Entry) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	if _, ok := mb.entries[entry.ExecutionID]; ok {
		return fmt.Errorf("registering %v: %w", entry.ExecutionID, backend.ErrDuplicateRegistration)
	}

	mb.entries[entry.ExecutionID] = copyEntry(entry)

	return nil
}

func (mb *memoryBackend) Resolve(ctx context.Context, executionID string) (*core.Entry, error) {
	mb.mu.RLock()
	defer mb.mu.RUnlock()

	e, ok := mb.entries[executionID]
	if !ok {
		return nil, backend.ErrUnknownExecution
	}

	return copyEntry(e), nil
}

func (mb *memoryBackend) Remove(ctx context.Context, executionID string) error {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	delete(mb.entries, executionID)

	return nil
}

func (mb *memoryBackend) ExpiredEntries(ctx context.Context, now time.Time, limit int) ([]*core.Entry, error) {
	mb.mu.RLock()
	defer mb.mu.RUnlock()

	var r []*core.Entry
	for _, e := range mb.entries {
		if e.Expired(now) {
			r = append(r, copyEntry(e))
		}
	}

	// Oldest expiration first, so a limited batch always makes progress
	slices.SortFunc(r, func(a, b *core.Entry) int {
		return a.ExpiresAt.Compare(*b.ExpiresAt)
	})

	if limit > 0 && len(r) > limit {
		r = r[:limit]
	}

	return r, nil
}

func (mb *memoryBackend) GetEntries(ctx context.Context, afterExecutionID string, count int) ([]*core.Entry, error) {
	mb.mu.RLock()
	defer mb.mu.RUnlock()

	ids := slices.Sorted(maps.Keys(mb.entries))

	var r []*core.Entry
	for _, id := range ids {
		if afterExecutionID != "" && strings.Compare(id, afterExecutionID) <= 0 {
			continue
		}

		r = append(r, copyEntry(mb.entries[id]))
		if count > 0 && len(r) == count {
			break
		}
	}

	return r, nil
}

func (mb *memoryBackend) GetStats(ctx context.Context) (*backend.Stats, error) {
	mb.mu.RLock()
	defer mb.mu.RUnlock()

	s := &backend.Stats{
		AwaitingExecutions: int64(len(mb.entries)),
	}

	for _, e := range mb.entries {
		if e.ExpiresAt != nil {
			s.ExpiringExecutions++
		}
	}

	return s, nil
}

func (mb *memoryBackend) Logger() *slog.Logger {
	return mb.options.Logger
}

func (mb *memoryBackend) Tracer() trace.Tracer {
	return mb.options.TracerProvider.Tracer(backend.TracerName)
}

func (mb *memoryBackend) Metrics() metrics.Client {
	return mb.options.Metrics.WithTags(metrics.Tags{metrickeys.Backend: "memory"})
}

func (mb *memoryBackend) Options() *backend.Options {
	return mb.options
}

func (mb *memoryBackend) Close() error {
	return nil
}

func copyEntry(e *core.Entry) *core.Entry {
	c := *e
	c.Metadata = maps.Clone(e.Metadata)

	if e.ExpiresAt != nil {
		at := *e.ExpiresAt
		c.ExpiresAt = &at
	}

	return &c
}

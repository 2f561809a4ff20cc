package router

import (
	"context"
	"log/slog"
	"maps"
	"slices"

	"github.com/cschleiden/go-resume/core"
	"github.com/cschleiden/go-resume/log"
)

// LogRequests returns a request handler that logs every header of every request event. It is an observer only,
// nothing depends on it for correctness.
func LogRequests(logger *slog.Logger) RequestHandler {
	return func(ctx context.Context, event *core.RequestEvent) error {
		for _, k := range slices.Sorted(maps.Keys(event.Headers)) {
			logger.InfoContext(ctx, "request header",
				log.ExecutionIDKey, event.ExecutionID,
				log.HeaderNameKey, k,
				log.HeaderValueKey, event.Headers[k],
			)
		}

		return nil
	}
}

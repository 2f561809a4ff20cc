package router

import (
	"context"
	"errors"

	"github.com/cschleiden/go-resume/core"
)

// Channel names. Request and resume events travel on separate channels: request producers are internal, resume
// producers are external and untrusted.
const (
	ChannelRequests = "requests"
	ChannelResumes  = "resumes"
)

var ErrRouterClosed = errors.New("router closed")

// RequestHandler consumes request events. Returning an error causes the event to be redelivered to this handler.
type RequestHandler func(ctx context.Context, event *core.RequestEvent) error

// ResumeHandler consumes resume events. Returning an error causes the event to be redelivered.
type ResumeHandler func(ctx context.Context, event *core.ResumeEvent) error

// Router is the notification router. It carries request events out to external systems and resume events back in.
// Delivery is at least once, handlers have to tolerate duplicates.
type Router interface {
	// PublishRequest hands the event to the router and returns without waiting for handlers to run.
	PublishRequest(ctx context.Context, event *core.RequestEvent) error

	// PublishResume hands the event to the router and returns without waiting for the resume handler to run.
	PublishResume(ctx context.Context, event *core.ResumeEvent) error

	// HandleRequests registers a named request handler. Every registered handler receives every request event.
	// Handlers have to be registered before Start.
	HandleRequests(name string, h RequestHandler)

	// HandleResumes registers the handler for resume events. Has to be called before Start.
	HandleResumes(h ResumeHandler)

	// Start begins delivering events until the context is canceled or Close is called.
	Start(ctx context.Context) error

	// Close stops accepting events and waits for in-flight deliveries to finish.
	Close() error
}

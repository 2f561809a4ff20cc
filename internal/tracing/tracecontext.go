package tracing

import (
	"context"

	"go.opentelemetry.io/otel/propagation"
)

// Context carries a serialized trace context, e.g. in the metadata of a correlation entry
type Context map[string]string

var _ propagation.TextMapCarrier = Context(nil)

func (tc Context) Get(key string) string {
	return tc[key]
}

func (tc Context) Set(key string, value string) {
	tc[key] = value
}

func (tc Context) Keys() []string {
	r := make([]string, 0, len(tc))

	for k := range tc {
		r = append(r, k)
	}

	return r
}

var propagator propagation.TextMapPropagator = propagation.NewCompositeTextMapPropagator(
	propagation.TraceContext{},
	propagation.Baggage{},
)

// Inject writes the span context of ctx into carrier. Does nothing if ctx has no valid span.
func Inject(ctx context.Context, carrier map[string]string) {
	propagator.Inject(ctx, Context(carrier))
}

// Extract returns a copy of ctx with the remote span context stored in carrier
func Extract(ctx context.Context, carrier map[string]string) context.Context {
	if len(carrier) == 0 {
		return ctx
	}

	return propagator.Extract(ctx, Context(carrier))
}

// InjectHeaders adds the span context of ctx to headers as string values
func InjectHeaders(ctx context.Context, headers map[string]any) {
	tc := Context{}
	Inject(ctx, tc)

	for k, v := range tc {
		headers[k] = v
	}
}

package tracer

import (
	"context"
)

// Tracer creates spans. It is implemented by *TracerClient and is the only
// tracing dependency of the pool and transaction packages.
type Tracer interface {
	// StartSpan creates a new span with the given name, attached to the parent
	// span in ctx if any. Always call span.End() when the operation completes.
	StartSpan(ctx context.Context, name string) (context.Context, Span)
}

// Span is a unit of traced work.
type Span interface {
	// End completes the span.
	End()

	// SetAttributes adds key-value attributes to the span. Strings, integers,
	// floats, booleans and durations keep their type; anything else is
	// formatted as a string.
	SetAttributes(attrs map[string]interface{})

	// RecordError records err on the span and marks it failed.
	RecordError(err error)
}

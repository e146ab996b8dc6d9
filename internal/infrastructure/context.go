package infrastructure

import "context"

type contextKey string

// TraceIDContextKey carries the run id. Every log line written with a
// context holding it gets a trace_id attribute.
const TraceIDContextKey contextKey = "trace_id"

// WithTraceID returns ctx tagged with traceID
func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, TraceIDContextKey, traceID)
}

// GetTraceID returns the trace id of ctx, or ""
func GetTraceID(ctx context.Context) string {
	id, _ := ctx.Value(TraceIDContextKey).(string)
	return id
}

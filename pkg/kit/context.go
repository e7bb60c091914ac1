package kit

import "context"

type ctxKey int

const (
	requestIDKey ctxKey = iota
	transportKey
)

// WithRequestID stores the per-request correlation ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID returns the request ID, or "" when none was set.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithTransport marks which surface the request arrived on ("http",
// "mcp").
func WithTransport(ctx context.Context, transport string) context.Context {
	return context.WithValue(ctx, transportKey, transport)
}

// Transport returns the transport marker, or "" when none was set.
func Transport(ctx context.Context) string {
	t, _ := ctx.Value(transportKey).(string)
	return t
}

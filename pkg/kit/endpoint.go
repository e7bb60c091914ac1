// Package kit carries the small endpoint plumbing shared by the HTTP and
// MCP surfaces: the Endpoint/Middleware types, request metadata context
// helpers, and MCP tool registration.
package kit

import (
	"context"
	"log/slog"
	"time"
)

// Endpoint is one transport-agnostic operation.
type Endpoint func(ctx context.Context, request any) (any, error)

// Middleware wraps an Endpoint with cross-cutting behavior.
type Middleware func(Endpoint) Endpoint

// Chain composes middlewares; the first argument is the outermost.
func Chain(mw ...Middleware) Middleware {
	return func(next Endpoint) Endpoint {
		for i := len(mw) - 1; i >= 0; i-- {
			next = mw[i](next)
		}
		return next
	}
}

// Logging logs every call to the endpoint with duration and outcome.
func Logging(name string) Middleware {
	return func(next Endpoint) Endpoint {
		return func(ctx context.Context, request any) (any, error) {
			start := time.Now()
			resp, err := next(ctx, request)

			attrs := []any{
				"endpoint", name,
				"transport", Transport(ctx),
				"duration", time.Since(start),
			}
			if id := RequestID(ctx); id != "" {
				attrs = append(attrs, "request_id", id)
			}
			if err != nil {
				attrs = append(attrs, "error", err.Error())
				slog.Error("endpoint failed", attrs...)
			} else {
				slog.Debug("endpoint ok", attrs...)
			}
			return resp, err
		}
	}
}

package callcontext

import (
	"context"
	"time"
)

type contextKey int

const (
	originKey contextKey = iota
)

// WithOrigin returns a new context recording where a request came from.
// origin is a connection id for socket traffic ("conn-3") or "http:" plus
// the remote address for HTTP requests.
func WithOrigin(ctx context.Context, origin string) context.Context {
	return context.WithValue(ctx, originKey, origin)
}

// Origin retrieves the origin from the context.
// Returns empty string if none is present.
func Origin(ctx context.Context) string {
	if origin, ok := ctx.Value(originKey).(string); ok {
		return origin
	}
	return ""
}

// HasOrigin checks if the context carries an origin
func HasOrigin(ctx context.Context) bool {
	return ctx.Value(originKey) != nil
}

// WithDefaultTimeout applies timeout to ctx unless it already has a deadline.
// The returned cancel func must always be called.
func WithDefaultTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

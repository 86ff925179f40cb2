package libtracker

import (
	"context"
	"fmt"
	"math/rand/v2"
)

type contextKey string

var ContextKeyRequestID = contextKey("request_id")
var ContextKeyRunID = contextKey("run_id")
var ContextKeySessionID = contextKey("session_id")

// CopyTrackingValues carries request, run and session ids from src into dst.
func CopyTrackingValues(src context.Context, dst context.Context) context.Context {
	ctx := dst
	for _, key := range []contextKey{ContextKeyRequestID, ContextKeyRunID, ContextKeySessionID} {
		if v := src.Value(key); v != nil {
			ctx = context.WithValue(ctx, key, v)
		}
	}
	return ctx
}

// WithNewRequestID stamps a fresh random request ID into ctx.
// Call this at the top of any CLI command that doesn't already carry one.
func WithNewRequestID(ctx context.Context) context.Context {
	id := fmt.Sprintf("cli-%016x", rand.Uint64())
	return context.WithValue(ctx, ContextKeyRequestID, id)
}

// WithRunID attaches the id of the workflow run driving ctx.
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, ContextKeyRunID, runID)
}

// WithSessionID attaches the chat session id.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, ContextKeySessionID, sessionID)
}

// RunIDFromContext returns the run id or "" when none is set.
func RunIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ContextKeyRunID).(string)
	return v
}

// RequestIDFromContext returns the request id or "" when none is set.
func RequestIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ContextKeyRequestID).(string)
	return v
}

// SessionIDFromContext returns the session id or "" when none is set.
func SessionIDFromContext(ctx context.Context) string {
	v, _ := ctx.Value(ContextKeySessionID).(string)
	return v
}

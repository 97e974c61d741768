// Package requestctx carries request-scoped identifiers (invocation id,
// requester id) set once by the interactions endpoint and read by handlers
// and background tasks.
package requestctx

import "context"

type contextKey struct{ name string }

var (
	invocationIDKey = &contextKey{"invocation_id"}
	requesterIDKey  = &contextKey{"requester_id"}
)

// SetInvocationID stores the invocation id in the context.
func SetInvocationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, invocationIDKey, id)
}

// InvocationID returns the invocation id, or "" if not set.
func InvocationID(ctx context.Context) string {
	v, _ := ctx.Value(invocationIDKey).(string)
	return v
}

// SetRequesterID stores the requester id in the context.
func SetRequesterID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requesterIDKey, id)
}

// RequesterID returns the requester id, or "" if not set.
func RequesterID(ctx context.Context) string {
	v, _ := ctx.Value(requesterIDKey).(string)
	return v
}

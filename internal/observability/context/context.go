// Package context carries per-request identity that outlives the HTTP
// layer: the request ID and the acting principal. The audit service reads
// the actor when an action arrives without an explicit performer.
package context

import "context"

type requestIDKey struct{}

type actorKey struct{}

type actor struct {
	actorType string
	actorID   string
}

// WithRequestID stores the request identifier on the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// RequestIDFromContext returns the request identifier, or empty.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// WithActor stores the acting principal on the context.
func WithActor(ctx context.Context, actorType, actorID string) context.Context {
	if actorType == "" && actorID == "" {
		return ctx
	}
	return context.WithValue(ctx, actorKey{}, actor{actorType: actorType, actorID: actorID})
}

// ActorFromContext returns the acting principal, or empty strings.
func ActorFromContext(ctx context.Context) (string, string) {
	if ctx == nil {
		return "", ""
	}
	if val, ok := ctx.Value(actorKey{}).(actor); ok {
		return val.actorType, val.actorID
	}
	return "", ""
}

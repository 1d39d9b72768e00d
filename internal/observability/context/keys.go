package context

import "context"

type contextKey string

const (
	requestIDKey contextKey = "observability_request_id"
	actorKey     contextKey = "observability_actor"
	eventIDKey   contextKey = "observability_event_id"
)

func WithRequestID(ctx context.Context, requestID string) context.Context {
	if ctx == nil || requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(requestIDKey).(string)
	return value
}

// WithActor records the admin subject performing the request.
func WithActor(ctx context.Context, actor string) context.Context {
	if ctx == nil || actor == "" {
		return ctx
	}
	return context.WithValue(ctx, actorKey, actor)
}

func ActorFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(actorKey).(string)
	return value
}

// WithEventID tags work done on behalf of a webhook event.
func WithEventID(ctx context.Context, eventID string) context.Context {
	if ctx == nil || eventID == "" {
		return ctx
	}
	return context.WithValue(ctx, eventIDKey, eventID)
}

func EventIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(eventIDKey).(string)
	return value
}

package logger

import (
	"context"
	"log/slog"
)

// contextKey is a private type to prevent collisions with other context keys.
type contextKey struct{}

// instanceIDKey is the context key for the workflow instance ID.
var instanceIDKey = contextKey{}

// WithInstance returns a new context with the given instance ID stored.
func WithInstance(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, instanceIDKey, id)
}

// InstanceID extracts the instance ID from the context.
// Returns an empty string if no instance ID is set.
func InstanceID(ctx context.Context) string {
	id, _ := ctx.Value(instanceIDKey).(string)
	return id
}

// FromContext returns l with the context's instance ID attached, if any.
func FromContext(ctx context.Context, l *slog.Logger) *slog.Logger {
	if id := InstanceID(ctx); id != "" {
		return l.With("instance", id)
	}
	return l
}

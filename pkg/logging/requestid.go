package logging

import (
	"context"

	"github.com/google/uuid"
)

// contextKey avoids collisions with keys set by other packages, matching the
// teacher's pkg/middleware/logging.go convention.
type contextKey string

const requestIDKey contextKey = "request-id"

// NewRequestID generates a correlation ID for a request or event that
// arrived without one.
func NewRequestID() string {
	return uuid.New().String()
}

// WithRequestID attaches a request ID to ctx.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// RequestIDFromContext retrieves the request ID ctx carries, or "" if none.
func RequestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

package core

import (
	"context"

	"github.com/google/uuid"
)

// requestIDKey is the context key for request ID
type requestIDKey struct{}

// WithRequestID adds a request ID to the context
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// GetRequestID retrieves the request ID from context
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}

// GenerateRequestID returns a random (v4) UUID string. Every accepted
// connection gets one so its job can be followed through the logs.
func GenerateRequestID() string {
	return uuid.NewString()
}

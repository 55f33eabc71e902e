// Package middleware provides cross-cutting helpers shared by the cache
// engine's outer layers: correlation-ID propagation. It has no HTTP
// dependency — the engine is an embedded library,
// not a service — so what survives from the original request-logging
// middleware is the correlation-ID context pattern, now used by
// observability's structured logging instead of an HTTP access log.
package middleware

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const correlationIDKey contextKey = "correlation-id"

// WithCorrelationID attaches a correlation ID to ctx, propagated by callers
// across service boundaries into the engine.
func WithCorrelationID(ctx context.Context, correlationID string) context.Context {
	return context.WithValue(ctx, correlationIDKey, correlationID)
}

// CorrelationIDFromContext returns the correlation ID carried by ctx, or ""
// if none was attached.
func CorrelationIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(correlationIDKey).(string); ok {
		return id
	}
	return ""
}

// CorrelationIDOrNew returns ctx's correlation ID if present, otherwise
// mints one and returns the updated context alongside it. Per spec.md §4.9,
// every operation log carries a correlation ID inherited from ambient
// context when present, otherwise minted per operation.
func CorrelationIDOrNew(ctx context.Context) (context.Context, string) {
	if id := CorrelationIDFromContext(ctx); id != "" {
		return ctx, id
	}
	id := uuid.NewString()
	return WithCorrelationID(ctx, id), id
}

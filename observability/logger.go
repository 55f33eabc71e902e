// Package observability implements the Observability component (spec.md
// C9): Prometheus metrics, zap structured logging with correlation IDs, and
// a health probe. Grounded on the teacher's monitoring package (its
// counters/timers set, its health-check shape) re-expressed on top of
// prometheus/client_golang and go.uber.org/zap rather than the teacher's
// hand-rolled RingBuffer/TimeSeries collector, since the pack already reaches
// for Prometheus (blueberrycongee-llmux, smartramana-developer-mesh) for
// exactly this concern.
package observability

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/o-tero/cachekit/pkg/middleware"
)

// Logger wraps a zap.Logger with the per-operation field set spec.md §4.9
// requires: correlationId, cacheName, namespace, operation, key, durationMs.
type Logger struct {
	base *zap.Logger
}

// NewLogger wraps an existing zap.Logger (e.g. the application's production
// logger). Passing nil yields a no-op logger, useful in tests.
func NewLogger(base *zap.Logger) *Logger {
	if base == nil {
		base = zap.NewNop()
	}
	return &Logger{base: base}
}

// Operation logs a single cache operation with the standard field set,
// minting a correlation ID from ctx if none is already attached.
func (l *Logger) Operation(ctx context.Context, cacheName, namespace, operation, key string, duration time.Duration, err error) {
	_, correlationID := middleware.CorrelationIDOrNew(ctx)
	fields := []zap.Field{
		zap.String("correlationId", correlationID),
		zap.String("cacheName", cacheName),
		zap.String("namespace", namespace),
		zap.String("operation", operation),
		zap.String("key", key),
		zap.Int64("durationMs", duration.Milliseconds()),
	}
	if err != nil {
		l.base.Warn("cache operation failed", append(fields, zap.Error(err))...)
		return
	}
	l.base.Debug("cache operation", fields...)
}

// Named returns a child Logger with the engine's component name attached,
// mirroring the teacher's service-scoped logging convention.
func (l *Logger) Named(name string) *Logger {
	return &Logger{base: l.base.Named(name)}
}

// Raw exposes the underlying zap.Logger for callers that need general
// (non-operation) logging, e.g. warming or invalidation background loops.
func (l *Logger) Raw() *zap.Logger { return l.base }

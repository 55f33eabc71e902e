// Package invalidation supplements the EvictionBus (evictionbus) with an
// audit trail and a pattern-aware request surface for callers that want to
// invalidate by key or by glob and get back which keys were affected.
// EvictionBus already propagates the eviction across instances over Redis
// pub/sub; Service sits in front of it, recording every invalidation for
// compliance/debugging and exposing retrieval over that history.
//
// Grounded on the teacher's invalidation.Service, generalized from an
// Encore service (sqldb-backed audit log, encore.dev/pubsub broadcast,
// package-level globals initialized in init()) into a constructed type
// that publishes through evictionbus.Publisher instead of its own topic.
package invalidation

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/o-tero/cachekit/evictionbus"
	"github.com/o-tero/cachekit/pkg/utils"
)

// Metrics tracks invalidation performance counters.
type Metrics struct {
	TotalInvalidations   atomic.Int64
	KeyInvalidations     atomic.Int64
	PatternInvalidations atomic.Int64
	AuditWrites          atomic.Int64
	Errors               atomic.Int64
}

// MetricsSnapshot is Metrics rendered as plain values for reporting.
type MetricsSnapshot struct {
	TotalInvalidations       int64   `json:"total_invalidations"`
	KeyInvalidations         int64   `json:"key_invalidations"`
	PatternInvalidations     int64   `json:"pattern_invalidations"`
	AuditWrites              int64   `json:"audit_writes"`
	Errors                   int64   `json:"errors"`
	PatternInvalidationRatio float64 `json:"pattern_invalidation_ratio"`
}

// Service invalidates keys for a single namespace, broadcasting through
// evictionbus and recording every call to an AuditSink.
type Service struct {
	publisher *evictionbus.Publisher
	audit     AuditSink
	metrics   *Metrics
}

// NewService builds a Service for publisher's namespace. audit may be nil, in which
// case a 1000-entry MemorySink is used.
func NewService(publisher *evictionbus.Publisher, audit AuditSink) *Service {
	if audit == nil {
		audit = NewMemorySink(1000)
	}
	return &Service{publisher: publisher, audit: audit, metrics: &Metrics{}}
}

// InvalidateKeyRequest invalidates specific, known keys.
type InvalidateKeyRequest struct {
	Keys        []string
	TriggeredBy string
	RequestID   string
}

// InvalidateResult reports the outcome of an invalidation call.
type InvalidateResult struct {
	InvalidatedCount int
	Keys             []string
	Pattern          string
	RequestID        string
	PublishedAt      time.Time
}

// InvalidateKey broadcasts removal of req.Keys and records an audit entry.
func (s *Service) InvalidateKey(ctx context.Context, req InvalidateKeyRequest) (InvalidateResult, error) {
	start := time.Now()
	if len(req.Keys) == 0 {
		return InvalidateResult{}, errors.New("invalidation: keys cannot be empty")
	}
	req.TriggeredBy = orDefault(req.TriggeredBy, "unknown")
	req.RequestID = orDefault(req.RequestID, uuid.NewString())

	keys := deduplicateKeys(req.Keys)
	for _, key := range keys {
		if err := s.publisher.PublishSingleKey(ctx, key); err != nil {
			s.metrics.Errors.Add(1)
			return InvalidateResult{}, fmt.Errorf("invalidation: publish failed: %w", err)
		}
	}

	now := time.Now()
	s.audit.Record(AuditEntry{
		Pattern:     formatKeysAsPattern(keys),
		Keys:        keys,
		TriggeredBy: req.TriggeredBy,
		Timestamp:   now,
		RequestID:   req.RequestID,
		LatencyMs:   time.Since(start).Milliseconds(),
	})
	s.metrics.AuditWrites.Add(1)
	s.metrics.TotalInvalidations.Add(1)
	s.metrics.KeyInvalidations.Add(1)

	return InvalidateResult{InvalidatedCount: len(keys), Keys: keys, RequestID: req.RequestID, PublishedAt: now}, nil
}

// InvalidatePatternRequest invalidates keys matching a glob pattern.
// KnownKeys, when supplied, lets the caller learn which keys matched before
// the broadcast reaches other instances; it has no effect on the broadcast
// itself, which always carries the raw pattern (each evictionbus.Subscriber
// that receives it clears its whole local tier).
type InvalidatePatternRequest struct {
	Pattern     string
	TriggeredBy string
	RequestID   string
	KnownKeys   []string
}

// InvalidatePattern broadcasts a pattern-based removal and records an audit
// entry. When req.KnownKeys is supplied, the reported matched keys come
// from filtering it locally; otherwise InvalidatedCount is 0 even though
// the broadcast still reaches every subscriber.
func (s *Service) InvalidatePattern(ctx context.Context, req InvalidatePatternRequest) (InvalidateResult, error) {
	start := time.Now()
	if req.Pattern == "" {
		return InvalidateResult{}, errors.New("invalidation: pattern cannot be empty")
	}
	req.TriggeredBy = orDefault(req.TriggeredBy, "unknown")
	req.RequestID = orDefault(req.RequestID, uuid.NewString())

	var matched []string
	if len(req.KnownKeys) > 0 {
		var err error
		matched, err = utils.FilterKeys(req.Pattern, req.KnownKeys)
		if err != nil {
			return InvalidateResult{}, fmt.Errorf("invalidation: pattern filter failed: %w", err)
		}
	}

	if err := s.publisher.PublishPattern(ctx, req.Pattern); err != nil {
		s.metrics.Errors.Add(1)
		return InvalidateResult{}, fmt.Errorf("invalidation: publish failed: %w", err)
	}

	now := time.Now()
	s.audit.Record(AuditEntry{
		Pattern:     req.Pattern,
		Keys:        matched,
		TriggeredBy: req.TriggeredBy,
		Timestamp:   now,
		RequestID:   req.RequestID,
		LatencyMs:   time.Since(start).Milliseconds(),
	})
	s.metrics.AuditWrites.Add(1)
	s.metrics.TotalInvalidations.Add(1)
	s.metrics.PatternInvalidations.Add(1)

	return InvalidateResult{InvalidatedCount: len(matched), Keys: matched, Pattern: req.Pattern, RequestID: req.RequestID, PublishedAt: now}, nil
}

// GetAuditLogs retrieves invalidation audit history with pagination.
func (s *Service) GetAuditLogs(limit, offset int, patternFilter string) ([]AuditEntry, int) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 1000 {
		limit = 1000
	}
	if offset < 0 {
		offset = 0
	}
	return s.audit.Recent(limit, offset, patternFilter)
}

// GetMetrics returns a point-in-time snapshot of invalidation counters.
func (s *Service) GetMetrics() MetricsSnapshot {
	total := s.metrics.TotalInvalidations.Load()
	pattern := s.metrics.PatternInvalidations.Load()

	ratio := 0.0
	if total > 0 {
		ratio = float64(pattern) / float64(total)
	}

	return MetricsSnapshot{
		TotalInvalidations:       total,
		KeyInvalidations:         s.metrics.KeyInvalidations.Load(),
		PatternInvalidations:     pattern,
		AuditWrites:              s.metrics.AuditWrites.Load(),
		Errors:                   s.metrics.Errors.Load(),
		PatternInvalidationRatio: ratio,
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// deduplicateKeys removes duplicate keys while preserving order.
func deduplicateKeys(keys []string) []string {
	seen := make(map[string]bool, len(keys))
	result := make([]string, 0, len(keys))
	for _, key := range keys {
		if !seen[key] {
			seen[key] = true
			result = append(result, key)
		}
	}
	return result
}

// formatKeysAsPattern renders a key set as the Pattern field of an audit
// entry for single-key invalidations (which have no real pattern).
func formatKeysAsPattern(keys []string) string {
	switch len(keys) {
	case 0:
		return ""
	case 1:
		return keys[0]
	default:
		return fmt.Sprintf("%s (+%d more)", keys[0], len(keys)-1)
	}
}

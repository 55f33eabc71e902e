package cache

import "time"

// Statistics is a derived, point-in-time snapshot of a cache's performance
// counters. It is never persisted; callers take a fresh one whenever they
// need it (health endpoint, metrics scrape, admin tooling).
type Statistics struct {
	Namespace      string
	HitCount       uint64
	MissCount      uint64
	EvictionCount  uint64
	CurrentSize    uint64
	HitRate        float64
	GetLatencyP50  time.Duration
	GetLatencyP95  time.Duration
	GetLatencyP99  time.Duration
	PutLatency     time.Duration
	ErrorCount     uint64
	Window         time.Duration

	// Multi-tier breakdown. Zero-valued for single-tier backends.
	L1Hits           uint64
	L1Misses         uint64
	L2Hits           uint64
	L2Misses         uint64
	L2FailureCount   uint64
	FallbackCount    uint64
}

// TotalRequests returns HitCount + MissCount.
func (s Statistics) TotalRequests() uint64 {
	return s.HitCount + s.MissCount
}

// computeHitRate derives a bounded [0,1] hit rate from raw counters, per
// spec.md §8 invariant 6.
func computeHitRate(hits, misses uint64) float64 {
	total := hits + misses
	if total == 0 {
		return 0
	}
	return float64(hits) / float64(total)
}

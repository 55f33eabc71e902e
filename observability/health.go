package observability

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/o-tero/cachekit/cache"
)

// Status is the health probe's reported state.
type Status string

const (
	StatusUp   Status = "UP"
	StatusDown Status = "DOWN"
)

// HealthReport is the readiness endpoint's response shape (spec.md §6).
type HealthReport struct {
	Status     Status               `json:"status"`
	Reason     string               `json:"reason,omitempty"`
	Namespaces []NamespaceHealth    `json:"namespaces"`
}

// NamespaceHealth is one namespace's entry in a HealthReport.
type NamespaceHealth struct {
	Namespace         string  `json:"namespace"`
	HitRatePercent    float64 `json:"hitRatePercent"`
	HitCount          uint64  `json:"hitCount"`
	MissCount         uint64  `json:"missCount"`
	EvictionCount     uint64  `json:"evictionCount"`
	ErrorCount        uint64  `json:"errorCount"`
	CurrentSize       uint64  `json:"currentSize"`
	AvgGetLatencyMs   float64 `json:"avgGetLatencyMs"`
	AvgPutLatencyMs   float64 `json:"avgPutLatencyMs"`
}

// Pinger is implemented by anything the health probe can ping — typically
// the go-redis client backing the remote tier. A purely local deployment has
// no Pinger and is always reported UP.
type Pinger interface {
	Ping(ctx context.Context) *redis.StatusCmd
}

// StatisticsSource supplies the per-namespace snapshots a HealthReport
// aggregates; package manager's registry implements this.
type StatisticsSource interface {
	AllStatistics(ctx context.Context) map[string]cache.Statistics
}

// Prober builds HealthReports on demand.
type Prober struct {
	pinger Pinger // nil for purely-local deployments
	stats  StatisticsSource
}

// NewProber builds a Prober. pinger may be nil.
func NewProber(pinger Pinger, stats StatisticsSource) *Prober {
	return &Prober{pinger: pinger, stats: stats}
}

// Check reports UP when the remote backend (if configured) answers a ping;
// otherwise DOWN with a reason. A purely-local deployment is always UP.
func (p *Prober) Check(ctx context.Context) HealthReport {
	report := HealthReport{Status: StatusUp}

	if p.pinger != nil {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := p.pinger.Ping(pingCtx).Err(); err != nil {
			report.Status = StatusDown
			report.Reason = err.Error()
		}
	}

	for namespace, s := range p.stats.AllStatistics(ctx) {
		report.Namespaces = append(report.Namespaces, NamespaceHealth{
			Namespace:       namespace,
			HitRatePercent:  s.HitRate * 100,
			HitCount:        s.HitCount,
			MissCount:       s.MissCount,
			EvictionCount:   s.EvictionCount,
			ErrorCount:      s.ErrorCount,
			CurrentSize:     s.CurrentSize,
			AvgGetLatencyMs: float64(s.GetLatencyP50.Milliseconds()),
			AvgPutLatencyMs: float64(s.PutLatency.Milliseconds()),
		})
	}
	return report
}

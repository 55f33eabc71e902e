package observability

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/o-tero/cachekit/cache/wrappers"
)

// Registry owns every Prometheus collector the engine registers, so a
// process wires exactly one Registry into every namespace's wrappers.Metrics
// wrapper instead of re-registering collectors per namespace (which
// Prometheus's client forbids).
type Registry struct {
	prometheus prometheus.Registerer
	Operation  *wrappers.MetricNames
	HitRate    *prometheus.GaugeVec
	Evictions  *prometheus.CounterVec
	Fallbacks  *prometheus.CounterVec
	Timeouts   *prometheus.CounterVec
}

// NewRegistry builds the shared collector set against reg. Pass
// prometheus.NewRegistry() in tests and an application-wide
// *prometheus.Registry in production.
func NewRegistry(reg *prometheus.Registry) *Registry {
	hitRate := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cachekit_hit_rate",
		Help: "Derived hit rate per namespace, in [0,1].",
	}, []string{"namespace"})
	evictions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cachekit_evictions_total",
		Help: "Local backend evictions by namespace.",
	}, []string{"namespace"})
	fallbacks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cachekit_circuit_breaker_fallback_total",
		Help: "Times a circuit-open read served the fallback cache instead of the primary backend.",
	}, []string{"namespace"})
	timeouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cachekit_timeouts_total",
		Help: "Operation timeouts by namespace and kind.",
	}, []string{"namespace", "kind"})

	reg.MustRegister(hitRate, evictions, fallbacks, timeouts)

	return &Registry{
		prometheus: reg,
		Operation:  wrappers.NewMetricNames(reg),
		HitRate:    hitRate,
		Evictions:  evictions,
		Fallbacks:  fallbacks,
		Timeouts:   timeouts,
	}
}

// RecordHitRate updates the per-namespace hit-rate gauge from a fresh
// cache.Statistics snapshot.
func (r *Registry) RecordHitRate(namespace string, hitRate float64) {
	r.HitRate.WithLabelValues(namespace).Set(hitRate)
}

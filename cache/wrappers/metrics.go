package wrappers

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/o-tero/cachekit/cache"
)

// MetricNames is the set of Prometheus collectors every Metrics wrapper
// shares; created once and registered by the caller (package observability)
// so repeated namespaces don't re-register the same collector.
type MetricNames struct {
	Latency  *prometheus.HistogramVec
	Requests *prometheus.CounterVec
}

// NewMetricNames builds the shared collector set. reg is typically a
// dedicated prometheus.Registry so tests don't collide with the default one.
func NewMetricNames(reg prometheus.Registerer) *MetricNames {
	m := &MetricNames{
		Latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cachekit_operation_duration_seconds",
			Help:    "Latency of cache operations by cache, namespace, operation, and status.",
			Buckets: prometheus.DefBuckets,
		}, []string{"cache", "namespace", "operation", "status"}),
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cachekit_operation_total",
			Help: "Count of cache operations by cache, namespace, operation, and status.",
		}, []string{"cache", "namespace", "operation", "status"}),
	}
	reg.MustRegister(m.Latency, m.Requests)
	return m
}

// Metrics wraps every operation with a latency timer and a hit/miss/error
// counter, tagging all series with {cache, namespace, operation, status}.
// It sits above CircuitBreaker so recorded latency includes breaker
// decisions, per spec.md §4.6.
type Metrics struct {
	inner     cache.Cache
	names     *MetricNames
	cacheName string
	namespace string
}

// NewMetrics builds a Metrics wrapper. cacheName identifies the logical
// cache (e.g. "sessions") independent of namespace, for dashboards spanning
// many namespaces of the same cache.
func NewMetrics(inner cache.Cache, names *MetricNames, cacheName, namespace string) *Metrics {
	return &Metrics{inner: inner, names: names, cacheName: cacheName, namespace: namespace}
}

var _ cache.Cache = (*Metrics)(nil)

func (m *Metrics) observe(operation string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	labels := prometheus.Labels{"cache": m.cacheName, "namespace": m.namespace, "operation": operation, "status": status}
	m.names.Latency.With(labels).Observe(time.Since(start).Seconds())
	m.names.Requests.With(labels).Inc()
}

func (m *Metrics) Put(ctx context.Context, key string, value []byte) error {
	start := time.Now()
	err := m.inner.Put(ctx, key, value)
	m.observe("put", start, err)
	return err
}

func (m *Metrics) PutWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	start := time.Now()
	err := m.inner.PutWithTTL(ctx, key, value, ttl)
	m.observe("put", start, err)
	return err
}

func (m *Metrics) Get(ctx context.Context, key string) ([]byte, bool, error) {
	start := time.Now()
	v, ok, err := m.inner.Get(ctx, key)
	status := "miss"
	if ok {
		status = "hit"
	}
	if err != nil {
		status = "error"
	}
	labels := prometheus.Labels{"cache": m.cacheName, "namespace": m.namespace, "operation": "get", "status": status}
	m.names.Latency.With(labels).Observe(time.Since(start).Seconds())
	m.names.Requests.With(labels).Inc()
	return v, ok, err
}

func (m *Metrics) Remove(ctx context.Context, key string) error {
	start := time.Now()
	err := m.inner.Remove(ctx, key)
	m.observe("remove", start, err)
	return err
}

func (m *Metrics) Clear(ctx context.Context) error {
	start := time.Now()
	err := m.inner.Clear(ctx)
	m.observe("clear", start, err)
	return err
}

func (m *Metrics) ContainsKey(ctx context.Context, key string) (bool, error) {
	start := time.Now()
	ok, err := m.inner.ContainsKey(ctx, key)
	m.observe("containsKey", start, err)
	return ok, err
}

func (m *Metrics) PutAll(ctx context.Context, items map[string][]byte) error {
	start := time.Now()
	err := m.inner.PutAll(ctx, items)
	m.observe("putAll", start, err)
	return err
}

func (m *Metrics) GetAll(ctx context.Context, keys []string) (map[string][]byte, error) {
	start := time.Now()
	v, err := m.inner.GetAll(ctx, keys)
	m.observe("getAll", start, err)
	return v, err
}

func (m *Metrics) PutIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	start := time.Now()
	ok, err := m.inner.PutIfAbsent(ctx, key, value, ttl)
	m.observe("putIfAbsent", start, err)
	return ok, err
}

func (m *Metrics) Increment(ctx context.Context, key string, delta int64) (int64, error) {
	start := time.Now()
	n, err := m.inner.Increment(ctx, key, delta)
	m.observe("increment", start, err)
	return n, err
}

func (m *Metrics) Decrement(ctx context.Context, key string, delta int64) (int64, error) {
	start := time.Now()
	n, err := m.inner.Decrement(ctx, key, delta)
	m.observe("decrement", start, err)
	return n, err
}

func (m *Metrics) Statistics(ctx context.Context) (cache.Statistics, error) {
	return m.inner.Statistics(ctx)
}

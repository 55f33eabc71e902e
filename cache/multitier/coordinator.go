// Package multitier implements the MultiTierCoordinator (spec.md C5):
// L1/L2 read-through and write-through with L2-failure fallback. Grounded
// on the teacher's cache-manager.Service.fetchWithFallback, generalized from
// a singleton-service method into a reusable cache.Cache implementation any
// namespace can get an instance of.
package multitier

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/o-tero/cachekit/cache"
	"github.com/o-tero/cachekit/evictionbus"
)

// L1 is the subset of cache.Cache the coordinator needs from its local tier,
// plus the pattern-delete escape hatch evictionbus.Sink needs.
type L1 interface {
	cache.Cache
	DeletePattern(pattern string) int
}

// Coordinator composes an L1 and L2 backend plus an EvictionBus publisher.
type Coordinator struct {
	l1        L1
	l2        cache.Cache
	publisher *evictionbus.Publisher
	namespace string
	logger    *zap.Logger

	l1Hits, l1Misses, l2Hits, l2Misses, l2Failures, fallbacks uint64
}

// New builds a Coordinator. publisher may be nil, in which case eviction
// events are not broadcast (single-instance deployments).
func New(namespace string, l1 L1, l2 cache.Cache, publisher *evictionbus.Publisher, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{l1: l1, l2: l2, publisher: publisher, namespace: namespace, logger: logger}
}

var _ cache.Cache = (*Coordinator)(nil)

func (c *Coordinator) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if v, ok, err := c.l1.Get(ctx, key); err == nil && ok {
		atomic.AddUint64(&c.l1Hits, 1)
		return v, true, nil
	}
	atomic.AddUint64(&c.l1Misses, 1)

	v, ok, err := c.l2.Get(ctx, key)
	if err != nil {
		atomic.AddUint64(&c.l2Failures, 1)
		atomic.AddUint64(&c.fallbacks, 1)
		c.logger.Warn("multitier: L2 get failed, falling back to empty", zap.String("key", key), zap.Error(err))
		return nil, false, nil
	}
	if !ok {
		atomic.AddUint64(&c.l2Misses, 1)
		return nil, false, nil
	}

	atomic.AddUint64(&c.l2Hits, 1)
	if err := c.l1.Put(ctx, key, v); err != nil {
		c.logger.Debug("multitier: L1 warm-up from L2 failed", zap.String("key", key), zap.Error(err))
	}
	return v, true, nil
}

func (c *Coordinator) Put(ctx context.Context, key string, value []byte) error {
	return c.PutWithTTL(ctx, key, value, 0)
}

func (c *Coordinator) PutWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.l1.PutWithTTL(ctx, key, value, ttl); err != nil {
		return err
	}
	if err := c.l2.PutWithTTL(ctx, key, value, ttl); err != nil {
		atomic.AddUint64(&c.l2Failures, 1)
		atomic.AddUint64(&c.fallbacks, 1)
		c.logger.Warn("multitier: L2 put failed, L1 authoritative until L2 recovers", zap.String("key", key), zap.Error(err))
	}
	return nil
}

func (c *Coordinator) Remove(ctx context.Context, key string) error {
	if err := c.l1.Remove(ctx, key); err != nil {
		return err
	}
	l2Ok := true
	if err := c.l2.Remove(ctx, key); err != nil {
		l2Ok = false
		atomic.AddUint64(&c.l2Failures, 1)
		atomic.AddUint64(&c.fallbacks, 1)
		c.logger.Warn("multitier: L2 remove failed", zap.String("key", key), zap.Error(err))
	}
	if l2Ok && c.publisher != nil {
		if err := c.publisher.PublishSingleKey(ctx, key); err != nil {
			c.logger.Warn("multitier: eviction publish failed", zap.String("key", key), zap.Error(err))
		}
	}
	return nil
}

func (c *Coordinator) Clear(ctx context.Context) error {
	if err := c.l1.Clear(ctx); err != nil {
		return err
	}
	l2Ok := true
	if err := c.l2.Clear(ctx); err != nil {
		l2Ok = false
		atomic.AddUint64(&c.l2Failures, 1)
		atomic.AddUint64(&c.fallbacks, 1)
		c.logger.Warn("multitier: L2 clear failed", zap.Error(err))
	}
	if l2Ok && c.publisher != nil {
		if err := c.publisher.PublishClearAll(ctx); err != nil {
			c.logger.Warn("multitier: eviction publish failed", zap.Error(err))
		}
	}
	return nil
}

func (c *Coordinator) ContainsKey(ctx context.Context, key string) (bool, error) {
	if ok, err := c.l1.ContainsKey(ctx, key); err == nil && ok {
		return true, nil
	}
	return c.l2.ContainsKey(ctx, key)
}

func (c *Coordinator) PutAll(ctx context.Context, items map[string][]byte) error {
	if len(items) == 0 {
		return nil
	}
	if err := c.l1.PutAll(ctx, items); err != nil {
		return err
	}
	if err := c.l2.PutAll(ctx, items); err != nil {
		atomic.AddUint64(&c.l2Failures, 1)
		atomic.AddUint64(&c.fallbacks, 1)
		c.logger.Warn("multitier: L2 putAll failed", zap.Error(err))
	}
	return nil
}

// GetAll queries L1 first; only when some key is missing from L1 does it pay
// the L2 round trip, fetching the full key set (not just the misses) since
// the network round trip dominates either way. L2 results win on overlap.
func (c *Coordinator) GetAll(ctx context.Context, keys []string) (map[string][]byte, error) {
	l1Results, _ := c.l1.GetAll(ctx, keys)
	if len(l1Results) == len(keys) {
		return l1Results, nil
	}

	l2Results, err := c.l2.GetAll(ctx, keys)
	if err != nil {
		atomic.AddUint64(&c.l2Failures, 1)
		atomic.AddUint64(&c.fallbacks, 1)
		c.logger.Warn("multitier: L2 getAll failed, returning L1-only results", zap.Error(err))
		return l1Results, nil
	}

	merged := make(map[string][]byte, len(l1Results)+len(l2Results))
	for k, v := range l1Results {
		merged[k] = v
	}
	for k, v := range l2Results {
		merged[k] = v
		if err := c.l1.Put(ctx, k, v); err != nil {
			c.logger.Debug("multitier: L1 warm-up from L2 getAll failed", zap.String("key", k), zap.Error(err))
		}
	}
	return merged, nil
}

// PutIfAbsent checks L1 first; if absent, attempts an atomic L2
// putIfAbsent. On L2 success it populates L1. On L2 failure it degrades to
// an L1-only putIfAbsent and returns that result instead.
func (c *Coordinator) PutIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if ok, err := c.l1.ContainsKey(ctx, key); err == nil && ok {
		return false, nil
	}

	inserted, err := c.l2.PutIfAbsent(ctx, key, value, ttl)
	if err != nil {
		atomic.AddUint64(&c.l2Failures, 1)
		atomic.AddUint64(&c.fallbacks, 1)
		c.logger.Warn("multitier: L2 putIfAbsent failed, degrading to L1-only", zap.String("key", key), zap.Error(err))
		return c.l1.PutIfAbsent(ctx, key, value, ttl)
	}
	if inserted {
		if err := c.l1.PutWithTTL(ctx, key, value, ttl); err != nil {
			c.logger.Debug("multitier: L1 warm-up after putIfAbsent failed", zap.String("key", key), zap.Error(err))
		}
	}
	return inserted, nil
}

// Increment delegates to L2 only, then invalidates L1 for the key so a
// subsequent read doesn't observe a stale cached copy. If L2 is unavailable
// this operation is unsupported outright: there is no safe degraded mode for
// a distributed atomic counter.
func (c *Coordinator) Increment(ctx context.Context, key string, delta int64) (int64, error) {
	return c.atomicDelegate(ctx, key, delta, c.l2.Increment)
}

func (c *Coordinator) Decrement(ctx context.Context, key string, delta int64) (int64, error) {
	return c.atomicDelegate(ctx, key, delta, c.l2.Decrement)
}

func (c *Coordinator) atomicDelegate(ctx context.Context, key string, delta int64, op func(context.Context, string, int64) (int64, error)) (int64, error) {
	n, err := op(ctx, key, delta)
	if err != nil {
		return 0, &cache.UnsupportedOperationError{Backend: "multitier", Operation: "atomic counters (L2 unavailable)"}
	}
	if err := c.l1.Remove(ctx, key); err != nil {
		c.logger.Debug("multitier: L1 invalidation after atomic op failed", zap.String("key", key), zap.Error(err))
	}
	return n, nil
}

func (c *Coordinator) Statistics(ctx context.Context) (cache.Statistics, error) {
	l1Hits := atomic.LoadUint64(&c.l1Hits)
	l1Misses := atomic.LoadUint64(&c.l1Misses)
	l2Hits := atomic.LoadUint64(&c.l2Hits)
	l2Misses := atomic.LoadUint64(&c.l2Misses)

	// Every request touches L1 exactly once (hit or miss), so l1Hits+l1Misses
	// is the true total; a request only ever counts as a final miss if it
	// also missed L2.
	hits := l1Hits + l2Hits
	total := l1Hits + l1Misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return cache.Statistics{
		Namespace:      c.namespace,
		HitCount:       hits,
		MissCount:      total - hits,
		HitRate:        hitRate,
		L1Hits:         l1Hits,
		L1Misses:       l1Misses,
		L2Hits:         l2Hits,
		L2Misses:       l2Misses,
		L2FailureCount: atomic.LoadUint64(&c.l2Failures),
		FallbackCount:  atomic.LoadUint64(&c.fallbacks),
	}, nil
}

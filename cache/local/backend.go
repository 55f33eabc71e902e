// Package local implements the LocalBackend (L1) tier: an in-process,
// bounded-size LRU cache with lazy TTL expiration. It is grounded on the
// teacher's cache-manager.L1Cache, generalized to the []byte-valued Cache
// contract and extended with hit/miss/eviction counters feeding Statistics.
package local

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/o-tero/cachekit/cache"
	"github.com/o-tero/cachekit/pkg/utils"
)

type entry struct {
	key       string
	value     []byte
	expiresAt time.Time
	element   *list.Element
}

// Backend is a thread-safe, bounded in-memory LRU cache. A global RWMutex is
// used rather than sync.Map because LRU ordering needs atomic move-to-front
// on read, which sync.Map can't express; this caps throughput at roughly
// 100K ops/sec per instance, acceptable for an L1 tier fronted by a
// MultiTierCoordinator.
type Backend struct {
	mu         sync.RWMutex
	entries    map[string]*entry
	lru        *list.List
	maxEntries int
	defaultTTL time.Duration
	namespace  string
	logger     *zap.Logger

	hits      uint64
	misses    uint64
	evictions uint64
	errors    uint64
}

// New creates an L1 Backend bounded to maxEntries, using defaultTTL for
// every entry. Per-entry TTL is not supported on the local tier (see
// PutWithTTL); callers that need per-entry expiry belong on RemoteBackend.
func New(namespace string, maxEntries int, defaultTTL time.Duration) *Backend {
	return &Backend{
		entries:    make(map[string]*entry, maxEntries),
		lru:        list.New(),
		maxEntries: maxEntries,
		defaultTTL: defaultTTL,
		namespace:  namespace,
		logger:     zap.NewNop(),
	}
}

// WithLogger attaches a logger used to note ignored per-entry TTLs. Returns
// b for chaining at construction time.
func (b *Backend) WithLogger(logger *zap.Logger) *Backend {
	if logger != nil {
		b.logger = logger
	}
	return b
}

var _ cache.Cache = (*Backend)(nil)

func (b *Backend) Put(ctx context.Context, key string, value []byte) error {
	return b.PutWithTTL(ctx, key, value, 0)
}

// PutWithTTL ignores a caller-supplied per-entry TTL and always applies the
// namespace default: the local tier has no per-key expiry sweep cheap enough
// to justify one, so every entry shares b.defaultTTL.
func (b *Backend) PutWithTTL(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl > 0 && ttl != b.defaultTTL {
		b.logger.Debug("local backend ignores per-entry TTL, using namespace default",
			zap.String("namespace", b.namespace), zap.String("key", key),
			zap.Duration("requested", ttl), zap.Duration("applied", b.defaultTTL))
	}
	expiresAt := time.Now().Add(b.defaultTTL)

	b.mu.Lock()
	defer b.mu.Unlock()

	if e, ok := b.entries[key]; ok {
		e.value = value
		e.expiresAt = expiresAt
		b.lru.MoveToFront(e.element)
		return nil
	}

	if b.lru.Len() >= b.maxEntries {
		b.evictOldestLocked()
	}

	e := &entry{key: key, value: value, expiresAt: expiresAt}
	e.element = b.lru.PushFront(e)
	b.entries[key] = e
	return nil
}

func (b *Backend) Get(_ context.Context, key string) ([]byte, bool, error) {
	b.mu.RLock()
	e, ok := b.entries[key]
	b.mu.RUnlock()

	if !ok {
		atomic.AddUint64(&b.misses, 1)
		return nil, false, nil
	}

	if time.Now().After(e.expiresAt) {
		b.mu.Lock()
		b.deleteLocked(key)
		b.mu.Unlock()
		atomic.AddUint64(&b.misses, 1)
		return nil, false, nil
	}

	b.mu.Lock()
	b.lru.MoveToFront(e.element)
	b.mu.Unlock()

	atomic.AddUint64(&b.hits, 1)
	return e.value, true, nil
}

func (b *Backend) Remove(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deleteLocked(key)
	return nil
}

func (b *Backend) Clear(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = make(map[string]*entry, b.maxEntries)
	b.lru = list.New()
	return nil
}

func (b *Backend) ContainsKey(ctx context.Context, key string) (bool, error) {
	b.mu.RLock()
	e, ok := b.entries[key]
	b.mu.RUnlock()
	if !ok {
		return false, nil
	}
	return !time.Now().After(e.expiresAt), nil
}

func (b *Backend) PutAll(ctx context.Context, items map[string][]byte) error {
	if len(items) == 0 {
		return nil
	}
	for k, v := range items {
		if err := b.Put(ctx, k, v); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) GetAll(ctx context.Context, keys []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	for _, k := range keys {
		if v, ok, _ := b.Get(ctx, k); ok {
			out[k] = v
		}
	}
	return out, nil
}

// PutIfAbsent, like PutWithTTL, ignores ttl and applies the namespace default.
func (b *Backend) PutIfAbsent(_ context.Context, key string, value []byte, _ time.Duration) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if e, ok := b.entries[key]; ok && !time.Now().After(e.expiresAt) {
		return false, nil
	}

	if b.lru.Len() >= b.maxEntries {
		b.evictOldestLocked()
	}
	e := &entry{key: key, value: value, expiresAt: time.Now().Add(b.defaultTTL)}
	e.element = b.lru.PushFront(e)
	b.entries[key] = e
	return true, nil
}

// Increment is not supported by the local backend: without a central
// sequencer, concurrent processes can't agree on an atomic counter. Use the
// remote backend's native INCR for counters shared across instances.
func (b *Backend) Increment(context.Context, string, int64) (int64, error) {
	return 0, &cache.UnsupportedOperationError{Backend: "local", Operation: "Increment"}
}

func (b *Backend) Decrement(context.Context, string, int64) (int64, error) {
	return 0, &cache.UnsupportedOperationError{Backend: "local", Operation: "Decrement"}
}

func (b *Backend) Statistics(context.Context) (cache.Statistics, error) {
	b.mu.RLock()
	size := uint64(len(b.entries))
	b.mu.RUnlock()

	hits := atomic.LoadUint64(&b.hits)
	misses := atomic.LoadUint64(&b.misses)
	total := hits + misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return cache.Statistics{
		Namespace:     b.namespace,
		HitCount:      hits,
		MissCount:     misses,
		EvictionCount: atomic.LoadUint64(&b.evictions),
		CurrentSize:   size,
		HitRate:       hitRate,
		ErrorCount:    atomic.LoadUint64(&b.errors),
	}, nil
}

// DeletePattern removes every key matching pattern (prefix globs like
// "user:*" take the fast path; anything else falls back to utils' cached
// regex matcher). Part of the method set multitier.L1 and evictionbus.Sink
// require.
func (b *Backend) DeletePattern(pattern string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	var toDelete []string
	for key := range b.entries {
		if ok, err := utils.MatchPattern(pattern, key); err == nil && ok {
			toDelete = append(toDelete, key)
		}
	}
	for _, key := range toDelete {
		b.deleteLocked(key)
	}
	return len(toDelete)
}

func (b *Backend) deleteLocked(key string) bool {
	e, ok := b.entries[key]
	if !ok {
		return false
	}
	b.lru.Remove(e.element)
	delete(b.entries, key)
	return true
}

// evictOldestLocked removes the least-recently-used entry. Caller holds b.mu.
func (b *Backend) evictOldestLocked() {
	oldest := b.lru.Back()
	if oldest == nil {
		return
	}
	e := oldest.Value.(*entry)
	b.lru.Remove(oldest)
	delete(b.entries, e.key)
	atomic.AddUint64(&b.evictions, 1)
}

package wrappers

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/o-tero/cachekit/cache"
)

// Loader computes the value for a key on a cache miss, e.g. an origin
// database read. It is supplied per-call, not at construction time, so the
// same StampedeProtection instance serves callers with different loaders.
type Loader func(ctx context.Context) ([]byte, error)

// StampedeProtection coalesces concurrent misses for the same key so only
// one caller per process runs a Loader (via golang.org/x/sync/singleflight),
// and additionally serializes across processes with a Redis SET-NX lock so a
// fleet of instances doesn't all hit the origin at once on a cold namespace.
// Sits below CircuitBreaker and above Compression, per spec.md §4.6.
type StampedeProtection struct {
	inner              cache.Cache
	group              singleflight.Group
	redis              redis.UniversalClient
	lockTimeout        time.Duration
	computationTimeout time.Duration
}

// NewStampedeProtection builds a StampedeProtection wrapper. redisClient may
// be nil, in which case only local (in-process) coalescing applies — the
// degraded-but-safe mode for a single-instance deployment.
func NewStampedeProtection(inner cache.Cache, redisClient redis.UniversalClient, lockTimeout, computationTimeout time.Duration) *StampedeProtection {
	return &StampedeProtection{inner: inner, redis: redisClient, lockTimeout: lockTimeout, computationTimeout: computationTimeout}
}

var _ cache.Cache = (*StampedeProtection)(nil)

// GetOrLoad is the stampede-protected read path used by InterceptionLayer's
// CacheLookup: check the cache, and on miss acquire a lock, double-check,
// then run loader with exactly one winner across the cluster.
func (s *StampedeProtection) GetOrLoad(ctx context.Context, key string, loader Loader) ([]byte, error) {
	if v, ok, err := s.inner.Get(ctx, key); err == nil && ok {
		return v, nil
	}

	v, err, _ := s.group.Do(key, func() (interface{}, error) {
		return s.loadWithDistributedLock(ctx, key, loader)
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (s *StampedeProtection) loadWithDistributedLock(ctx context.Context, key string, loader Loader) ([]byte, error) {
	if s.redis == nil {
		return s.computeAndStore(ctx, key, loader)
	}

	// key here is already the effective <namespace>:<key> string: Namespace
	// is the outermost wrapper, so every instance derives the same lock key
	// for the same logical entry regardless of where it sits in the chain.
	lockKey := "cache:stampede:" + key
	token := uuid.NewString()

	acquired, err := s.acquireLock(ctx, lockKey, token)
	if err != nil || !acquired {
		// Lock-acquisition failure (or timeout) yields an empty result with a
		// nil error and is not counted anywhere; we never invoke the loader
		// without the lock.
		return nil, nil //nolint:nilnil // empty result is the documented behavior
	}
	defer s.releaseLock(context.Background(), lockKey, token)

	// Double-check: another instance may have populated the cache while we
	// waited for the lock.
	if v, ok, err := s.inner.Get(ctx, key); err == nil && ok {
		return v, nil
	}

	return s.computeAndStore(ctx, key, loader)
}

func (s *StampedeProtection) acquireLock(ctx context.Context, lockKey, token string) (bool, error) {
	deadline := time.Now().Add(s.lockTimeout)
	for {
		ok, err := s.redis.SetNX(ctx, lockKey, token, s.lockTimeout).Result()
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
		if time.Now().After(deadline) {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// releaseLock deletes the lock only if it still holds our token, avoiding
// releasing a lock some other holder has since acquired after our own
// lockTimeout expired.
func (s *StampedeProtection) releaseLock(ctx context.Context, lockKey, token string) {
	script := redis.NewScript(`
		if redis.call("GET", KEYS[1]) == ARGV[1] then
			return redis.call("DEL", KEYS[1])
		end
		return 0
	`)
	_ = script.Run(ctx, s.redis, []string{lockKey}, token).Err()
}

func (s *StampedeProtection) computeAndStore(ctx context.Context, key string, loader Loader) ([]byte, error) {
	cctx, cancel := context.WithTimeout(ctx, s.computationTimeout)
	defer cancel()

	type res struct {
		v   []byte
		err error
	}
	done := make(chan res, 1)
	go func() {
		v, err := loader(cctx)
		done <- res{v: v, err: err}
	}()

	select {
	case <-cctx.Done():
		return nil, &cache.TimeoutError{Kind: cache.TimeoutComputation, Key: key, Timeout: s.computationTimeout.Milliseconds()}
	case r := <-done:
		if r.err != nil {
			return nil, r.err
		}
		if err := s.inner.Put(ctx, key, r.v); err != nil {
			return nil, err
		}
		return r.v, nil
	}
}

func (s *StampedeProtection) Put(ctx context.Context, key string, value []byte) error {
	return s.inner.Put(ctx, key, value)
}
func (s *StampedeProtection) PutWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.inner.PutWithTTL(ctx, key, value, ttl)
}
func (s *StampedeProtection) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return s.inner.Get(ctx, key)
}
func (s *StampedeProtection) Remove(ctx context.Context, key string) error {
	return s.inner.Remove(ctx, key)
}
func (s *StampedeProtection) Clear(ctx context.Context) error { return s.inner.Clear(ctx) }
func (s *StampedeProtection) ContainsKey(ctx context.Context, key string) (bool, error) {
	return s.inner.ContainsKey(ctx, key)
}
func (s *StampedeProtection) PutAll(ctx context.Context, items map[string][]byte) error {
	return s.inner.PutAll(ctx, items)
}
func (s *StampedeProtection) GetAll(ctx context.Context, keys []string) (map[string][]byte, error) {
	return s.inner.GetAll(ctx, keys)
}
func (s *StampedeProtection) PutIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	return s.inner.PutIfAbsent(ctx, key, value, ttl)
}
func (s *StampedeProtection) Increment(ctx context.Context, key string, delta int64) (int64, error) {
	return s.inner.Increment(ctx, key, delta)
}
func (s *StampedeProtection) Decrement(ctx context.Context, key string, delta int64) (int64, error) {
	return s.inner.Decrement(ctx, key, delta)
}
func (s *StampedeProtection) Statistics(ctx context.Context) (cache.Statistics, error) {
	return s.inner.Statistics(ctx)
}

package wrappers

import (
	"context"
	"time"

	"github.com/sony/gobreaker"

	"github.com/o-tero/cachekit/cache"
)

// CircuitBreakerConfig mirrors spec.md §4.6's {failureRateThreshold,
// minCalls, slidingWindow, waitInOpen}.
type CircuitBreakerConfig struct {
	Name                 string
	FailureRateThreshold float64
	MinCalls             uint32
	SlidingWindow        time.Duration
	WaitInOpen           time.Duration
}

// CircuitBreaker short-circuits calls to inner once the failure rate over a
// sliding window crosses FailureRateThreshold. On OPEN, read operations
// serve Fallback (typically the L1 tier of the coordinator this wrapper
// sits above) instead of erroring; write operations fail fast with
// cache.CircuitOpenError. It sits below Metrics (so breaker decisions are
// timed) and above StampedeProtection (so a stampede lock is never acquired
// for a call the breaker would have rejected anyway).
type CircuitBreaker struct {
	inner    cache.Cache
	fallback cache.Cache // optional; nil means OPEN reads return empty
	breaker  *gobreaker.CircuitBreaker
}

// NewCircuitBreaker builds a CircuitBreaker wrapper. fallback may be nil.
func NewCircuitBreaker(inner cache.Cache, fallback cache.Cache, cfg CircuitBreakerConfig) *CircuitBreaker {
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Interval:    cfg.SlidingWindow,
		Timeout:     cfg.WaitInOpen,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinCalls {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.FailureRateThreshold
		},
	}
	return &CircuitBreaker{inner: inner, fallback: fallback, breaker: gobreaker.NewCircuitBreaker(settings)}
}

var _ cache.Cache = (*CircuitBreaker)(nil)

func (c *CircuitBreaker) isOpen() bool {
	return c.breaker.State() == gobreaker.StateOpen
}

func (c *CircuitBreaker) readFallback(ctx context.Context, key string) ([]byte, bool, error) {
	if c.fallback == nil {
		return nil, false, nil
	}
	return c.fallback.Get(ctx, key)
}

func (c *CircuitBreaker) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if c.isOpen() {
		return c.readFallback(ctx, key)
	}
	type result struct {
		v  []byte
		ok bool
	}
	r, err := c.breaker.Execute(func() (interface{}, error) {
		v, ok, err := c.inner.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		return result{v: v, ok: ok}, nil
	})
	if err != nil {
		return c.readFallback(ctx, key)
	}
	res := r.(result)
	return res.v, res.ok, nil
}

func (c *CircuitBreaker) ContainsKey(ctx context.Context, key string) (bool, error) {
	if c.isOpen() {
		if c.fallback == nil {
			return false, nil
		}
		return c.fallback.ContainsKey(ctx, key)
	}
	r, err := c.breaker.Execute(func() (interface{}, error) {
		return c.inner.ContainsKey(ctx, key)
	})
	if err != nil {
		if c.fallback == nil {
			return false, nil
		}
		return c.fallback.ContainsKey(ctx, key)
	}
	return r.(bool), nil
}

func (c *CircuitBreaker) GetAll(ctx context.Context, keys []string) (map[string][]byte, error) {
	if c.isOpen() {
		if c.fallback == nil {
			return map[string][]byte{}, nil
		}
		return c.fallback.GetAll(ctx, keys)
	}
	r, err := c.breaker.Execute(func() (interface{}, error) {
		return c.inner.GetAll(ctx, keys)
	})
	if err != nil {
		if c.fallback == nil {
			return map[string][]byte{}, nil
		}
		return c.fallback.GetAll(ctx, keys)
	}
	return r.(map[string][]byte), nil
}

// write fails fast with CircuitOpenError when the breaker is open; it never
// falls back, since silently dropping a write would violate durability
// expectations the caller can't detect.
func (c *CircuitBreaker) write(name string, fn func() error) error {
	if c.isOpen() {
		return &cache.CircuitOpenError{Name: name}
	}
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return &cache.CircuitOpenError{Name: name}
	}
	return err
}

func (c *CircuitBreaker) Put(ctx context.Context, key string, value []byte) error {
	return c.write(c.breaker.Name(), func() error { return c.inner.Put(ctx, key, value) })
}

func (c *CircuitBreaker) PutWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return c.write(c.breaker.Name(), func() error { return c.inner.PutWithTTL(ctx, key, value, ttl) })
}

func (c *CircuitBreaker) Remove(ctx context.Context, key string) error {
	return c.write(c.breaker.Name(), func() error { return c.inner.Remove(ctx, key) })
}

func (c *CircuitBreaker) Clear(ctx context.Context) error {
	return c.write(c.breaker.Name(), func() error { return c.inner.Clear(ctx) })
}

func (c *CircuitBreaker) PutAll(ctx context.Context, items map[string][]byte) error {
	return c.write(c.breaker.Name(), func() error { return c.inner.PutAll(ctx, items) })
}

func (c *CircuitBreaker) PutIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if c.isOpen() {
		return false, &cache.CircuitOpenError{Name: c.breaker.Name()}
	}
	r, err := c.breaker.Execute(func() (interface{}, error) {
		return c.inner.PutIfAbsent(ctx, key, value, ttl)
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return false, &cache.CircuitOpenError{Name: c.breaker.Name()}
	}
	if err != nil {
		return false, err
	}
	return r.(bool), nil
}

func (c *CircuitBreaker) Increment(ctx context.Context, key string, delta int64) (int64, error) {
	return c.atomicOp(ctx, key, delta, c.inner.Increment)
}

func (c *CircuitBreaker) Decrement(ctx context.Context, key string, delta int64) (int64, error) {
	return c.atomicOp(ctx, key, delta, c.inner.Decrement)
}

func (c *CircuitBreaker) atomicOp(ctx context.Context, key string, delta int64, op func(context.Context, string, int64) (int64, error)) (int64, error) {
	if c.isOpen() {
		return 0, &cache.CircuitOpenError{Name: c.breaker.Name()}
	}
	r, err := c.breaker.Execute(func() (interface{}, error) {
		return op(ctx, key, delta)
	})
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return 0, &cache.CircuitOpenError{Name: c.breaker.Name()}
	}
	if err != nil {
		return 0, err
	}
	return r.(int64), nil
}

func (c *CircuitBreaker) Statistics(ctx context.Context) (cache.Statistics, error) {
	return c.inner.Statistics(ctx)
}

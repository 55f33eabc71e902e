package intercept

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/o-tero/cachekit/cache"
	"github.com/o-tero/cachekit/cache/wrappers"
)

// Invocation is the target method being decorated: whatever work actually
// produces T, with args already bound by the caller's closure. Args is
// threaded separately (see LookupOptions.Args) so the key expression can
// see the same positional values without reflecting into the closure.
type Invocation[T any] func(ctx context.Context) (T, error)

// errUncacheable is the loader sentinel meaning "the invocation succeeded
// but Unless excluded it from caching" — never surfaced to callers.
var errUncacheable = errors.New("intercept: result excluded by unless")

// stampedeLoader is implemented by *wrappers.StampedeProtection. Detected
// via type assertion so CacheLookup can opt into distributed coalescing
// only when the resolved namespace chain actually has it installed.
type stampedeLoader interface {
	GetOrLoad(ctx context.Context, key string, loader wrappers.Loader) ([]byte, error)
}

// LookupOptions configures CacheLookup per spec.md §4.8.
type LookupOptions struct {
	KeyExpression      *KeyExpression
	Args               Args
	TTL                time.Duration
	Condition          func() bool
	Unless             func(result any) bool
	StampedeProtection bool
}

// CacheLookup is the read-through decorator: on hit it returns the cached
// value without invoking the method; on miss it invokes, then caches the
// result unless Unless excludes it. When StampedeProtection is requested
// and the resolved cache exposes a stampede loader, concurrent misses for
// the same key coalesce into one invocation.
func CacheLookup[T any](ctx context.Context, c cache.Cache, opts LookupOptions, invoke Invocation[T]) (T, error) {
	var zero T
	if opts.Condition != nil && !opts.Condition() {
		return invoke(ctx)
	}

	key, err := opts.KeyExpression.Evaluate(opts.Args)
	if err != nil {
		return zero, err
	}

	if raw, ok, err := c.Get(ctx, key); err == nil && ok {
		var result T
		if err := json.Unmarshal(raw, &result); err == nil {
			return result, nil
		}
	}

	var invoked T
	var invokedErr error
	var captured bool

	loader := func(ctx context.Context) ([]byte, error) {
		result, err := invoke(ctx)
		invoked, invokedErr, captured = result, err, true
		if err != nil {
			return nil, err
		}
		if opts.Unless != nil && opts.Unless(result) {
			return nil, errUncacheable
		}
		return json.Marshal(result)
	}

	var raw []byte
	if opts.StampedeProtection {
		if sl, ok := c.(stampedeLoader); ok {
			raw, err = sl.GetOrLoad(ctx, key, loader)
		} else {
			raw, err = loader(ctx)
		}
	} else {
		raw, err = loader(ctx)
	}

	if captured {
		// invoke ran in this call (directly, or as the singleflight/lock
		// winner); return its typed result rather than round-tripping
		// through JSON, and skip caching on invocation error or Unless.
		if invokedErr != nil {
			return zero, invokedErr
		}
		if err == nil {
			_ = c.PutWithTTL(ctx, key, raw, opts.TTL)
		}
		return invoked, nil
	}

	// A concurrent caller's loader produced raw for this key; invoke never
	// ran here, so decode its result instead of calling it again.
	if err != nil {
		return zero, err
	}
	var result T
	if err := json.Unmarshal(raw, &result); err != nil {
		return zero, err
	}
	return result, nil
}

// WriteOptions configures CacheWrite per spec.md §4.8.
type WriteOptions struct {
	KeyExpression *KeyExpression
	Args          Args
	TTL           time.Duration
	Condition     func() bool
	Unless        func(result any) bool
}

// CacheWrite always invokes the method, then caches its result subject to
// Condition and Unless.
func CacheWrite[T any](ctx context.Context, c cache.Cache, opts WriteOptions, invoke Invocation[T]) (T, error) {
	result, err := invoke(ctx)
	if err != nil {
		return result, err
	}
	if opts.Condition != nil && !opts.Condition() {
		return result, nil
	}
	if opts.Unless != nil && opts.Unless(result) {
		return result, nil
	}

	key, err := opts.KeyExpression.Evaluate(opts.Args)
	if err != nil {
		return result, err
	}
	if data, err := json.Marshal(result); err == nil {
		_ = c.PutWithTTL(ctx, key, data, opts.TTL)
	}
	return result, nil
}

// InvalidateOptions configures CacheInvalidate per spec.md §4.8. Exactly
// one of KeyExpression or AllEntries should be set; AllEntries wins if both
// are.
type InvalidateOptions struct {
	KeyExpression    *KeyExpression
	Args             Args
	AllEntries       bool
	BeforeInvocation bool
	Condition        func() bool
}

// CacheInvalidate evicts a single key or the whole namespace, either before
// or after invocation. BeforeInvocation guarantees the cache is cleared
// even if the method itself returns an error.
func CacheInvalidate[T any](ctx context.Context, c cache.Cache, opts InvalidateOptions, invoke Invocation[T]) (T, error) {
	var zero T

	evict := func() error {
		if opts.Condition != nil && !opts.Condition() {
			return nil
		}
		if opts.AllEntries {
			return c.Clear(ctx)
		}
		if opts.KeyExpression == nil {
			return nil
		}
		key, err := opts.KeyExpression.Evaluate(opts.Args)
		if err != nil {
			return err
		}
		return c.Remove(ctx, key)
	}

	if opts.BeforeInvocation {
		if err := evict(); err != nil {
			return zero, err
		}
		return invoke(ctx)
	}

	result, err := invoke(ctx)
	if err != nil {
		return result, err
	}
	if err := evict(); err != nil {
		return result, err
	}
	return result, nil
}

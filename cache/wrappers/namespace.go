// Package wrappers holds the decorator chain from spec.md §4.6: each type
// implements cache.Cache by delegating to an inner cache.Cache and adding
// exactly one concern. Manager (package manager) composes them in the fixed
// order Namespace → Interception → Metrics → CircuitBreaker →
// StampedeProtection → Compression → Encryption → Backend.
package wrappers

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/o-tero/cachekit/cache"
)

// Namespace rewrites every key to "<namespace>:<key>" before delegating.
// It is the outermost wrapper because prefixing is purely lexical and must
// apply before any other concern sees the key.
type Namespace struct {
	inner     cache.Cache
	namespace string
	logger    *zap.Logger

	// scanner, if non-nil, lets Clear remove only keys under this
	// namespace's prefix instead of the whole shared backend.
	scanner PrefixScanner
}

// PrefixScanner is implemented by backends that can delete by key prefix
// (e.g. cache/remote.Backend.DeletePattern). Namespace.Clear uses it when
// available instead of falling back to a backend-wide clear.
type PrefixScanner interface {
	DeletePattern(ctx context.Context, pattern string) error
}

// NewNamespace builds a Namespace wrapper. scanner may be nil.
func NewNamespace(inner cache.Cache, namespace string, scanner PrefixScanner, logger *zap.Logger) *Namespace {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Namespace{inner: inner, namespace: namespace, scanner: scanner, logger: logger}
}

var _ cache.Cache = (*Namespace)(nil)

func (n *Namespace) key(k string) string {
	return n.namespace + ":" + k
}

func (n *Namespace) Put(ctx context.Context, key string, value []byte) error {
	return n.inner.Put(ctx, n.key(key), value)
}

func (n *Namespace) PutWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return n.inner.PutWithTTL(ctx, n.key(key), value, ttl)
}

func (n *Namespace) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return n.inner.Get(ctx, n.key(key))
}

func (n *Namespace) Remove(ctx context.Context, key string) error {
	return n.inner.Remove(ctx, n.key(key))
}

// Clear removes only keys reachable through this namespace's prefix when the
// inner backend supports prefix deletion; otherwise it clears the whole
// shared backend and logs a warning, since callers must not assume clear()
// is namespace-scoped on a backend without prefix-scan support.
func (n *Namespace) Clear(ctx context.Context) error {
	if n.scanner != nil {
		return n.scanner.DeletePattern(ctx, n.key("*"))
	}
	n.logger.Warn("namespace: inner backend has no prefix-scan, clearing entire shared backend",
		zap.String("namespace", n.namespace))
	return n.inner.Clear(ctx)
}

func (n *Namespace) ContainsKey(ctx context.Context, key string) (bool, error) {
	return n.inner.ContainsKey(ctx, n.key(key))
}

func (n *Namespace) PutAll(ctx context.Context, items map[string][]byte) error {
	if len(items) == 0 {
		return nil
	}
	prefixed := make(map[string][]byte, len(items))
	for k, v := range items {
		prefixed[n.key(k)] = v
	}
	return n.inner.PutAll(ctx, prefixed)
}

func (n *Namespace) GetAll(ctx context.Context, keys []string) (map[string][]byte, error) {
	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = n.key(k)
	}
	result, err := n.inner.GetAll(ctx, prefixed)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(result))
	for k, v := range result {
		out[strings.TrimPrefix(k, n.namespace+":")] = v
	}
	return out, nil
}

func (n *Namespace) PutIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	return n.inner.PutIfAbsent(ctx, n.key(key), value, ttl)
}

func (n *Namespace) Increment(ctx context.Context, key string, delta int64) (int64, error) {
	return n.inner.Increment(ctx, n.key(key), delta)
}

func (n *Namespace) Decrement(ctx context.Context, key string, delta int64) (int64, error) {
	return n.inner.Decrement(ctx, n.key(key), delta)
}

func (n *Namespace) Statistics(ctx context.Context) (cache.Statistics, error) {
	stats, err := n.inner.Statistics(ctx)
	stats.Namespace = n.namespace
	return stats, err
}

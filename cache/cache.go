// Package cache defines the uniform cache contract shared by every backend
// and decorator in the engine (local, remote, multi-tier, and all wrappers
// in cache/wrappers). Composition is by delegation: every implementation of
// Cache can wrap another one and add exactly one concern.
package cache

import (
	"context"
	"time"
)

// Cache is the operation set every backend and wrapper implements.
//
// K is always a string (or something the caller has already rendered to a
// string); V is an opaque value. A zero TTL passed to PutWithTTL means "use
// the namespace default"; a negative TTL is rejected by configuration
// validation, never by the contract itself.
type Cache interface {
	// Put upserts a value using the namespace's default TTL.
	Put(ctx context.Context, key string, value []byte) error
	// PutWithTTL upserts a value with an explicit TTL. ttl == 0 means "use
	// the namespace default".
	PutWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Get returns (value, true) on hit, (nil, false) on miss or expiry.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Remove is idempotent; removing an absent key is a no-op.
	Remove(ctx context.Context, key string) error
	// Clear removes every entry reachable through this cache's namespace.
	Clear(ctx context.Context) error
	// ContainsKey reports presence without materializing the value.
	ContainsKey(ctx context.Context, key string) (bool, error)
	// PutAll is a batch upsert using the namespace default TTL. An empty map
	// is a no-op that must not reach the backend.
	PutAll(ctx context.Context, items map[string][]byte) error
	// GetAll returns only the present entries; missing keys are omitted.
	GetAll(ctx context.Context, keys []string) (map[string][]byte, error)
	// PutIfAbsent is atomic: it returns true iff this call performed the write.
	PutIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	// Increment atomically adds delta to the integer stored at key and
	// returns the new value. Backends that cannot guarantee atomicity (the
	// local backend) return ErrUnsupportedOperation.
	Increment(ctx context.Context, key string, delta int64) (int64, error)
	// Decrement is Increment with a negated delta.
	Decrement(ctx context.Context, key string, delta int64) (int64, error)
	// Statistics returns a point-in-time snapshot for this cache.
	Statistics(ctx context.Context) (Statistics, error)
}

// NamespaceConfig is the immutable per-namespace configuration resolved once
// when a namespace is first requested from the manager. It is never mutated
// afterward; overrides produce a new value instead.
type NamespaceConfig struct {
	Namespace                 string
	TTL                       time.Duration
	CompressionEnabled        bool
	EncryptionEnabled         bool
	StampedeProtectionEnabled bool
	CircuitBreakerEnabled     bool
}

// Clone returns a copy of the config so callers can't mutate the manager's
// resolved copy through an aliasing bug.
func (c NamespaceConfig) Clone() NamespaceConfig {
	return c
}

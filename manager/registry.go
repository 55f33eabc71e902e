// Package manager implements the CacheManager component (spec.md C7): a
// per-namespace registry that builds a cache once on first request
// (compute-if-absent), assembling its backend and decorator chain from
// config.Config, and reuses the same instance for the lifetime of the
// process. Grounded on the teacher's cache-manager.Service
// singleton+sync.Once pattern, generalized from one process-wide singleton
// into a sync.Map-keyed-by-namespace registry since this engine serves many
// independently-configured namespaces rather than one cache.
package manager

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/o-tero/cachekit/cache"
	"github.com/o-tero/cachekit/cache/local"
	"github.com/o-tero/cachekit/cache/multitier"
	"github.com/o-tero/cachekit/cache/remote"
	"github.com/o-tero/cachekit/cache/wrappers"
	"github.com/o-tero/cachekit/config"
	"github.com/o-tero/cachekit/evictionbus"
	"github.com/o-tero/cachekit/observability"
)

// Registry is the engine's entry point: callers ask it for a namespace's
// cache.Cache and get back the fully-wrapped instance, built once and
// reused thereafter.
type Registry struct {
	cfg        *config.Config
	instanceID string
	redis      redis.UniversalClient // nil when cfg.Type == config.BackendLocal
	metrics    *observability.Registry
	logger     *observability.Logger

	caches sync.Map // namespace string -> cache.Cache
	subs   sync.Map // namespace string -> *evictionbus.Subscriber
}

// New builds a Registry. redisClient is nil for a purely-local deployment;
// metrics/logger may be nil, in which case observability is a no-op.
func New(cfg *config.Config, redisClient redis.UniversalClient, metrics *observability.Registry, logger *observability.Logger) *Registry {
	if logger == nil {
		logger = observability.NewLogger(nil)
	}
	return &Registry{
		cfg:        cfg,
		instanceID: cache.NewInstanceID(),
		redis:      redisClient,
		metrics:    metrics,
		logger:     logger,
	}
}

// Get returns the namespace's cache.Cache, building and caching it on first
// call. Concurrent first-callers for the same namespace race to build; the
// loser's chain is discarded in favor of whichever LoadOrStore wins, so
// builds must be side-effect-free except for the eviction subscriber goroutine
// started just after the winning store.
func (r *Registry) Get(namespace string) (cache.Cache, error) {
	if existing, ok := r.caches.Load(namespace); ok {
		return existing.(cache.Cache), nil
	}

	built, sub, err := r.build(namespace)
	if err != nil {
		return nil, err
	}

	actual, loaded := r.caches.LoadOrStore(namespace, built)
	if loaded {
		return actual.(cache.Cache), nil
	}
	if sub != nil {
		r.subs.Store(namespace, sub)
		go func() {
			if err := sub.Run(context.Background()); err != nil {
				r.logger.Raw().Warn("eviction subscriber stopped", zap.String("namespace", namespace), zap.Error(err))
			}
		}()
	}
	return built, nil
}

// Remove evicts the namespace's built cache from the registry (it will be
// rebuilt from config on next Get) without touching the underlying stored
// data. Its eviction subscriber, if one was started, is dropped from the
// registry but not stopped: that goroutine keeps running until its
// subscription channel closes.
func (r *Registry) Remove(namespace string) {
	r.caches.Delete(namespace)
	r.subs.Delete(namespace)
}

// AllStatistics satisfies observability.StatisticsSource: one snapshot per
// namespace currently built.
func (r *Registry) AllStatistics(ctx context.Context) map[string]cache.Statistics {
	out := make(map[string]cache.Statistics)
	r.caches.Range(func(k, v any) bool {
		namespace := k.(string)
		if s, err := v.(cache.Cache).Statistics(ctx); err == nil {
			out[namespace] = s
		}
		return true
	})
	return out
}

// build assembles namespace's cache.Cache chain per the NamespaceConfig
// resolved from r.cfg, in the fixed order spec.md §4.6 mandates:
// Namespace -> Interception(handled by callers, not the chain itself) ->
// Metrics -> CircuitBreaker -> StampedeProtection -> Compression ->
// Encryption -> Backend.
func (r *Registry) build(namespace string) (cache.Cache, *evictionbus.Subscriber, error) {
	nc := r.cfg.ResolveNamespace(namespace)

	backend, scanner, sub, err := r.buildBackend(namespace)
	if err != nil {
		return nil, nil, err
	}

	var chain cache.Cache = backend

	if nc.EncryptionEnabled {
		key := []byte(r.cfg.Features.Encryption.Key)
		enc, err := wrappers.NewEncryption(chain, key)
		if err != nil {
			return nil, nil, fmt.Errorf("manager: namespace %q: %w", namespace, err)
		}
		chain = enc
	}
	if nc.CompressionEnabled {
		chain = wrappers.NewCompression(chain, r.cfg.Features.Compression.Threshold)
	}
	if nc.StampedeProtectionEnabled && r.redis != nil {
		chain = wrappers.NewStampedeProtection(chain, r.redis, r.cfg.Resilience.StampedeProtection.LockTimeout, r.cfg.Resilience.Timeout.OperationTimeout)
	}
	if nc.CircuitBreakerEnabled {
		cbCfg := wrappers.CircuitBreakerConfig{
			Name:                 namespace,
			FailureRateThreshold: r.cfg.Resilience.CircuitBreaker.FailureRateThreshold,
			MinCalls:             r.cfg.Resilience.CircuitBreaker.MinimumNumberOfCalls,
			SlidingWindow:        r.cfg.Resilience.CircuitBreaker.SlidingWindowSize,
			WaitInOpen:           r.cfg.Resilience.CircuitBreaker.WaitDurationInOpenState,
		}
		var fallback cache.Cache
		if mt, ok := backend.(*multitier.Coordinator); ok {
			fallback = mt // the coordinator's own L1-only degraded path serves as fallback
		}
		chain = wrappers.NewCircuitBreaker(chain, fallback, cbCfg)
	}
	if r.metrics != nil {
		chain = wrappers.NewMetrics(chain, r.metrics.Operation, "cachekit", namespace)
	}
	chain = wrappers.NewNamespace(chain, namespace, scanner, r.logger.Raw())

	return chain, sub, nil
}

// buildBackend selects and constructs the base cache.Cache for namespace
// per cfg.Type, along with a PrefixScanner (for the Namespace wrapper's
// Clear) and an eviction Subscriber where applicable.
func (r *Registry) buildBackend(namespace string) (cache.Cache, wrappers.PrefixScanner, *evictionbus.Subscriber, error) {
	switch r.cfg.Type {
	case config.BackendLocal:
		l1 := local.New(namespace, r.cfg.Local.MaximumSize, r.cfg.DefaultTTL).WithLogger(r.logger.Raw())
		return l1, nil, nil, nil

	case config.BackendRemote:
		if r.redis == nil {
			return nil, nil, nil, &cache.ConfigurationError{Property: "remote", Reason: "backend type REMOTE requires a redis client"}
		}
		l2 := remote.New(namespace, r.redis, r.cfg.Remote.CommandTimeout, r.cfg.DefaultTTL, r.cfg.Remote.Pipelining.BatchSize)
		return l2, l2, nil, nil

	case config.BackendMultiTier:
		if r.redis == nil {
			return nil, nil, nil, &cache.ConfigurationError{Property: "remote", Reason: "backend type MULTI_TIER requires a redis client"}
		}
		l1 := local.New(namespace, r.cfg.Local.MaximumSize, r.cfg.DefaultTTL).WithLogger(r.logger.Raw())
		l2 := remote.New(namespace, r.redis, r.cfg.Remote.CommandTimeout, r.cfg.DefaultTTL, r.cfg.Remote.Pipelining.BatchSize)
		publisher := evictionbus.NewPublisher(r.redis, namespace, r.instanceID)
		coordinator := multitier.New(namespace, l1, l2, publisher, r.logger.Raw())
		sub := evictionbus.NewSubscriber(r.redis, namespace, r.instanceID, l1, r.logger.Raw())
		return coordinator, l2, sub, nil

	default:
		return nil, nil, nil, &cache.ConfigurationError{Property: "type", Reason: fmt.Sprintf("unknown backend type %q", r.cfg.Type)}
	}
}

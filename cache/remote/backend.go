// Package remote implements the RemoteBackend (L2) tier over Redis, using
// go-redis/v9's UniversalClient so the same code serves standalone, Sentinel,
// and Cluster deployments depending on config. Grounded on the teacher's
// cache-manager.RemoteCache interface and generalized from its stubbed
// Get/Set/Delete/DeletePattern shape to the full Cache contract, with
// pipelined batch operations adapted from the pipelining idiom used across
// the pack (blueberrycongee-llmux's Redis-backed client cache).
package remote

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/o-tero/cachekit/cache"
)

// Mode selects which go-redis client topology to construct.
type Mode string

const (
	ModeStandalone Mode = "standalone"
	ModeSentinel   Mode = "sentinel"
	ModeCluster    Mode = "cluster"
)

// Config describes how to reach the remote tier. Exactly the fields relevant
// to Mode need to be set; config.Validate (package config) enforces that.
type Config struct {
	Mode           Mode
	Addrs          []string // standalone/cluster: host:port list; sentinel: sentinel addrs
	MasterName     string   // sentinel only
	Username       string
	Password       string
	DB             int // standalone/sentinel only; ignored in cluster mode
	CommandTimeout time.Duration
	DefaultTTL     time.Duration
}

// defaultChunkSize bounds pipeline buffers when no batch size is configured.
const defaultChunkSize = 500

// Backend is the L2 distributed cache tier. It stores and retrieves keys
// exactly as given: namespacing is applied exactly once, by the outer
// Namespace wrapper (cache/wrappers), so this backend never self-prefixes.
// namespace is kept only to label Statistics snapshots taken standalone
// (e.g. in tests); the Namespace wrapper overwrites it on every real handle.
type Backend struct {
	client     redis.UniversalClient
	namespace  string
	timeout    time.Duration
	defaultTTL time.Duration
	batchSize  int
}

// New constructs a Backend from an already-built UniversalClient, so callers
// (and tests, via miniredis) can supply any topology. batchSize bounds how
// many commands PutAll/GetAll pipeline per round trip; <= 0 falls back to
// defaultChunkSize.
func New(namespace string, client redis.UniversalClient, commandTimeout, defaultTTL time.Duration, batchSize int) *Backend {
	if batchSize <= 0 {
		batchSize = defaultChunkSize
	}
	return &Backend{
		client:     client,
		namespace:  namespace,
		timeout:    commandTimeout,
		defaultTTL: defaultTTL,
		batchSize:  batchSize,
	}
}

// NewUniversalClient builds the right go-redis client for cfg.Mode.
func NewUniversalClient(cfg Config) redis.UniversalClient {
	opts := &redis.UniversalOptions{
		Addrs:      cfg.Addrs,
		MasterName: cfg.MasterName,
		Username:   cfg.Username,
		Password:   cfg.Password,
		DB:         cfg.DB,
	}
	switch cfg.Mode {
	case ModeCluster:
		opts.DB = 0
	case ModeSentinel:
		// MasterName non-empty signals go-redis to build a FailoverClient.
	}
	return redis.NewUniversalClient(opts)
}

var _ cache.Cache = (*Backend)(nil)

func (b *Backend) ctx(ctx context.Context) (context.Context, context.CancelFunc) {
	if b.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, b.timeout)
}

func (b *Backend) Put(ctx context.Context, key string, value []byte) error {
	return b.PutWithTTL(ctx, key, value, 0)
}

func (b *Backend) PutWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = b.defaultTTL
	}
	cctx, cancel := b.ctx(ctx)
	defer cancel()

	if err := b.client.Set(cctx, key, value, ttl).Err(); err != nil {
		return b.classify(err, key, "Put")
	}
	return nil
}

func (b *Backend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	cctx, cancel := b.ctx(ctx)
	defer cancel()

	v, err := b.client.Get(cctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, b.classify(err, key, "Get")
	}
	return v, true, nil
}

func (b *Backend) Remove(ctx context.Context, key string) error {
	cctx, cancel := b.ctx(ctx)
	defer cancel()

	if err := b.client.Del(cctx, key).Err(); err != nil {
		return b.classify(err, key, "Remove")
	}
	return nil
}

// Clear removes every key visible to this client via SCAN+DEL, since Redis
// has no native "delete by prefix". The SCAN loop is a single cursor walk
// and is not fanned out per shard, so against a Cluster client it only
// reaches the keys on the node go-redis sends the SCAN to.
// Callers scoping this to one namespace must prefix pattern themselves
// (the Namespace wrapper's Clear does this through DeletePattern instead).
func (b *Backend) Clear(ctx context.Context) error {
	return b.deleteByPattern(ctx, "*")
}

func (b *Backend) ContainsKey(ctx context.Context, key string) (bool, error) {
	cctx, cancel := b.ctx(ctx)
	defer cancel()

	n, err := b.client.Exists(cctx, key).Result()
	if err != nil {
		return false, b.classify(err, key, "ContainsKey")
	}
	return n > 0, nil
}

// PutAll pipelines one SET per item into a single round trip, chunked at the
// configured batch size to keep pipeline buffers bounded for very large
// batches.
func (b *Backend) PutAll(ctx context.Context, items map[string][]byte) error {
	if len(items) == 0 {
		return nil
	}
	cctx, cancel := b.ctx(ctx)
	defer cancel()

	chunkSize := b.batchSize
	keys := make([]string, 0, len(items))
	for k := range items {
		keys = append(keys, k)
	}

	ttl := b.defaultTTL
	for i := 0; i < len(keys); i += chunkSize {
		end := i + chunkSize
		if end > len(keys) {
			end = len(keys)
		}
		pipe := b.client.Pipeline()
		for _, k := range keys[i:end] {
			pipe.Set(cctx, k, items[k], ttl)
		}
		if _, err := pipe.Exec(cctx); err != nil {
			return b.classify(err, "", "PutAll")
		}
	}
	return nil
}

// GetAll issues one MGET per batch-size chunk; keys absent or expired are simply omitted
// from the result, matching the Cache contract.
func (b *Backend) GetAll(ctx context.Context, keys []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	cctx, cancel := b.ctx(ctx)
	defer cancel()

	chunkSize := b.batchSize
	for i := 0; i < len(keys); i += chunkSize {
		end := i + chunkSize
		if end > len(keys) {
			end = len(keys)
		}
		chunk := keys[i:end]
		vals, err := b.client.MGet(cctx, chunk...).Result()
		if err != nil {
			return nil, b.classify(err, "", "GetAll")
		}
		for j, v := range vals {
			if v == nil {
				continue
			}
			s, ok := v.(string)
			if !ok {
				continue
			}
			out[chunk[j]] = []byte(s)
		}
	}
	return out, nil
}

func (b *Backend) PutIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = b.defaultTTL
	}
	cctx, cancel := b.ctx(ctx)
	defer cancel()

	ok, err := b.client.SetNX(cctx, key, value, ttl).Result()
	if err != nil {
		return false, b.classify(err, key, "PutIfAbsent")
	}
	return ok, nil
}

func (b *Backend) Increment(ctx context.Context, key string, delta int64) (int64, error) {
	cctx, cancel := b.ctx(ctx)
	defer cancel()

	n, err := b.client.IncrBy(cctx, key, delta).Result()
	if err != nil {
		return 0, b.classify(err, key, "Increment")
	}
	return n, nil
}

func (b *Backend) Decrement(ctx context.Context, key string, delta int64) (int64, error) {
	cctx, cancel := b.ctx(ctx)
	defer cancel()

	n, err := b.client.DecrBy(cctx, key, delta).Result()
	if err != nil {
		return 0, b.classify(err, key, "Decrement")
	}
	return n, nil
}

func (b *Backend) Statistics(ctx context.Context) (cache.Statistics, error) {
	cctx, cancel := b.ctx(ctx)
	defer cancel()

	dbSize, err := b.client.DBSize(cctx).Result()
	if err != nil {
		return cache.Statistics{}, b.classify(err, "", "Statistics")
	}
	return cache.Statistics{
		Namespace:   b.namespace,
		CurrentSize: uint64(dbSize),
	}, nil
}

// DeletePattern removes every key matching pattern (a trailing "*" glob),
// exactly as given. Invoked by invalidation on PATTERN eviction events and by
// the Namespace wrapper's Clear, which supplies an already-prefixed pattern.
func (b *Backend) DeletePattern(ctx context.Context, pattern string) error {
	return b.deleteByPattern(ctx, pattern)
}

func (b *Backend) deleteByPattern(ctx context.Context, fullPattern string) error {
	cctx, cancel := b.ctx(ctx)
	defer cancel()

	var cursor uint64
	for {
		keys, next, err := b.client.Scan(cctx, cursor, fullPattern, 500).Result()
		if err != nil {
			return b.classify(err, "", "DeletePattern")
		}
		if len(keys) > 0 {
			if err := b.client.Del(cctx, keys...).Err(); err != nil {
				return b.classify(err, "", "DeletePattern")
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return nil
}

// classify maps a go-redis error into the engine's error taxonomy so callers
// (wrappers, manager) never need to type-assert against redis.Error directly.
func (b *Backend) classify(err error, key, op string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &cache.TimeoutError{Kind: cache.TimeoutOperation, Key: key, Timeout: b.timeout.Milliseconds()}
	}
	msg := err.Error()
	if strings.Contains(msg, "connect") || strings.Contains(msg, "connection") || strings.Contains(msg, "dial") {
		return &cache.ConnectionError{Host: strings.Join(clientAddrs(b.client), ","), Retryable: true, Cause: err}
	}
	return &cache.CacheError{Key: key, Operation: op, Cause: fmt.Errorf("remote backend: %w", err)}
}

func clientAddrs(client redis.UniversalClient) []string {
	// UniversalClient doesn't expose its resolved addrs uniformly across
	// topologies; ConnectionError.Host is best-effort and used for logging
	// only, never compared programmatically.
	_ = client
	return []string{"redis"}
}

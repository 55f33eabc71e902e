package multitier

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/o-tero/cachekit/cache"
	"github.com/o-tero/cachekit/cache/local"
)

// failingCache wraps an in-memory map and fails every call once Fail is set,
// standing in for an unhealthy L2 tier.
type failingCache struct {
	data map[string][]byte
	Fail bool
}

func newFailingCache() *failingCache { return &failingCache{data: map[string][]byte{}} }

func (f *failingCache) err() error {
	if f.Fail {
		return &cache.ConnectionError{Host: "remote", Retryable: true}
	}
	return nil
}

func (f *failingCache) Put(ctx context.Context, key string, value []byte) error {
	return f.PutWithTTL(ctx, key, value, 0)
}
func (f *failingCache) PutWithTTL(_ context.Context, key string, value []byte, _ time.Duration) error {
	if err := f.err(); err != nil {
		return err
	}
	f.data[key] = value
	return nil
}
func (f *failingCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	if err := f.err(); err != nil {
		return nil, false, err
	}
	v, ok := f.data[key]
	return v, ok, nil
}
func (f *failingCache) Remove(_ context.Context, key string) error {
	if err := f.err(); err != nil {
		return err
	}
	delete(f.data, key)
	return nil
}
func (f *failingCache) Clear(_ context.Context) error {
	if err := f.err(); err != nil {
		return err
	}
	f.data = map[string][]byte{}
	return nil
}
func (f *failingCache) ContainsKey(_ context.Context, key string) (bool, error) {
	if err := f.err(); err != nil {
		return false, err
	}
	_, ok := f.data[key]
	return ok, nil
}
func (f *failingCache) PutAll(_ context.Context, items map[string][]byte) error {
	if err := f.err(); err != nil {
		return err
	}
	for k, v := range items {
		f.data[k] = v
	}
	return nil
}
func (f *failingCache) GetAll(_ context.Context, keys []string) (map[string][]byte, error) {
	if err := f.err(); err != nil {
		return nil, err
	}
	out := map[string][]byte{}
	for _, k := range keys {
		if v, ok := f.data[k]; ok {
			out[k] = v
		}
	}
	return out, nil
}
func (f *failingCache) PutIfAbsent(_ context.Context, key string, value []byte, _ time.Duration) (bool, error) {
	if err := f.err(); err != nil {
		return false, err
	}
	if _, ok := f.data[key]; ok {
		return false, nil
	}
	f.data[key] = value
	return true, nil
}
func (f *failingCache) Increment(_ context.Context, key string, delta int64) (int64, error) {
	if err := f.err(); err != nil {
		return 0, err
	}
	return delta, nil
}
func (f *failingCache) Decrement(ctx context.Context, key string, delta int64) (int64, error) {
	return f.Increment(ctx, key, -delta)
}
func (f *failingCache) Statistics(context.Context) (cache.Statistics, error) { return cache.Statistics{}, nil }

func newCoordinator() (*Coordinator, *failingCache) {
	l1 := local.New("ns", 100, time.Minute)
	l2 := newFailingCache()
	return New("ns", l1, l2, nil, nil), l2
}

func TestCoordinator_Get_L1Hit(t *testing.T) {
	c, _ := newCoordinator()
	ctx := context.Background()
	require.NoError(t, c.l1.Put(ctx, "k1", []byte("v1")))

	v, ok, err := c.Get(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v1"), v)
}

func TestCoordinator_Get_L2HitWarmsL1(t *testing.T) {
	c, l2 := newCoordinator()
	ctx := context.Background()
	l2.data["k1"] = []byte("v1")

	v, ok, err := c.Get(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v1"), v)

	v, ok, _ = c.l1.Get(ctx, "k1")
	assert.True(t, ok, "L2 hit should warm L1")
	assert.Equal(t, []byte("v1"), v)
}

func TestCoordinator_Get_L2FailureFallsBackToEmpty(t *testing.T) {
	c, l2 := newCoordinator()
	l2.Fail = true

	_, ok, err := c.Get(context.Background(), "missing")
	require.NoError(t, err, "L2 errors must not propagate through the read path")
	assert.False(t, ok)

	stats, _ := c.Statistics(context.Background())
	assert.Equal(t, uint64(1), stats.L2FailureCount)
	assert.Equal(t, uint64(1), stats.FallbackCount)
}

func TestCoordinator_Put_L2FailureStillSucceeds(t *testing.T) {
	c, l2 := newCoordinator()
	l2.Fail = true
	ctx := context.Background()

	err := c.Put(ctx, "k1", []byte("v1"))
	require.NoError(t, err, "L1 write success must make Put succeed even if L2 fails")

	v, ok, _ := c.l1.Get(ctx, "k1")
	assert.True(t, ok)
	assert.Equal(t, []byte("v1"), v)
}

func TestCoordinator_PutIfAbsent_DegradesToL1OnL2Failure(t *testing.T) {
	c, l2 := newCoordinator()
	l2.Fail = true

	inserted, err := c.PutIfAbsent(context.Background(), "k1", []byte("v1"), 0)
	require.NoError(t, err)
	assert.True(t, inserted)
}

func TestCoordinator_GetAll_MergesAndPrefersL2OnOverlap(t *testing.T) {
	c, l2 := newCoordinator()
	ctx := context.Background()

	require.NoError(t, c.l1.Put(ctx, "a", []byte("l1-a")))
	l2.data["a"] = []byte("l2-a")
	l2.data["b"] = []byte("l2-b")

	got, err := c.GetAll(ctx, []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []byte("l2-a"), got["a"], "L2 should win on overlap")
	assert.Equal(t, []byte("l2-b"), got["b"])
}

func TestCoordinator_Increment_InvalidatesL1(t *testing.T) {
	c, _ := newCoordinator()
	ctx := context.Background()
	require.NoError(t, c.l1.Put(ctx, "counter", []byte("stale")))

	n, err := c.Increment(ctx, "counter", 5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)

	_, ok, _ := c.l1.Get(ctx, "counter")
	assert.False(t, ok, "L1 must be invalidated after an atomic counter op")
}

func TestCoordinator_Increment_UnsupportedWhenL2Down(t *testing.T) {
	c, l2 := newCoordinator()
	l2.Fail = true

	_, err := c.Increment(context.Background(), "counter", 1)
	require.Error(t, err)
	var unsupported *cache.UnsupportedOperationError
	assert.ErrorAs(t, err, &unsupported)
}

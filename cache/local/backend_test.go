package local

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/o-tero/cachekit/cache"
)

func TestBackend_PutGet(t *testing.T) {
	ctx := context.Background()
	b := New("test", 10, time.Minute)

	require.NoError(t, b.Put(ctx, "k1", []byte("v1")))

	v, ok, err := b.Get(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v1"), v)
}

func TestBackend_GetMiss(t *testing.T) {
	b := New("test", 10, time.Minute)
	_, ok, err := b.Get(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBackend_TTLExpiry(t *testing.T) {
	ctx := context.Background()
	b := New("test", 10, time.Millisecond)

	require.NoError(t, b.Put(ctx, "k1", []byte("v1")))
	time.Sleep(5 * time.Millisecond)

	_, ok, err := b.Get(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestBackend_PutWithTTL_IgnoresPerEntryTTL(t *testing.T) {
	ctx := context.Background()
	b := New("test", 10, time.Hour)

	// A short per-entry TTL is ignored; the namespace default governs.
	require.NoError(t, b.PutWithTTL(ctx, "k1", []byte("v1"), time.Millisecond))
	time.Sleep(5 * time.Millisecond)

	v, ok, err := b.Get(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("v1"), v)
}

func TestBackend_LRUEviction(t *testing.T) {
	ctx := context.Background()
	b := New("test", 2, time.Minute)

	require.NoError(t, b.Put(ctx, "a", []byte("1")))
	require.NoError(t, b.Put(ctx, "b", []byte("2")))
	// touch "a" so "b" becomes the LRU victim
	_, _, _ = b.Get(ctx, "a")
	require.NoError(t, b.Put(ctx, "c", []byte("3")))

	_, ok, _ := b.Get(ctx, "b")
	assert.False(t, ok, "b should have been evicted")

	_, ok, _ = b.Get(ctx, "a")
	assert.True(t, ok)
	_, ok, _ = b.Get(ctx, "c")
	assert.True(t, ok)
}

func TestBackend_PutIfAbsent(t *testing.T) {
	ctx := context.Background()
	b := New("test", 10, time.Minute)

	inserted, err := b.PutIfAbsent(ctx, "k1", []byte("v1"), 0)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = b.PutIfAbsent(ctx, "k1", []byte("v2"), 0)
	require.NoError(t, err)
	assert.False(t, inserted)

	v, _, _ := b.Get(ctx, "k1")
	assert.Equal(t, []byte("v1"), v)
}

func TestBackend_IncrementUnsupported(t *testing.T) {
	b := New("test", 10, time.Minute)
	_, err := b.Increment(context.Background(), "k1", 1)
	require.Error(t, err)
	var unsupported *cache.UnsupportedOperationError
	assert.ErrorAs(t, err, &unsupported)
}

func TestBackend_PutAllGetAll(t *testing.T) {
	ctx := context.Background()
	b := New("test", 10, time.Minute)

	err := b.PutAll(ctx, map[string][]byte{"a": []byte("1"), "b": []byte("2")})
	require.NoError(t, err)

	got, err := b.GetAll(ctx, []string{"a", "b", "missing"})
	require.NoError(t, err)
	assert.Equal(t, map[string][]byte{"a": []byte("1"), "b": []byte("2")}, got)
}

func TestBackend_ClearAndStatistics(t *testing.T) {
	ctx := context.Background()
	b := New("ns1", 10, time.Minute)

	require.NoError(t, b.Put(ctx, "a", []byte("1")))
	_, _, _ = b.Get(ctx, "a")
	_, _, _ = b.Get(ctx, "missing")

	stats, err := b.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ns1", stats.Namespace)
	assert.Equal(t, uint64(1), stats.HitCount)
	assert.Equal(t, uint64(1), stats.MissCount)

	require.NoError(t, b.Clear(ctx))
	stats, _ = b.Statistics(ctx)
	assert.Equal(t, uint64(0), stats.CurrentSize)
}

func TestBackend_DeletePattern(t *testing.T) {
	ctx := context.Background()
	b := New("test", 10, time.Minute)

	require.NoError(t, b.Put(ctx, "user:1", []byte("a")))
	require.NoError(t, b.Put(ctx, "user:2", []byte("b")))
	require.NoError(t, b.Put(ctx, "order:1", []byte("c")))

	n := b.DeletePattern("user:*")
	assert.Equal(t, 2, n)

	_, ok, _ := b.Get(ctx, "order:1")
	assert.True(t, ok)
}

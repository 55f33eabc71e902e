package intercept

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/o-tero/cachekit/cache/local"
)

type order struct {
	ID    string
	Total int
}

func TestCacheLookup_MissInvokesAndCachesThenHitSkipsInvoke(t *testing.T) {
	ctx := context.Background()
	c := local.New("orders", 100, time.Minute)
	keyExpr, err := Compile("'order:' + p0")
	require.NoError(t, err)

	calls := 0
	invoke := func(ctx context.Context) (order, error) {
		calls++
		return order{ID: "42", Total: 100}, nil
	}

	opts := LookupOptions{KeyExpression: keyExpr, Args: Args{"42"}, TTL: time.Minute}

	result, err := CacheLookup(ctx, c, opts, invoke)
	require.NoError(t, err)
	assert.Equal(t, order{ID: "42", Total: 100}, result)
	assert.Equal(t, 1, calls)

	result, err = CacheLookup(ctx, c, opts, invoke)
	require.NoError(t, err)
	assert.Equal(t, order{ID: "42", Total: 100}, result)
	assert.Equal(t, 1, calls, "second lookup should hit cache without invoking again")
}

func TestCacheLookup_ConditionFalseBypassesCache(t *testing.T) {
	ctx := context.Background()
	c := local.New("orders", 100, time.Minute)
	keyExpr, err := Compile("p0")
	require.NoError(t, err)

	calls := 0
	invoke := func(ctx context.Context) (order, error) {
		calls++
		return order{ID: "1"}, nil
	}

	opts := LookupOptions{
		KeyExpression: keyExpr,
		Args:          Args{"1"},
		Condition:     func() bool { return false },
	}

	_, err = CacheLookup(ctx, c, opts, invoke)
	require.NoError(t, err)
	_, err = CacheLookup(ctx, c, opts, invoke)
	require.NoError(t, err)
	assert.Equal(t, 2, calls, "condition false must always pass through")

	found, ok, err := c.Get(ctx, "1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, found)
}

func TestCacheLookup_UnlessExcludesFromCaching(t *testing.T) {
	ctx := context.Background()
	c := local.New("orders", 100, time.Minute)
	keyExpr, err := Compile("p0")
	require.NoError(t, err)

	calls := 0
	invoke := func(ctx context.Context) (order, error) {
		calls++
		return order{ID: "1", Total: 0}, nil
	}
	opts := LookupOptions{
		KeyExpression: keyExpr,
		Args:          Args{"1"},
		Unless:        func(result any) bool { return result.(order).Total == 0 },
	}

	_, err = CacheLookup(ctx, c, opts, invoke)
	require.NoError(t, err)
	_, err = CacheLookup(ctx, c, opts, invoke)
	require.NoError(t, err)
	assert.Equal(t, 2, calls, "unless-excluded result must not be cached")
}

func TestCacheWrite_AlwaysInvokesAndCaches(t *testing.T) {
	ctx := context.Background()
	c := local.New("orders", 100, time.Minute)
	keyExpr, err := Compile("p0")
	require.NoError(t, err)

	calls := 0
	invoke := func(ctx context.Context) (order, error) {
		calls++
		return order{ID: "1", Total: calls}, nil
	}
	opts := WriteOptions{KeyExpression: keyExpr, Args: Args{"1"}, TTL: time.Minute}

	_, err = CacheWrite(ctx, c, opts, invoke)
	require.NoError(t, err)
	_, err = CacheWrite(ctx, c, opts, invoke)
	require.NoError(t, err)
	assert.Equal(t, 2, calls, "CacheWrite must invoke every time")

	raw, ok, err := c.Get(ctx, "1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Contains(t, string(raw), `"Total":2`)
}

func TestCacheInvalidate_BeforeInvocationEvictsEvenOnError(t *testing.T) {
	ctx := context.Background()
	c := local.New("orders", 100, time.Minute)
	require.NoError(t, c.Put(ctx, "1", []byte("cached")))

	keyExpr, err := Compile("p0")
	require.NoError(t, err)

	boom := assert.AnError
	invoke := func(ctx context.Context) (order, error) {
		return order{}, boom
	}
	opts := InvalidateOptions{KeyExpression: keyExpr, Args: Args{"1"}, BeforeInvocation: true}

	_, err = CacheInvalidate(ctx, c, opts, invoke)
	assert.ErrorIs(t, err, boom)

	_, ok, err := c.Get(ctx, "1")
	require.NoError(t, err)
	assert.False(t, ok, "before-invocation eviction must happen even though invoke failed")
}

func TestCacheInvalidate_AllEntriesClearsNamespace(t *testing.T) {
	ctx := context.Background()
	c := local.New("orders", 100, time.Minute)
	require.NoError(t, c.Put(ctx, "1", []byte("a")))
	require.NoError(t, c.Put(ctx, "2", []byte("b")))

	invoke := func(ctx context.Context) (order, error) { return order{}, nil }
	opts := InvalidateOptions{AllEntries: true}

	_, err := CacheInvalidate(ctx, c, opts, invoke)
	require.NoError(t, err)

	_, ok1, _ := c.Get(ctx, "1")
	_, ok2, _ := c.Get(ctx, "2")
	assert.False(t, ok1)
	assert.False(t, ok2)
}

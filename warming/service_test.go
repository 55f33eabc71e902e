package warming

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/o-tero/cachekit/cache/local"
)

// TestMain verifies every worker goroutine a Service starts is joined by
// Shutdown before the package's tests exit.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// mockOriginFetcher simulates an origin data source for ExecuteWarmTask.
type mockOriginFetcher struct {
	mu       sync.Mutex
	data     map[string][]byte
	calls    atomic.Int64
	delay    time.Duration
	failures map[string]int // key -> remaining failures
}

func newMockOriginFetcher() *mockOriginFetcher {
	return &mockOriginFetcher{
		data:     make(map[string][]byte),
		failures: make(map[string]int),
	}
}

func (m *mockOriginFetcher) Fetch(ctx context.Context, key string) ([]byte, time.Duration, error) {
	m.calls.Add(1)
	if m.delay > 0 {
		time.Sleep(m.delay)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if remaining, exists := m.failures[key]; exists && remaining > 0 {
		m.failures[key]--
		return nil, 0, errors.New("simulated fetch failure")
	}

	value, exists := m.data[key]
	if !exists {
		return nil, 0, fmt.Errorf("key not found: %s", key)
	}
	return value, time.Hour, nil
}

func (m *mockOriginFetcher) SetData(key string, value []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
}

func (m *mockOriginFetcher) SetFailures(key string, count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[key] = count
}

func (m *mockOriginFetcher) CallCount() int64 {
	return m.calls.Load()
}

// newTestService builds a Service over an in-memory local.Backend with no
// redis client, so completion events are dropped rather than published.
func newTestService(t *testing.T, configure func(*Config)) (*Service, *mockOriginFetcher, *local.Backend) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.ConcurrentWarmers = 5
	cfg.OriginTimeout = 200 * time.Millisecond
	if configure != nil {
		configure(&cfg)
	}

	origin := newMockOriginFetcher()
	c := local.New("warming-test", 1000, time.Hour)
	svc := New(cfg, c, origin, nil, nil)
	return svc, origin, c
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.True(t, cond(), "condition not met within %v", timeout)
}

func TestService_WarmKey_Success(t *testing.T) {
	svc, origin, c := newTestService(t, nil)
	defer svc.Shutdown()

	ctx := context.Background()
	origin.SetData("user:123", []byte("test data"))

	result, err := svc.WarmKey(ctx, WarmKeyRequest{Keys: []string{"user:123"}, Priority: 50})
	require.NoError(t, err)
	assert.Equal(t, 1, result.Queued)

	waitFor(t, time.Second, func() bool {
		_, ok, _ := c.Get(ctx, "user:123")
		return ok
	})

	value, ok, err := c.Get(ctx, "user:123")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "test data", string(value))
}

func TestService_WarmKey_Multiple(t *testing.T) {
	svc, origin, c := newTestService(t, nil)
	defer svc.Shutdown()

	ctx := context.Background()
	keys := make([]string, 10)
	for i := 0; i < 10; i++ {
		keys[i] = fmt.Sprintf("key:%d", i)
		origin.SetData(keys[i], []byte(fmt.Sprintf("value%d", i)))
	}

	result, err := svc.WarmKey(ctx, WarmKeyRequest{Keys: keys, Priority: 50})
	require.NoError(t, err)
	assert.Equal(t, 10, result.Queued)

	waitFor(t, 2*time.Second, func() bool {
		for _, k := range keys {
			if _, ok, _ := c.Get(ctx, k); !ok {
				return false
			}
		}
		return true
	})
}

func TestService_WarmPattern(t *testing.T) {
	svc, origin, c := newTestService(t, nil)
	defer svc.Shutdown()

	ctx := context.Background()
	keys := []string{"user:123:profile", "user:123:settings", "user:456:profile"}
	for _, k := range keys {
		origin.SetData(k, []byte("data"))
	}

	result, err := svc.WarmPattern(ctx, WarmPatternRequest{
		Pattern:  "user:123:*",
		Keys:     keys,
		Priority: 70,
		Strategy: "priority",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.Queued)

	waitFor(t, time.Second, func() bool {
		_, ok1, _ := c.Get(ctx, "user:123:profile")
		_, ok2, _ := c.Get(ctx, "user:123:settings")
		return ok1 && ok2
	})

	_, ok, _ := c.Get(ctx, "user:456:profile")
	assert.False(t, ok, "non-matching key must not be warmed")
}

func TestService_Deduplication(t *testing.T) {
	svc, origin, _ := newTestService(t, nil)
	defer svc.Shutdown()

	ctx := context.Background()
	origin.SetData("user:123", []byte("data"))
	origin.delay = 200 * time.Millisecond

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = svc.WarmKey(ctx, WarmKeyRequest{Keys: []string{"user:123"}})
		}()
	}
	wg.Wait()

	time.Sleep(500 * time.Millisecond)
	assert.LessOrEqual(t, origin.CallCount(), int64(2), "singleflight dedup should collapse concurrent fetches")
}

func TestService_EmergencyStop(t *testing.T) {
	svc, origin, _ := newTestService(t, func(cfg *Config) {
		cfg.EmergencyThreshold = 50 * time.Millisecond
		cfg.OriginTimeout = time.Second
	})
	defer svc.Shutdown()

	ctx := context.Background()
	origin.SetData("slow:key", []byte("data"))
	origin.delay = 200 * time.Millisecond

	_, err := svc.WarmKey(ctx, WarmKeyRequest{Keys: []string{"slow:key"}})
	require.NoError(t, err)

	waitFor(t, time.Second, func() bool { return svc.emergencyStop.Load() })

	_, err = svc.WarmKey(ctx, WarmKeyRequest{Keys: []string{"another:key"}})
	assert.Error(t, err, "warming must refuse new work while emergency stop is active")
}

func TestService_RetryOnFailure(t *testing.T) {
	svc, origin, c := newTestService(t, nil)
	defer svc.Shutdown()

	ctx := context.Background()
	origin.SetData("flaky:key", []byte("data"))
	origin.SetFailures("flaky:key", 2)

	_, err := svc.WarmKey(ctx, WarmKeyRequest{Keys: []string{"flaky:key"}})
	require.NoError(t, err)

	waitFor(t, 3*time.Second, func() bool {
		_, ok, _ := c.Get(ctx, "flaky:key")
		return ok
	})
	assert.Equal(t, int64(1), svc.metrics.SuccessTotal.Load())
}

func TestService_Status(t *testing.T) {
	svc, origin, _ := newTestService(t, nil)
	defer svc.Shutdown()

	ctx := context.Background()
	origin.SetData("key:1", []byte("data"))
	_, err := svc.WarmKey(ctx, WarmKeyRequest{Keys: []string{"key:1"}})
	require.NoError(t, err)

	waitFor(t, time.Second, func() bool { return svc.metrics.JobsTotal.Load() == 1 })

	status := svc.Status()
	assert.Equal(t, int64(1), status.Metrics.JobsTotal)
	assert.Len(t, status.WorkerStatus, 5)
}

func TestSelectiveStrategy_Plan(t *testing.T) {
	strategy := NewSelectiveHotKeysStrategy()
	ctx := context.Background()

	keys := []string{"hot:1", "hot:2", "hot:3", "hot:4", "hot:5"}
	tasks, err := strategy.Plan(ctx, PlanOptions{Keys: keys, Priority: 80, Limit: 3})
	require.NoError(t, err)
	assert.Len(t, tasks, 3)

	for i := 1; i < len(tasks); i++ {
		assert.LessOrEqual(t, tasks[i].Priority, tasks[i-1].Priority)
	}
}

func TestBreadthFirstStrategy_Plan(t *testing.T) {
	strategy := NewBreadthFirstStrategy()
	ctx := context.Background()

	keys := []string{
		"user:123:posts:456",
		"user:123",
		"user:123:posts",
		"product:789",
	}
	tasks, err := strategy.Plan(ctx, PlanOptions{Keys: keys})
	require.NoError(t, err)
	require.Len(t, tasks, 4)

	assert.Contains(t, []string{"user:123", "product:789"}, tasks[0].Key)
	for i := 1; i < len(tasks); i++ {
		depthI := tasks[i].Metadata["depth"].(int)
		depthPrev := tasks[i-1].Metadata["depth"].(int)
		assert.GreaterOrEqual(t, depthI, depthPrev)
	}
}

func TestPriorityStrategy_Plan(t *testing.T) {
	strategy := NewPriorityBasedStrategy()
	ctx := context.Background()

	keys := []string{"key:1", "key:2", "key:3", "key:4", "key:5"}
	tasks, err := strategy.Plan(ctx, PlanOptions{Keys: keys, Limit: 3})
	require.NoError(t, err)
	require.Len(t, tasks, 3)

	for i := 1; i < len(tasks); i++ {
		assert.LessOrEqual(t, tasks[i].Priority, tasks[i-1].Priority)
	}
}

func TestDefaultPredictor_PredictHotKeys(t *testing.T) {
	predictor := NewDefaultPredictor()

	for i := 0; i < 100; i++ {
		predictor.RecordAccess("hot:key")
	}
	for i := 0; i < 50; i++ {
		predictor.RecordAccess("warm:key")
	}
	for i := 0; i < 10; i++ {
		predictor.RecordAccess("cold:key")
	}

	hotKeys, err := predictor.PredictHotKeys(context.Background(), time.Hour, 2)
	require.NoError(t, err)
	require.Len(t, hotKeys, 2)
	assert.Equal(t, "hot:key", hotKeys[0])
	assert.Equal(t, "warm:key", hotKeys[1])
}

func TestDefaultPredictor_RecencyBonus(t *testing.T) {
	predictor := NewDefaultPredictor()

	for i := 0; i < 50; i++ {
		predictor.RecordAccess("old:key")
	}
	time.Sleep(100 * time.Millisecond)
	for i := 0; i < 30; i++ {
		predictor.RecordAccess("recent:key")
	}

	hotKeys, err := predictor.PredictHotKeys(context.Background(), time.Hour, 2)
	require.NoError(t, err)
	require.NotEmpty(t, hotKeys)
	assert.Equal(t, "recent:key", hotKeys[0])
}

func TestDefaultPredictor_Cleanup(t *testing.T) {
	predictor := NewDefaultPredictor()
	predictor.RecordAccess("key:1")
	predictor.RecordAccess("key:2")

	stats := predictor.GetStats()
	assert.Equal(t, 2, stats.TrackedKeys)

	removed := predictor.Cleanup(time.Nanosecond)
	assert.Equal(t, 2, removed)
	assert.Equal(t, 0, predictor.GetStats().TrackedKeys)
}

func BenchmarkService_WarmKey(b *testing.B) {
	cfg := DefaultConfig()
	cfg.ConcurrentWarmers = 5
	origin := newMockOriginFetcher()
	c := local.New("bench", 1000, time.Hour)
	svc := New(cfg, c, origin, nil, nil)
	defer svc.Shutdown()

	ctx := context.Background()
	for i := 0; i < 100; i++ {
		origin.SetData(fmt.Sprintf("key:%d", i), []byte("data"))
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		key := fmt.Sprintf("key:%d", i%100)
		svc.WarmKey(ctx, WarmKeyRequest{Keys: []string{key}})
	}
}

func BenchmarkDefaultPredictor_RecordAccess(b *testing.B) {
	predictor := NewDefaultPredictor()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		predictor.RecordAccess(fmt.Sprintf("key:%d", i%1000))
	}
}

func BenchmarkPriorityStrategy_Plan(b *testing.B) {
	strategy := NewPriorityBasedStrategy()
	ctx := context.Background()
	keys := make([]string, 1000)
	for i := 0; i < 1000; i++ {
		keys[i] = fmt.Sprintf("key:%d", i)
	}
	opts := PlanOptions{Keys: keys, Limit: 100}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		strategy.Plan(ctx, opts)
	}
}

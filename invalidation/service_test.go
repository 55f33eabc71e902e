package invalidation

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/o-tero/cachekit/evictionbus"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	pub := evictionbus.NewPublisher(client, "orders", "instance-a")
	return NewService(pub, NewMemorySink(100))
}

func TestService_InvalidateKey(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	result, err := svc.InvalidateKey(ctx, InvalidateKeyRequest{
		Keys:        []string{"o:1", "o:2", "o:1"},
		TriggeredBy: "admin",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, result.InvalidatedCount, "duplicate keys must be deduplicated")
	assert.NotEmpty(t, result.RequestID)

	logs, total := svc.GetAuditLogs(10, 0, "")
	assert.Equal(t, 1, total)
	require.Len(t, logs, 1)
	assert.Equal(t, "admin", logs[0].TriggeredBy)

	snapshot := svc.GetMetrics()
	assert.Equal(t, int64(1), snapshot.TotalInvalidations)
	assert.Equal(t, int64(1), snapshot.KeyInvalidations)
}

func TestService_InvalidateKey_EmptyRejected(t *testing.T) {
	svc := newTestService(t)
	_, err := svc.InvalidateKey(context.Background(), InvalidateKeyRequest{})
	assert.Error(t, err)
}

func TestService_InvalidatePattern_ReportsMatchedKnownKeys(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	result, err := svc.InvalidatePattern(ctx, InvalidatePatternRequest{
		Pattern:     "user:123:*",
		TriggeredBy: "admin",
		KnownKeys:   []string{"user:123:profile", "user:123:settings", "user:456:profile"},
	})
	require.NoError(t, err)
	assert.Equal(t, "user:123:*", result.Pattern)
	assert.ElementsMatch(t, []string{"user:123:profile", "user:123:settings"}, result.Keys)

	snapshot := svc.GetMetrics()
	assert.Equal(t, int64(1), snapshot.PatternInvalidations)
	assert.Equal(t, 1.0, snapshot.PatternInvalidationRatio)
}

func TestService_InvalidatePattern_WithoutKnownKeysStillBroadcasts(t *testing.T) {
	svc := newTestService(t)
	result, err := svc.InvalidatePattern(context.Background(), InvalidatePatternRequest{
		Pattern:     "session:*",
		TriggeredBy: "admin",
	})
	require.NoError(t, err)
	assert.Equal(t, 0, result.InvalidatedCount)
}

func TestMemorySink_RingBufferEvictsOldest(t *testing.T) {
	sink := NewMemorySink(2)
	sink.Record(AuditEntry{Pattern: "a", RequestID: "1", Timestamp: time.Now()})
	sink.Record(AuditEntry{Pattern: "b", RequestID: "2", Timestamp: time.Now()})
	sink.Record(AuditEntry{Pattern: "c", RequestID: "3", Timestamp: time.Now()})

	entries, total := sink.Recent(10, 0, "")
	assert.Equal(t, 2, total)
	require.Len(t, entries, 2)
	assert.Equal(t, "c", entries[0].Pattern, "newest entry must come first")
	assert.Equal(t, "b", entries[1].Pattern)
}

func TestMemorySink_PatternFilter(t *testing.T) {
	sink := NewMemorySink(10)
	sink.Record(AuditEntry{Pattern: "user:*"})
	sink.Record(AuditEntry{Pattern: "order:*"})

	entries, total := sink.Recent(10, 0, "user")
	assert.Equal(t, 1, total)
	require.Len(t, entries, 1)
	assert.Equal(t, "user:*", entries[0].Pattern)
}

func TestMemorySink_Pagination(t *testing.T) {
	sink := NewMemorySink(10)
	for i := 0; i < 5; i++ {
		sink.Record(AuditEntry{RequestID: string(rune('a' + i))})
	}

	page, total := sink.Recent(2, 0, "")
	assert.Equal(t, 5, total)
	assert.Len(t, page, 2)

	page2, _ := sink.Recent(2, 4, "")
	assert.Len(t, page2, 1)
}

package observability

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/o-tero/cachekit/cache"
)

type fakeStatsSource struct {
	stats map[string]cache.Statistics
}

func (f *fakeStatsSource) AllStatistics(ctx context.Context) map[string]cache.Statistics {
	return f.stats
}

func TestHighErrorRateRule_TriggersAboveThreshold(t *testing.T) {
	rule := NewHighErrorRateRule()
	stats := NamespaceHealth{HitCount: 90, MissCount: 10, ErrorCount: 10}

	alert := rule.Evaluate("orders", stats)
	require.NotNil(t, alert)
	assert.Equal(t, AlertHighErrorRate, alert.Type)
	assert.Equal(t, "orders", alert.Namespace)
}

func TestHighErrorRateRule_SilentBelowThreshold(t *testing.T) {
	rule := NewHighErrorRateRule()
	stats := NamespaceHealth{HitCount: 990, MissCount: 9, ErrorCount: 1}
	assert.Nil(t, rule.Evaluate("orders", stats))
}

func TestLowHitRateRule_RequiresMinimumTraffic(t *testing.T) {
	rule := NewLowHitRateRule()
	low := NamespaceHealth{HitCount: 10, MissCount: 40, HitRatePercent: 20}
	assert.Nil(t, rule.Evaluate("orders", low), "below minimum traffic should not alert")

	low.HitCount, low.MissCount = 100, 400
	alert := rule.Evaluate("orders", low)
	require.NotNil(t, alert)
	assert.Equal(t, "critical", alert.Severity, "hit rate under 50% must be critical")
}

func TestHighEvictionRateRule(t *testing.T) {
	rule := NewHighEvictionRateRule()
	stats := NamespaceHealth{CurrentSize: 100, EvictionCount: 80}
	alert := rule.Evaluate("orders", stats)
	require.NotNil(t, alert)
	assert.Equal(t, AlertHighEvictionRate, alert.Type)
}

func TestAlertManager_TriggersAndResolves(t *testing.T) {
	source := &fakeStatsSource{stats: map[string]cache.Statistics{
		"orders": {HitCount: 10, MissCount: 490, HitRate: 0.02},
	}}
	prober := NewProber(nil, source)
	am := NewAlertManager(prober)

	am.evaluate()
	active := am.ActiveAlerts()
	require.Len(t, active, 1)
	assert.Equal(t, AlertLowHitRate, active[0].Type)

	source.stats["orders"] = cache.Statistics{HitCount: 490, MissCount: 10, HitRate: 0.98}
	am.evaluate()
	assert.Empty(t, am.ActiveAlerts(), "alert must resolve once the condition clears")
}

func TestAlertManager_RunStopsCleanly(t *testing.T) {
	source := &fakeStatsSource{stats: map[string]cache.Statistics{}}
	am := NewAlertManager(NewProber(nil, source))

	go am.Run(10 * time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	am.Stop()
}

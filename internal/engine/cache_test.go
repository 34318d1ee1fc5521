package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheKeyDeterministicAcrossFilterOrder(t *testing.T) {
	a := ResolvedIntent{
		IntentType: IntentComparison, Metric: "revenue", Dimension: "region",
		Filters: []Filter{
			{Column: "channel", Op: "=", Value: "web"},
			{Column: "region", Op: "=", Value: "North"},
		},
	}
	b := a
	b.Filters = []Filter{a.Filters[1], a.Filters[0]}

	assert.Equal(t, CacheKey(a), CacheKey(b))
	assert.Len(t, CacheKey(a), 12)
}

func TestCacheKeyDistinguishesIntents(t *testing.T) {
	base := ResolvedIntent{IntentType: IntentSummary, Metric: "revenue", Dimension: "region"}

	byMetric := base
	byMetric.Metric = "orders"
	byDim := base
	byDim.Dimension = "month"
	byType := base
	byType.IntentType = IntentTrend
	byFilter := base
	byFilter.Filters = []Filter{{Column: "region", Op: "=", Value: "North"}}

	keys := map[string]bool{CacheKey(base): true}
	for _, intent := range []ResolvedIntent{byMetric, byDim, byType, byFilter} {
		k := CacheKey(intent)
		assert.False(t, keys[k], "collision for %+v", intent)
		keys[k] = true
	}
}

func TestResultCacheTTL(t *testing.T) {
	c := newResultCache(5 * time.Minute)
	clock := time.Now()
	c.now = func() time.Time { return clock }

	ds := &NormalizedDataset{OK: true, SQL: "SELECT 1 FROM sales"}
	c.set("abc", ds)

	got, ok := c.get("abc")
	require.True(t, ok)
	assert.Same(t, ds, got)

	// Just under the TTL the entry survives.
	clock = clock.Add(5*time.Minute - time.Second)
	_, ok = c.get("abc")
	assert.True(t, ok)

	// At the TTL it is evicted on read.
	clock = clock.Add(time.Second)
	_, ok = c.get("abc")
	assert.False(t, ok)
	assert.Equal(t, 0, c.len())
}

func TestResultCacheMiss(t *testing.T) {
	c := newResultCache(time.Minute)
	_, ok := c.get("nope")
	assert.False(t, ok)
}

package cache

import (
	"fmt"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/secureflow/backend/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rec(key, risk string) models.LogRecord {
	return models.LogRecord{Key: key, Risk: risk}
}

func TestBoundKeepsNewestWithoutDuplicates(t *testing.T) {
	const bound = 20
	c := New(bound)

	for i := 0; i < bound+50; i++ {
		c.Put(rec(fmt.Sprintf("k%03d", i), models.RiskSafe))
	}

	got := c.Recent(bound)
	require.Len(t, got, bound)
	seen := map[string]bool{}
	for i, r := range got {
		assert.Equal(t, fmt.Sprintf("k%03d", bound+50-1-i), r.Key)
		assert.False(t, seen[r.Key], "duplicate %s", r.Key)
		seen[r.Key] = true
	}
}

func TestPutReplacesInPlaceAtFront(t *testing.T) {
	c := New(10)
	c.Put(rec("a", models.RiskSafe))
	c.Put(rec("b", models.RiskSafe))
	c.Put(rec("a", models.RiskHigh))

	got := c.Snapshot()
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].Key)
	assert.Equal(t, models.RiskHigh, got[0].Risk)
	assert.Equal(t, "b", got[1].Key)

	cached, ok := c.Get("a")
	require.True(t, ok)
	assert.Equal(t, models.RiskHigh, cached.Risk)
}

func TestLoadRebuildsFromNewestFirst(t *testing.T) {
	c := New(2)
	c.Put(rec("stale", models.RiskSafe))

	c.Load([]models.LogRecord{rec("n3", ""), rec("n2", ""), rec("n1", "")})

	assert.Equal(t, []string{"n3", "n2"}, c.Keys())
	_, ok := c.Get("stale")
	assert.False(t, ok)
}

func TestRecentLimits(t *testing.T) {
	c := New(0)
	assert.Equal(t, DefaultSize, c.Bound())
	assert.Empty(t, c.Recent(5))

	c.Put(rec("a", ""))
	assert.Len(t, c.Recent(5), 1)
	assert.Empty(t, c.Recent(-1))
}

func TestSnapshotIsACopy(t *testing.T) {
	c := New(5)
	c.Put(rec("a", models.RiskSafe))
	snap := c.Snapshot()
	snap[0].Risk = models.RiskHigh

	got, _ := c.Get("a")
	assert.Equal(t, models.RiskSafe, got.Risk)
}

func TestSizeGauge(t *testing.T) {
	g := prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_cache_size"})
	c := New(3, WithSizeGauge(g))
	for i := 0; i < 5; i++ {
		c.Put(rec(fmt.Sprint(i), ""))
	}
	assert.Equal(t, 3.0, testutil.ToFloat64(g))
}

func TestConcurrentPut(t *testing.T) {
	c := New(50)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				c.Put(rec(fmt.Sprintf("w%d-%d", w, i%30), ""))
			}
		}(w)
	}
	wg.Wait()

	assert.Equal(t, 50, c.Len())
	assert.Len(t, c.Keys(), 50)
}

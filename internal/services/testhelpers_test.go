package services

import (
	"sync"
	"testing"
	"time"

	"github.com/secureflow/backend/internal/cache"
	"github.com/secureflow/backend/internal/normalizer"
	"github.com/secureflow/backend/internal/store"
	"github.com/secureflow/backend/internal/stream"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type testEnv struct {
	store   *store.BadgerStore
	cache   *cache.WorkingCache
	bus     *stream.Bus
	clock   *testClock
	logs    *LogService
	kb      *KBService
	metrics *MetricsService
}

func newTestEnv(t *testing.T, cacheBound int) *testEnv {
	t.Helper()
	clock := &testClock{now: time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)}

	st, err := store.OpenBadgerInMemory(store.WithClock(clock.Now))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	c := cache.New(cacheBound)
	bus := stream.NewBus(stream.Config{Buffer: 256}, nil)
	t.Cleanup(bus.Stop)

	return &testEnv{
		store:   st,
		cache:   c,
		bus:     bus,
		clock:   clock,
		logs:    NewLogService(st, c, bus, normalizer.New(), nil),
		kb:      NewKBService(st, nil),
		metrics: NewMetricsService(st, clock.Now),
	}
}

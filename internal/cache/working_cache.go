// Package cache holds the in-memory working set of recent log records.
package cache

import (
	"container/list"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/secureflow/backend/internal/models"
)

// DefaultSize is the number of records kept when no bound is configured.
const DefaultSize = 500

// WorkingCache is a bounded, recency-ordered mirror of the most recently
// written records. It is only updated after the store confirms a write.
type WorkingCache struct {
	mu    sync.Mutex
	bound int
	items map[string]*list.Element // key -> element holding models.LogRecord
	order *list.List               // front is newest
	size  prometheus.Gauge
}

// Option configures a WorkingCache.
type Option func(*WorkingCache)

// WithSizeGauge reports the cache length to g after every mutation.
func WithSizeGauge(g prometheus.Gauge) Option {
	return func(c *WorkingCache) { c.size = g }
}

// New returns an empty cache holding at most bound records.
// A non-positive bound falls back to DefaultSize.
func New(bound int, opts ...Option) *WorkingCache {
	if bound <= 0 {
		bound = DefaultSize
	}
	c := &WorkingCache{
		bound: bound,
		items: make(map[string]*list.Element, bound),
		order: list.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Bound returns the configured capacity.
func (c *WorkingCache) Bound() int {
	return c.bound
}

// Put moves rec to the front, replacing any cached record with the same key.
func (c *WorkingCache) Put(rec models.LogRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.put(rec)
	c.trim()
	c.report()
}

func (c *WorkingCache) put(rec models.LogRecord) {
	if el, ok := c.items[rec.Key]; ok {
		el.Value = rec
		c.order.MoveToFront(el)
		return
	}
	c.items[rec.Key] = c.order.PushFront(rec)
}

func (c *WorkingCache) trim() {
	for c.order.Len() > c.bound {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.items, oldest.Value.(models.LogRecord).Key)
	}
}

func (c *WorkingCache) report() {
	if c.size != nil {
		c.size.Set(float64(c.order.Len()))
	}
}

// Get returns the cached record for key, if present. It does not change recency.
func (c *WorkingCache) Get(key string) (models.LogRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return models.LogRecord{}, false
	}
	return el.Value.(models.LogRecord), true
}

// Snapshot returns every cached record, newest first.
func (c *WorkingCache) Snapshot() []models.LogRecord {
	return c.Recent(c.bound)
}

// Recent returns up to limit cached records, newest first.
func (c *WorkingCache) Recent(limit int) []models.LogRecord {
	c.mu.Lock()
	defer c.mu.Unlock()

	if limit > c.order.Len() {
		limit = c.order.Len()
	}
	if limit < 0 {
		limit = 0
	}
	out := make([]models.LogRecord, 0, limit)
	for el := c.order.Front(); el != nil && len(out) < limit; el = el.Next() {
		out = append(out, el.Value.(models.LogRecord))
	}
	return out
}

// Keys returns the cached keys, newest first.
func (c *WorkingCache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, c.order.Len())
	for el := c.order.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(models.LogRecord).Key)
	}
	return keys
}

// Load replaces the contents with recs, which must be ordered newest first.
func (c *WorkingCache) Load(recs []models.LogRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*list.Element, c.bound)
	c.order.Init()
	for i := len(recs) - 1; i >= 0; i-- {
		c.put(recs[i])
	}
	c.trim()
	c.report()
}

// Len returns the number of cached records.
func (c *WorkingCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/qualabs/cmcd-toolkit/errors"
	"github.com/qualabs/cmcd-toolkit/metric"
)

// Cache results reported to metrics
const (
	ResultHit    = "hit"
	ResultMiss   = "miss"
	ResultEvict  = "evict"
	ResultExpire = "expire"
)

// EvictCallback is called with the key and value of an entry removed for
// size or age. It runs with the cache lock held and must not call back into
// the cache.
type EvictCallback[V any] func(key string, value V)

// Option configures a Cache
type Option[V any] func(*Cache[V])

// WithMetrics reports hits, misses, evictions and expirations under name
func WithMetrics[V any](m *metric.Metrics, name string) Option[V] {
	return func(c *Cache[V]) {
		c.metrics = m
		c.name = name
	}
}

// WithEvictionCallback sets the eviction callback
func WithEvictionCallback[V any](fn EvictCallback[V]) Option[V] {
	return func(c *Cache[V]) { c.evictFn = fn }
}

// WithClock overrides the time source used for expiry
func WithClock[V any](now func() time.Time) Option[V] {
	return func(c *Cache[V]) {
		if now != nil {
			c.now = now
		}
	}
}

type entry[V any] struct {
	key       string
	value     V
	expiresAt time.Time
}

// Cache is a thread-safe LRU cache with an optional per-entry TTL. Expired
// entries are removed lazily on access and when they reach the LRU tail.
type Cache[V any] struct {
	mu      sync.Mutex
	maxSize int
	ttl     time.Duration
	items   map[string]*list.Element
	order   *list.List
	stats   *Statistics
	now     func() time.Time
	evictFn EvictCallback[V]
	metrics *metric.Metrics
	name    string
}

// New creates a cache holding at most maxSize entries. A ttl of zero keeps
// entries until they are evicted.
func New[V any](maxSize int, ttl time.Duration, opts ...Option[V]) (*Cache[V], error) {
	if maxSize <= 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Cache", "New", "max size must be positive")
	}
	if ttl < 0 {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Cache", "New", "ttl cannot be negative")
	}

	c := &Cache[V]{
		maxSize: maxSize,
		ttl:     ttl,
		items:   make(map[string]*list.Element, maxSize),
		order:   list.New(),
		stats:   NewStatistics(),
		now:     time.Now,
		name:    "cache",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Get returns the value for key and marks it as recently used
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if element, ok := c.items[key]; ok {
		e := element.Value.(*entry[V])
		if !c.expired(e) {
			c.order.MoveToFront(element)
			c.record(ResultHit)
			return e.value, true
		}
		c.remove(element, ResultExpire)
	}

	c.record(ResultMiss)
	var zero V
	return zero, false
}

// Set stores value under key. It reports whether a new entry was created.
func (c *Cache[V]) Set(key string, value V) (bool, error) {
	if key == "" {
		return false, errors.WrapInvalid(errors.ErrInvalidData, "Cache", "Set", "key cannot be empty")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var expiresAt time.Time
	if c.ttl > 0 {
		expiresAt = c.now().Add(c.ttl)
	}

	if element, ok := c.items[key]; ok {
		e := element.Value.(*entry[V])
		e.value = value
		e.expiresAt = expiresAt
		c.order.MoveToFront(element)
		c.stats.set()
		return false, nil
	}

	c.items[key] = c.order.PushFront(&entry[V]{key: key, value: value, expiresAt: expiresAt})
	c.stats.set()

	for len(c.items) > c.maxSize {
		oldest := c.order.Back()
		result := ResultEvict
		if c.expired(oldest.Value.(*entry[V])) {
			result = ResultExpire
		}
		c.remove(oldest, result)
	}
	c.stats.updateSize(len(c.items))
	return true, nil
}

// Delete removes key. It reports whether the key was present.
func (c *Cache[V]) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	element, ok := c.items[key]
	if !ok {
		return false
	}
	c.order.Remove(element)
	delete(c.items, key)
	c.stats.delete()
	c.stats.updateSize(len(c.items))
	return true
}

// Clear removes every entry without calling the eviction callback
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*list.Element, c.maxSize)
	c.order.Init()
	c.stats.updateSize(0)
}

// Len returns the number of entries, including expired ones not yet removed
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Stats returns a snapshot of the cache counters
func (c *Cache[V]) Stats() Stats {
	return c.stats.snapshot()
}

func (c *Cache[V]) expired(e *entry[V]) bool {
	return !e.expiresAt.IsZero() && !c.now().Before(e.expiresAt)
}

func (c *Cache[V]) remove(element *list.Element, result string) {
	e := element.Value.(*entry[V])
	c.order.Remove(element)
	delete(c.items, e.key)

	if result == ResultExpire {
		c.stats.expiration()
	} else {
		c.stats.eviction()
	}
	c.record(result)
	c.stats.updateSize(len(c.items))

	if c.evictFn != nil {
		c.evictFn(e.key, e.value)
	}
}

func (c *Cache[V]) record(result string) {
	switch result {
	case ResultHit:
		c.stats.hit()
	case ResultMiss:
		c.stats.miss()
	}
	c.metrics.RecordCache(c.name, result)
}

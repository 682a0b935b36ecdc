// Package cache implements a TTL-aware, capacity-bounded LRU response cache.
package cache

import (
	"container/list"
	"sync"
	"time"
)

// Hooks receive cache accounting callbacks, e.g. to feed Prometheus counters.
// Any field may be nil.
type Hooks struct {
	OnHit      func()
	OnMiss     func()
	OnEviction func(n int)
}

// Stats reports cache counters accumulated since process start.
type Stats struct {
	Size      int    `json:"size"`
	MaxSize   int    `json:"max_size"`
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
}

type entry[V any] struct {
	key        string
	value      V
	createdAt  time.Time
	expiresAt  time.Time
	lastAccess time.Time
}

// Cache is a key/value store with per-entry TTL and LRU eviction once
// maxEntries is reached. All operations are O(1) amortized: a map indexes
// into a recency list whose front is the most recently used entry. Safe for
// concurrent use.
type Cache[V any] struct {
	mu         sync.Mutex
	maxEntries int
	defaultTTL time.Duration
	order      *list.List
	items      map[string]*list.Element
	hooks      Hooks
	now        func() time.Time

	hits      uint64
	misses    uint64
	evictions uint64
}

// New constructs a Cache holding at most maxEntries live entries. Entries
// stored without an explicit TTL use defaultTTL.
func New[V any](maxEntries int, defaultTTL time.Duration, hooks Hooks) *Cache[V] {
	if maxEntries <= 0 {
		maxEntries = 1
	}
	return &Cache[V]{
		maxEntries: maxEntries,
		defaultTTL: defaultTTL,
		order:      list.New(),
		items:      make(map[string]*list.Element),
		hooks:      hooks,
		now:        time.Now,
	}
}

// Get returns the live value for key. Expired entries are removed on access
// and reported as misses; a hit refreshes the entry's recency.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	elem, ok := c.items[key]
	if !ok {
		c.miss()
		return zero, false
	}
	ent := elem.Value.(*entry[V])
	if c.now().After(ent.expiresAt) {
		c.removeElement(elem)
		c.evicted(1)
		c.miss()
		return zero, false
	}
	ent.lastAccess = c.now()
	c.order.MoveToFront(elem)
	c.hits++
	if c.hooks.OnHit != nil {
		c.hooks.OnHit()
	}
	return ent.value, true
}

// Put inserts or overwrites key. A ttl <= 0 uses the cache default. If the
// insert would exceed capacity, expired entries are purged first and then the
// least recently used live entries are evicted.
func (c *Cache[V]) Put(key string, value V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if elem, ok := c.items[key]; ok {
		ent := elem.Value.(*entry[V])
		ent.value = value
		ent.createdAt = now
		ent.expiresAt = now.Add(ttl)
		ent.lastAccess = now
		c.order.MoveToFront(elem)
		return
	}

	elem := c.order.PushFront(&entry[V]{
		key:        key,
		value:      value,
		createdAt:  now,
		expiresAt:  now.Add(ttl),
		lastAccess: now,
	})
	c.items[key] = elem

	if c.order.Len() > c.maxEntries {
		removed := c.purgeExpiredLocked(now)
		for c.order.Len() > c.maxEntries {
			if back := c.order.Back(); back != nil {
				c.removeElement(back)
				removed++
			}
		}
		c.evicted(removed)
	}
}

// Invalidate removes key if present. Absence is not an error.
func (c *Cache[V]) Invalidate(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	elem, ok := c.items[key]
	if !ok {
		return false
	}
	c.removeElement(elem)
	return true
}

// Sweep removes every expired entry and returns how many were dropped.
// Intended to run on a fixed schedule so idle entries do not linger until the
// next access.
func (c *Cache[V]) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := c.purgeExpiredLocked(c.now())
	c.evicted(removed)
	return removed
}

// Stats returns a snapshot of the cache counters.
func (c *Cache[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Size:      c.order.Len(),
		MaxSize:   c.maxEntries,
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}

// Len returns the current number of entries, expired ones included until the
// next access or sweep.
func (c *Cache[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *Cache[V]) purgeExpiredLocked(now time.Time) int {
	removed := 0
	for elem := c.order.Back(); elem != nil; {
		prev := elem.Prev()
		if now.After(elem.Value.(*entry[V]).expiresAt) {
			c.removeElement(elem)
			removed++
		}
		elem = prev
	}
	return removed
}

func (c *Cache[V]) removeElement(elem *list.Element) {
	c.order.Remove(elem)
	delete(c.items, elem.Value.(*entry[V]).key)
}

func (c *Cache[V]) miss() {
	c.misses++
	if c.hooks.OnMiss != nil {
		c.hooks.OnMiss()
	}
}

func (c *Cache[V]) evicted(n int) {
	if n <= 0 {
		return
	}
	c.evictions += uint64(n)
	if c.hooks.OnEviction != nil {
		c.hooks.OnEviction(n)
	}
}

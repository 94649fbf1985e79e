// Package cache provides a small in-process TTL cache used to avoid
// re-querying upstream services for recently seen results.
package cache

import (
	"math"
	"sort"
	"sync"
	"time"
)

// Item is a cached value with an expiration time in unix nanoseconds.
// A zero expiration means the item never expires.
type Item struct {
	Value      interface{}
	Expiration int64
}

// Expired reports whether the item's TTL has elapsed.
func (item Item) Expired() bool {
	if item.Expiration == 0 {
		return false
	}
	return time.Now().UnixNano() > item.Expiration
}

// TTLCache is a thread-safe cache with per-item expiration and a size cap.
// When the cap is exceeded the items closest to expiry are evicted first.
type TTLCache struct {
	items           map[string]Item
	mu              sync.RWMutex
	defaultTTL      time.Duration
	cleanupInterval time.Duration
	maxItems        int
	stopCleanup     chan struct{}
	stopOnce        sync.Once
}

// NewTTLCache creates a cache with the given default TTL and size cap.
// A positive cleanupInterval starts a background sweep of expired items;
// zero disables the sweep and expired items are dropped lazily on Get.
func NewTTLCache(defaultTTL, cleanupInterval time.Duration, maxItems int) *TTLCache {
	c := &TTLCache{
		items:           make(map[string]Item),
		defaultTTL:      defaultTTL,
		cleanupInterval: cleanupInterval,
		maxItems:        maxItems,
		stopCleanup:     make(chan struct{}),
	}
	if cleanupInterval > 0 {
		go c.cleanupLoop()
	}
	return c
}

// Set adds an item with the default TTL.
func (c *TTLCache) Set(key string, value interface{}) {
	c.SetWithTTL(key, value, c.defaultTTL)
}

// SetWithTTL adds an item with a specific TTL. A non-positive TTL stores
// the item without expiration.
func (c *TTLCache) SetWithTTL(key string, value interface{}, ttl time.Duration) {
	var expiration int64
	if ttl > 0 {
		expiration = time.Now().Add(ttl).UnixNano()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.items[key] = Item{Value: value, Expiration: expiration}

	if c.maxItems > 0 && len(c.items) > c.maxItems {
		c.evictOldest()
	}
}

// Get retrieves an item, reporting whether a live entry was found.
func (c *TTLCache) Get(key string) (interface{}, bool) {
	c.mu.RLock()
	item, found := c.items[key]
	c.mu.RUnlock()

	if !found {
		return nil, false
	}
	if item.Expired() {
		c.mu.Lock()
		delete(c.items, key)
		c.mu.Unlock()
		return nil, false
	}
	return item.Value, true
}

// Delete removes an item from the cache.
func (c *TTLCache) Delete(key string) {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
}

// Count returns the number of items currently stored.
func (c *TTLCache) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Clear removes all items.
func (c *TTLCache) Clear() {
	c.mu.Lock()
	c.items = make(map[string]Item)
	c.mu.Unlock()
}

// evictOldest removes the entries closest to expiry until the cache is
// back under maxItems. Caller must hold the write lock.
func (c *TTLCache) evictOldest() {
	toRemove := len(c.items) - c.maxItems
	if toRemove <= 0 {
		return
	}

	type keyExpiration struct {
		key        string
		expiration int64
	}
	entries := make([]keyExpiration, 0, len(c.items))
	for k, v := range c.items {
		exp := v.Expiration
		if exp == 0 {
			// Items without expiration are evicted last
			exp = math.MaxInt64
		}
		entries = append(entries, keyExpiration{k, exp})
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].expiration < entries[j].expiration
	})
	for i := 0; i < toRemove; i++ {
		delete(c.items, entries[i].key)
	}
}

func (c *TTLCache) cleanupLoop() {
	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.deleteExpired()
		case <-c.stopCleanup:
			return
		}
	}
}

func (c *TTLCache) deleteExpired() {
	now := time.Now().UnixNano()
	c.mu.Lock()
	for k, v := range c.items {
		if v.Expiration > 0 && v.Expiration < now {
			delete(c.items, k)
		}
	}
	c.mu.Unlock()
}

// Stop terminates the background cleanup goroutine. Safe to call more
// than once.
func (c *TTLCache) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCleanup)
	})
}

package lookup

import (
	"container/list"
	"sync"
	"time"

	apexclock "github.com/apex-rules/apex/clock"
)

// ttlLRUCache is a bounded, TTL-expiring cache keyed by resolved lookup
// key, one instance per LookupSpec (spec §4.5: "per-LookupSpec LRU + TTL
// cache"). No third-party LRU implementation in the retrieval pack is
// ever called from visible source — hashicorp/golang-lru appears only as
// an unexercised transitive dependency of r3e-network-service_layer — so
// this follows the standard container/list + map idiom instead of
// inventing calls against an API no pack file demonstrates.
type ttlLRUCache struct {
	mu       sync.Mutex
	clock    apexclock.Clock
	maxItems int
	ttl      time.Duration
	ll       *list.List
	items    map[string]*list.Element

	hits   int64
	misses int64
}

type cacheEntry struct {
	key       string
	value     map[string]any
	found     bool
	insertedAt time.Time
}

func newTTLLRUCache(clk apexclock.Clock, maxItems int, ttl time.Duration) *ttlLRUCache {
	if maxItems <= 0 {
		maxItems = 1024
	}
	return &ttlLRUCache{
		clock:    clk,
		maxItems: maxItems,
		ttl:      ttl,
		ll:       list.New(),
		items:    make(map[string]*list.Element),
	}
}

// get returns the cached row for key if present and unexpired, per spec
// invariant 6: "cached entries are invalidated strictly at TTL expiry
// relative to insert time."
func (c *ttlLRUCache) get(key string) (map[string]any, bool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		c.misses++
		return nil, false, false
	}
	entry := el.Value.(*cacheEntry)
	if c.clock.Now().Sub(entry.insertedAt) >= c.ttl {
		c.ll.Remove(el)
		delete(c.items, key)
		c.misses++
		return nil, false, false
	}
	c.ll.MoveToFront(el)
	c.hits++
	return entry.value, entry.found, true
}

func (c *ttlLRUCache) put(key string, value map[string]any, found bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		el.Value.(*cacheEntry).value = value
		el.Value.(*cacheEntry).found = found
		el.Value.(*cacheEntry).insertedAt = c.clock.Now()
		c.ll.MoveToFront(el)
		return
	}
	entry := &cacheEntry{key: key, value: value, found: found, insertedAt: c.clock.Now()}
	el := c.ll.PushFront(entry)
	c.items[key] = el
	for c.ll.Len() > c.maxItems {
		oldest := c.ll.Back()
		if oldest == nil {
			break
		}
		c.ll.Remove(oldest)
		delete(c.items, oldest.Value.(*cacheEntry).key)
	}
}

// stats returns (hits, misses) for the Performance Monitor's cache
// hit/miss ratio observation (spec §4.10).
func (c *ttlLRUCache) stats() (hits, misses int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

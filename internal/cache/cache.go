// Package cache provides caching implementations for access decisions
package cache

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"

	"github.com/access-engine/go-core/pkg/types"
)

// Cache defines the decision cache interface
type Cache interface {
	Get(key string) (types.Decision, bool)
	Set(key string, decision types.Decision)
	Delete(key string)
	Clear()
	Stats() Stats
}

// DecisionKey builds the cache key for a (subject, object) pair.
func DecisionKey(subject, object types.AccessUri) string {
	return subject.String() + "|" + object.String()
}

// Stats contains cache statistics
type Stats struct {
	Size    int
	Hits    uint64
	Misses  uint64
	HitRate float64
}

// LRU implements an LRU decision cache with TTL support
type LRU struct {
	capacity int
	ttl      time.Duration

	items map[string]*list.Element
	order *list.List
	mu    sync.RWMutex

	hits   uint64
	misses uint64
}

type cacheEntry struct {
	key       string
	decision  types.Decision
	expiresAt time.Time
}

// NewLRU creates a new LRU cache
func NewLRU(capacity int, ttl time.Duration) *LRU {
	return &LRU{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[string]*list.Element),
		order:    list.New(),
	}
}

// Get retrieves a decision from the cache
func (c *LRU) Get(key string) (types.Decision, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		entry := elem.Value.(*cacheEntry)

		// Check expiration
		if time.Now().After(entry.expiresAt) {
			c.removeElement(elem)
			atomic.AddUint64(&c.misses, 1)
			return types.DecisionDefault, false
		}

		// Move to front (most recently used)
		c.order.MoveToFront(elem)
		atomic.AddUint64(&c.hits, 1)
		return entry.decision, true
	}

	atomic.AddUint64(&c.misses, 1)
	return types.DecisionDefault, false
}

// Set adds or updates a decision in the cache
func (c *LRU) Set(key string, decision types.Decision) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Update existing entry
	if elem, ok := c.items[key]; ok {
		entry := elem.Value.(*cacheEntry)
		entry.decision = decision
		entry.expiresAt = time.Now().Add(c.ttl)
		c.order.MoveToFront(elem)
		return
	}

	// Evict if at capacity
	for c.order.Len() >= c.capacity {
		c.evictOldest()
	}

	entry := &cacheEntry{
		key:       key,
		decision:  decision,
		expiresAt: time.Now().Add(c.ttl),
	}
	elem := c.order.PushFront(entry)
	c.items[key] = elem
}

// Delete removes a key from the cache
func (c *LRU) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.removeElement(elem)
	}
}

// Clear removes all entries from the cache
func (c *LRU) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*list.Element)
	c.order.Init()
}

// Stats returns cache statistics
func (c *LRU) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	hits := atomic.LoadUint64(&c.hits)
	misses := atomic.LoadUint64(&c.misses)
	total := hits + misses

	var hitRate float64
	if total > 0 {
		hitRate = float64(hits) / float64(total)
	}

	return Stats{
		Size:    c.order.Len(),
		Hits:    hits,
		Misses:  misses,
		HitRate: hitRate,
	}
}

func (c *LRU) evictOldest() {
	elem := c.order.Back()
	if elem != nil {
		c.removeElement(elem)
	}
}

func (c *LRU) removeElement(elem *list.Element) {
	entry := elem.Value.(*cacheEntry)
	delete(c.items, entry.key)
	c.order.Remove(elem)
}

package cache

import (
	"container/list"
	"sync"
	"time"
)

// LRU is a thread-safe least recently used cache with optional expiry
type LRU[K comparable, V any] struct {
	capacity int
	ttl      time.Duration // 0 = no expiration

	mu    sync.Mutex
	items map[K]*list.Element
	lru   *list.List

	hits   int64
	misses int64
}

type entry[K comparable, V any] struct {
	key       K
	value     V
	expiresAt time.Time
}

// NewLRU creates a cache holding at most capacity entries. A capacity of
// 0 stores nothing.
func NewLRU[K comparable, V any](capacity int, ttl time.Duration) *LRU[K, V] {
	if capacity < 0 {
		capacity = 0
	}
	return &LRU[K, V]{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[K]*list.Element, capacity),
		lru:      list.New(),
	}
}

// Get returns the value stored under key, or false if it is missing or
// expired
func (c *LRU[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	elem, ok := c.items[key]
	if !ok {
		c.misses++
		return zero, false
	}

	e := elem.Value.(*entry[K, V])
	if c.ttl > 0 && time.Now().After(e.expiresAt) {
		c.remove(elem)
		c.misses++
		return zero, false
	}

	c.lru.MoveToFront(elem)
	c.hits++
	return e.value, true
}

// Put adds or replaces the value stored under key
func (c *LRU[K, V]) Put(key K, value V) {
	if c.capacity == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var expiresAt time.Time
	if c.ttl > 0 {
		expiresAt = time.Now().Add(c.ttl)
	}

	if elem, ok := c.items[key]; ok {
		e := elem.Value.(*entry[K, V])
		e.value = value
		e.expiresAt = expiresAt
		c.lru.MoveToFront(elem)
		return
	}

	c.items[key] = c.lru.PushFront(&entry[K, V]{key: key, value: value, expiresAt: expiresAt})
	for c.lru.Len() > c.capacity {
		c.remove(c.lru.Back())
	}
}

// Invalidate removes key
func (c *LRU[K, V]) Invalidate(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.remove(elem)
	}
}

// Clear removes every entry. Hit and miss counters are kept.
func (c *LRU[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[K]*list.Element, c.capacity)
	c.lru.Init()
}

// Len returns the number of entries, expired ones included
func (c *LRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Stats holds cache performance statistics
type Stats struct {
	Hits    int64
	Misses  int64
	Size    int
	HitRate float64
}

// Stats returns cache statistics
func (c *LRU[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Stats{Hits: c.hits, Misses: c.misses, Size: c.lru.Len()}
	if total := c.hits + c.misses; total > 0 {
		st.HitRate = float64(c.hits) / float64(total)
	}
	return st
}

func (c *LRU[K, V]) remove(elem *list.Element) {
	c.lru.Remove(elem)
	delete(c.items, elem.Value.(*entry[K, V]).key)
}

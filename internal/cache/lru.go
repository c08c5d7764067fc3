// Realmwatch - Realm Presence Tracking and Player Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/realmwatch

// Package cache provides a thread-safe LRU cache with TTL support.
//
// Realmwatch uses it for two in-memory mappings with bounded lifetimes: the
// active streak registry (realm-xuid -> session id) and the in-memory
// identity cache used by tests and ephemeral deployments.
package cache

import (
	"sync"
	"time"
)

// entry is a node in the doubly-linked LRU list.
type entry struct {
	key       string
	value     string
	prev      *entry
	next      *entry
	expiresAt time.Time
}

// LRUCache is a thread-safe least-recently-used cache with per-entry TTL.
// Get, Add, and eviction are all O(1): a hashmap provides lookups and a
// doubly-linked list maintains recency order.
type LRUCache struct {
	mu sync.RWMutex

	capacity int
	ttl      time.Duration
	items    map[string]*entry

	// head.next is most recently used, tail.prev is least recently used.
	head *entry
	tail *entry

	hits   int64
	misses int64

	// now is replaceable in tests to control expiry.
	now func() time.Time
}

// NewLRUCache creates a cache with the given capacity and TTL.
func NewLRUCache(capacity int, ttl time.Duration) *LRUCache {
	if capacity <= 0 {
		capacity = 10000
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	c := &LRUCache{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[string]*entry, capacity),
		head:     &entry{},
		tail:     &entry{},
		now:      time.Now,
	}
	c.head.next = c.tail
	c.tail.prev = c.head
	return c
}

// SetClock replaces the cache's time source. Intended for tests.
func (c *LRUCache) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Get retrieves a value and marks it most recently used.
// Expired entries are removed lazily and reported as misses.
func (c *LRUCache) Get(key string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, exists := c.items[key]
	if !exists {
		c.misses++
		return "", false
	}
	if c.now().After(e.expiresAt) {
		c.removeEntry(e)
		c.misses++
		return "", false
	}

	c.moveToFront(e)
	c.hits++
	return e.value, true
}

// Contains reports whether a live entry exists without touching recency.
func (c *LRUCache) Contains(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, exists := c.items[key]
	return exists && !c.now().After(e.expiresAt)
}

// Add inserts or updates an entry, refreshing its TTL.
// The least recently used entry is evicted at capacity.
func (c *LRUCache) Add(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := c.now().Add(c.ttl)

	if e, exists := c.items[key]; exists {
		e.value = value
		e.expiresAt = expiresAt
		c.moveToFront(e)
		return
	}

	e := &entry{key: key, value: value, expiresAt: expiresAt}
	c.addToFront(e)
	c.items[key] = e

	for len(c.items) > c.capacity {
		c.evictOldest()
	}
}

// Remove deletes an entry. Returns true if it was present.
func (c *LRUCache) Remove(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, exists := c.items[key]
	if !exists {
		return false
	}
	c.removeEntry(e)
	return true
}

// Len returns the number of entries, including any not yet lazily expired.
func (c *LRUCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// Clear removes all entries.
func (c *LRUCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*entry, c.capacity)
	c.head.next = c.tail
	c.tail.prev = c.head
}

// CleanupExpired removes all expired entries eagerly and returns the count.
func (c *LRUCache) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for _, e := range c.items {
		if now.After(e.expiresAt) {
			c.removeEntry(e)
			removed++
		}
	}
	return removed
}

// Stats returns cumulative hit and miss counts.
func (c *LRUCache) Stats() (hits, misses int64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.hits, c.misses
}

// removeEntry unlinks an entry (must hold mu).
func (c *LRUCache) removeEntry(e *entry) {
	e.prev.next = e.next
	e.next.prev = e.prev
	delete(c.items, e.key)
}

// addToFront links an entry as most recently used (must hold mu).
func (c *LRUCache) addToFront(e *entry) {
	e.prev = c.head
	e.next = c.head.next
	c.head.next.prev = e
	c.head.next = e
}

// moveToFront re-links an existing entry as most recently used (must hold mu).
func (c *LRUCache) moveToFront(e *entry) {
	e.prev.next = e.next
	e.next.prev = e.prev
	c.addToFront(e)
}

// evictOldest removes the least recently used entry (must hold mu).
func (c *LRUCache) evictOldest() {
	oldest := c.tail.prev
	if oldest == c.head {
		return
	}
	c.removeEntry(oldest)
}

// Realmwatch - Realm Presence Tracking and Player Analytics
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/realmwatch

// Package identity resolves opaque player identifiers (xuids) to display
// names (gamertags) through a TTL cache backed by a two-tier upstream lookup.
package identity

import (
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/tomtom215/realmwatch/internal/cache"
	"github.com/tomtom215/realmwatch/internal/metrics"
)

// Cache maps xuids to resolved gamertags with expiration.
//
// Shared-write across all resolution call sites with last-writer-wins
// semantics; safe because gamertag-for-xuid is effectively immutable.
type Cache interface {
	// Get returns the cached gamertag, if present and unexpired.
	Get(xuid string) (string, bool)

	// Put stores one mapping, refreshing its TTL.
	Put(xuid, gamertag string)

	// PutAll stores many mappings at once.
	PutAll(pairs map[string]string)

	// Close releases underlying resources.
	Close() error
}

// gamertagKeyPrefix namespaces identity entries in BadgerDB.
const gamertagKeyPrefix = "gt:"

// BadgerCache is a durable identity cache backed by BadgerDB with native
// per-entry TTL. A mapping written by any poller is visible to all.
type BadgerCache struct {
	db  *badger.DB
	ttl time.Duration
}

// NewBadgerCache opens (or creates) a BadgerDB identity cache at dir.
func NewBadgerCache(dir string, ttl time.Duration) (*BadgerCache, error) {
	opts := badger.DefaultOptions(dir).
		WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open identity cache at %s: %w", dir, err)
	}
	return &BadgerCache{db: db, ttl: ttl}, nil
}

// Get implements Cache.
func (c *BadgerCache) Get(xuid string) (string, bool) {
	var gamertag string
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(gamertagKeyPrefix + xuid))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			gamertag = string(val)
			return nil
		})
	})
	if err != nil {
		// Not-found and read errors both degrade to a miss; the resolver
		// re-fetches either way.
		metrics.IdentityCacheMisses.Inc()
		return "", false
	}
	metrics.IdentityCacheHits.Inc()
	return gamertag, true
}

// Put implements Cache.
func (c *BadgerCache) Put(xuid, gamertag string) {
	c.PutAll(map[string]string{xuid: gamertag})
}

// PutAll implements Cache. Entries expire via Badger's native TTL; writes to
// the same key from concurrent pollers are last-writer-wins.
func (c *BadgerCache) PutAll(pairs map[string]string) {
	if len(pairs) == 0 {
		return
	}
	wb := c.db.NewWriteBatch()
	defer wb.Cancel()

	for xuid, gamertag := range pairs {
		e := badger.NewEntry([]byte(gamertagKeyPrefix+xuid), []byte(gamertag)).WithTTL(c.ttl)
		if err := wb.SetEntry(e); err != nil {
			return
		}
	}
	_ = wb.Flush()
}

// Close implements Cache.
func (c *BadgerCache) Close() error {
	return c.db.Close()
}

// MemoryCache is an in-memory identity cache with controllable TTL clock.
// Used in tests and in deployments without a persistent data directory.
type MemoryCache struct {
	lru *cache.LRUCache
}

// NewMemoryCache creates an in-memory identity cache.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{lru: cache.NewLRUCache(100000, ttl)}
}

// SetClock replaces the cache's time source. Intended for tests.
func (c *MemoryCache) SetClock(now func() time.Time) {
	c.lru.SetClock(now)
}

// Get implements Cache.
func (c *MemoryCache) Get(xuid string) (string, bool) {
	gamertag, ok := c.lru.Get(xuid)
	if ok {
		metrics.IdentityCacheHits.Inc()
	} else {
		metrics.IdentityCacheMisses.Inc()
	}
	return gamertag, ok
}

// Put implements Cache.
func (c *MemoryCache) Put(xuid, gamertag string) {
	c.lru.Add(xuid, gamertag)
}

// PutAll implements Cache.
func (c *MemoryCache) PutAll(pairs map[string]string) {
	for xuid, gamertag := range pairs {
		c.lru.Add(xuid, gamertag)
	}
}

// Close implements Cache.
func (c *MemoryCache) Close() error {
	c.lru.Clear()
	return nil
}

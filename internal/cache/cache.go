// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package cache provides a small in-memory cache with TTL support.
package cache

import (
	"sync"
	"time"

	"github.com/ManuGH/pvrd/internal/platform/clock"
)

// Stats holds cache performance counters.
type Stats struct {
	Hits        int64 // Get calls that found a live entry
	Misses      int64 // Get calls that found nothing or an expired entry
	Sets        int64
	Evictions   int64 // expired entries removed
	CurrentSize int
}

type entry[V any] struct {
	value      V
	expiration time.Time
}

// TTL is a concurrency-safe map whose entries expire after a fixed ttl.
// Expired entries are dropped lazily on access and by Prune.
type TTL[K comparable, V any] struct {
	clock clock.Clock
	ttl   time.Duration

	mu      sync.Mutex
	entries map[K]entry[V]
	stats   Stats
}

// New returns a cache whose entries live for ttl.
func New[K comparable, V any](ttl time.Duration, c clock.Clock) *TTL[K, V] {
	if c == nil {
		c = clock.Real{}
	}
	return &TTL[K, V]{clock: c, ttl: ttl, entries: make(map[K]entry[V])}
}

func (c *TTL[K, V]) Get(key K) (V, bool) {
	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		c.stats.Misses++
		var zero V
		return zero, false
	}
	if !now.Before(e.expiration) {
		delete(c.entries, key)
		c.stats.Misses++
		c.stats.Evictions++
		var zero V
		return zero, false
	}
	c.stats.Hits++
	return e.value, true
}

func (c *TTL[K, V]) Set(key K, value V) {
	exp := c.clock.Now().Add(c.ttl)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry[V]{value: value, expiration: exp}
	c.stats.Sets++
}

func (c *TTL[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

func (c *TTL[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[K]entry[V])
}

// Prune removes every expired entry and returns how many were removed.
func (c *TTL[K, V]) Prune() int {
	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	count := 0
	for key, e := range c.entries {
		if !now.Before(e.expiration) {
			delete(c.entries, key)
			count++
		}
	}
	c.stats.Evictions += int64(count)
	return count
}

func (c *TTL[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	stats := c.stats
	stats.CurrentSize = len(c.entries)
	return stats
}

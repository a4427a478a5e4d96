// Package cache provides a small bounded TTL cache used as the warm-process
// fast path for event dedup hits and resolved credential tokens.
//
// The cache is a best-effort optimization only: entries can be evicted or
// expire at any time and correctness must never depend on a hit. The durable
// store remains the single source of truth. It is an explicit, injectable
// component (with an injectable clock) rather than ambient package state, so
// tests can assert expiry and eviction deterministically.
package cache

import (
	"sort"
	"sync"
	"time"
)

type entry[V any] struct {
	value    V
	storedAt time.Time
}

// TTL is a concurrency-safe, bounded, string-keyed cache. When the entry
// count exceeds the configured cap, the oldest half is evicted and the most
// recent half kept.
type TTL[V any] struct {
	mu      sync.Mutex
	entries map[string]entry[V]
	ttl     time.Duration
	cap     int

	// Now is the clock used for expiry and eviction ordering. Overridable in
	// tests; defaults to time.Now.
	Now func() time.Time
}

// NewTTL returns a cache whose entries expire after ttl and whose size is
// bounded by capacity. A capacity <= 0 defaults to 100 entries, matching the
// window a warm process realistically benefits from.
func NewTTL[V any](ttl time.Duration, capacity int) *TTL[V] {
	if capacity <= 0 {
		capacity = 100
	}
	return &TTL[V]{
		entries: make(map[string]entry[V]),
		ttl:     ttl,
		cap:     capacity,
		Now:     time.Now,
	}
}

// Get returns the cached value for key if present and not expired.
func (c *TTL[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}
	if c.Now().Sub(e.storedAt) >= c.ttl {
		delete(c.entries, key)
		var zero V
		return zero, false
	}
	return e.value, true
}

// Set stores value under key, evicting the oldest half of the cache when the
// bound is exceeded.
func (c *TTL[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = entry[V]{value: value, storedAt: c.Now()}
	if len(c.entries) <= c.cap {
		return
	}

	type aged struct {
		key string
		at  time.Time
	}
	all := make([]aged, 0, len(c.entries))
	for k, e := range c.entries {
		all = append(all, aged{key: k, at: e.storedAt})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].at.Before(all[j].at) })
	for _, a := range all[:len(all)-c.cap/2] {
		delete(c.entries, a.key)
	}
}

// Len returns the current number of entries, expired or not.
func (c *TTL[V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

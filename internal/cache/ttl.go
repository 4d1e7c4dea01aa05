// Package cache provides a bounded cache whose entries expire.
package cache

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// DefaultSize bounds a cache created with size <= 0.
const DefaultSize = 256

// TTL is a size-bounded LRU cache with a fixed time-to-live per entry. It is
// safe for concurrent use.
type TTL[K comparable, V any] struct {
	lru *expirable.LRU[K, V]
	ttl time.Duration
}

// NewTTL creates a cache. A ttl <= 0 keeps entries until evicted by size.
func NewTTL[K comparable, V any](size int, ttl time.Duration) *TTL[K, V] {
	if size <= 0 {
		size = DefaultSize
	}
	if ttl < 0 {
		ttl = 0
	}
	return &TTL[K, V]{lru: expirable.NewLRU[K, V](size, nil, ttl), ttl: ttl}
}

func (c *TTL[K, V]) Get(key K) (V, bool) { return c.lru.Get(key) }

func (c *TTL[K, V]) Set(key K, value V) { c.lru.Add(key, value) }

func (c *TTL[K, V]) Delete(key K) { c.lru.Remove(key) }

// Len counts entries, including expired ones not yet swept.
func (c *TTL[K, V]) Len() int { return c.lru.Len() }

func (c *TTL[K, V]) Purge() { c.lru.Purge() }

// TTL reports the configured lifetime.
func (c *TTL[K, V]) TTL() time.Duration { return c.ttl }

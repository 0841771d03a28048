// ABOUTME: Thread-safe TTL cache remembering recently seen command IDs and their replies.
// ABOUTME: Lets the hub drop client retries without re-applying them and replay the first reply.

package dedupe

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Cache is a TTL-based, size-limited set of keys with an optional value per
// key. Expiry and least-recently-used eviction are handled by an expirable
// LRU; mu makes the check-then-mark in Claim atomic.
type Cache[V any] struct {
	mu  sync.Mutex
	lru *expirable.LRU[string, V]
}

// New creates a cache with the given TTL and capacity. A capacity of 0 means
// unlimited. Expired entries are swept in the background.
func New[V any](ttl time.Duration, maxSize int) *Cache[V] {
	return &Cache[V]{
		lru: expirable.NewLRU[string, V](maxSize, nil, ttl),
	}
}

// Key joins a user and a client-chosen command ID so IDs never collide across users.
func Key(userID, commandID string) string {
	return userID + "\x00" + commandID
}

// Claim atomically checks whether key was seen within the TTL. For a
// duplicate it returns the stored value and true. Otherwise it marks key
// with the zero value and returns false.
func (c *Cache[V]) Claim(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if v, ok := c.lru.Get(key); ok {
		return v, true
	}
	var zero V
	c.lru.Add(key, zero)
	return zero, false
}

// Store records the value for key, marking it seen if it was not already.
// Storing restarts the key's TTL.
func (c *Cache[V]) Store(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(key, value)
}

// Forget removes key so the next Claim treats it as new.
func (c *Cache[V]) Forget(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(key)
}

// Len returns the number of tracked keys, including expired keys the
// background sweep has not reached yet.
func (c *Cache[V]) Len() int {
	return c.lru.Len()
}

// Close drops every tracked key. It is safe to call multiple times.
func (c *Cache[V]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
}

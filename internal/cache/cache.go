// Package cache provides a small in-memory key/value store with a
// per-entry time-to-live. Expired entries are evicted lazily on access;
// there is no background sweep.
package cache

import (
	"errors"
	"sync"
	"time"
)

// ErrInvalidTimeout is returned by Set when the given timeout is not a
// positive duration.
var ErrInvalidTimeout = errors.New("cache: timeout must be a positive duration")

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

// Cache maps keys to values that expire after a per-entry timeout.
//
// All methods are safe for concurrent use, though the daemon itself only
// ever touches a cache from one goroutine at a time.
type Cache[K comparable, V any] struct {
	mu    sync.Mutex
	store map[K]entry[V]
	now   func() time.Time
}

// New returns an empty cache.
func New[K comparable, V any]() *Cache[K, V] {
	return &Cache[K, V]{
		store: make(map[K]entry[V]),
		now:   time.Now,
	}
}

// Set stores value under key for the given timeout. The store is left
// untouched when the timeout is invalid.
func (c *Cache[K, V]) Set(key K, value V, timeout time.Duration) error {
	if timeout <= 0 {
		return ErrInvalidTimeout
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store[key] = entry[V]{value: value, expiresAt: c.now().Add(timeout)}
	return nil
}

// Get returns the value stored under key, or false if the key is absent
// or its entry has expired. An expired entry is deleted on the spot.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.live(key)
	if !ok {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Contains reports whether key holds an unexpired entry.
func (c *Cache[K, V]) Contains(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.live(key)
	return ok
}

// Delete removes key from the cache. Deleting an absent key is a no-op.
func (c *Cache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.store, key)
}

// ExpiresIn returns the time remaining until key expires, or false if the
// key is absent or already expired.
func (c *Cache[K, V]) ExpiresIn(key K) (time.Duration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.live(key)
	if !ok {
		return 0, false
	}
	return e.expiresAt.Sub(c.now()), true
}

// live returns the entry for key, evicting it first if it has expired.
// Callers must hold c.mu.
func (c *Cache[K, V]) live(key K) (entry[V], bool) {
	e, ok := c.store[key]
	if !ok {
		return e, false
	}
	if !c.now().Before(e.expiresAt) {
		delete(c.store, key)
		return e, false
	}
	return e, true
}

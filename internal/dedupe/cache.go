// ABOUTME: Thread-safe expiring set used to remember consumed single-use tokens.
// ABOUTME: Each key carries its own expiry so entries live exactly as long as the token.

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

// cacheEntry stores the expiry and list element for a cached key.
type cacheEntry struct {
	expiresAt time.Time
	element   *list.Element
}

// Cache is a thread-safe, size-limited set of keys with per-key expiry.
// Uses a doubly-linked list to maintain insertion order for O(1) eviction.
type Cache struct {
	mu      sync.Mutex
	seen    map[string]*cacheEntry
	order   *list.List // keys in insertion order (oldest at front)
	maxSize int
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

// New creates a cache holding at most maxSize keys.
// A background goroutine periodically removes expired entries.
func New(maxSize int) *Cache {
	c := &Cache{
		seen:    make(map[string]*cacheEntry),
		order:   list.New(),
		maxSize: maxSize,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	go c.cleanup()
	return c
}

// Check returns true if the key has been marked and has not expired.
func (c *Cache) Check(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.seen[key]
	return ok && c.now().Before(entry.expiresAt)
}

// CheckAndMark atomically checks if a key has been seen and marks it if not.
// Returns true if the key was already seen (replay), false if it's new and now marked
// until expiresAt.
func (c *Cache) CheckAndMark(key string, expiresAt time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.seen[key]; ok && c.now().Before(entry.expiresAt) {
		return true
	}

	c.markLocked(key, expiresAt)
	return false
}

// Mark records a key until expiresAt. If the cache is at capacity, expired
// entries are dropped first and the oldest live entry only when none expired.
func (c *Cache) Mark(key string, expiresAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markLocked(key, expiresAt)
}

// Len returns the number of keys currently held, including expired ones not yet cleaned.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}

// markLocked must be called with mu held.
func (c *Cache) markLocked(key string, expiresAt time.Time) {
	if entry, exists := c.seen[key]; exists {
		entry.expiresAt = expiresAt
		c.order.MoveToBack(entry.element)
		return
	}

	if c.maxSize > 0 && len(c.seen) >= c.maxSize {
		c.removeExpiredLocked()
		if len(c.seen) >= c.maxSize {
			c.evictOldest()
		}
	}

	elem := c.order.PushBack(key)
	c.seen[key] = &cacheEntry{
		expiresAt: expiresAt,
		element:   elem,
	}
}

// evictOldest removes the oldest entry. Must be called with mu held.
func (c *Cache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}

	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.seen, key)
}

func (c *Cache) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.runCleanup()
		case <-c.done:
			return
		}
	}
}

// runCleanup removes all expired entries from the cache.
func (c *Cache) runCleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeExpiredLocked()
}

// removeExpiredLocked must be called with mu held.
func (c *Cache) removeExpiredLocked() {
	now := c.now()
	for key, entry := range c.seen {
		if !now.Before(entry.expiresAt) {
			c.order.Remove(entry.element)
			delete(c.seen, key)
		}
	}
}

// Close stops the background cleanup goroutine. It is safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}

// ABOUTME: Thread-safe expiring key set with a size bound
// ABOUTME: Remembers webhook provider message ids and revoked token ids until they expire

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type cacheEntry struct {
	expires time.Time
	element *list.Element
}

// Cache is a thread-safe set of keys that each expire at their own time.
// When full, the least recently marked key is evicted.
type Cache struct {
	mu      sync.RWMutex
	seen    map[string]*cacheEntry
	order   *list.List // least recently marked at front
	ttl     time.Duration
	maxSize int
	now     func() time.Time
	done    chan struct{}
	closed  bool
}

// New creates a cache whose Mark uses ttl. A background goroutine sweeps
// expired keys every minute. A maxSize of 0 never evicts.
func New(ttl time.Duration, maxSize int) *Cache {
	return newCache(ttl, maxSize, time.Minute, time.Now)
}

func newCache(ttl time.Duration, maxSize int, sweep time.Duration, now func() time.Time) *Cache {
	c := &Cache{
		seen:    make(map[string]*cacheEntry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     now,
		done:    make(chan struct{}),
	}
	go c.sweepLoop(sweep)
	return c
}

// Check reports whether key is present and unexpired.
func (c *Cache) Check(key string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, ok := c.seen[key]
	return ok && c.now().Before(entry.expires)
}

// CheckAndMark marks key and reports whether it was already present.
// Check and mark happen under one lock, so concurrent callers with the
// same key see exactly one false.
func (c *Cache) CheckAndMark(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if entry, ok := c.seen[key]; ok && now.Before(entry.expires) {
		return true
	}
	c.markLocked(key, now.Add(c.ttl))
	return false
}

// Mark records key for the default TTL.
func (c *Cache) Mark(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.markLocked(key, c.now().Add(c.ttl))
}

// MarkUntil records key until the given time. Times in the past are ignored.
func (c *Cache) MarkUntil(key string, expires time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.now().Before(expires) {
		return
	}
	c.markLocked(key, expires)
}

func (c *Cache) markLocked(key string, expires time.Time) {
	if entry, exists := c.seen[key]; exists {
		if expires.After(entry.expires) {
			entry.expires = expires
		}
		c.order.MoveToBack(entry.element)
		return
	}

	if c.maxSize > 0 && len(c.seen) >= c.maxSize {
		c.evictOldest()
	}

	c.seen[key] = &cacheEntry{
		expires: expires,
		element: c.order.PushBack(key),
	}
}

func (c *Cache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.seen, key)
}

// Len returns the number of stored keys, including expired ones not yet swept.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.seen)
}

func (c *Cache) sweepLoop(interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.done:
			return
		}
	}
}

func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for key, entry := range c.seen {
		if !now.Before(entry.expires) {
			c.order.Remove(entry.element)
			delete(c.seen, key)
		}
	}
}

// Close stops the background sweep. It is safe to call multiple times.
func (c *Cache) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		close(c.done)
		c.closed = true
	}
}

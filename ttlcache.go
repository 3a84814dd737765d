package main

import (
	"container/list"
	"crypto/sha256"
	"fmt"
	"sync"
	"time"
)

// ResponseCache is a small in-process cache for assembled responses.
// Entries expire after a fixed TTL and the least recently used entry is
// evicted when the cache is full. It keeps repeated requests for the
// same range from re-running the reconciliation round trip.
type ResponseCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	maxSize int
	entries map[string]*list.Element
	order   *list.List

	now func() time.Time
}

type cacheEntry struct {
	key     string
	value   any
	expires time.Time
}

// CacheInfo is the inspection snapshot returned by Info.
type CacheInfo struct {
	Size    int      `json:"size"`
	MaxSize int      `json:"maxsize"`
	TTL     float64  `json:"ttl"`
	Keys    []string `json:"keys"`
}

func NewResponseCache(maxSize int, ttl time.Duration) *ResponseCache {
	return &ResponseCache{
		ttl:     ttl,
		maxSize: maxSize,
		entries: make(map[string]*list.Element),
		order:   list.New(),
		now:     time.Now,
	}
}

// cacheKey derives a stable key from an operation name and its
// arguments. The hash keeps argument values out of log lines and key
// listings while staying deterministic.
func cacheKey(op string, args ...any) string {
	h := sha256.New()
	fmt.Fprint(h, op)
	for _, arg := range args {
		fmt.Fprintf(h, "|%v", arg)
	}
	return fmt.Sprintf("%s:%x", op, h.Sum(nil))
}

// Get returns the cached value for key, or false when the key is absent
// or its TTL has lapsed. Expired entries are removed on access.
func (c *ResponseCache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return nil, false
	}

	entry := el.Value.(*cacheEntry)
	if !c.now().Before(entry.expires) {
		c.order.Remove(el)
		delete(c.entries, key)
		return nil, false
	}

	c.order.MoveToFront(el)
	return entry.value, true
}

// Set stores value under key, evicting the least recently used entry
// when the cache is at capacity.
func (c *ResponseCache) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		entry := el.Value.(*cacheEntry)
		entry.value = value
		entry.expires = c.now().Add(c.ttl)
		c.order.MoveToFront(el)
		return
	}

	if c.order.Len() >= c.maxSize {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.entries, oldest.Value.(*cacheEntry).key)
		}
	}

	entry := &cacheEntry{key: key, value: value, expires: c.now().Add(c.ttl)}
	c.entries[key] = c.order.PushFront(entry)
}

// Clear drops every entry.
func (c *ResponseCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*list.Element)
	c.order.Init()
}

// Info reports the live size, capacity, TTL in seconds and current keys
// in most recently used order.
func (c *ResponseCache) Info() CacheInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, c.order.Len())
	for el := c.order.Front(); el != nil; el = el.Next() {
		keys = append(keys, el.Value.(*cacheEntry).key)
	}

	return CacheInfo{
		Size:    c.order.Len(),
		MaxSize: c.maxSize,
		TTL:     c.ttl.Seconds(),
		Keys:    keys,
	}
}

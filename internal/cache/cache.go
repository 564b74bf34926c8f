// Package cache is the gateway's lookup cache. It keeps hot read paths
// (slug resolution on every gateway request) off the record store, backed
// by Redis when configured and by a bounded in-memory map otherwise. A
// Redis outage degrades to the memory fallback instead of failing reads.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrMiss is returned when a key is absent or expired.
var ErrMiss = errors.New("cache miss")

// Client is the slice of Redis the cache needs, implemented by
// GoRedisAdapter. Keeping it an interface lets tests run without a server.
type Client interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Keys(ctx context.Context, pattern string) ([]string, error)
	Close() error
}

type entry struct {
	value     []byte
	expiresAt time.Time
}

// Cache is a two-tier key-value cache: Redis when a client is attached,
// always the in-memory map. Safe for concurrent use.
type Cache struct {
	client Client

	mu  sync.RWMutex
	mem map[string]*entry

	defaultTTL time.Duration
	maxItems   int

	statsMu sync.Mutex
	hits    int64
	misses  int64
}

// Options tunes cache behavior; zero values take defaults.
type Options struct {
	DefaultTTL time.Duration
	MaxItems   int
}

// New returns a memory-only cache.
func New(opts *Options) *Cache {
	return NewWithClient(nil, opts)
}

// NewWithClient returns a cache backed by a Redis client, with the memory
// map as fallback.
func NewWithClient(client Client, opts *Options) *Cache {
	if opts == nil {
		opts = &Options{}
	}
	if opts.DefaultTTL <= 0 {
		opts.DefaultTTL = 30 * time.Second
	}
	if opts.MaxItems <= 0 {
		opts.MaxItems = 10000
	}

	c := &Cache{
		client:     client,
		mem:        make(map[string]*entry),
		defaultTTL: opts.DefaultTTL,
		maxItems:   opts.MaxItems,
	}
	go c.cleanupLoop()
	return c
}

// Get returns the cached bytes for key, or ErrMiss.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	if c.client != nil {
		if val, err := c.client.Get(ctx, key); err == nil {
			c.recordHit()
			return []byte(val), nil
		}
	}

	c.mu.RLock()
	e, ok := c.mem[key]
	c.mu.RUnlock()

	if !ok || time.Now().After(e.expiresAt) {
		if ok {
			c.mu.Lock()
			delete(c.mem, key)
			c.mu.Unlock()
		}
		c.recordMiss()
		return nil, ErrMiss
	}

	c.recordHit()
	return e.value, nil
}

// Set stores value under key. ttl <= 0 uses the default.
func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	if c.client != nil {
		if err := c.client.Set(ctx, key, string(value), ttl); err == nil {
			return nil
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.mem) >= c.maxItems {
		c.evict()
	}
	c.mem[key] = &entry{value: value, expiresAt: time.Now().Add(ttl)}
	return nil
}

// Delete removes a key from both tiers.
func (c *Cache) Delete(ctx context.Context, key string) {
	if c.client != nil {
		_ = c.client.Del(ctx, key)
	}
	c.mu.Lock()
	delete(c.mem, key)
	c.mu.Unlock()
}

// DeletePattern removes all keys matching pattern. Patterns support a
// single trailing "*".
func (c *Cache) DeletePattern(ctx context.Context, pattern string) {
	if c.client != nil {
		if keys, err := c.client.Keys(ctx, pattern); err == nil && len(keys) > 0 {
			_ = c.client.Del(ctx, keys...)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.mem {
		if matchPattern(pattern, key) {
			delete(c.mem, key)
		}
	}
}

// GetJSON unmarshals the cached value for key into dest.
func (c *Cache) GetJSON(ctx context.Context, key string, dest interface{}) error {
	data, err := c.Get(ctx, key)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

// SetJSON marshals value and stores it under key.
func (c *Cache) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.Set(ctx, key, data, ttl)
}

// Stats reports hit/miss counters and the memory tier size.
func (c *Cache) Stats() Stats {
	c.statsMu.Lock()
	hits, misses := c.hits, c.misses
	c.statsMu.Unlock()

	c.mu.RLock()
	memSize := len(c.mem)
	c.mu.RUnlock()

	total := hits + misses
	ratio := float64(0)
	if total > 0 {
		ratio = float64(hits) / float64(total)
	}
	return Stats{Hits: hits, Misses: misses, HitRatio: ratio, MemoryItems: memSize}
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
	HitRatio    float64 `json:"hit_ratio"`
	MemoryItems int     `json:"memory_items"`
}

// Close releases the Redis connection, if any.
func (c *Cache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

func (c *Cache) recordHit() {
	c.statsMu.Lock()
	c.hits++
	c.statsMu.Unlock()
}

func (c *Cache) recordMiss() {
	c.statsMu.Lock()
	c.misses++
	c.statsMu.Unlock()
}

// evict drops expired entries first, then arbitrary ones, until a tenth of
// capacity is free. Called with mu held.
func (c *Cache) evict() {
	toEvict := c.maxItems / 10
	if toEvict < 1 {
		toEvict = 1
	}

	now := time.Now()
	evicted := 0
	for key, e := range c.mem {
		if evicted >= toEvict {
			return
		}
		if now.After(e.expiresAt) {
			delete(c.mem, key)
			evicted++
		}
	}
	for key := range c.mem {
		if evicted >= toEvict {
			return
		}
		delete(c.mem, key)
		evicted++
	}
}

func (c *Cache) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		now := time.Now()
		c.mu.Lock()
		for key, e := range c.mem {
			if now.After(e.expiresAt) {
				delete(c.mem, key)
			}
		}
		c.mu.Unlock()
	}
}

// matchPattern supports exact keys and a trailing "*" glob.
func matchPattern(pattern, key string) bool {
	if pattern == "" {
		return key == ""
	}
	if pattern[len(pattern)-1] == '*' {
		prefix := pattern[:len(pattern)-1]
		return len(key) >= len(prefix) && key[:len(prefix)] == prefix
	}
	return pattern == key
}

// Key builders.

// ProjectSlugKey is the cache key for slug resolution.
func ProjectSlugKey(slug string) string {
	return fmt.Sprintf("project:slug:%s", slug)
}

// ProjectSlugPattern matches every cached slug resolution.
func ProjectSlugPattern() string {
	return "project:slug:*"
}

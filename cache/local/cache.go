package local

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotFound is returned when a key does not exist or has expired.
var ErrNotFound = errors.New("local cache: key not found")

type item struct {
	value    string
	expireAt time.Time // zero means no expiry
}

func (it *item) expired(now time.Time) bool {
	return !it.expireAt.IsZero() && now.After(it.expireAt)
}

// Config holds LocalCache settings.
type Config struct {
	GCInterval time.Duration
}

// LocalCache is an in-process KV store with per-key TTLs. It stands in
// for Redis when no redis_addr is configured, typically in development
// and tests.
type LocalCache struct {
	mu    sync.RWMutex
	items map[string]*item

	stopGC chan struct{}
	once   sync.Once
}

// NewCache creates a LocalCache and starts its expiry sweeper.
func NewCache(cfg Config) (*LocalCache, error) {
	interval := cfg.GCInterval
	if interval <= 0 {
		interval = time.Minute
	}
	c := &LocalCache{
		items:  make(map[string]*item),
		stopGC: make(chan struct{}),
	}
	go c.gcLoop(interval)
	return c, nil
}

func (c *LocalCache) gcLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.sweep()
		case <-c.stopGC:
			return
		}
	}
}

func (c *LocalCache) sweep() {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, it := range c.items {
		if it.expired(now) {
			delete(c.items, k)
		}
	}
}

// Close stops the expiry sweeper.
func (c *LocalCache) Close() error {
	c.once.Do(func() { close(c.stopGC) })
	return nil
}

func (c *LocalCache) Get(_ context.Context, key string) (string, error) {
	c.mu.RLock()
	it, ok := c.items[key]
	c.mu.RUnlock()
	if !ok || it.expired(time.Now()) {
		return "", ErrNotFound
	}
	return it.value, nil
}

func (c *LocalCache) Set(_ context.Context, key string, value string, ttl time.Duration) error {
	it := &item{value: value}
	if ttl > 0 {
		it.expireAt = time.Now().Add(ttl)
	}
	c.mu.Lock()
	c.items[key] = it
	c.mu.Unlock()
	return nil
}

func (c *LocalCache) Del(_ context.Context, keys ...string) error {
	c.mu.Lock()
	for _, k := range keys {
		delete(c.items, k)
	}
	c.mu.Unlock()
	return nil
}

func (c *LocalCache) Exists(_ context.Context, key string) (bool, error) {
	c.mu.RLock()
	it, ok := c.items[key]
	c.mu.RUnlock()
	if !ok || it.expired(time.Now()) {
		return false, nil
	}
	return true, nil
}

func (c *LocalCache) SetNX(_ context.Context, key string, value string, ttl time.Duration) (bool, error) {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if it, ok := c.items[key]; ok && !it.expired(now) {
		return false, nil
	}
	it := &item{value: value}
	if ttl > 0 {
		it.expireAt = now.Add(ttl)
	}
	c.items[key] = it
	return true, nil
}

func (c *LocalCache) Expire(_ context.Context, key string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	it, ok := c.items[key]
	if !ok || it.expired(time.Now()) {
		return ErrNotFound
	}
	if ttl > 0 {
		it.expireAt = time.Now().Add(ttl)
	} else {
		it.expireAt = time.Time{}
	}
	return nil
}

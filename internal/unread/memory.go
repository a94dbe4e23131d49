package unread

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	count     int
	gen       int64
	expiresAt time.Time
}

type memoryGen struct {
	value     int64
	expiresAt time.Time
}

// MemoryCache is the in-process Cache used when no Redis URL is configured.
// Generations expire genTTLFactor*ttl after their last bump, like the Redis
// generation keys, and a periodic sweep drops expired recipients.
type MemoryCache struct {
	mu        sync.Mutex
	ttl       time.Duration
	now       func() time.Time
	entries   map[string]memoryEntry
	gens      map[string]memoryGen
	nextSweep time.Time
}

func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return NewMemoryCacheWithClock(ttl, time.Now)
}

func NewMemoryCacheWithClock(ttl time.Duration, now func() time.Time) *MemoryCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryCache{
		ttl:     ttl,
		now:     now,
		entries: make(map[string]memoryEntry),
		gens:    make(map[string]memoryGen),
	}
}

func (c *MemoryCache) Lookup(_ context.Context, recipientID string) (int, int64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	c.sweep(now)
	gen := c.generation(recipientID, now)
	entry, ok := c.entries[recipientID]
	if !ok || entry.gen != gen || !now.Before(entry.expiresAt) {
		delete(c.entries, recipientID)
		return 0, gen, false, nil
	}
	return entry.count, gen, true, nil
}

func (c *MemoryCache) Store(_ context.Context, recipientID string, gen int64, count int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if c.generation(recipientID, now) != gen {
		return nil
	}
	c.entries[recipientID] = memoryEntry{count: count, gen: gen, expiresAt: now.Add(c.ttl)}
	return nil
}

func (c *MemoryCache) Invalidate(_ context.Context, recipientID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	c.gens[recipientID] = memoryGen{
		value:     c.generation(recipientID, now) + 1,
		expiresAt: now.Add(c.ttl * genTTLFactor),
	}
	delete(c.entries, recipientID)
	return nil
}

func (c *MemoryCache) Ping(context.Context) error { return nil }

// Len reports how many recipients currently hold a count or a generation.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	seen := make(map[string]struct{}, len(c.entries)+len(c.gens))
	for id := range c.entries {
		seen[id] = struct{}{}
	}
	for id := range c.gens {
		seen[id] = struct{}{}
	}
	return len(seen)
}

// generation must be called with mu held.
func (c *MemoryCache) generation(recipientID string, now time.Time) int64 {
	gen, ok := c.gens[recipientID]
	if !ok {
		return 0
	}
	if !now.Before(gen.expiresAt) {
		delete(c.gens, recipientID)
		return 0
	}
	return gen.value
}

// sweep must be called with mu held. It runs at most once per ttl.
func (c *MemoryCache) sweep(now time.Time) {
	if now.Before(c.nextSweep) {
		return
	}
	c.nextSweep = now.Add(c.ttl)
	for id, entry := range c.entries {
		if !now.Before(entry.expiresAt) {
			delete(c.entries, id)
		}
	}
	for id, gen := range c.gens {
		if !now.Before(gen.expiresAt) {
			delete(c.gens, id)
		}
	}
}

// Package cache holds resolved setting values keyed by setting key and
// resolution context, with scope-aware invalidation.
package cache

import (
	"sync/atomic"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/confsync/confsync/internal/db/models"
	"github.com/confsync/confsync/internal/resolve"
)

// entryKey addresses one cached resolution.
type entryKey struct {
	Key string
	Ctx resolve.Context
}

// ScopeChange describes a committed override mutation the cache must react
// to. ScopeEntityID is empty for system scope.
type ScopeChange struct {
	Key           string
	Scope         models.Scope
	ScopeEntityID string
}

// Stats is a point-in-time counter snapshot.
type Stats struct {
	Hits   int64
	Misses int64
}

// Cache stores resolved values. Entries are replaced whole on Put, so a
// concurrent Get observes either the previous or the new resolution, never
// a partial one.
type Cache struct {
	entries *ttlcache.Cache[entryKey, resolve.Resolved]

	hits   atomic.Int64
	misses atomic.Int64
}

// New creates a cache with the given default TTL and capacity. A capacity
// of zero means unbounded. The caller owns the returned cache and must
// Close it to stop the expiration loop.
func New(ttl time.Duration, capacity int) *Cache {
	opts := []ttlcache.Option[entryKey, resolve.Resolved]{
		ttlcache.WithTTL[entryKey, resolve.Resolved](ttl),
		ttlcache.WithDisableTouchOnHit[entryKey, resolve.Resolved](),
	}
	if capacity > 0 {
		opts = append(opts, ttlcache.WithCapacity[entryKey, resolve.Resolved](uint64(capacity)))
	}

	c := &Cache{
		entries: ttlcache.New(opts...),
	}
	go c.entries.Start()

	return c
}

// Close stops the cache background goroutine and releases resources.
func (c *Cache) Close() {
	c.entries.Stop()
}

// Get returns the cached resolution for a key in a context.
func (c *Cache) Get(key string, ctx resolve.Context) (resolve.Resolved, bool) {
	item := c.entries.Get(entryKey{Key: key, Ctx: ctx})
	if item == nil {
		c.misses.Add(1)
		observeMiss()
		return resolve.Resolved{}, false
	}

	c.hits.Add(1)
	observeHit()

	return item.Value(), true
}

// Put stores a resolution. A zero ttl uses the cache default.
func (c *Cache) Put(key string, ctx resolve.Context, res resolve.Resolved, ttl time.Duration) {
	if ttl <= 0 {
		ttl = ttlcache.DefaultTTL
	}
	c.entries.Set(entryKey{Key: key, Ctx: ctx}, res, ttl)
}

// Invalidate drops every entry the scope change can have affected and
// returns how many were dropped. A system change hits all contexts of the
// key, a location change all contexts sharing the location, a user change
// only that user's entries.
func (c *Cache) Invalidate(change ScopeChange) int {
	dropped := 0
	for _, k := range c.entries.Keys() {
		if k.Key != change.Key {
			continue
		}
		if !affects(change, k.Ctx) {
			continue
		}
		c.entries.Delete(k)
		dropped++
	}

	return dropped
}

// Clear drops every entry.
func (c *Cache) Clear() {
	c.entries.DeleteAll()
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	return c.entries.Len()
}

// Stats returns the hit and miss counters since construction.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
	}
}

func affects(change ScopeChange, ctx resolve.Context) bool {
	switch change.Scope {
	case models.ScopeSystem:
		return true
	case models.ScopeLocation:
		return ctx.LocationID == change.ScopeEntityID
	case models.ScopeUser:
		return ctx.UserID == change.ScopeEntityID
	}
	return false
}

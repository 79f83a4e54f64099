package cache

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// Cache defines the interface for caching operations
type Cache interface {
	Get(key string) (any, bool)
	Set(key string, value any, ttl time.Duration)
	Delete(key string)
	Items() []any
	Clear()
}

// TTLCache implements Cache with time-to-live support. The console
// uses it as a bounded archive for terminal job records: entries fall
// out on their own once the TTL passes.
type TTLCache struct {
	data *gocache.Cache
}

// New creates a new TTL cache with default cleanup interval
func New(defaultTTL time.Duration) *TTLCache {
	cleanupInterval := defaultTTL * 2
	return &TTLCache{
		data: gocache.New(defaultTTL, cleanupInterval),
	}
}

// Get retrieves a value from the cache
func (c *TTLCache) Get(key string) (any, bool) {
	return c.data.Get(key)
}

// Set stores a value in the cache with the specified TTL
func (c *TTLCache) Set(key string, value any, ttl time.Duration) {
	c.data.Set(key, value, ttl)
}

// Delete removes a value from the cache
func (c *TTLCache) Delete(key string) {
	c.data.Delete(key)
}

// Items returns all non-expired values, in no particular order
func (c *TTLCache) Items() []any {
	items := c.data.Items()
	values := make([]any, 0, len(items))
	for _, item := range items {
		values = append(values, item.Object)
	}
	return values
}

// Clear removes all values from the cache
func (c *TTLCache) Clear() {
	c.data.Flush()
}

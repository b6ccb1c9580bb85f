package cache

import (
	"strconv"
	"sync"
	"time"

	"github.com/metorial/custom-server/internal/metrics"
	"github.com/metorial/custom-server/internal/models"
	"github.com/patrickmn/go-cache"
)

const cacheType = "version"

// Cache keeps immutable version records keyed by custom server and id.
// Only stable identifiers are cached; aliases such as "current" move and
// must always be resolved against the store.
type Cache struct {
	store      *cache.Cache
	mu         sync.RWMutex
	lastUpdate time.Time
}

// NewCache creates a new cache instance
func NewCache(defaultExpiration, cleanupInterval time.Duration) *Cache {
	return &Cache{
		store: cache.New(defaultExpiration, cleanupInterval),
	}
}

func versionKey(customServerOID int64, id string) string {
	return strconv.FormatInt(customServerOID, 10) + ":" + id
}

// SetVersion caches a version under both its id and its version hash.
// IsCurrent is not stored since promotion changes it.
func (c *Cache) SetVersion(customServerOID int64, v *models.CustomServerVersion) {
	if v == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	stored := *v
	stored.IsCurrent = false
	c.store.Set(versionKey(customServerOID, v.ID), &stored, cache.DefaultExpiration)
	c.store.Set(versionKey(customServerOID, v.VersionHash), &stored, cache.DefaultExpiration)
	c.lastUpdate = time.Now()
}

// GetVersion retrieves a cached version by id or version hash.
// The returned value is a copy the caller may modify.
func (c *Cache) GetVersion(customServerOID int64, id string) (*models.CustomServerVersion, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if data, found := c.store.Get(versionKey(customServerOID, id)); found {
		if v, ok := data.(*models.CustomServerVersion); ok {
			metrics.RecordCacheHit(cacheType)
			out := *v
			return &out, true
		}
	}
	metrics.RecordCacheMiss(cacheType)
	return nil, false
}

// Len returns the number of cached entries
func (c *Cache) Len() int {
	return c.store.ItemCount()
}

// GetLastUpdate returns when the cache was last updated
func (c *Cache) GetLastUpdate() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastUpdate
}

// Clear removes all cached data
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.store.Flush()
}

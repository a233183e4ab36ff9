package services

import (
	"sync"
	"time"

	"github.com/fathomdata/fathom-engine/pkg/models"
)

// DefaultProfileCacheTTL bounds how long a cached table profile is served.
// Staleness is purely time-based; no change signal from the source is
// assumed, so a table can change within the TTL window without the cache
// noticing.
const DefaultProfileCacheTTL = 300 * time.Second

type cacheKey struct {
	connectionID string
	tableName    string
}

type cacheEntry struct {
	outcome  models.TableScanOutcome
	cachedAt time.Time
}

// ProfileCache is a TTL cache of table scan outcomes keyed by
// (connection, table). Entries are immutable once written; a refresh writes
// a new entry rather than mutating in place, so concurrent readers never see
// a half-updated outcome.
type ProfileCache struct {
	mu      sync.RWMutex
	entries map[cacheKey]cacheEntry
	ttl     time.Duration

	// now is swappable for tests
	now func() time.Time
}

// NewProfileCache creates a cache with the given TTL.
// A non-positive TTL falls back to the default.
func NewProfileCache(ttl time.Duration) *ProfileCache {
	if ttl <= 0 {
		ttl = DefaultProfileCacheTTL
	}
	return &ProfileCache{
		entries: make(map[cacheKey]cacheEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns the cached outcome for (connectionID, tableName), or false if
// absent or stale. Stale entries are evicted lazily here; an entry at or past
// the TTL is never returned as a hit.
func (c *ProfileCache) Get(connectionID, tableName string) (models.TableScanOutcome, bool) {
	key := cacheKey{connectionID, tableName}

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok {
		return models.TableScanOutcome{}, false
	}

	if c.now().Sub(entry.cachedAt) >= c.ttl {
		c.mu.Lock()
		// Re-check under the write lock; a fresh entry may have raced in
		if current, still := c.entries[key]; still && current.cachedAt.Equal(entry.cachedAt) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return models.TableScanOutcome{}, false
	}

	return entry.outcome, true
}

// Put stores a fresh entry for (connectionID, tableName), replacing any
// previous one.
func (c *ProfileCache) Put(connectionID, tableName string, outcome models.TableScanOutcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[cacheKey{connectionID, tableName}] = cacheEntry{
		outcome:  outcome,
		cachedAt: c.now(),
	}
}

// Invalidate drops every entry for a connection. Called on deregistration so
// a re-registered connection with the same ID starts cold.
func (c *ProfileCache) Invalidate(connectionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		if key.connectionID == connectionID {
			delete(c.entries, key)
		}
	}
}

// Len returns the number of live entries, stale ones included.
func (c *ProfileCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

package cache

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultTTL bounds snapshot staleness when no explicit invalidation fires.
const DefaultTTL = 5 * time.Minute

type entry[V any] struct {
	value    V
	storedAt time.Time
}

// MemoryCache is an in-memory key/value store with a fixed per-instance
// TTL. Expired entries are evicted as a side effect of the read that finds
// them, which keeps the store small without a sweep timer. The last
// expired value per key is parked in a stale slot so consumers can opt
// into stale-but-present reads when a fresh fetch fails.
type MemoryCache[V any] struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]entry[V]
	stale   map[string]entry[V]
	logger  *zap.Logger
	now     func() time.Time
}

// NewMemoryCache creates a cache with the given TTL. A non-positive TTL
// falls back to the default.
func NewMemoryCache[V any](logger *zap.Logger, ttl time.Duration) *MemoryCache[V] {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryCache[V]{
		ttl:     ttl,
		entries: make(map[string]entry[V]),
		stale:   make(map[string]entry[V]),
		logger:  logger,
		now:     time.Now,
	}
}

// Set stores a value, replacing any prior live or stale entry for the key.
func (c *MemoryCache[V]) Set(key string, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry[V]{value: value, storedAt: c.now()}
	delete(c.stale, key)
}

// Get returns the stored value if its age is within the TTL. An expired
// entry counts as absent and is moved to the stale slot on the spot.
func (c *MemoryCache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		var zero V
		return zero, false
	}

	if c.now().Sub(e.storedAt) > c.ttl {
		delete(c.entries, key)
		c.stale[key] = e
		c.logger.Debug("Evicted expired cache entry", zap.String("key", key))
		var zero V
		return zero, false
	}

	return e.value, true
}

// GetStale returns the live value if present, else the last expired value
// for the key. Used for display continuity when the backend is down.
func (c *MemoryCache[V]) GetStale(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// A live entry serves regardless of age here; it is the freshest value
	// known even when it is past TTL and simply unread since expiry.
	if e, ok := c.entries[key]; ok {
		return e.value, true
	}
	if e, ok := c.stale[key]; ok {
		return e.value, true
	}
	var zero V
	return zero, false
}

// Invalidate removes the entry unconditionally, stale slot included.
func (c *MemoryCache[V]) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	delete(c.stale, key)
}

// ClearAll removes every entry; used on sign-out.
func (c *MemoryCache[V]) ClearAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry[V])
	c.stale = make(map[string]entry[V])
}

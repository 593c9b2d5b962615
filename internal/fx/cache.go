// Package fx implements the coordinator's FX rate engine: a TTL cache,
// a concurrent multi-provider median aggregator with a deviation gate, a
// spread gate, and single-use rate-lock tokens.
package fx

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/settlecoord/coordinator/internal/money"
)

// cacheEntry pairs a cached rate with when it was cached and its TTL,
// mirroring internal/core/ledger/manager/cache.go's hit/miss-tracked LRU
// wrapper, generalized from ledger sequence/hash keys to "BASE/QUOTE"
// currency-pair keys.
type cacheEntry struct {
	rate     money.FxRate
	cachedAt time.Time
	ttl      time.Duration
}

func (e cacheEntry) isValid() bool {
	return time.Since(e.cachedAt) < e.ttl && e.rate.IsValid()
}

// RateCacheConfig holds the cache's tunables.
type RateCacheConfig struct {
	DefaultTTL time.Duration
	MaxEntries int
}

// DefaultRateCacheConfig returns the documented defaults: 100ms TTL,
// 10000 max entries.
func DefaultRateCacheConfig() RateCacheConfig {
	return RateCacheConfig{DefaultTTL: 100 * time.Millisecond, MaxEntries: 10000}
}

// RateCache is a TTL-aware cache of FX rates keyed by currency pair.
type RateCache struct {
	mu     sync.RWMutex
	lru    *lru.Cache[string, cacheEntry]
	config RateCacheConfig
	hits   uint64
	misses uint64
}

// NewRateCache constructs a cache honoring config's MaxEntries as the
// underlying LRU capacity. On overflow, InsertWithTTL first evicts
// expired entries; if the cache is still full, the LRU evicts its
// least-recently-used entry.
func NewRateCache(config RateCacheConfig) *RateCache {
	if config.MaxEntries <= 0 {
		config.MaxEntries = DefaultRateCacheConfig().MaxEntries
	}
	if config.DefaultTTL <= 0 {
		config.DefaultTTL = DefaultRateCacheConfig().DefaultTTL
	}
	backing, err := lru.New[string, cacheEntry](config.MaxEntries)
	if err != nil {
		// Only fails for a non-positive size, already guarded above.
		backing, _ = lru.New[string, cacheEntry](DefaultRateCacheConfig().MaxEntries)
	}
	return &RateCache{lru: backing, config: config}
}

func cacheKey(pair money.CurrencyPair) string { return pair.String() }

// Get returns the cached rate for pair iff it is both within its TTL
// window and still within the rate's own validity window; a stale entry
// is evicted on access.
func (c *RateCache) Get(pair money.CurrencyPair) (money.FxRate, bool) {
	key := cacheKey(pair)

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.lru.Get(key)
	if !ok {
		c.misses++
		return money.FxRate{}, false
	}
	if !entry.isValid() {
		c.lru.Remove(key)
		c.misses++
		return money.FxRate{}, false
	}
	c.hits++
	return entry.rate, true
}

// Insert caches rate under its pair with the cache's default TTL.
func (c *RateCache) Insert(rate money.FxRate) {
	c.InsertWithTTL(rate, c.config.DefaultTTL)
}

// InsertWithTTL caches rate under its pair with an explicit TTL.
func (c *RateCache) InsertWithTTL(rate money.FxRate, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := cacheKey(rate.Pair)
	if !c.lru.Contains(key) && c.lru.Len() >= c.config.MaxEntries {
		for _, k := range c.lru.Keys() {
			if entry, ok := c.lru.Peek(k); ok && !entry.isValid() {
				c.lru.Remove(k)
			}
		}
	}
	c.lru.Add(key, cacheEntry{rate: rate, cachedAt: time.Now(), ttl: ttl})
}

// Remove evicts the cached rate for pair, if any.
func (c *RateCache) Remove(pair money.CurrencyPair) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(cacheKey(pair))
}

// Clear empties the cache.
func (c *RateCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
}

// Len returns the number of entries currently cached (valid or not).
func (c *RateCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lru.Len()
}

// EvictExpired removes every entry that is no longer valid.
func (c *RateCache) EvictExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, key := range c.lru.Keys() {
		entry, ok := c.lru.Peek(key)
		if ok && !entry.isValid() {
			c.lru.Remove(key)
		}
	}
}

// Stats reports cache occupancy, split into currently valid vs. expired.
type Stats struct {
	TotalEntries   int
	ValidEntries   int
	ExpiredEntries int
}

func (c *RateCache) StatsSnapshot() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	stats := Stats{TotalEntries: c.lru.Len()}
	for _, key := range c.lru.Keys() {
		entry, ok := c.lru.Peek(key)
		if !ok {
			continue
		}
		if entry.isValid() {
			stats.ValidEntries++
		} else {
			stats.ExpiredEntries++
		}
	}
	return stats
}

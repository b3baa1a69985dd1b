// Package cache implements the Schema Version Cache: a bounded,
// expiring key→value cache backed by a single-flight loader, so
// concurrent misses for the same key invoke the loader exactly once.
package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/nimbusdata/schema-registry/internal/domain"
)

// singleflightFetchTimeout bounds a loader call dispatched on behalf of
// a group of waiters so that one caller's context cancellation does not
// abort the fetch for everyone else still waiting on the result.
const singleflightFetchTimeout = 30 * time.Second

// Loader fetches the SchemaVersionInfo for (name, version) on a cache
// miss. A SchemaNotFound result must not poison subsequent lookups.
type Loader func(ctx context.Context, name string, version int) (*domain.SchemaVersionInfo, error)

type entry struct {
	value     *domain.SchemaVersionInfo
	expiresAt time.Time
}

// VersionCache is the Schema Version Cache described in the write-up:
// size-bounded with time-based expiry, LRU for the size bound, reads
// go through a singleflight.Group so concurrent misses collapse into
// one loader call.
type VersionCache struct {
	mu       sync.Mutex
	entries  map[string]*entry
	order    []string // most-recently-used at the end
	capacity int
	ttl      time.Duration
	now      func() time.Time
	group    singleflight.Group
	load     Loader
}

// Option configures a VersionCache at construction.
type Option func(*VersionCache)

// WithClock overrides the cache's time source, for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(c *VersionCache) { c.now = now }
}

// New builds a VersionCache of the given capacity and TTL, backed by load.
func New(capacity int, ttl time.Duration, load Loader, opts ...Option) *VersionCache {
	c := &VersionCache{
		entries:  make(map[string]*entry),
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
		load:     load,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func key(name string, version int) string {
	return fmt.Sprintf("%s@%d", name, version)
}

// Get returns the cached SchemaVersionInfo for (name, version), loading
// it through the single-flight group on a miss or expiry.
func (c *VersionCache) Get(ctx context.Context, name string, version int) (*domain.SchemaVersionInfo, error) {
	k := key(name, version)

	c.mu.Lock()
	if e, ok := c.entries[k]; ok && c.now().Before(e.expiresAt) {
		c.touch(k)
		c.mu.Unlock()
		return e.value, nil
	}
	c.mu.Unlock()

	result, err, _ := c.group.Do(k, func() (any, error) {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), singleflightFetchTimeout)
		defer cancel()
		v, err := c.load(loadCtx, name, version)
		if err != nil {
			// Loader failures are not cached: return without inserting.
			return nil, err
		}
		c.insert(k, v)
		return v, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*domain.SchemaVersionInfo), nil
}

func (c *VersionCache) insert(k string, v *domain.SchemaVersionInfo) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.evictExpired()
	if _, exists := c.entries[k]; !exists && len(c.entries) >= c.capacity {
		c.evictLRU()
	}

	c.entries[k] = &entry{value: v, expiresAt: c.now().Add(c.ttl)}
	c.touch(k)
}

// touch must be called with mu held; moves k to the most-recently-used
// end of order.
func (c *VersionCache) touch(k string) {
	for i, existing := range c.order {
		if existing == k {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	c.order = append(c.order, k)
}

// evictExpired must be called with mu held.
func (c *VersionCache) evictExpired() {
	now := c.now()
	live := c.order[:0]
	for _, k := range c.order {
		if e, ok := c.entries[k]; ok && now.Before(e.expiresAt) {
			live = append(live, k)
		} else {
			delete(c.entries, k)
		}
	}
	c.order = live
}

// evictLRU must be called with mu held; drops the least-recently-used entry.
func (c *VersionCache) evictLRU() {
	if len(c.order) == 0 {
		return
	}
	oldest := c.order[0]
	c.order = c.order[1:]
	delete(c.entries, oldest)
}

// Size returns the number of live (non-expired) entries.
func (c *VersionCache) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evictExpired()
	return len(c.entries)
}

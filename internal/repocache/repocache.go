// Package repocache provides generic TTL-based caching wrappers for
// repository types, generalizing the map-plus-mutex pattern that used to be
// hand-written once per repository (coupons, products) into a single
// reusable implementation built on top of cacheutil's lock helpers.
package repocache

import (
	"sync"
	"time"

	"github.com/cedrosgw/gateway/internal/cacheutil"
)

// Keyed is a TTL cache keyed by an arbitrary comparable key, e.g. a coupon
// code or a product ID. Zero value is not usable; construct with NewKeyed.
type Keyed[K comparable, V any] struct {
	mu  sync.RWMutex
	ttl time.Duration
	m   map[K]cacheutil.CachedValue[V]
}

// NewKeyed constructs a Keyed cache with the given TTL. A zero TTL disables
// caching: Get always calls fetch and the entry is never stored.
func NewKeyed[K comparable, V any](ttl time.Duration) *Keyed[K, V] {
	return &Keyed[K, V]{
		ttl: ttl,
		m:   make(map[K]cacheutil.CachedValue[V]),
	}
}

// Get returns the cached value for key if present and fresh, otherwise calls
// fetch, stores the result, and returns it. fetch errors are never cached.
func (c *Keyed[K, V]) Get(key K, fetch func() (V, error)) (V, error) {
	if c.ttl == 0 {
		return fetch()
	}

	return cacheutil.ReadThrough(
		&c.mu,
		func(now time.Time) (V, bool) {
			entry, ok := c.m[key]
			if !ok || now.Sub(entry.FetchedAt) >= c.ttl {
				var zero V
				return zero, false
			}
			return entry.Value, true
		},
		func(now time.Time) (V, error) {
			value, err := fetch()
			if err != nil {
				var zero V
				return zero, err
			}
			c.m[key] = cacheutil.CachedValue[V]{Value: value, FetchedAt: now}
			return value, nil
		},
	)
}

// Set seeds the cache with a value obtained outside of Get, e.g. when a bulk
// fetch for one purpose incidentally produces entries for this cache too.
func (c *Keyed[K, V]) Set(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[key] = cacheutil.CachedValue[V]{Value: value, FetchedAt: time.Now()}
}

// Forget removes a single key so the next Get re-fetches it.
func (c *Keyed[K, V]) Forget(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, key)
}

// InvalidateAll clears every cached entry.
func (c *Keyed[K, V]) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m = make(map[K]cacheutil.CachedValue[V])
}

// Single is a TTL cache for one unkeyed value, e.g. a full product list.
type Single[V any] struct {
	mu    sync.RWMutex
	ttl   time.Duration
	value cacheutil.CachedValue[V]
	set   bool
}

// NewSingle constructs a Single cache with the given TTL.
func NewSingle[V any](ttl time.Duration) *Single[V] {
	return &Single[V]{ttl: ttl}
}

// Get returns the cached value if present and fresh, otherwise calls fetch,
// stores the result, and returns it.
func (c *Single[V]) Get(fetch func() (V, error)) (V, error) {
	if c.ttl == 0 {
		return fetch()
	}

	return cacheutil.ReadThrough(
		&c.mu,
		func(now time.Time) (V, bool) {
			if !c.set || now.Sub(c.value.FetchedAt) >= c.ttl {
				var zero V
				return zero, false
			}
			return c.value.Value, true
		},
		func(now time.Time) (V, error) {
			value, err := fetch()
			if err != nil {
				var zero V
				return zero, err
			}
			c.value = cacheutil.CachedValue[V]{Value: value, FetchedAt: now}
			c.set = true
			return value, nil
		},
	)
}

// Invalidate clears the cached value.
func (c *Single[V]) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = cacheutil.CachedValue[V]{}
	c.set = false
}

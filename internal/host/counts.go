package host

import (
	"time"

	"github.com/patrickmn/go-cache"
)

// CountTTL is how long a per-actor pending-update count stays cached
const CountTTL = 12 * time.Hour

// CountCache caches the number of pending updates shown to each actor.
// Reconciliation invalidates every actor at once.
type CountCache struct {
	c *cache.Cache
}

// NewCountCache returns an empty cache
func NewCountCache() *CountCache {
	return &CountCache{c: cache.New(CountTTL, time.Hour)}
}

// Count returns the cached count for actor, computing and storing it on a miss.
func (cc *CountCache) Count(actor string, compute func() (int, error)) (int, error) {
	if n, ok := cc.Get(actor); ok {
		return n, nil
	}
	n, err := compute()
	if err != nil {
		return 0, err
	}
	cc.Set(actor, n)
	return n, nil
}

// Get returns the cached count for actor
func (cc *CountCache) Get(actor string) (int, bool) {
	v, ok := cc.c.Get(actor)
	if !ok {
		return 0, false
	}
	n, ok := v.(int)
	return n, ok
}

// Set stores a count for actor
func (cc *CountCache) Set(actor string, n int) {
	cc.c.Set(actor, n, cache.DefaultExpiration)
}

// Invalidate drops the cached count of one actor
func (cc *CountCache) Invalidate(actor string) {
	cc.c.Delete(actor)
}

// InvalidateAll drops every cached count
func (cc *CountCache) InvalidateAll() {
	cc.c.Flush()
}

// Len returns the number of cached actors
func (cc *CountCache) Len() int {
	return cc.c.ItemCount()
}

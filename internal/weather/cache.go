package weather

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Cached memoizes successful lookups per normalized location for ttl and
// coalesces concurrent lookups of the same location into one provider call.
type Cached struct {
	next Provider
	ttl  time.Duration
	now  func() time.Time

	group singleflight.Group

	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	cond    Conditions
	expires time.Time
}

// NewCached caches next for ttl per location. ttl <= 0 disables caching.
func NewCached(next Provider, ttl time.Duration) *Cached {
	return &Cached{next: next, ttl: ttl, now: time.Now, entries: map[string]cacheEntry{}}
}

func cacheKey(location string) string {
	return strings.ToLower(strings.Join(strings.Fields(location), " "))
}

func (c *Cached) Current(ctx context.Context, location string) (Conditions, error) {
	if c.ttl <= 0 {
		return c.next.Current(ctx, location)
	}
	key := cacheKey(location)

	c.mu.Lock()
	e, ok := c.entries[key]
	c.mu.Unlock()
	if ok && c.now().Before(e.expires) {
		return e.cond, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		cond, err := c.next.Current(ctx, location)
		if err != nil {
			return Conditions{}, err
		}
		c.mu.Lock()
		c.entries[key] = cacheEntry{cond: cond, expires: c.now().Add(c.ttl)}
		c.mu.Unlock()
		return cond, nil
	})
	if err != nil {
		return Conditions{}, err
	}
	return v.(Conditions), nil
}

// Prune drops expired entries.
func (c *Cached) Prune() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, e := range c.entries {
		if !now.Before(e.expires) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

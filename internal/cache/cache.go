// Package cache provides the shared record cache used by every fetcher: a
// TTL store whose loads are de-duplicated per key.
package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

const maxJoinAttempts = 3

// Loader produces the value for a key. The context it receives belongs to
// the shared flight, not to any single caller.
type Loader func(ctx context.Context) (any, error)

// Observer receives cache lookups for metrics.
type Observer interface {
	CacheRequest(result string)
}

type entry struct {
	value     any
	expiresAt time.Time
}

// flight tracks the callers waiting on one in-flight load. The load is
// cancelled once every waiter has left.
type flight struct {
	ctx    context.Context
	cancel context.CancelFunc
	refs   int
}

// Options configures a Cache.
type Options struct {
	MaxEntries int
	Logger     zerolog.Logger
	Observer   Observer
}

// Stats is a point-in-time view of cache activity.
type Stats struct {
	Entries int    `json:"entries"`
	Hits    uint64 `json:"hits"`
	Misses  uint64 `json:"misses"`
	Shared  uint64 `json:"shared"`
	Loads   uint64 `json:"loads"`
	Errors  uint64 `json:"errors"`
}

// Cache is an in-memory TTL cache with single-flight loading.
type Cache struct {
	mu      sync.Mutex
	entries map[string]entry
	flights map[string]*flight
	group   singleflight.Group

	maxEntries int
	log        zerolog.Logger
	observer   Observer
	now        func() time.Time

	hits, misses, shared, loads, errs atomic.Uint64
}

func New(opts Options) *Cache {
	return &Cache{
		entries:    make(map[string]entry),
		flights:    make(map[string]*flight),
		maxEntries: opts.MaxEntries,
		log:        opts.Logger.With().Str("component", "cache").Logger(),
		observer:   opts.Observer,
		now:        time.Now,
	}
}

// GetOrLoad returns the unexpired value stored under key, or runs load and
// stores its result for ttl. Concurrent callers for the same key share one
// load. Failed loads are not cached.
func (c *Cache) GetOrLoad(ctx context.Context, key string, ttl time.Duration, load Loader) (any, error) {
	if v, ok := c.lookup(key); ok {
		c.hits.Add(1)
		c.observe("hit")
		return v, nil
	}
	c.misses.Add(1)

	// A caller can attach to a load whose waiters all left just before it
	// arrived. That load was cancelled, so wait for it to finish and start
	// a fresh one. Only one loader per key ever runs at a time.
	var (
		v      any
		shared bool
		err    error
	)
	for attempt := 0; attempt < maxJoinAttempts; attempt++ {
		v, shared, err = c.wait(ctx, key, ttl, load)
		if err == nil || !errors.Is(err, context.Canceled) || ctx.Err() != nil {
			break
		}
	}
	if shared {
		c.shared.Add(1)
		c.observe("shared")
	} else {
		c.observe("miss")
	}
	if err != nil {
		c.errs.Add(1)
	}
	return v, err
}

func (c *Cache) wait(ctx context.Context, key string, ttl time.Duration, load Loader) (any, bool, error) {
	f := c.join(key)
	defer c.leave(key, f)

	ch := c.group.DoChan(key, func() (any, error) {
		if v, ok := c.lookup(key); ok {
			return v, nil
		}
		c.loads.Add(1)
		v, err := load(f.ctx)
		if err != nil {
			c.log.Debug().Err(err).Str("key", key).Msg("load failed")
			return nil, err
		}
		c.store(key, v, ttl)
		return v, nil
	})

	select {
	case res := <-ch:
		return res.Val, res.Shared, res.Err
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

func (c *Cache) join(key string) *flight {
	c.mu.Lock()
	defer c.mu.Unlock()
	f, ok := c.flights[key]
	if !ok {
		ctx, cancel := context.WithCancel(context.Background())
		f = &flight{ctx: ctx, cancel: cancel}
		c.flights[key] = f
	}
	f.refs++
	return f
}

func (c *Cache) leave(key string, f *flight) {
	c.mu.Lock()
	defer c.mu.Unlock()
	f.refs--
	if f.refs > 0 {
		return
	}
	f.cancel()
	if c.flights[key] == f {
		delete(c.flights, key)
	}
}

func (c *Cache) lookup(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if !c.now().Before(e.expiresAt) {
		delete(c.entries, key)
		return nil, false
	}
	return e.value, true
}

func (c *Cache) store(key string, v any, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if _, exists := c.entries[key]; !exists && c.maxEntries > 0 && len(c.entries) >= c.maxEntries {
		c.evictLocked(now)
	}
	c.entries[key] = entry{value: v, expiresAt: now.Add(ttl)}
}

// evictLocked drops expired entries, or failing that the entry closest to
// expiry.
func (c *Cache) evictLocked(now time.Time) {
	removed := 0
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
			removed++
		}
	}
	if removed > 0 {
		return
	}
	var victim string
	var soonest time.Time
	for k, e := range c.entries {
		if victim == "" || e.expiresAt.Before(soonest) {
			victim, soonest = k, e.expiresAt
		}
	}
	if victim != "" {
		delete(c.entries, victim)
	}
}

// Invalidate removes key immediately, regardless of TTL. An in-flight load
// for the key is not interrupted.
func (c *Cache) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
}

// Sweep removes every expired entry and returns how many were dropped.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	n := 0
	for k, e := range c.entries {
		if !now.Before(e.expiresAt) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

func (c *Cache) Stats() Stats {
	c.mu.Lock()
	n := len(c.entries)
	c.mu.Unlock()
	return Stats{
		Entries: n,
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Shared:  c.shared.Load(),
		Loads:   c.loads.Load(),
		Errors:  c.errs.Load(),
	}
}

func (c *Cache) observe(result string) {
	if c.observer != nil {
		c.observer.CacheRequest(result)
	}
}

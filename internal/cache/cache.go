// Package cache provides an in-memory key/value store with per-entry TTL.
package cache

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultCleanupEvery is how often the janitor sweeps expired entries.
const DefaultCleanupEvery = 5 * time.Minute

type entry[V any] struct {
	value     V
	createdAt time.Time
	expiresAt time.Time
}

func (e *entry[V]) expired(now time.Time) bool {
	return now.After(e.expiresAt)
}

// Stats is a point-in-time count of entries.
type Stats struct {
	Total   int `json:"total"`
	Valid   int `json:"valid"`
	Expired int `json:"expired"`
}

// Cache is a mutex-guarded TTL map. Expired entries are removed lazily on
// read and eagerly by Cleanup.
type Cache[V any] struct {
	mu    sync.Mutex
	items map[string]*entry[V]
	now   func() time.Time
}

// Option configures a Cache.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock replaces time.Now (used in tests).
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New returns an empty cache.
func New[V any](opts ...Option) *Cache[V] {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return &Cache[V]{items: make(map[string]*entry[V]), now: o.now}
}

// lookup returns the live entry for key, deleting it if it has expired.
// Caller must hold c.mu.
func (c *Cache[V]) lookup(key string) (*entry[V], bool) {
	e, ok := c.items[key]
	if !ok {
		return nil, false
	}
	if e.expired(c.now()) {
		delete(c.items, key)
		return nil, false
	}
	return e, true
}

// Get returns the value for key. An expired entry is deleted and reported
// as a miss.
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lookup(key)
	if !ok {
		var zero V
		return zero, false
	}
	return e.value, true
}

// GetWithAge is Get plus the time the value was stored and when it expires.
func (c *Cache[V]) GetWithAge(key string) (v V, createdAt, expiresAt time.Time, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, found := c.lookup(key)
	if !found {
		return v, createdAt, expiresAt, false
	}
	return e.value, e.createdAt, e.expiresAt, true
}

// Set stores value under key for ttl.
func (c *Cache[V]) Set(key string, value V, ttl time.Duration) {
	c.store(key, value, ttl)
}

func (c *Cache[V]) store(key string, value V, ttl time.Duration) *entry[V] {
	now := c.now()
	e := &entry[V]{value: value, createdAt: now, expiresAt: now.Add(ttl)}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.items[key] = e
	return e
}

// Has reports whether key holds a live value, evicting it if expired.
func (c *Cache[V]) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.lookup(key)
	return ok
}

// Delete removes key and reports whether it was present.
func (c *Cache[V]) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.items[key]
	delete(c.items, key)
	return ok
}

// Clear removes every entry.
func (c *Cache[V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = make(map[string]*entry[V])
}

// Invalidate removes every key containing pattern and returns how many were
// removed.
func (c *Cache[V]) Invalidate(pattern string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for k := range c.items {
		if strings.Contains(k, pattern) {
			delete(c.items, k)
			n++
		}
	}
	return n
}

// Cleanup removes every expired entry and returns how many were removed.
func (c *Cache[V]) Cleanup() int {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for k, e := range c.items {
		if e.expired(now) {
			delete(c.items, k)
			n++
		}
	}
	return n
}

// Stats counts live and expired entries without evicting anything.
func (c *Cache[V]) Stats() Stats {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{Total: len(c.items)}
	for _, e := range c.items {
		if e.expired(now) {
			s.Expired++
		} else {
			s.Valid++
		}
	}
	return s
}

// Item is a value with the lifetime of the entry that holds it.
type Item[V any] struct {
	Value     V
	CreatedAt time.Time
	ExpiresAt time.Time
}

// GetOrSet returns the cached value for key, or calls supply, stores its
// result for ttl and returns it. A supply error is returned and nothing is
// stored.
//
// Concurrent misses on the same key each call supply; the last one to finish
// wins. The lock is not held while supply runs.
func (c *Cache[V]) GetOrSet(key string, supply func() (V, error), ttl time.Duration) (V, error) {
	it, _, err := c.GetOrSetWithAge(key, supply, ttl)
	return it.Value, err
}

// GetOrSetWithAge is GetOrSet returning the lifetime of the entry the value
// came from, read together with the value. hit is false when supply ran.
func (c *Cache[V]) GetOrSetWithAge(key string, supply func() (V, error), ttl time.Duration) (it Item[V], hit bool, err error) {
	if v, created, expires, ok := c.GetWithAge(key); ok {
		return Item[V]{Value: v, CreatedAt: created, ExpiresAt: expires}, true, nil
	}

	v, err := supply()
	if err != nil {
		return Item[V]{}, false, err
	}
	e := c.store(key, v, ttl)
	return Item[V]{Value: e.value, CreatedAt: e.createdAt, ExpiresAt: e.expiresAt}, false, nil
}

// StartJanitor runs Cleanup every interval until ctx is cancelled. Sweep
// results are logged at most once per hour.
func (c *Cache[V]) StartJanitor(ctx context.Context, every time.Duration, log *slog.Logger) {
	if every <= 0 {
		return
	}

	report := rate.Sometimes{Interval: time.Hour}
	t := time.NewTicker(every)
	go func() {
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				removed := c.Cleanup()
				if log != nil {
					report.Do(func() {
						s := c.Stats()
						log.Info("cache sweep", "removed", removed, "entries", s.Total)
					})
				}
			}
		}
	}()
}

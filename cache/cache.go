// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const DefaultTTL = 30 * time.Second

// DefaultFetchTimeout bounds one shared fetch.
const DefaultFetchTimeout = 15 * time.Second

var (
	ErrNoFetcher = errors.New("cache: no fetcher registered for key")
	ErrClosed    = errors.New("cache: closed")
	// ErrStale is returned when the cache was reset while a fetch ran.
	ErrStale = errors.New("cache: response discarded after reset")
)

// Fetcher loads the authoritative value for one key.
type Fetcher func(ctx context.Context) (any, error)

type entry struct {
	value     any
	fetchedAt time.Time
	epoch     uint64
	stale     bool
}

// Cache holds server aggregates by key. Values are only ever replaced by
// a fetch; Invalidate marks keys stale and refetches the registered ones
// in the background.
type Cache struct {
	mu       sync.Mutex
	entries  map[string]*entry
	fetchers map[string]Fetcher
	epochs   map[string]uint64
	gen      uint64
	closed   bool

	group        singleflight.Group
	ttl          time.Duration
	fetchTimeout time.Duration
	now          func() time.Time
	logger       *slog.Logger
	onUpdate     func(key string)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type Option func(*Cache)

func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) { c.ttl = ttl }
}

// WithFetchTimeout bounds each fetch independently of the callers waiting
// on it.
func WithFetchTimeout(d time.Duration) Option {
	return func(c *Cache) { c.fetchTimeout = d }
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// WithOnUpdate is called after a fetched value is stored.
func WithOnUpdate(fn func(key string)) Option {
	return func(c *Cache) { c.onUpdate = fn }
}

func withClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

func New(opts ...Option) *Cache {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Cache{
		entries:  make(map[string]*entry),
		fetchers: make(map[string]Fetcher),
		epochs:   make(map[string]uint64),
		ttl:          DefaultTTL,
		fetchTimeout: DefaultFetchTimeout,
		now:          time.Now,
		logger:       slog.Default(),
		ctx:          ctx,
		cancel:       cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register binds a fetcher to key, replacing any previous one.
func (c *Cache) Register(key string, f Fetcher) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetchers[key] = f
}

// Unregister drops the fetcher and cached value for key.
func (c *Cache) Unregister(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.fetchers, key)
	delete(c.entries, key)
}

// Keys returns the registered keys.
func (c *Cache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.fetchers))
	for k := range c.fetchers {
		keys = append(keys, k)
	}
	return keys
}

// Peek returns the cached value without fetching. ok is false when the
// key has never been fetched.
func (c *Cache) Peek(key string) (value any, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	return e.value, true
}

// Get returns a fresh value, fetching when the entry is missing, stale or
// older than the TTL. Concurrent Gets for one key share a single fetch.
func (c *Cache) Get(ctx context.Context, key string) (any, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if e, ok := c.entries[key]; ok && !e.stale && c.now().Sub(e.fetchedAt) < c.ttl {
		v := e.value
		c.mu.Unlock()
		return v, nil
	}
	c.mu.Unlock()
	return c.fetch(ctx, key)
}

func (c *Cache) fetch(ctx context.Context, key string) (any, error) {
	c.mu.Lock()
	f, ok := c.fetchers[key]
	gen, epoch := c.gen, c.epochs[key]
	c.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoFetcher, key)
	}

	// The shared fetch outlives any one caller; each caller only stops
	// waiting on its own ctx.
	flightKey := fmt.Sprintf("%s#%d#%d", key, gen, epoch)
	ch := c.group.DoChan(flightKey, func() (any, error) {
		return c.load(key, f, gen, epoch)
	})

	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// load runs f on the cache context and stores the result unless the
// cache was reset or closed meanwhile.
func (c *Cache) load(key string, f Fetcher, gen, epoch uint64) (any, error) {
	ctx, cancel := context.WithTimeout(c.ctx, c.fetchTimeout)
	defer cancel()

	v, err := f(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.closed || c.gen != gen {
		c.mu.Unlock()
		return nil, ErrStale
	}
	if e, ok := c.entries[key]; ok && e.epoch > epoch {
		// A fetch started after ours already landed.
		c.mu.Unlock()
		return v, nil
	}
	c.entries[key] = &entry{
		value:     v,
		fetchedAt: c.now(),
		epoch:     epoch,
		// An invalidation that arrived mid-flight leaves the entry stale.
		stale: c.epochs[key] != epoch,
	}
	c.mu.Unlock()

	if c.onUpdate != nil {
		c.onUpdate(key)
	}
	return v, nil
}

// Invalidate marks keys stale and refetches those with a fetcher.
func (c *Cache) Invalidate(keys ...string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	var refetch []string
	for _, key := range keys {
		c.epochs[key]++
		if e, ok := c.entries[key]; ok {
			e.stale = true
		}
		if _, ok := c.fetchers[key]; ok {
			refetch = append(refetch, key)
		}
	}
	c.mu.Unlock()

	for _, key := range refetch {
		c.refetchAsync(key)
	}
}

// Refresh refetches every registered key in the background.
func (c *Cache) Refresh() {
	for _, key := range c.Keys() {
		c.refetchAsync(key)
	}
}

func (c *Cache) refetchAsync(key string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		if _, err := c.fetch(c.ctx, key); err != nil && !errors.Is(err, ErrStale) && !errors.Is(err, context.Canceled) {
			c.logger.Warn("refetch failed", "key", key, "error", err)
		}
	}()
}

// Reset drops every cached value. Fetches already running are discarded
// when they return.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	clear(c.entries)
}

// Close discards in-flight fetches and waits for background refetches.
func (c *Cache) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.gen++
	clear(c.entries)
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()
}

// GetAs is Get with a type assertion.
func GetAs[T any](ctx context.Context, c *Cache, key string) (T, error) {
	var zero T
	v, err := c.Get(ctx, key)
	if err != nil {
		return zero, err
	}
	t, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("cache: key %s holds %T", key, v)
	}
	return t, nil
}

// Package cache provides a get-or-compute cache that runs at most one
// computation per key at a time.
//
// Concurrent callers for the same key join the in-flight computation and all
// observe its result, success or error. Failed computations are not stored, so
// a later call retries. Computations are detached from the cancellation of the
// caller that started them: a caller whose context ends stops waiting, but the
// computation keeps running for everyone else still waiting on the key.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"chatcompose/internal/logging"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ComputeFunc produces the value for a key on a cache miss.
type ComputeFunc[V any] func(ctx context.Context) (V, error)

// Options configures a Cache.
type Options struct {
	// MaxEntries bounds the number of stored values. Oldest insertions are
	// evicted first. Zero means unbounded.
	MaxEntries int

	// ComputeTimeout bounds a single detached computation. Zero means no bound.
	ComputeTimeout time.Duration
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Hits         int64
	Misses       int64
	Computations int64
	Failures     int64
	Entries      int
}

// Cache is a string-keyed get-or-compute cache. The zero value is not usable;
// construct with New. A Cache is safe for concurrent use.
type Cache[V any] struct {
	name string
	opts Options

	group singleflight.Group

	mu      sync.RWMutex
	entries map[string]V
	order   []string

	hits         atomic.Int64
	misses       atomic.Int64
	computations atomic.Int64
	failures     atomic.Int64
}

// New creates an empty cache. The name is used in logs and errors.
func New[V any](name string, opts Options) *Cache[V] {
	return &Cache[V]{
		name:    name,
		opts:    opts,
		entries: make(map[string]V),
	}
}

// Name returns the cache name.
func (c *Cache[V]) Name() string {
	return c.name
}

// GetOrCompute returns the cached value for key, or runs compute once for all
// concurrent callers of the same key and caches a successful result.
func (c *Cache[V]) GetOrCompute(ctx context.Context, key string, compute ComputeFunc[V]) (V, error) {
	if v, ok := c.lookup(key); ok {
		c.hits.Add(1)
		return v, nil
	}
	c.misses.Add(1)

	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		// A computation that finished between our lookup and joining the
		// group has already stored its value.
		if v, ok := c.lookup(key); ok {
			return v, nil
		}
		return c.run(detached, key, compute)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			var zero V
			return zero, res.Err
		}
		return res.Val.(V), nil
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}

func (c *Cache[V]) run(ctx context.Context, key string, compute ComputeFunc[V]) (v V, err error) {
	c.computations.Add(1)
	log := logging.Get(logging.CategoryCache)
	log.Debug("cache miss, computing", zap.String("cache", c.name), zap.String("key", shortKey(key)))

	if c.opts.ComputeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.ComputeTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cache %s: computation panicked: %v", c.name, r)
		}
		if err != nil {
			c.failures.Add(1)
			log.Debug("cache computation failed", zap.String("cache", c.name), zap.String("key", shortKey(key)), zap.Error(err))
		}
	}()

	v, err = compute(ctx)
	if err != nil {
		return v, err
	}
	c.store(key, v)
	return v, nil
}

// Get returns a cached value without computing.
func (c *Cache[V]) Get(key string) (V, bool) {
	return c.lookup(key)
}

// Forget drops a stored value. An in-flight computation is not affected.
func (c *Cache[V]) Forget(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; !ok {
		return
	}
	delete(c.entries, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// Purge drops every stored value.
func (c *Cache[V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]V)
	c.order = nil
}

// Stats returns a snapshot of the cache counters.
func (c *Cache[V]) Stats() Stats {
	c.mu.RLock()
	n := len(c.entries)
	c.mu.RUnlock()
	return Stats{
		Hits:         c.hits.Load(),
		Misses:       c.misses.Load(),
		Computations: c.computations.Load(),
		Failures:     c.failures.Load(),
		Entries:      n,
	}
}

func (c *Cache[V]) lookup(key string) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[key]
	return v, ok
}

func (c *Cache[V]) store(key string, v V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[key]; !exists {
		c.order = append(c.order, key)
	}
	c.entries[key] = v
	if c.opts.MaxEntries > 0 {
		for len(c.order) > c.opts.MaxEntries {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.entries, oldest)
		}
	}
}

// HashKey returns a stable fixed-size key for arbitrarily large text.
func HashKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func shortKey(key string) string {
	if len(key) > 16 {
		return key[:16]
	}
	return key
}

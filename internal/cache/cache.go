// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Flow Contributors

// Package cache provides a small in-memory TTL cache whose refreshes are
// collapsed per key.
package cache

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/flowscripts/flow/internal/observability"
)

type entry[T any] struct {
	value    T
	storedAt time.Time
	ttl      time.Duration
}

// Cache holds values of type T. Each entry carries its own TTL, by default
// the one the cache was created with, and is fresh while less than that
// TTL has elapsed since it was stored.
type Cache[T any] struct {
	name    string
	ttl     time.Duration
	now     func() time.Time
	metrics *observability.Metrics

	mu      sync.Mutex
	entries map[string]entry[T]
	group   singleflight.Group
}

type settings struct {
	now     func() time.Time
	metrics *observability.Metrics
}

// Option configures a Cache.
type Option func(*settings)

// WithClock overrides the clock used for freshness checks.
func WithClock(now func() time.Time) Option {
	return func(s *settings) { s.now = now }
}

// WithMetrics records hits and misses under the cache name.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *settings) { s.metrics = m }
}

// New creates a cache. name labels the cache in metrics.
func New[T any](name string, ttl time.Duration, opts ...Option) *Cache[T] {
	s := settings{now: time.Now}
	for _, opt := range opts {
		opt(&s)
	}
	return &Cache[T]{
		name:    name,
		ttl:     ttl,
		now:     s.now,
		metrics: s.metrics,
		entries: make(map[string]entry[T]),
	}
}

// TTL returns the default freshness window.
func (c *Cache[T]) TTL() time.Duration {
	return c.ttl
}

// Get returns the fresh value for key. Stale entries are evicted.
func (c *Cache[T]) Get(key string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if ok && c.now().Sub(e.storedAt) < e.ttl {
		return e.value, true
	}
	if ok {
		delete(c.entries, key)
	}
	var zero T
	return zero, false
}

// Put stores value under key with the default TTL.
func (c *Cache[T]) Put(key string, value T) {
	c.PutWithTTL(key, value, c.ttl)
}

// PutWithTTL stores value under key, fresh for ttl from now. A
// non-positive ttl stores nothing and drops any existing entry.
func (c *Cache[T]) PutWithTTL(key string, value T, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ttl <= 0 {
		delete(c.entries, key)
		return
	}
	c.entries[key] = entry[T]{value: value, storedAt: c.now(), ttl: ttl}
}

// Invalidate drops key.
func (c *Cache[T]) Invalidate(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Fetcher produces a fresh value.
type Fetcher[T any] func(ctx context.Context) (T, error)

// GetOrFetch returns the fresh value for key, or calls fetch and caches its
// result. Concurrent misses for one key share a single fetch. Errors are
// returned to every waiter and never cached. hit reports whether the value
// came from the cache.
//
// The shared fetch is detached from the caller's cancellation; a caller
// whose ctx ends stops waiting but the fetch completes for the others.
func (c *Cache[T]) GetOrFetch(ctx context.Context, key string, fetch Fetcher[T]) (value T, hit bool, err error) {
	if v, ok := c.Get(key); ok {
		c.metrics.RecordCacheLookup(c.name, true)
		return v, true, nil
	}
	c.metrics.RecordCacheLookup(c.name, false)

	fetchCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		// Another flight may have filled the entry while this one queued.
		if v, ok := c.Get(key); ok {
			return v, nil
		}
		v, err := fetch(fetchCtx)
		if err != nil {
			return v, err
		}
		c.Put(key, v)
		return v, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			var zero T
			return zero, false, res.Err
		}
		return res.Val.(T), false, nil //nolint:forcetypeassert // only T is ever stored
	case <-ctx.Done():
		var zero T
		return zero, false, ctx.Err()
	}
}

// Copyright (c) 2025 Daniel Kuo.
// Source-available; no permission granted to use, copy, modify, or distribute. See LICENSE.

/*
Package cache is a keyed TTL cache for server aggregates with manual
invalidation.

A view registers one fetcher per key, reads through Get and lets stream
events call Invalidate. Values are never patched from event payloads:

	c := cache.New(cache.WithTTL(30 * time.Second))
	c.Register(cache.QuorumKey(id), fetchQuorum)
	snap, err := cache.GetAs[models.QuorumSnapshot](ctx, c, cache.QuorumKey(id))
	c.Invalidate(cache.QuorumKey(id)) // marks stale, refetches in background

Fetches are shared per key (golang.org/x/sync/singleflight). Reset and
Close bump a generation so responses from older fetches are dropped.
*/
package cache

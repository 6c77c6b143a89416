/************************************************************************************
 *
 * perch, a minimal Go client for the Discord gateway
 *
 * SPDX-License-Identifier: BSD-3-Clause
 *
 ************************************************************************************/

package perch

import (
	"strconv"
	"strings"
	"sync"
	"time"
)

// bucketKey identifies a rate-limit bucket by the triple Discord actually
// partitions buckets on: the bot token, the bucket id Discord assigned to
// the route template, and the major parameter (guild/channel/webhook id)
// that further splits a shared bucket id per resource.
//
// Lookups and inserts use the same key form: buildBucketKey concatenates
// the three parts into one string, so every Check allocates that string.
// There is no separate borrowed key for lookups.
type bucketKey = string

func buildBucketKey(token, bucket, major string) bucketKey {
	if major == "" {
		return token + "\x00" + bucket
	}
	return token + "\x00" + bucket + "\x00" + major
}

// Bucket is the rate-limit state Discord hands back for a route, carried in
// the x-ratelimit-* response headers (spec.md §6.4).
type Bucket struct {
	mu sync.Mutex

	ID        string
	Limit     int
	Remaining int
	Reset     time.Time
}

// newBucketFromHeaders builds a Bucket from a response's rate-limit
// headers. It returns ok=false when the bucket id header is absent (routes
// exempt from per-route limits, e.g. some interaction callbacks).
func newBucketFromHeaders(h headerGetter) (b *Bucket, ok bool) {
	id := h.Get("x-ratelimit-bucket")
	if id == "" {
		return nil, false
	}

	limit, _ := strconv.Atoi(h.Get("x-ratelimit-limit"))
	remaining, _ := strconv.Atoi(h.Get("x-ratelimit-remaining"))

	var reset time.Time
	if raw := h.Get("x-ratelimit-reset"); raw != "" {
		reset = parseEpochSeconds(raw)
	}

	return &Bucket{ID: id, Limit: limit, Remaining: remaining, Reset: reset}, true
}

// headerGetter is the minimal surface ratelimit.go needs from an
// http.Header, so this file has no direct net/http import.
type headerGetter interface {
	Get(key string) string
}

func parseEpochSeconds(raw string) time.Time {
	secs, frac, _ := strings.Cut(raw, ".")
	s, err := strconv.ParseInt(secs, 10, 64)
	if err != nil {
		return time.Time{}
	}
	var nanos int64
	if frac != "" {
		if f, err := strconv.ParseInt(frac, 10, 64); err == nil {
			for i := len(frac); i < 9; i++ {
				f *= 10
			}
			nanos = f
		}
	}
	return time.Unix(s, nanos)
}

func (b *Bucket) update(fresh *Bucket) {
	b.mu.Lock()
	b.ID = fresh.ID
	b.Limit = fresh.Limit
	b.Remaining = fresh.Remaining
	b.Reset = fresh.Reset
	b.mu.Unlock()
}

// denyUntil reports whether the bucket is currently exhausted, and if so,
// the time a caller must wait until. Call with the bucket's own lock held
// by the caller, as Check does — denyUntil itself is side-effect free.
func (b *Bucket) denyUntil(now time.Time) (time.Time, bool) {
	if b.Remaining > 0 {
		return time.Time{}, false
	}
	if !now.Before(b.Reset) {
		return time.Time{}, false
	}
	return b.Reset, true
}

// RateLimitCoordinator is the process-wide rate-limit bucket cache (C1). It
// is shared by every shard's REST calls and the HTTP Gate's own retry loop.
//
// Grounded in original_source/src/http/rate_limit.rs's BUCKETS map and
// Key<'a>/Bucket types, rewritten onto a ShardMap (goda's shardmap.go)
// instead of a single futures::lock::Mutex-guarded HashMap, so lookups for
// unrelated routes never contend on one lock the way a single-process Rust
// async mutex would serialize them.
type RateLimitCoordinator struct {
	buckets *ShardMap[bucketKey, *Bucket]

	globalMu    sync.Mutex
	globalUntil time.Time
}

// NewRateLimitCoordinator creates an empty coordinator.
func NewRateLimitCoordinator() *RateLimitCoordinator {
	return &RateLimitCoordinator{
		buckets: NewStringShardMap[*Bucket](),
	}
}

// Check reports whether a request against (token, routeHint, major) would
// currently be denied without reaching the network, and if so, until when.
// routeHint is the last-seen bucket id for this route template (spec.md §9
// design note): before any response has been seen for a route, no bucket
// exists yet and Check always allows the call through.
func (c *RateLimitCoordinator) Check(token, routeHint, major string) (wait time.Time, limited bool) {
	now := time.Now()

	c.globalMu.Lock()
	if now.Before(c.globalUntil) {
		wait = c.globalUntil
		limited = true
	}
	c.globalMu.Unlock()
	if limited {
		return wait, true
	}

	if routeHint == "" {
		return time.Time{}, false
	}
	key := buildBucketKey(token, routeHint, major)
	b, ok := c.buckets.Get(key)
	if !ok {
		return time.Time{}, false
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.denyUntil(now)
}

// Record stores the bucket state observed in a response's headers against
// (token, bucket-id, major). Discord only reveals a route's bucket id on
// the first response for that route, so a caller discovers routeHint from
// the previous Record call's returned id.
func (c *RateLimitCoordinator) Record(token, major string, h headerGetter) (bucketID string) {
	fresh, ok := newBucketFromHeaders(h)
	if !ok {
		return ""
	}

	key := buildBucketKey(token, fresh.ID, major)
	existing, loaded := c.buckets.GetOrSet(key, fresh)
	if loaded {
		existing.update(fresh)
	}
	return fresh.ID
}

// RecordGlobal marks the global rate limit as active until the given time,
// keeping only the latest (furthest-out) deadline under concurrent writers.
func (c *RateLimitCoordinator) RecordGlobal(until time.Time) {
	c.globalMu.Lock()
	if until.After(c.globalUntil) {
		c.globalUntil = until
	}
	c.globalMu.Unlock()
}

// EvictExpired drops every bucket whose reset time has already passed, the
// same sweep original_source/src/http/rate_limit.rs's collect_outdated_buckets
// performs over its BUCKETS map, just run per-shard instead of under one
// global lock.
func (c *RateLimitCoordinator) EvictExpired() (removed int) {
	now := time.Now()
	var stale []bucketKey
	c.buckets.Range(func(k bucketKey, b *Bucket) bool {
		b.mu.Lock()
		expired := !b.Reset.IsZero() && b.Reset.Before(now)
		b.mu.Unlock()
		if expired {
			stale = append(stale, k)
		}
		return true
	})
	for _, k := range stale {
		if c.buckets.Delete(k) {
			removed++
		}
	}
	return removed
}

// RunEvictionLoop periodically sweeps expired buckets until stop is closed.
func (c *RateLimitCoordinator) RunEvictionLoop(interval time.Duration, logger Logger, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := c.EvictExpired(); n > 0 && logger != nil {
				logger.Debug("rate-limit coordinator: evicted expired buckets")
			}
		case <-stop:
			return
		}
	}
}

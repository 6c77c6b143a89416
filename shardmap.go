/************************************************************************************
 *
 * perch, a minimal Go client for the Discord gateway
 *
 * SPDX-License-Identifier: BSD-3-Clause
 *
 ************************************************************************************/

package perch

import (
	"sync"
)

// mapShardCount is the number of partitions in a ShardMap. 256 keeps lock
// contention low across many concurrently in-flight HTTP requests sharing
// one rate-limit coordinator, without the bookkeeping cost of a partition
// per route.
const mapShardCount = 256

// mapShard is a single partition of a ShardMap, independently locked.
type mapShard[K comparable, V any] struct {
	mu   sync.RWMutex
	data map[K]V
}

// ShardMap is a concurrent map using 256-way sharding. The rate-limit
// coordinator (C1) uses one of these, keyed by (token, bucket id, major
// parameter), so that lookups
// for unrelated routes never contend on the same lock.
type ShardMap[K comparable, V any] struct {
	shards [mapShardCount]mapShard[K, V]
	hasher func(K) uint8
}

// NewShardMap creates a ShardMap with the given hash function. The hash
// function should distribute keys evenly across 0-255.
func NewShardMap[K comparable, V any](hasher func(K) uint8) *ShardMap[K, V] {
	m := &ShardMap[K, V]{hasher: hasher}
	for i := range m.shards {
		m.shards[i].data = make(map[K]V)
	}
	return m
}

// NewStringShardMap creates a ShardMap keyed by string, using an FNV-1a byte
// fold for distribution. The rate-limit coordinator uses this for its
// bucket cache, keyed by token, bucket id and major parameter joined with
// NUL bytes (see buildBucketKey).
func NewStringShardMap[V any]() *ShardMap[string, V] {
	return NewShardMap[string, V](func(k string) uint8 {
		var h uint32 = 2166136261
		for i := 0; i < len(k); i++ {
			h ^= uint32(k[i])
			h *= 16777619
		}
		return uint8(h)
	})
}

//go:nosplit
func (m *ShardMap[K, V]) getShard(key K) *mapShard[K, V] {
	return &m.shards[m.hasher(key)]
}

// Get retrieves a value from the map.
func (m *ShardMap[K, V]) Get(key K) (V, bool) {
	s := m.getShard(key)
	s.mu.RLock()
	v, ok := s.data[key]
	s.mu.RUnlock()
	return v, ok
}

// Set stores a value in the map.
func (m *ShardMap[K, V]) Set(key K, value V) {
	s := m.getShard(key)
	s.mu.Lock()
	s.data[key] = value
	s.mu.Unlock()
}

// Delete removes a value from the map. Returns true if the key existed.
func (m *ShardMap[K, V]) Delete(key K) bool {
	s := m.getShard(key)
	s.mu.Lock()
	_, existed := s.data[key]
	if existed {
		delete(s.data, key)
	}
	s.mu.Unlock()
	return existed
}

// Has checks if a key exists in the map.
func (m *ShardMap[K, V]) Has(key K) bool {
	s := m.getShard(key)
	s.mu.RLock()
	_, ok := s.data[key]
	s.mu.RUnlock()
	return ok
}

// Len returns the total number of entries across all shards. The result may
// be slightly stale under concurrent writers.
func (m *ShardMap[K, V]) Len() int {
	total := 0
	for i := range m.shards {
		m.shards[i].mu.RLock()
		total += len(m.shards[i].data)
		m.shards[i].mu.RUnlock()
	}
	return total
}

// Range calls fn for each key-value pair. If fn returns false, iteration
// stops. fn is called with the shard lock held: do not call other ShardMap
// methods on the same map from within it.
func (m *ShardMap[K, V]) Range(fn func(K, V) bool) {
	for i := range m.shards {
		m.shards[i].mu.RLock()
		for k, v := range m.shards[i].data {
			if !fn(k, v) {
				m.shards[i].mu.RUnlock()
				return
			}
		}
		m.shards[i].mu.RUnlock()
	}
}

// GetOrSet retrieves a value or stores the given one if not present.
// Returns the existing value and true, or the new value and false.
func (m *ShardMap[K, V]) GetOrSet(key K, value V) (V, bool) {
	s := m.getShard(key)
	s.mu.Lock()
	if v, ok := s.data[key]; ok {
		s.mu.Unlock()
		return v, true
	}
	s.data[key] = value
	s.mu.Unlock()
	return value, false
}

// Update atomically replaces a value using fn, which receives the current
// value (or the zero value) and whether the key existed. Returns the value
// that was stored.
func (m *ShardMap[K, V]) Update(key K, fn func(V, bool) V) V {
	s := m.getShard(key)
	s.mu.Lock()
	current, existed := s.data[key]
	newValue := fn(current, existed)
	s.data[key] = newValue
	s.mu.Unlock()
	return newValue
}

// Clear removes all entries from the map.
func (m *ShardMap[K, V]) Clear() {
	for i := range m.shards {
		m.shards[i].mu.Lock()
		m.shards[i].data = make(map[K]V)
		m.shards[i].mu.Unlock()
	}
}

// Keys returns a snapshot of all keys in the map.
func (m *ShardMap[K, V]) Keys() []K {
	keys := make([]K, 0, m.Len())
	for i := range m.shards {
		m.shards[i].mu.RLock()
		for k := range m.shards[i].data {
			keys = append(keys, k)
		}
		m.shards[i].mu.RUnlock()
	}
	return keys
}

// Values returns a snapshot of all values in the map.
func (m *ShardMap[K, V]) Values() []V {
	values := make([]V, 0, m.Len())
	for i := range m.shards {
		m.shards[i].mu.RLock()
		for _, v := range m.shards[i].data {
			values = append(values, v)
		}
		m.shards[i].mu.RUnlock()
	}
	return values
}

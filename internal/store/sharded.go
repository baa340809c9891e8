// Package store provides a sharded in-memory key/value state store used
// for per-identity security decisioning state. Decisioning logic talks to
// a narrow interface so a distributed cache can replace the map without
// changing call sites.
package store

import (
	"hash/fnv"
	"sync"
)

const shardCount = 64

type shard[V any] struct {
	mu    sync.Mutex
	items map[string]V
}

// Sharded is a fixed-shard map keyed by string. Per-shard mutexes bound
// memory regardless of key cardinality, at the cost of occasional false
// sharing between keys that hash to the same shard.
type Sharded[V any] struct {
	shards [shardCount]shard[V]
}

// NewSharded creates an empty sharded store
func NewSharded[V any]() *Sharded[V] {
	s := &Sharded[V]{}
	for i := range s.shards {
		s.shards[i].items = make(map[string]V)
	}
	return s
}

func (s *Sharded[V]) shardFor(key string) *shard[V] {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &s.shards[h.Sum32()%shardCount]
}

// Get returns the value for key if present
func (s *Sharded[V]) Get(key string) (V, bool) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	v, ok := sh.items[key]
	return v, ok
}

// Update runs fn as a critical section for key. fn receives the current
// value (zero value when absent) and stores its return value. Concurrent
// callers for the same key serialize on the shard lock, so read-modify-
// write sequences inside fn are atomic per key.
func (s *Sharded[V]) Update(key string, fn func(current V, exists bool) V) V {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	cur, ok := sh.items[key]
	next := fn(cur, ok)
	sh.items[key] = next
	return next
}

// Read runs fn under the shard lock when key is present, so fn sees a
// stable value even while writers mutate it through Update
func (s *Sharded[V]) Read(key string, fn func(value V)) bool {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	v, ok := sh.items[key]
	if ok {
		fn(v)
	}
	return ok
}

// Delete removes key if present
func (s *Sharded[V]) Delete(key string) {
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	delete(sh.items, key)
}

// DeleteIf evicts entries for which fn returns true and reports the
// count removed. Each shard is locked only while it is scanned, so a
// sweep never blocks request-path operations on other shards.
func (s *Sharded[V]) DeleteIf(fn func(key string, value V) bool) int {
	removed := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		for key, value := range sh.items {
			if fn(key, value) {
				delete(sh.items, key)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

// Len returns the total entry count across shards
func (s *Sharded[V]) Len() int {
	total := 0
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.Lock()
		total += len(sh.items)
		sh.mu.Unlock()
	}
	return total
}

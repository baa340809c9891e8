package ratelimit

import (
	"time"

	"github.com/qistpay/authcore/internal/models"
	"github.com/qistpay/authcore/internal/store"
)

// StateStore is the narrow storage interface behind the limiter. The
// in-memory implementation serves a single instance; the redis one lets
// a fleet share state without changing limiter call sites.
type StateStore interface {
	// Mutate runs fn against the state for key as a per-key critical
	// section. fn receives nil when no state exists yet and must return
	// the state to keep.
	Mutate(key string, fn func(st *models.RateLimitState) *models.RateLimitState) *models.RateLimitState

	// Sweep evicts entries matching stale and returns the count removed
	Sweep(now time.Time, stale func(st *models.RateLimitState) bool) int
}

// MemoryStore keeps rate limit state in a sharded in-process map
type MemoryStore struct {
	inner *store.Sharded[*models.RateLimitState]
}

// NewMemoryStore creates an empty in-memory state store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{inner: store.NewSharded[*models.RateLimitState]()}
}

// Mutate applies fn under the shard lock for key
func (m *MemoryStore) Mutate(key string, fn func(st *models.RateLimitState) *models.RateLimitState) *models.RateLimitState {
	return m.inner.Update(key, func(cur *models.RateLimitState, _ bool) *models.RateLimitState {
		return fn(cur)
	})
}

// Sweep removes stale entries shard by shard
func (m *MemoryStore) Sweep(_ time.Time, stale func(st *models.RateLimitState) bool) int {
	return m.inner.DeleteIf(func(_ string, st *models.RateLimitState) bool {
		return st == nil || stale(st)
	})
}

package security

import (
	"context"
	"sync"
	"time"
)

// WindowStats summarizes recent events for a tracking key
type WindowStats struct {
	AuthFailures  int
	RateLimitHits int
}

// Sink receives every event recorded on the feed. Sinks must not block;
// slow consumers belong behind their own queue.
type Sink interface {
	Emit(ctx context.Context, event Event)
}

// Feed is the security event feed consumed by the rate limiter (to
// compute threat tiers) and the risk engine (high-risk output)
type Feed interface {
	Record(ctx context.Context, event Event)
	Stats(key string, since time.Time) WindowStats
}

// MemoryFeed is an in-process ring of recent events with windowed
// queries. Events older than the retention period are pruned on write.
type MemoryFeed struct {
	mu        sync.RWMutex
	events    []Event
	retention time.Duration
	maxEvents int
	sinks     []Sink
	now       func() time.Time
}

// MemoryFeedOption configures a MemoryFeed
type MemoryFeedOption func(*MemoryFeed)

// WithSinks attaches fan-out consumers (audit logging, metrics)
func WithSinks(sinks ...Sink) MemoryFeedOption {
	return func(f *MemoryFeed) { f.sinks = append(f.sinks, sinks...) }
}

// WithClock injects a clock for tests
func WithClock(now func() time.Time) MemoryFeedOption {
	return func(f *MemoryFeed) { f.now = now }
}

// NewMemoryFeed creates a feed that retains events for the given period
func NewMemoryFeed(retention time.Duration, maxEvents int, opts ...MemoryFeedOption) *MemoryFeed {
	f := &MemoryFeed{
		events:    make([]Event, 0, 256),
		retention: retention,
		maxEvents: maxEvents,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Record appends an event and fans it out to sinks
func (f *MemoryFeed) Record(ctx context.Context, event Event) {
	f.mu.Lock()
	f.events = append(f.events, event)
	f.prune(f.now())
	f.mu.Unlock()

	for _, sink := range f.sinks {
		sink.Emit(ctx, event)
	}
}

// Stats counts auth failures and rate limit hits for a key since a cutoff
func (f *MemoryFeed) Stats(key string, since time.Time) WindowStats {
	f.mu.RLock()
	defer f.mu.RUnlock()

	var stats WindowStats
	for _, event := range f.events {
		if event.When().Before(since) || event.TrackingKey() != key {
			continue
		}
		switch event.Kind() {
		case KindAuthFailure:
			stats.AuthFailures++
		case KindRateLimitViolation:
			stats.RateLimitHits++
		}
	}
	return stats
}

// prune drops events past retention and enforces the size cap.
// Caller must hold the write lock.
func (f *MemoryFeed) prune(now time.Time) {
	cutoff := now.Add(-f.retention)
	firstLive := 0
	for firstLive < len(f.events) && f.events[firstLive].When().Before(cutoff) {
		firstLive++
	}
	if firstLive > 0 {
		f.events = append(f.events[:0], f.events[firstLive:]...)
	}
	if f.maxEvents > 0 && len(f.events) > f.maxEvents {
		f.events = append(f.events[:0], f.events[len(f.events)-f.maxEvents:]...)
	}
}

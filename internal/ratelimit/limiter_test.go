package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qistpay/authcore/internal/security"
)

// stubFeed implements Feed with canned stats and records violations
type stubFeed struct {
	mu     sync.Mutex
	stats  security.WindowStats
	events []security.Event
}

func (f *stubFeed) Record(_ context.Context, event security.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func (f *stubFeed) Stats(_ string, _ time.Time) security.WindowStats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

func (f *stubFeed) setStats(stats security.WindowStats) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stats = stats
}

func (f *stubFeed) recorded() []security.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]security.Event, len(f.events))
	copy(out, f.events)
	return out
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestLimiter(t *testing.T) (*Limiter, *stubFeed, *testClock) {
	t.Helper()
	feed := &stubFeed{}
	clock := &testClock{now: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	limiter := NewLimiter(NewMemoryStore(), feed, DefaultConfig(), slog.Default(), WithClock(clock.Now))
	return limiter, feed, clock
}

func TestIdentity(t *testing.T) {
	assert.Equal(t, "user:u1", Identity("u1", "1.2.3.4"))
	assert.Equal(t, "ip:1.2.3.4", Identity("", "1.2.3.4"))
	assert.Equal(t, "ip:unknown", Identity("", ""))
}

func TestCheckRateLimit_AllowsUnderLimit(t *testing.T) {
	limiter, _, _ := newTestLimiter(t)

	decision := limiter.CheckRateLimit(context.Background(), "u1", "1.2.3.4", "/auth/login", "POST")

	assert.True(t, decision.Allowed)
	assert.Equal(t, 100, decision.Limit)
	assert.Equal(t, 99, decision.Remaining)
	assert.Empty(t, decision.Reason)
}

func TestCheckRateLimit_DeniesOverLimit(t *testing.T) {
	limiter, feed, _ := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		decision := limiter.CheckRateLimit(ctx, "u1", "1.2.3.4", "/auth/login", "POST")
		require.True(t, decision.Allowed, "request %d should be admitted", i+1)
	}

	decision := limiter.CheckRateLimit(ctx, "u1", "1.2.3.4", "/auth/login", "POST")
	assert.False(t, decision.Allowed)
	assert.Equal(t, 0, decision.Remaining)
	assert.Equal(t, "rate limit exceeded", decision.Reason)
	assert.Greater(t, decision.RetryAfter, time.Duration(0))

	events := feed.recorded()
	require.Len(t, events, 1)
	violation, ok := events[0].(security.RateLimitViolation)
	require.True(t, ok)
	assert.Equal(t, "user:u1", violation.Key)
	assert.Equal(t, "/auth/login", violation.Endpoint)
}

func TestCheckRateLimit_FastPathEscalationTakesEffectNextCall(t *testing.T) {
	limiter, _, _ := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		limiter.CheckRateLimit(ctx, "u1", "", "/auth/login", "POST")
	}
	denied := limiter.CheckRateLimit(ctx, "u1", "", "/auth/login", "POST")
	require.False(t, denied.Allowed)
	// The denial itself is still judged at the low tier limit
	assert.Equal(t, 100, denied.Limit)

	// Next call sees the medium tier budget
	next := limiter.CheckRateLimit(ctx, "u1", "", "/auth/login", "POST")
	assert.Equal(t, 12, next.Limit)
	assert.False(t, next.Allowed)
}

func TestCheckRateLimit_WindowRollover(t *testing.T) {
	limiter, _, clock := newTestLimiter(t)
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		limiter.CheckRateLimit(ctx, "", "9.9.9.9", "/auth/login", "POST")
	}
	require.False(t, limiter.CheckRateLimit(ctx, "", "9.9.9.9", "/auth/login", "POST").Allowed)

	clock.Advance(16 * time.Minute)

	decision := limiter.CheckRateLimit(ctx, "", "9.9.9.9", "/auth/login", "POST")
	assert.True(t, decision.Allowed)
}

func TestRecomputeTier_FromFeedEvidence(t *testing.T) {
	tests := []struct {
		name      string
		stats     security.WindowStats
		wantLimit int
	}{
		{"clean history stays low", security.WindowStats{}, 100},
		{"three failures is medium", security.WindowStats{AuthFailures: 3}, 12},
		{"two rate hits is medium", security.WindowStats{RateLimitHits: 2}, 12},
		{"six failures is high", security.WindowStats{AuthFailures: 6}, 1},
		{"four rate hits is high", security.WindowStats{RateLimitHits: 4}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limiter, feed, _ := newTestLimiter(t)
			feed.setStats(tt.stats)

			decision := limiter.CheckRateLimit(context.Background(), "u1", "", "/x", "GET")
			assert.Equal(t, tt.wantLimit, decision.Limit)
		})
	}
}

// admit drives n admitted requests for u1 within the current window
func admit(t *testing.T, limiter *Limiter, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		decision := limiter.CheckRateLimit(context.Background(), "u1", "", "/auth/login", "POST")
		require.True(t, decision.Allowed, "request %d should be admitted", i+1)
	}
}

func TestRecordFailedRequest_EscalatesOnBusyWindow(t *testing.T) {
	limiter, _, _ := newTestLimiter(t)
	ctx := context.Background()

	// A failure lands while the window already holds 11 admitted
	// requests, which is past the low tier escalation threshold
	admit(t, limiter, 11)
	limiter.RecordFailedRequest("u1", "")

	decision := limiter.CheckRateLimit(ctx, "u1", "", "/auth/login", "POST")
	assert.True(t, decision.Allowed)
	assert.Equal(t, 12, decision.Limit)
	assert.Equal(t, 0, decision.Remaining)
}

func TestRecordFailedRequest_QuietWindowStaysLow(t *testing.T) {
	limiter, _, _ := newTestLimiter(t)
	ctx := context.Background()

	// Failures alone never escalate; the window has no admitted volume
	for i := 0; i < 30; i++ {
		limiter.RecordFailedRequest("u1", "")
	}

	decision := limiter.CheckRateLimit(ctx, "u1", "", "/auth/login", "POST")
	assert.True(t, decision.Allowed)
	assert.Equal(t, 100, decision.Limit)
}

func TestRecordFailedRequest_EscalatesAndBlocks(t *testing.T) {
	limiter, _, _ := newTestLimiter(t)
	ctx := context.Background()

	admit(t, limiter, 26)

	// First failure: 26 admitted requests clears the low threshold
	limiter.RecordFailedRequest("u1", "")
	decision := limiter.CheckRateLimit(ctx, "u1", "", "/auth/login", "POST")
	assert.False(t, decision.Allowed)
	assert.Equal(t, 12, decision.Limit)
	assert.Equal(t, "rate limit exceeded", decision.Reason)

	// Second failure: same volume clears the medium block threshold
	limiter.RecordFailedRequest("u1", "")
	decision = limiter.CheckRateLimit(ctx, "u1", "", "/auth/login", "POST")
	assert.False(t, decision.Allowed)
	assert.Equal(t, "temporarily blocked", decision.Reason)
	assert.Greater(t, decision.RetryAfter, time.Duration(0))
	assert.LessOrEqual(t, decision.RetryAfter, 15*time.Minute)
}

func TestCheckRateLimit_BlockExpires(t *testing.T) {
	limiter, _, clock := newTestLimiter(t)
	ctx := context.Background()

	admit(t, limiter, 26)
	limiter.RecordFailedRequest("u1", "")
	limiter.RecordFailedRequest("u1", "")
	require.Equal(t, "temporarily blocked", limiter.CheckRateLimit(ctx, "u1", "", "/x", "GET").Reason)

	// Past both the 15 minute block and the high tier's 60 minute window
	clock.Advance(61 * time.Minute)

	decision := limiter.CheckRateLimit(ctx, "u1", "", "/x", "GET")
	assert.True(t, decision.Allowed)
	// Block lifted but the identity stays at the high tier budget
	assert.Equal(t, 1, decision.Limit)
}

func TestRecordSuccessfulRequest_Deescalates(t *testing.T) {
	limiter, _, _ := newTestLimiter(t)
	ctx := context.Background()

	admit(t, limiter, 11)
	limiter.RecordFailedRequest("u1", "")
	require.Equal(t, 12, limiter.CheckRateLimit(ctx, "u1", "", "/x", "GET").Limit)

	// Success rate needs to clear 0.8 against the one recorded failure
	for i := 0; i < 5; i++ {
		limiter.RecordSuccessfulRequest("u1", "")
	}

	decision := limiter.CheckRateLimit(ctx, "u1", "", "/x", "GET")
	assert.Equal(t, 100, decision.Limit)
}

func TestUnblock_ResetsIdentity(t *testing.T) {
	limiter, _, _ := newTestLimiter(t)
	ctx := context.Background()

	admit(t, limiter, 26)
	limiter.RecordFailedRequest("u1", "")
	limiter.RecordFailedRequest("u1", "")
	require.Equal(t, "temporarily blocked", limiter.CheckRateLimit(ctx, "u1", "", "/x", "GET").Reason)

	limiter.Unblock("u1", "")

	decision := limiter.CheckRateLimit(ctx, "u1", "", "/x", "GET")
	assert.True(t, decision.Allowed)
	assert.Equal(t, 100, decision.Limit)
}

func TestSweep_NeverEvictsActiveEntries(t *testing.T) {
	limiter, _, clock := newTestLimiter(t)
	ctx := context.Background()

	// Entry with in-window activity
	limiter.CheckRateLimit(ctx, "active", "", "/x", "GET")
	// Idle entry with no admitted requests
	limiter.RecordSuccessfulRequest("idle", "")

	// Not yet past window + retention
	clock.Advance(30 * time.Minute)
	assert.Equal(t, 0, limiter.Sweep(clock.Now()))

	clock.Advance(2 * time.Hour)
	evicted := limiter.Sweep(clock.Now())
	assert.Equal(t, 1, evicted)

	// The active entry survives as long as its window count is pending
	decision := limiter.CheckRateLimit(ctx, "active", "", "/x", "GET")
	assert.True(t, decision.Allowed)
}

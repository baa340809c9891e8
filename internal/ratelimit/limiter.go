// Package ratelimit implements the adaptive rate limiting and threat
// escalation engine. Limits tighten as the security event feed shows
// authentication failures and prior violations for an identity.
package ratelimit

import (
	"context"
	"log/slog"
	"time"

	"github.com/qistpay/authcore/internal/metrics"
	"github.com/qistpay/authcore/internal/models"
	"github.com/qistpay/authcore/internal/security"
)

// Feed is the slice of the security event feed the limiter needs
type Feed interface {
	Record(ctx context.Context, event security.Event)
	Stats(key string, since time.Time) security.WindowStats
}

// Config holds the escalation thresholds and maintenance tunables
type Config struct {
	// ThreatWindow is the rolling window inspected on the event feed
	// when recomputing an identity's threat tier
	ThreatWindow time.Duration

	// Tier recompute thresholds over the threat window
	HighFailures    int
	HighRateHits    int
	MediumFailures  int
	MediumRateHits  int

	// Escalation thresholds applied by the failure hook, measured
	// against the window's admitted request count
	EscalateRequestsAfter int
	BlockRequestsAfter    int
	BlockDuration         time.Duration

	// DeescalateSuccessRate is the estimated success rate above which
	// a medium-tier identity drops back to low
	DeescalateSuccessRate float64

	// SweepRetention is how long past window expiry an idle entry is
	// kept before the maintenance sweep may evict it
	SweepRetention time.Duration
}

// DefaultConfig returns the production thresholds
func DefaultConfig() Config {
	return Config{
		ThreatWindow:          30 * time.Minute,
		HighFailures:          5,
		HighRateHits:          3,
		MediumFailures:        2,
		MediumRateHits:        1,
		EscalateRequestsAfter: 10,
		BlockRequestsAfter:    25,
		BlockDuration:         15 * time.Minute,
		DeescalateSuccessRate: 0.8,
		SweepRetention:        1 * time.Hour,
	}
}

// Limiter is the adaptive rate limiter. All request-path operations are
// O(1) per identity and safe for concurrent callers; per-identity
// read-modify-write sequences run inside the state store's key lock.
type Limiter struct {
	store  StateStore
	feed   Feed
	config Config
	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Limiter
type Option func(*Limiter)

// WithClock injects a clock for tests
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// NewLimiter creates an adaptive rate limiter
func NewLimiter(store StateStore, feed Feed, config Config, logger *slog.Logger, opts ...Option) *Limiter {
	l := &Limiter{
		store:  store,
		feed:   feed,
		config: config,
		logger: logger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Identity resolves the tracking key: authenticated user when known,
// otherwise the client IP
func Identity(userID, ipAddress string) string {
	if userID != "" {
		return "user:" + userID
	}
	if ipAddress == "" {
		ipAddress = "unknown"
	}
	return "ip:" + ipAddress
}

// CheckRateLimit decides whether a request for the identity is admitted.
// The threat tier is recomputed from the event feed at the start of every
// call and is authoritative; a fast-path escalation triggered by a denial
// mutates stored state only, taking effect on the following call.
func (l *Limiter) CheckRateLimit(ctx context.Context, userID, ipAddress, endpoint, method string) models.RateLimitDecision {
	identity := Identity(userID, ipAddress)
	now := l.now()
	tier := l.recomputeTier(identity, now)

	var decision models.RateLimitDecision
	var violation bool

	l.store.Mutate(identity, func(st *models.RateLimitState) *models.RateLimitState {
		if st == nil {
			st = models.NewRateLimitState(identity, now)
		}

		// Feed evidence only ever raises the tier here; dropping back to
		// low goes through the success-rate path so a fast-path
		// escalation is not erased on the very next call.
		if tierRank(tier) > tierRank(st.Tier) {
			metrics.TierTransitions.WithLabelValues(string(st.Tier), string(tier)).Inc()
			st.Tier = tier
			st.Multiplier = models.ConfigForTier(tier).Multiplier
		}

		if st.IsBlockedAt(now) {
			decision = models.RateLimitDecision{
				Allowed:    false,
				Limit:      st.EffectiveLimit(),
				Remaining:  0,
				ResetAt:    *st.BlockExpiry,
				RetryAfter: st.BlockExpiry.Sub(now),
				Reason:     "temporarily blocked",
			}
			return st
		}
		if st.Blocked {
			// Block expired; behave as unblocked from this evaluation on
			st.Blocked = false
			st.BlockExpiry = nil
		}

		cfg := models.ConfigForTier(st.Tier)
		if now.Sub(st.WindowStart) >= cfg.WindowDuration {
			st.CurrentRequests = 0
			st.WindowStart = now
		}

		limit := st.EffectiveLimit()
		resetAt := st.WindowStart.Add(cfg.WindowDuration)

		if st.CurrentRequests >= limit {
			decision = models.RateLimitDecision{
				Allowed:    false,
				Limit:      limit,
				Remaining:  0,
				ResetAt:    resetAt,
				RetryAfter: resetAt.Sub(now),
				Reason:     "rate limit exceeded",
			}
			violation = true
			if st.Tier == models.TierLow {
				// Fast-path escalation; visible from the next call onward
				metrics.TierTransitions.WithLabelValues(string(models.TierLow), string(models.TierMedium)).Inc()
				st.Tier = models.TierMedium
				st.Multiplier = models.ConfigForTier(models.TierMedium).Multiplier
			}
			return st
		}

		st.CurrentRequests++
		decision = models.RateLimitDecision{
			Allowed:   true,
			Limit:     limit,
			Remaining: limit - st.CurrentRequests,
			ResetAt:   resetAt,
		}
		return st
	})

	switch {
	case decision.Allowed:
		metrics.RateLimitDecisions.WithLabelValues("allowed").Inc()
	case decision.Reason == "temporarily blocked":
		metrics.RateLimitDecisions.WithLabelValues("blocked").Inc()
	default:
		metrics.RateLimitDecisions.WithLabelValues("denied").Inc()
	}

	if violation {
		l.feed.Record(ctx, security.RateLimitViolation{
			Key:       identity,
			IPAddress: ipAddress,
			Endpoint:  endpoint,
			Method:    method,
			At:        now,
		})
		l.logger.Warn("rate limit exceeded",
			slog.String("identity", identity),
			slog.String("endpoint", endpoint),
			slog.Int("limit", decision.Limit))
	}

	return decision
}

// RecordSuccessfulRequest feeds the de-escalation heuristic: a medium
// tier identity drops back to low once its success rate clears the bar
func (l *Limiter) RecordSuccessfulRequest(userID, ipAddress string) {
	identity := Identity(userID, ipAddress)
	l.store.Mutate(identity, func(st *models.RateLimitState) *models.RateLimitState {
		if st == nil {
			st = models.NewRateLimitState(identity, l.now())
		}
		st.SuccessCount++
		if st.Tier == models.TierMedium && st.SuccessRate() > l.config.DeescalateSuccessRate {
			metrics.TierTransitions.WithLabelValues(string(models.TierMedium), string(models.TierLow)).Inc()
			st.Tier = models.TierLow
			st.Multiplier = models.ConfigForTier(models.TierLow).Multiplier
		}
		return st
	})
}

// RecordFailedRequest escalates an identity whose current window is
// already busy when the failure lands; past the block threshold the
// identity is blocked outright for the configured duration. The failure
// itself is tallied for the success-rate de-escalation heuristic.
func (l *Limiter) RecordFailedRequest(userID, ipAddress string) {
	identity := Identity(userID, ipAddress)
	now := l.now()
	l.store.Mutate(identity, func(st *models.RateLimitState) *models.RateLimitState {
		if st == nil {
			st = models.NewRateLimitState(identity, now)
		}
		st.FailureCount++

		switch {
		case st.Tier == models.TierLow && st.CurrentRequests > l.config.EscalateRequestsAfter:
			metrics.TierTransitions.WithLabelValues(string(models.TierLow), string(models.TierMedium)).Inc()
			st.Tier = models.TierMedium
			st.Multiplier = models.ConfigForTier(models.TierMedium).Multiplier
		case st.Tier == models.TierMedium && st.CurrentRequests > l.config.BlockRequestsAfter:
			metrics.TierTransitions.WithLabelValues(string(models.TierMedium), string(models.TierHigh)).Inc()
			st.Tier = models.TierHigh
			st.Multiplier = models.ConfigForTier(models.TierHigh).Multiplier
			expiry := now.Add(l.config.BlockDuration)
			st.Blocked = true
			st.BlockExpiry = &expiry
			l.logger.Warn("identity blocked",
				slog.String("identity", identity),
				slog.Time("block_expiry", expiry))
		}
		return st
	})
}

// Unblock clears a block and resets the identity to the low tier.
// Administrative operation.
func (l *Limiter) Unblock(userID, ipAddress string) {
	identity := Identity(userID, ipAddress)
	l.store.Mutate(identity, func(st *models.RateLimitState) *models.RateLimitState {
		if st == nil {
			return models.NewRateLimitState(identity, l.now())
		}
		st.Blocked = false
		st.BlockExpiry = nil
		st.Tier = models.TierLow
		st.Multiplier = models.ConfigForTier(models.TierLow).Multiplier
		return st
	})
	l.logger.Info("identity unblocked", slog.String("identity", identity))
}

// Sweep evicts idle entries whose window lapsed at least the retention
// period ago. Entries with pending activity in the current window are
// never evicted. Returns the count removed.
func (l *Limiter) Sweep(now time.Time) int {
	return l.store.Sweep(now, func(st *models.RateLimitState) bool {
		if st.CurrentRequests != 0 || st.IsBlockedAt(now) {
			return false
		}
		cfg := models.ConfigForTier(st.Tier)
		return now.Sub(st.WindowStart) >= cfg.WindowDuration+l.config.SweepRetention
	})
}

func tierRank(tier models.ThreatTier) int {
	switch tier {
	case models.TierHigh:
		return 2
	case models.TierMedium:
		return 1
	default:
		return 0
	}
}

// recomputeTier derives the authoritative tier from the event feed
func (l *Limiter) recomputeTier(identity string, now time.Time) models.ThreatTier {
	stats := l.feed.Stats(identity, now.Add(-l.config.ThreatWindow))
	switch {
	case stats.AuthFailures > l.config.HighFailures || stats.RateLimitHits > l.config.HighRateHits:
		return models.TierHigh
	case stats.AuthFailures > l.config.MediumFailures || stats.RateLimitHits > l.config.MediumRateHits:
		return models.TierMedium
	default:
		return models.TierLow
	}
}

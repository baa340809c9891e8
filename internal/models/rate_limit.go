package models

import "time"

// ThreatTier classifies how aggressively an identity is rate limited
type ThreatTier string

const (
	TierLow    ThreatTier = "low"
	TierMedium ThreatTier = "medium"
	TierHigh   ThreatTier = "high"
)

// TierConfig holds the window parameters applied at a given threat tier
type TierConfig struct {
	WindowDuration time.Duration
	MaxRequests    int
	Multiplier     float64
}

// ConfigForTier maps a threat tier to its window parameters
func ConfigForTier(tier ThreatTier) TierConfig {
	switch tier {
	case TierHigh:
		return TierConfig{WindowDuration: 60 * time.Minute, MaxRequests: 5, Multiplier: 0.25}
	case TierMedium:
		return TierConfig{WindowDuration: 15 * time.Minute, MaxRequests: 25, Multiplier: 0.5}
	default:
		return TierConfig{WindowDuration: 15 * time.Minute, MaxRequests: 100, Multiplier: 1.0}
	}
}

// RateLimitState is the per-identity tracking record. Identity is the
// authenticated user ID when available, else the client IP.
type RateLimitState struct {
	Identity        string
	WindowStart     time.Time
	CurrentRequests int
	Tier            ThreatTier
	Multiplier      float64
	Blocked         bool
	BlockExpiry     *time.Time

	// Rolling outcome counters backing the de-escalation heuristic
	SuccessCount int
	FailureCount int
}

// NewRateLimitState initializes tracking for an identity at the low tier
func NewRateLimitState(identity string, now time.Time) *RateLimitState {
	return &RateLimitState{
		Identity:    identity,
		WindowStart: now,
		Tier:        TierLow,
		Multiplier:  1.0,
	}
}

// IsBlockedAt reports whether the identity is inside an active block window
func (s *RateLimitState) IsBlockedAt(now time.Time) bool {
	return s.Blocked && s.BlockExpiry != nil && now.Before(*s.BlockExpiry)
}

// EffectiveLimit is the admitted request budget for the current window
func (s *RateLimitState) EffectiveLimit() int {
	cfg := ConfigForTier(s.Tier)
	return int(float64(cfg.MaxRequests) * s.Multiplier)
}

// SuccessRate estimates the fraction of recorded outcomes that succeeded.
// Returns 0 when no outcomes have been recorded yet.
func (s *RateLimitState) SuccessRate() float64 {
	total := s.SuccessCount + s.FailureCount
	if total == 0 {
		return 0
	}
	return float64(s.SuccessCount) / float64(total)
}

// RateLimitDecision is the outcome of a single rate limit check
type RateLimitDecision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
	Reason     string
}

package security

import (
	"time"

	"github.com/qistpay/authcore/internal/models"
)

// Severity classifies how urgent a security event is
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Kind identifies the closed set of security event variants
type Kind string

const (
	KindRateLimitViolation Kind = "rate_limit_violation"
	KindAuthFailure        Kind = "auth_failure"
	KindFraudHighRisk      Kind = "fraud_high_risk"
	KindTokenFailure       Kind = "token_failure"
)

// Event is the closed variant type carried on the security feed.
// The sealed method keeps the set of variants fixed to this package.
type Event interface {
	sealed()
	Kind() Kind
	Severity() Severity
	TrackingKey() string
	When() time.Time
}

// RateLimitViolation is emitted when a request is denied by the limiter
type RateLimitViolation struct {
	Key       string // tracking identity: "user:<id>" or "ip:<addr>"
	IPAddress string
	Endpoint  string
	Method    string
	At        time.Time
}

func (RateLimitViolation) sealed()               {}
func (RateLimitViolation) Kind() Kind            { return KindRateLimitViolation }
func (RateLimitViolation) Severity() Severity    { return SeverityMedium }
func (e RateLimitViolation) TrackingKey() string { return e.Key }
func (e RateLimitViolation) When() time.Time     { return e.At }

// AuthFailure is emitted when a credential check fails
type AuthFailure struct {
	Key       string
	UserID    string
	IPAddress string
	Reason    string
	At        time.Time
}

func (AuthFailure) sealed()               {}
func (AuthFailure) Kind() Kind            { return KindAuthFailure }
func (AuthFailure) Severity() Severity    { return SeverityMedium }
func (e AuthFailure) TrackingKey() string { return e.Key }
func (e AuthFailure) When() time.Time     { return e.At }

// FraudHighRisk is emitted when the risk engine scores an event at or
// above the high-risk threshold
type FraudHighRisk struct {
	UserID    string
	IPAddress string
	Score     float64
	Level     models.RiskLevel
	Reasons   []string
	At        time.Time
}

func (FraudHighRisk) sealed()    {}
func (FraudHighRisk) Kind() Kind { return KindFraudHighRisk }
func (e FraudHighRisk) Severity() Severity {
	if e.Level == models.RiskCritical {
		return SeverityCritical
	}
	return SeverityHigh
}
func (e FraudHighRisk) TrackingKey() string { return "user:" + e.UserID }
func (e FraudHighRisk) When() time.Time     { return e.At }

// TokenFailure is emitted when a reset token validation or consumption
// fails. Cause is internal detail and never surfaces to callers.
type TokenFailure struct {
	UserID    string
	IPAddress string
	Cause     string // "not_found", "expired", "already_used", "race_lost", "persistence"
	At        time.Time
}

func (TokenFailure) sealed()            {}
func (TokenFailure) Kind() Kind         { return KindTokenFailure }
func (TokenFailure) Severity() Severity { return SeverityHigh }
func (e TokenFailure) TrackingKey() string {
	if e.UserID != "" {
		return "user:" + e.UserID
	}
	return "ip:" + e.IPAddress
}
func (e TokenFailure) When() time.Time { return e.At }

package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/qistpay/authcore/internal/security"
)

var (
	RateLimitDecisions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "authcore",
		Subsystem: "ratelimit",
		Name:      "decisions_total",
		Help:      "Rate limit decisions by outcome.",
	}, []string{"outcome"}) // "allowed", "denied", "blocked"

	TierTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "authcore",
		Subsystem: "ratelimit",
		Name:      "tier_transitions_total",
		Help:      "Threat tier transitions by direction.",
	}, []string{"from", "to"})

	RiskAssessments = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "authcore",
		Subsystem: "risk",
		Name:      "assessments_total",
		Help:      "Risk assessments by resulting level.",
	}, []string{"level"})

	RiskScores = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "authcore",
		Subsystem: "risk",
		Name:      "overall_score",
		Help:      "Distribution of overall risk scores.",
		Buckets:   []float64{10, 25, 50, 60, 75, 90, 100},
	})

	ResetTokenOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "authcore",
		Subsystem: "reset",
		Name:      "token_outcomes_total",
		Help:      "Reset token lifecycle outcomes.",
	}, []string{"outcome"}) // "issued", "suppressed", "consumed", "rejected", "cleaned"

	SecurityEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "authcore",
		Subsystem: "security",
		Name:      "events_total",
		Help:      "Security feed events by kind and severity.",
	}, []string{"kind", "severity"})
)

// Register registers all collectors with the given registry
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		RateLimitDecisions,
		TierTransitions,
		RiskAssessments,
		RiskScores,
		ResetTokenOutcomes,
		SecurityEvents,
	)
}

// FeedSink counts feed events; implements security.Sink
type FeedSink struct{}

// Emit increments the event counter for the variant
func (FeedSink) Emit(_ context.Context, event security.Event) {
	SecurityEvents.WithLabelValues(string(event.Kind()), string(event.Severity())).Inc()
}

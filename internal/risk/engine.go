// Package risk implements the multi-factor fraud scoring engine. Each
// event is scored by six independent anomaly analyzers against the
// user's behavioral baseline, combined into a weighted overall score
// with a recommended action.
package risk

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/qistpay/authcore/internal/metrics"
	"github.com/qistpay/authcore/internal/models"
	"github.com/qistpay/authcore/internal/security"
)

// Feed is the slice of the security event feed the engine writes to
type Feed interface {
	Record(ctx context.Context, event security.Event)
}

// Component weights. Must sum to 1.
const (
	weightAmount   = 0.25
	weightLocation = 0.20
	weightTime     = 0.15
	weightDevice   = 0.15
	weightMerchant = 0.10
	weightVelocity = 0.15
)

// Config holds analyzer thresholds and denylists
type Config struct {
	AmountDeviationThreshold float64       // multiples of the average that trigger the amount analyzer
	VelocityRatioThreshold   float64       // multiples of baseline frequency that trigger the velocity analyzer
	VelocityWindow           time.Duration // trailing window for velocity counting
	RapidSuccession          time.Duration // gap below which consecutive events are suspicious
	NightEndHour             int           // hours earlier than this are off-hours
	NightStartHour           int           // hours later than this are off-hours
	HighRiskThreshold        float64       // overall score at which fraud events are emitted
	DenlistedCountries       []string
	DenlistedCategories      []string
	HighRiskAmounts          []float64
}

// DefaultConfig returns the production thresholds
func DefaultConfig() Config {
	return Config{
		AmountDeviationThreshold: 3.0,
		VelocityRatioThreshold:   5.0,
		VelocityWindow:           60 * time.Minute,
		RapidSuccession:          5 * time.Minute,
		NightEndHour:             6,
		NightStartHour:           22,
		HighRiskThreshold:        75,
		DenlistedCountries:       []string{"KP", "IR", "SY", "CU"},
		DenlistedCategories:      []string{"gambling", "crypto_exchange", "wire_transfer"},
		HighRiskAmounts:          []float64{999.99, 9999.99},
	}
}

// Engine scores events and maintains per-user risk profiles
type Engine struct {
	profiles *ProfileStore
	feed     Feed
	config   Config
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures an Engine
type Option func(*Engine)

// WithClock injects a clock for tests
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates a risk scoring engine
func NewEngine(profiles *ProfileStore, feed Feed, config Config, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		profiles: profiles,
		feed:     feed,
		config:   config,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Analyze scores an event against the user's profile and updates the
// profile afterwards. On any internal failure the returned assessment is
// the conservative fallback, never an approval.
func (e *Engine) Analyze(ctx context.Context, event *models.RiskEvent) *models.RiskAssessment {
	assessment := e.analyzeAndUpdate(event)

	metrics.RiskAssessments.WithLabelValues(string(assessment.Level)).Inc()
	metrics.RiskScores.Observe(assessment.Overall)

	if assessment.Overall >= e.config.HighRiskThreshold {
		e.feed.Record(ctx, security.FraudHighRisk{
			UserID:    event.UserID,
			IPAddress: event.IPAddress,
			Score:     assessment.Overall,
			Level:     assessment.Level,
			Reasons:   assessment.Reasons,
			At:        e.now(),
		})
		e.logger.Warn("high risk event",
			slog.String("user_id", event.UserID),
			slog.Float64("score", assessment.Overall),
			slog.String("level", string(assessment.Level)),
			slog.String("action", string(assessment.RecommendedAction)))
	}

	return assessment
}

// analyzeAndUpdate runs scoring and the profile update as one critical
// section per user. A panic in any analyzer degrades to the fallback
// assessment; the request is never failed open.
func (e *Engine) analyzeAndUpdate(event *models.RiskEvent) (assessment *models.RiskAssessment) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("risk analysis failed, falling back to manual review",
				slog.Any("panic", r))
			assessment = fallbackAssessment()
		}
	}()

	occurred := event.OccurredAt
	if occurred.IsZero() {
		occurred = e.now()
	}

	e.profiles.WithProfile(event.UserID, func(entry *profileEntry) {
		profile := entry.profile
		recentCount := entry.countRecent(occurred.Add(-e.config.VelocityWindow)) + 1

		components := make(map[string]float64, 6)
		var reasons []string

		score, rs := e.analyzeAmount(event, profile)
		components["amount"] = score
		reasons = append(reasons, rs...)

		score, rs = e.analyzeLocation(event, profile)
		components["location"] = score
		reasons = append(reasons, rs...)

		score, rs = e.analyzeTimePattern(event, profile, occurred)
		components["time"] = score
		reasons = append(reasons, rs...)

		score, rs = e.analyzeDevice(event, profile)
		components["device"] = score
		reasons = append(reasons, rs...)

		score, rs = e.analyzeMerchant(event, profile)
		components["merchant"] = score
		reasons = append(reasons, rs...)

		score, rs = e.analyzeVelocity(profile, recentCount)
		components["velocity"] = score
		reasons = append(reasons, rs...)

		overall := components["amount"]*weightAmount +
			components["location"]*weightLocation +
			components["time"]*weightTime +
			components["device"]*weightDevice +
			components["merchant"]*weightMerchant +
			components["velocity"]*weightVelocity

		assessment = &models.RiskAssessment{
			Overall:           overall,
			Components:        components,
			Level:             models.LevelForScore(overall),
			Reasons:           reasons,
			Confidence:        e.confidence(event, profile),
			RecommendedAction: recommendAction(overall, reasons),
		}

		e.updateProfile(entry, event, occurred, overall)
	})

	return assessment
}

func (e *Engine) analyzeAmount(event *models.RiskEvent, profile *models.RiskProfile) (float64, []string) {
	if profile.AverageAmount > 0 {
		deviation := event.Amount / profile.AverageAmount
		if deviation >= e.config.AmountDeviationThreshold {
			return math.Min(100, deviation*20),
				[]string{fmt.Sprintf("Transaction amount %.1fx above average", deviation)}
		}
	}
	for _, amount := range e.config.HighRiskAmounts {
		if event.Amount == amount {
			return 80, []string{"Amount matches known high-risk pattern"}
		}
	}
	return 0, nil
}

func (e *Engine) analyzeLocation(event *models.RiskEvent, profile *models.RiskProfile) (float64, []string) {
	for _, country := range e.config.DenlistedCountries {
		if event.Country == country {
			return 90, []string{"Transaction from high-risk country"}
		}
	}
	location := event.Location()
	if location != "" && len(profile.CommonLocations) > 0 && !profile.KnowsLocation(location) {
		return 70, []string{"Transaction from unfamiliar location"}
	}
	return 0, nil
}

func (e *Engine) analyzeTimePattern(event *models.RiskEvent, profile *models.RiskProfile, occurred time.Time) (float64, []string) {
	var score float64
	var reasons []string

	hour := occurred.Hour()
	if hour < e.config.NightEndHour || hour > e.config.NightStartHour {
		score = 40
		reasons = append(reasons, "Activity during unusual hours")
	}
	if !profile.LastActivity.IsZero() && occurred.Sub(profile.LastActivity) < e.config.RapidSuccession {
		if score < 60 {
			score = 60
		}
		reasons = append(reasons, "Rapid succession of events")
	}
	return score, reasons
}

func (e *Engine) analyzeDevice(event *models.RiskEvent, profile *models.RiskProfile) (float64, []string) {
	if event.DeviceFingerprint != "" && !profile.KnowsDevice(event.DeviceFingerprint) {
		return 65, []string{"Unrecognized device"}
	}
	return 0, nil
}

func (e *Engine) analyzeMerchant(event *models.RiskEvent, profile *models.RiskProfile) (float64, []string) {
	category := strings.ToLower(event.MerchantCategory)
	for _, denied := range e.config.DenlistedCategories {
		if category != "" && strings.Contains(category, denied) {
			return 85, []string{"High-risk merchant category"}
		}
	}
	if event.MerchantName != "" && len(profile.CommonMerchants) > 0 && !profile.KnowsMerchant(event.MerchantName) {
		return 45, []string{"Unfamiliar merchant"}
	}
	return 0, nil
}

func (e *Engine) analyzeVelocity(profile *models.RiskProfile, recentCount int) (float64, []string) {
	if profile.TransactionFrequency <= 0 {
		return 0, nil
	}
	ratio := float64(recentCount) / profile.TransactionFrequency
	if ratio >= e.config.VelocityRatioThreshold {
		return math.Min(100, ratio*15),
			[]string{fmt.Sprintf("Event velocity %.1fx above baseline", ratio)}
	}
	return 0, nil
}

// confidence reflects how much history backs the assessment
func (e *Engine) confidence(event *models.RiskEvent, profile *models.RiskProfile) float64 {
	confidence := 0.5
	switch {
	case profile.TotalEvents > 10:
		confidence += 0.2
	case profile.TotalEvents > 5:
		confidence += 0.1
	}
	if event.DeviceFingerprint != "" && event.HasGeo() {
		confidence += 0.2
	}
	if profile.TotalEvents < 3 {
		confidence -= 0.3
	}
	return math.Min(1.0, math.Max(0.1, confidence))
}

func recommendAction(overall float64, reasons []string) models.RiskAction {
	switch {
	case overall >= 90:
		return models.ActionBlock
	case overall >= 75:
		if len(reasons) > 2 {
			return models.ActionBlock
		}
		return models.ActionInvestigate
	case overall >= 60:
		return models.ActionReview
	default:
		return models.ActionApprove
	}
}

// updateProfile folds the scored event into the baseline. Runs inside
// the per-user critical section.
func (e *Engine) updateProfile(entry *profileEntry, event *models.RiskEvent, occurred time.Time, overall float64) {
	profile := entry.profile

	profile.TotalEvents++
	if event.Amount > 0 {
		profile.AverageAmount += (event.Amount - profile.AverageAmount) / float64(profile.TotalEvents)
	}

	entry.remember(occurred, e.config.VelocityWindow)
	hourly := float64(entry.countRecent(occurred.Add(-e.config.VelocityWindow)))
	profile.TransactionFrequency += (hourly - profile.TransactionFrequency) / float64(profile.TotalEvents)

	profile.RememberLocation(event.Location())
	profile.RememberMerchant(event.MerchantName)
	profile.RememberDevice(event.DeviceFingerprint)
	profile.LastActivity = occurred

	if overall >= e.config.HighRiskThreshold {
		profile.FraudulentEvents++
		profile.RiskScore = math.Min(100, profile.RiskScore+10)
	} else {
		profile.RiskScore = math.Max(0, profile.RiskScore-1)
	}
}

func fallbackAssessment() *models.RiskAssessment {
	return &models.RiskAssessment{
		Overall:           50,
		Components:        map[string]float64{},
		Level:             models.RiskMedium,
		Reasons:           []string{"Analysis failed - manual review required"},
		Confidence:        0.5,
		RecommendedAction: models.ActionReview,
	}
}

package risk

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qistpay/authcore/internal/models"
	"github.com/qistpay/authcore/internal/security"
)

type captureFeed struct {
	mu     sync.Mutex
	events []security.Event
}

func (f *captureFeed) Record(_ context.Context, event security.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func (f *captureFeed) recorded() []security.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]security.Event, len(f.events))
	copy(out, f.events)
	return out
}

type engineClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *engineClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *engineClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *engineClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestEngine(t *testing.T) (*Engine, *ProfileStore, *captureFeed, *engineClock) {
	t.Helper()
	profiles := NewProfileStore()
	feed := &captureFeed{}
	clock := &engineClock{now: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	engine := NewEngine(profiles, feed, DefaultConfig(), slog.Default(), WithClock(clock.Now))
	return engine, profiles, feed, clock
}

func dayEvent(userID string, amount float64, at time.Time) *models.RiskEvent {
	return &models.RiskEvent{
		UserID:            userID,
		Amount:            amount,
		Currency:          "AED",
		Country:           "AE",
		City:              "Dubai",
		DeviceFingerprint: "device-1",
		MerchantName:      "Corner Grocer",
		MerchantCategory:  "groceries",
		IPAddress:         "203.0.113.7",
		OccurredAt:        at,
	}
}

// seedBaseline runs n benign daytime events a day apart so the profile
// learns an average without tripping the velocity or time analyzers
func seedBaseline(t *testing.T, engine *Engine, clock *engineClock, userID string, n int, amount float64) {
	t.Helper()
	for i := 0; i < n; i++ {
		assessment := engine.Analyze(context.Background(), dayEvent(userID, amount, clock.Now()))
		require.Equal(t, models.ActionApprove, assessment.RecommendedAction)
		clock.Advance(24 * time.Hour)
	}
}

func TestAnalyze_FirstEventIsCleanButLowConfidence(t *testing.T) {
	engine, _, _, clock := newTestEngine(t)

	event := dayEvent("u1", 50, clock.Now())
	event.DeviceFingerprint = ""

	assessment := engine.Analyze(context.Background(), event)

	assert.Equal(t, float64(0), assessment.Overall)
	assert.Equal(t, models.RiskLow, assessment.Level)
	assert.Equal(t, models.ActionApprove, assessment.RecommendedAction)
	assert.Empty(t, assessment.Reasons)
	// Thin-history penalty with no coordinates or fingerprint to offset it
	assert.InDelta(t, 0.2, assessment.Confidence, 0.001)
}

func TestAnalyzeAmount_DeviationAboveAverage(t *testing.T) {
	engine, _, _, clock := newTestEngine(t)
	seedBaseline(t, engine, clock, "u1", 5, 1000)

	assessment := engine.Analyze(context.Background(), dayEvent("u1", 5000, clock.Now()))

	assert.Equal(t, float64(100), assessment.Components["amount"])
	assert.Contains(t, assessment.Reasons, "Transaction amount 5.0x above average")
}

func TestAnalyzeAmount_HighRiskPattern(t *testing.T) {
	engine, _, _, clock := newTestEngine(t)

	assessment := engine.Analyze(context.Background(), dayEvent("u1", 999.99, clock.Now()))

	assert.Equal(t, float64(80), assessment.Components["amount"])
	assert.Contains(t, assessment.Reasons, "Amount matches known high-risk pattern")
}

func TestAnalyzeLocation_DenylistedCountry(t *testing.T) {
	engine, _, _, clock := newTestEngine(t)

	event := dayEvent("u1", 50, clock.Now())
	event.Country = "KP"

	assessment := engine.Analyze(context.Background(), event)

	assert.Equal(t, float64(90), assessment.Components["location"])
	assert.Contains(t, assessment.Reasons, "Transaction from high-risk country")
}

func TestAnalyzeLocation_UnfamiliarWithHistory(t *testing.T) {
	engine, _, _, clock := newTestEngine(t)
	seedBaseline(t, engine, clock, "u1", 3, 100)

	event := dayEvent("u1", 100, clock.Now())
	event.Country = "BR"
	event.City = "Sao Paulo"

	assessment := engine.Analyze(context.Background(), event)

	assert.Equal(t, float64(70), assessment.Components["location"])
	assert.Contains(t, assessment.Reasons, "Transaction from unfamiliar location")
}

func TestAnalyzeTimePattern_OffHoursAndRapidSuccession(t *testing.T) {
	engine, _, _, clock := newTestEngine(t)

	clock.Set(time.Date(2026, 3, 10, 23, 30, 0, 0, time.UTC))
	first := engine.Analyze(context.Background(), dayEvent("u1", 50, clock.Now()))
	assert.Equal(t, float64(40), first.Components["time"])
	assert.Contains(t, first.Reasons, "Activity during unusual hours")

	clock.Advance(30 * time.Second)
	second := engine.Analyze(context.Background(), dayEvent("u1", 50, clock.Now()))
	assert.Equal(t, float64(60), second.Components["time"])
	assert.Contains(t, second.Reasons, "Rapid succession of events")
}

func TestAnalyzeDevice_Unrecognized(t *testing.T) {
	engine, _, _, clock := newTestEngine(t)
	seedBaseline(t, engine, clock, "u1", 3, 100)

	event := dayEvent("u1", 100, clock.Now())
	event.DeviceFingerprint = "device-99"

	assessment := engine.Analyze(context.Background(), event)

	assert.Equal(t, float64(65), assessment.Components["device"])
	assert.Contains(t, assessment.Reasons, "Unrecognized device")
}

func TestAnalyzeMerchant_DenylistedCategory(t *testing.T) {
	engine, _, _, clock := newTestEngine(t)

	event := dayEvent("u1", 50, clock.Now())
	event.MerchantCategory = "online_gambling"

	assessment := engine.Analyze(context.Background(), event)

	assert.Equal(t, float64(85), assessment.Components["merchant"])
	assert.Contains(t, assessment.Reasons, "High-risk merchant category")
}

func TestAnalyzeVelocity_BurstAboveBaseline(t *testing.T) {
	engine, _, _, clock := newTestEngine(t)
	seedBaseline(t, engine, clock, "u1", 50, 100)

	// Six events inside a minute against a one-per-hour baseline. The
	// frequency mean creeps up as the burst itself is folded in, so the
	// ratio crosses the threshold on the sixth event, not the fifth.
	var last *models.RiskAssessment
	for i := 0; i < 6; i++ {
		last = engine.Analyze(context.Background(), dayEvent("u1", 0, clock.Now()))
		clock.Advance(10 * time.Second)
	}

	require.NotNil(t, last)
	assert.InDelta(t, 76.15, last.Components["velocity"], 0.01)
	assert.Contains(t, last.Reasons, "Event velocity 5.1x above baseline")
}

func TestAnalyze_CompoundAnomaliesBlock(t *testing.T) {
	engine, profiles, feed, clock := newTestEngine(t)
	seedBaseline(t, engine, clock, "u1", 50, 100)

	// Night-time burst from a denylisted country, zero-amount probes
	// first so the learned average stays intact
	clock.Set(time.Date(2026, 5, 2, 23, 0, 0, 0, time.UTC))
	for i := 0; i < 7; i++ {
		event := dayEvent("u1", 0, clock.Now())
		event.Country = "KP"
		event.DeviceFingerprint = ""
		engine.Analyze(context.Background(), event)
		clock.Advance(30 * time.Second)
	}

	event := dayEvent("u1", 10000, clock.Now())
	event.Country = "KP"
	event.DeviceFingerprint = "device-burner"
	event.MerchantCategory = "gambling"

	assessment := engine.Analyze(context.Background(), event)

	assert.GreaterOrEqual(t, assessment.Overall, float64(75))
	assert.Equal(t, models.RiskHigh, assessment.Level)
	assert.Equal(t, models.ActionBlock, assessment.RecommendedAction)
	assert.Greater(t, len(assessment.Reasons), 2)
	assert.InDelta(t, 0.7, assessment.Confidence, 0.001)

	// Only the scored-high event reaches the security feed
	events := feed.recorded()
	require.Len(t, events, 1)
	fraud, ok := events[0].(security.FraudHighRisk)
	require.True(t, ok)
	assert.Equal(t, "u1", fraud.UserID)
	assert.Equal(t, assessment.Overall, fraud.Score)
	assert.Equal(t, "user:u1", fraud.TrackingKey())

	profile := profiles.Snapshot("u1")
	require.NotNil(t, profile)
	assert.Equal(t, 1, profile.FraudulentEvents)
	assert.Equal(t, float64(10), profile.RiskScore)
}

func TestAnalyze_UpdatesProfile(t *testing.T) {
	engine, profiles, _, clock := newTestEngine(t)
	seedBaseline(t, engine, clock, "u1", 4, 200)

	profile := profiles.Snapshot("u1")
	require.NotNil(t, profile)
	assert.Equal(t, 4, profile.TotalEvents)
	assert.InDelta(t, 200, profile.AverageAmount, 0.001)
	assert.Contains(t, profile.CommonLocations, "AE/Dubai")
	assert.Contains(t, profile.CommonMerchants, "Corner Grocer")
	assert.Contains(t, profile.CommonDevices, "device-1")
	assert.Equal(t, 0, profile.FraudulentEvents)
}

func TestAnalyze_SnapshotIsACopy(t *testing.T) {
	engine, profiles, _, clock := newTestEngine(t)
	seedBaseline(t, engine, clock, "u1", 2, 100)

	snap := profiles.Snapshot("u1")
	require.NotNil(t, snap)
	snap.TotalEvents = 999

	assert.Equal(t, 2, profiles.Snapshot("u1").TotalEvents)
	assert.Nil(t, profiles.Snapshot("nobody"))
}

func TestProfileStore_Reset(t *testing.T) {
	engine, profiles, _, clock := newTestEngine(t)
	seedBaseline(t, engine, clock, "u1", 2, 100)

	profiles.Reset("u1")

	assert.Nil(t, profiles.Snapshot("u1"))
	assert.Equal(t, 0, profiles.Len())
}

func TestAnalyze_PanicFallsBackToReview(t *testing.T) {
	engine, _, _, _ := newTestEngine(t)

	assessment := engine.Analyze(context.Background(), nil)

	assert.Equal(t, float64(50), assessment.Overall)
	assert.Equal(t, models.RiskMedium, assessment.Level)
	assert.Equal(t, models.ActionReview, assessment.RecommendedAction)
	assert.Contains(t, assessment.Reasons, "Analysis failed - manual review required")
	assert.InDelta(t, 0.5, assessment.Confidence, 0.001)
}

func TestConfidence_GrowsWithHistory(t *testing.T) {
	engine, _, _, clock := newTestEngine(t)
	seedBaseline(t, engine, clock, "u1", 11, 100)

	assessment := engine.Analyze(context.Background(), dayEvent("u1", 100, clock.Now()))

	assert.InDelta(t, 0.7, assessment.Confidence, 0.001)
}

package models

import "time"

// Bounded history capacities for behavioral baselines
const (
	MaxCommonLocations = 10
	MaxCommonMerchants = 10
	MaxCommonDevices   = 5
)

// RiskLevel classifies an assessment's overall score
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// RiskAction is the recommended handling for an assessed event
type RiskAction string

const (
	ActionApprove     RiskAction = "approve"
	ActionReview      RiskAction = "review"
	ActionInvestigate RiskAction = "investigate"
	ActionBlock       RiskAction = "block"
)

// RiskEvent is a scored authentication or transaction event
type RiskEvent struct {
	UserID            string
	Amount            float64
	Currency          string
	Country           string
	City              string
	Latitude          *float64
	Longitude         *float64
	DeviceFingerprint string
	MerchantName      string
	MerchantCategory  string
	IPAddress         string
	OccurredAt        time.Time
}

// HasGeo reports whether the event carries coordinates
func (e *RiskEvent) HasGeo() bool {
	return e.Latitude != nil && e.Longitude != nil
}

// Location is the comparable location key used against profile history
func (e *RiskEvent) Location() string {
	if e.City != "" {
		return e.Country + "/" + e.City
	}
	return e.Country
}

// RiskProfile is the accumulated behavioral baseline for a user.
// Created lazily on first event, mutated after every scored event,
// and reset only through explicit administrative action.
type RiskProfile struct {
	UserID               string
	AverageAmount        float64
	TransactionFrequency float64
	TotalEvents          int
	FraudulentEvents     int
	CommonLocations      []string
	CommonMerchants      []string
	CommonDevices        []string
	RiskScore            float64
	LastActivity         time.Time
}

// NewRiskProfile returns an empty baseline for a user
func NewRiskProfile(userID string) *RiskProfile {
	return &RiskProfile{
		UserID:          userID,
		CommonLocations: make([]string, 0, MaxCommonLocations),
		CommonMerchants: make([]string, 0, MaxCommonMerchants),
		CommonDevices:   make([]string, 0, MaxCommonDevices),
	}
}

// KnowsLocation reports whether the location appears in recent history
func (p *RiskProfile) KnowsLocation(location string) bool {
	return containsString(p.CommonLocations, location)
}

// KnowsMerchant reports whether the merchant appears in recent history
func (p *RiskProfile) KnowsMerchant(merchant string) bool {
	return containsString(p.CommonMerchants, merchant)
}

// KnowsDevice reports whether the fingerprint appears in recent history
func (p *RiskProfile) KnowsDevice(fingerprint string) bool {
	return containsString(p.CommonDevices, fingerprint)
}

// RememberLocation appends to the bounded recency list, evicting the oldest
func (p *RiskProfile) RememberLocation(location string) {
	p.CommonLocations = appendBounded(p.CommonLocations, location, MaxCommonLocations)
}

// RememberMerchant appends to the bounded recency list, evicting the oldest
func (p *RiskProfile) RememberMerchant(merchant string) {
	p.CommonMerchants = appendBounded(p.CommonMerchants, merchant, MaxCommonMerchants)
}

// RememberDevice appends to the bounded recency list, evicting the oldest
func (p *RiskProfile) RememberDevice(fingerprint string) {
	p.CommonDevices = appendBounded(p.CommonDevices, fingerprint, MaxCommonDevices)
}

func containsString(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

func appendBounded(list []string, v string, capacity int) []string {
	if v == "" || containsString(list, v) {
		return list
	}
	list = append(list, v)
	if len(list) > capacity {
		list = list[1:]
	}
	return list
}

// RiskAssessment is the result of scoring a single event
type RiskAssessment struct {
	Overall           float64
	Components        map[string]float64
	Level             RiskLevel
	Reasons           []string
	Confidence        float64
	RecommendedAction RiskAction
}

// LevelForScore maps an overall score to a risk level
func LevelForScore(score float64) RiskLevel {
	switch {
	case score >= 90:
		return RiskCritical
	case score >= 75:
		return RiskHigh
	case score >= 50:
		return RiskMedium
	default:
		return RiskLow
	}
}

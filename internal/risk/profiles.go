package risk

import (
	"time"

	"github.com/qistpay/authcore/internal/models"
	"github.com/qistpay/authcore/internal/store"
)

// profileEntry pairs a profile with the recent event timestamps that
// back the velocity analyzer. Timestamps are engine-internal state and
// never leave the store.
type profileEntry struct {
	profile *models.RiskProfile
	recent  []time.Time
}

// countRecent counts remembered events at or after the cutoff
func (p *profileEntry) countRecent(cutoff time.Time) int {
	count := 0
	for _, at := range p.recent {
		if !at.Before(cutoff) {
			count++
		}
	}
	return count
}

// remember records an event time and prunes entries outside the window
func (p *profileEntry) remember(at time.Time, window time.Duration) {
	cutoff := at.Add(-window)
	live := p.recent[:0]
	for _, t := range p.recent {
		if !t.Before(cutoff) {
			live = append(live, t)
		}
	}
	p.recent = append(live, at)
}

// ProfileStore holds per-user risk profiles in a sharded in-memory map.
// Profiles are created lazily on first event and removed only through
// explicit administrative reset.
type ProfileStore struct {
	inner *store.Sharded[*profileEntry]
}

// NewProfileStore creates an empty profile store
func NewProfileStore() *ProfileStore {
	return &ProfileStore{inner: store.NewSharded[*profileEntry]()}
}

// WithProfile runs fn as a critical section for the user's entry,
// creating the profile lazily on first use
func (s *ProfileStore) WithProfile(userID string, fn func(entry *profileEntry)) {
	s.inner.Update(userID, func(cur *profileEntry, ok bool) *profileEntry {
		if !ok || cur == nil {
			cur = &profileEntry{profile: models.NewRiskProfile(userID)}
		}
		fn(cur)
		return cur
	})
}

// Snapshot returns a copy of the user's profile, or nil when none exists
func (s *ProfileStore) Snapshot(userID string) *models.RiskProfile {
	var copied *models.RiskProfile
	s.inner.Read(userID, func(entry *profileEntry) {
		if entry == nil {
			return
		}
		c := *entry.profile
		c.CommonLocations = append([]string(nil), entry.profile.CommonLocations...)
		c.CommonMerchants = append([]string(nil), entry.profile.CommonMerchants...)
		c.CommonDevices = append([]string(nil), entry.profile.CommonDevices...)
		copied = &c
	})
	return copied
}

// Reset removes a user's profile. Administrative operation.
func (s *ProfileStore) Reset(userID string) {
	s.inner.Delete(userID)
}

// Len reports how many profiles are tracked
func (s *ProfileStore) Len() int {
	return s.inner.Len()
}

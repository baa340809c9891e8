package models

import (
	"time"
)

// ResetToken represents a single-use password reset token. Only the hash
// is ever persisted; the plaintext is returned exactly once at issuance
// for out-of-band delivery.
type ResetToken struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	TokenHash string     `json:"-"` // Never expose token hash
	IPAddress string     `json:"ip_address"`
	UserAgent string     `json:"user_agent"`
	ExpiresAt time.Time  `json:"expires_at"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// IsExpired checks if the token has expired
func (t *ResetToken) IsExpired() bool {
	return time.Now().After(t.ExpiresAt)
}

// IsUsed checks if the token has already been consumed
func (t *ResetToken) IsUsed() bool {
	return t.UsedAt != nil
}

// IsValid checks if the token is still valid (not expired and not used)
func (t *ResetToken) IsValid() bool {
	return !t.IsExpired() && !t.IsUsed()
}

// IssuedToken pairs a persisted token record with the plaintext secret.
// The plaintext exists in memory only long enough for delivery and must
// never be logged.
type IssuedToken struct {
	Token     *ResetToken
	Plaintext string
}

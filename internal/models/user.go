package models

import "time"

// User is the account record held in the relational store
type User struct {
	ID                string     `json:"id"`
	Email             string     `json:"email"`
	PasswordHash      string     `json:"-"`
	Name              string     `json:"name"`
	Role              string     `json:"role"`
	EmailVerified     bool       `json:"email_verified"`
	TOTPSecret        []byte     `json:"-"` // AES-GCM encrypted
	TOTPNonce         []byte     `json:"-"`
	TOTPEnabled       bool       `json:"totp_enabled"`
	PasswordChangedAt *time.Time `json:"password_changed_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

package models

import "time"

// LoginAttempt records the outcome of an authentication attempt for
// forensics and for the durable side of the security event history
type LoginAttempt struct {
	ID                string
	Email             string
	IPAddress         string
	UserAgent         string
	Success           bool
	FailureReason     *string
	DeviceFingerprint string
	AttemptTime       time.Time
	ExpiresAt         time.Time
}

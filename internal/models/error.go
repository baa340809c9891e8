package models

import "errors"

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Security decision errors
	ErrRateLimited        = errors.New("rate limit exceeded")
	ErrTemporarilyBlocked = errors.New("identity temporarily blocked")

	// Reset token errors. The caller never learns whether a token was
	// missing, expired, or already used; the specific cause is recorded
	// on the security feed instead.
	ErrInvalidResetToken   = errors.New("invalid reset token")
	ErrPasswordResetFailed = errors.New("password reset failed")

	// Account state errors
	ErrAccountDisabled  = errors.New("account is disabled")
	ErrAccountSuspended = errors.New("account is suspended")
	ErrEmailNotVerified = errors.New("email address not verified")
)

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/qistpay/authcore/internal/models"
	"github.com/qistpay/authcore/internal/services"
	pkgauth "github.com/qistpay/authcore/pkg/auth"
	pkghttp "github.com/qistpay/authcore/pkg/http"
	pkglogger "github.com/qistpay/authcore/pkg/logger"
)

// PasswordResetServiceInterface defines the interface for the token lifecycle
type PasswordResetServiceInterface interface {
	Request(ctx context.Context, userID, ipAddress, userAgent string) (*models.IssuedToken, bool, error)
	ValidateToken(ctx context.Context, plaintext, ipAddress string) services.ValidationResult
	ConsumeToken(ctx context.Context, plaintext, ipAddress string) (string, error)
}

// ResetUserRepository is the slice of user persistence reset needs
type ResetUserRepository interface {
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) error
}

// PasswordResetHandler handles the reset request/validate/confirm endpoints
type PasswordResetHandler struct {
	service     PasswordResetServiceInterface
	users       ResetUserRepository
	email       services.EmailService
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
}

// NewPasswordResetHandler creates a new PasswordResetHandler
func NewPasswordResetHandler(
	service PasswordResetServiceInterface,
	users ResetUserRepository,
	email services.EmailService,
	logger *slog.Logger,
	auditLogger *pkglogger.AuditLogger,
) *PasswordResetHandler {
	return &PasswordResetHandler{
		service:     service,
		users:       users,
		email:       email,
		logger:      logger,
		auditLogger: auditLogger,
	}
}

// RequestResetRequest represents the request body for initiating a reset
type RequestResetRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// ValidateResetRequest represents the request body for checking a token
type ValidateResetRequest struct {
	Token string `json:"token" validate:"required"`
}

// ConfirmResetRequest represents the request body for completing a reset
type ConfirmResetRequest struct {
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"new_password" validate:"required"`
}

const resetAcceptedMessage = "If the email is registered, you will receive a password reset link shortly."

// RequestReset initiates a password reset. The response is identical
// whether or not the email exists, and whether or not a token was
// actually issued, to prevent user enumeration.
func (h *PasswordResetHandler) RequestReset(w http.ResponseWriter, r *http.Request) {
	var req RequestResetRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	ipAddress := pkghttp.ExtractClientIP(r)
	userAgent := r.Header.Get("User-Agent")

	user, err := h.users.GetByEmail(r.Context(), req.Email)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			h.logger.Error("failed to look up user for reset request", slog.Any("error", err))
		}
		pkghttp.WriteJSON(w, http.StatusAccepted, map[string]string{"message": resetAcceptedMessage})
		return
	}

	issued, suppressed, err := h.service.Request(r.Context(), user.ID, ipAddress, userAgent)
	if err != nil {
		h.logger.Error("failed to issue reset token", slog.String("user_id", user.ID), slog.Any("error", err))
		pkghttp.WriteJSON(w, http.StatusAccepted, map[string]string{"message": resetAcceptedMessage})
		return
	}

	// A pending token suppresses both issuance and notification
	if !suppressed {
		if err := h.email.SendPasswordResetEmail(r.Context(), user.Email, issued.Plaintext, issued.Token.ExpiresAt); err != nil {
			h.logger.Error("failed to send reset email", slog.String("user_id", user.ID), slog.Any("error", err))
		}
	}

	h.auditLogger.LogAccountAction("password_reset_requested", user.ID, ipAddress, map[string]string{
		"suppressed": boolString(suppressed),
	})

	pkghttp.WriteJSON(w, http.StatusAccepted, map[string]string{"message": resetAcceptedMessage})
}

// ValidateReset reports whether a token is currently usable without
// consuming it, so a reset form can be pre-checked
func (h *PasswordResetHandler) ValidateReset(w http.ResponseWriter, r *http.Request) {
	var req ValidateResetRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	result := h.service.ValidateToken(r.Context(), req.Token, pkghttp.ExtractClientIP(r))

	pkghttp.WriteJSON(w, http.StatusOK, map[string]bool{"valid": result.IsValid})
}

// ConfirmReset spends the token and sets the new password. The token is
// consumed before the password is touched; a lost race fails the whole
// request with the same generic error as any invalid token.
func (h *PasswordResetHandler) ConfirmReset(w http.ResponseWriter, r *http.Request) {
	var req ConfirmResetRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	ipAddress := pkghttp.ExtractClientIP(r)

	if err := pkgauth.ValidatePassword(req.NewPassword); err != nil {
		pkghttp.WriteBadRequest(w, "Password does not meet requirements")
		return
	}

	userID, err := h.service.ConsumeToken(r.Context(), req.Token, ipAddress)
	if err != nil {
		pkghttp.WriteUnauthorized(w, "Invalid or expired reset token")
		return
	}

	passwordHash, err := pkgauth.HashPassword(req.NewPassword)
	if err != nil {
		h.logger.Error("failed to hash new password", slog.String("user_id", userID), slog.Any("error", err))
		h.auditLogger.LogPasswordChange(userID, ipAddress, false)
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	if err := h.users.UpdatePassword(r.Context(), userID, passwordHash); err != nil {
		h.logger.Error("failed to update password", slog.String("user_id", userID), slog.Any("error", err))
		h.auditLogger.LogPasswordChange(userID, ipAddress, false)
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	h.auditLogger.LogPasswordChange(userID, ipAddress, true)
	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"message": "Password has been reset"})
}

func boolString(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

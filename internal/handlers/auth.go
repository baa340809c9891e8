package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/qistpay/authcore/internal/models"
	"github.com/qistpay/authcore/internal/services"
	pkghttp "github.com/qistpay/authcore/pkg/http"
)

// AuthServiceInterface defines the interface for auth business logic
type AuthServiceInterface interface {
	Login(ctx context.Context, email, password string, rc services.LoginContext) (*services.LoginResult, error)
	CompleteStepUp(ctx context.Context, challengeToken, code string, rc services.LoginContext) (*services.AuthResponse, error)
	Register(ctx context.Context, email, password, name string) (*services.AuthResponse, error)
	RefreshToken(ctx context.Context, refreshToken string) (*services.AuthResponse, error)
}

// AuthHandler handles authentication-related HTTP requests
type AuthHandler struct {
	service AuthServiceInterface
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(service AuthServiceInterface) *AuthHandler {
	return &AuthHandler{
		service: service,
	}
}

// Request DTOs

// LoginRequest represents the request body for login
type LoginRequest struct {
	Email             string `json:"email" validate:"required,email"`
	Password          string `json:"password" validate:"required"`
	DeviceFingerprint string `json:"device_fingerprint,omitempty"`
}

// StepUpRequest represents the request body for step-up verification
type StepUpRequest struct {
	ChallengeToken string `json:"challenge_token" validate:"required"`
	Code           string `json:"code" validate:"required,len=6"`
}

// RegisterRequest represents the request body for registration
type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	Name     string `json:"name" validate:"required,min=1"`
}

// RefreshTokenRequest represents the request body for token refresh
type RefreshTokenRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// StepUpResponse tells the client a second factor is required
type StepUpResponse struct {
	StepUpRequired bool   `json:"step_up_required"`
	ChallengeToken string `json:"challenge_token"`
}

func loginContextFromRequest(r *http.Request, deviceFingerprint string) services.LoginContext {
	return services.LoginContext{
		IPAddress:         pkghttp.ExtractClientIP(r),
		UserAgent:         r.Header.Get("User-Agent"),
		DeviceFingerprint: deviceFingerprint,
		Country:           r.Header.Get("CF-IPCountry"),
	}
}

// Login handles user login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	result, err := h.service.Login(r.Context(), req.Email, req.Password, loginContextFromRequest(r, req.DeviceFingerprint))
	if err != nil {
		switch {
		case errors.Is(err, models.ErrUnauthorized),
			errors.Is(err, models.ErrForbidden),
			errors.Is(err, models.ErrEmailNotVerified),
			errors.Is(err, models.ErrAccountDisabled),
			errors.Is(err, models.ErrAccountSuspended):
			// Generic error for all credential and account status issues
			// to prevent user enumeration
			pkghttp.WriteUnauthorized(w, "Authentication failed")
		case errors.Is(err, models.ErrRateLimited),
			errors.Is(err, models.ErrTemporarilyBlocked):
			pkghttp.WriteTooManyRequests(w, "Too many failed login attempts. Please try again later.")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	if result.StepUpRequired {
		pkghttp.WriteJSON(w, http.StatusOK, StepUpResponse{
			StepUpRequired: true,
			ChallengeToken: result.ChallengeToken,
		})
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, result.Auth)
}

// StepUp completes a login flagged for second-factor verification
func (h *AuthHandler) StepUp(w http.ResponseWriter, r *http.Request) {
	var req StepUpRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	authResp, err := h.service.CompleteStepUp(r.Context(), req.ChallengeToken, req.Code, loginContextFromRequest(r, ""))
	if err != nil {
		switch {
		case errors.Is(err, models.ErrUnauthorized):
			pkghttp.WriteUnauthorized(w, "Verification failed")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, authResp)
}

// Register handles user registration
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	req.Name = strings.TrimSpace(req.Name)

	_, err := h.service.Register(r.Context(), req.Email, req.Password, req.Name)
	if err != nil {
		// Conflicts and weak passwords get the same accepted response as
		// success to prevent user enumeration
		if errors.Is(err, models.ErrConflict) || strings.Contains(err.Error(), "invalid password") {
			pkghttp.WriteJSON(w, http.StatusAccepted, map[string]string{
				"message": "Registration received. If the email is not already registered, you will receive a confirmation email.",
			})
			return
		}

		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	pkghttp.WriteJSON(w, http.StatusAccepted, map[string]string{
		"message": "Registration received. If the email is not already registered, you will receive a confirmation email.",
	})
}

// RefreshToken handles token refresh
func (h *AuthHandler) RefreshToken(w http.ResponseWriter, r *http.Request) {
	var req RefreshTokenRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	authResp, err := h.service.RefreshToken(r.Context(), req.RefreshToken)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrUnauthorized):
			pkghttp.WriteUnauthorized(w, "Authentication failed")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, authResp)
}

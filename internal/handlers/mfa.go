package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/qistpay/authcore/internal/auth"
	"github.com/qistpay/authcore/internal/models"
	pkghttp "github.com/qistpay/authcore/pkg/http"
)

// MFAServiceInterface defines the interface for TOTP enrollment
type MFAServiceInterface interface {
	EnrollTOTP(ctx context.Context, userID string) (string, error)
	VerifyTOTPEnrollment(ctx context.Context, userID, code string) error
}

// MFAHandler handles TOTP enrollment endpoints
type MFAHandler struct {
	service MFAServiceInterface
}

// NewMFAHandler creates a new MFAHandler
func NewMFAHandler(service MFAServiceInterface) *MFAHandler {
	return &MFAHandler{service: service}
}

// EnrollResponse carries the provisioning QR for the authenticator app
type EnrollResponse struct {
	QRCode string `json:"qr_code"`
}

// VerifyEnrollmentRequest represents the request body for activating TOTP
type VerifyEnrollmentRequest struct {
	Code string `json:"code" validate:"required,len=6"`
}

// Enroll generates a TOTP secret for the authenticated user
func (h *MFAHandler) Enroll(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	qrDataURL, err := h.service.EnrollTOTP(r.Context(), claims.UserID)
	if err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, EnrollResponse{QRCode: qrDataURL})
}

// VerifyEnrollment confirms the user's first code and activates TOTP
func (h *MFAHandler) VerifyEnrollment(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	var req VerifyEnrollmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if err := ValidateRequest(req); err != nil {
		pkghttp.WriteBadRequest(w, err.Error())
		return
	}

	if err := h.service.VerifyTOTPEnrollment(r.Context(), claims.UserID, req.Code); err != nil {
		switch {
		case errors.Is(err, models.ErrUnauthorized):
			pkghttp.WriteUnauthorized(w, "Invalid verification code")
		case errors.Is(err, models.ErrBadRequest):
			pkghttp.WriteBadRequest(w, "No pending enrollment")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"message": "Two-factor authentication enabled"})
}

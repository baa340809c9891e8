package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/qistpay/authcore/internal/models"
	pkghttp "github.com/qistpay/authcore/pkg/http"
	pkglogger "github.com/qistpay/authcore/pkg/logger"
)

// LimiterAdmin is the operator surface of the adaptive limiter
type LimiterAdmin interface {
	Unblock(userID, ipAddress string)
}

// ProfileAdmin exposes risk profile inspection and reset
type ProfileAdmin interface {
	Snapshot(userID string) *models.RiskProfile
	Reset(userID string)
}

// AdminHandler handles operator endpoints for the limiter and risk engine
type AdminHandler struct {
	limiter     LimiterAdmin
	profiles    ProfileAdmin
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
}

// NewAdminHandler creates a new AdminHandler
func NewAdminHandler(limiter LimiterAdmin, profiles ProfileAdmin, logger *slog.Logger, auditLogger *pkglogger.AuditLogger) *AdminHandler {
	return &AdminHandler{
		limiter:     limiter,
		profiles:    profiles,
		logger:      logger,
		auditLogger: auditLogger,
	}
}

// UnblockRequest represents the request body for lifting a block
type UnblockRequest struct {
	UserID    string `json:"user_id,omitempty"`
	IPAddress string `json:"ip_address,omitempty"`
}

// Unblock lifts a temporary block and resets the identity's limiter state
func (h *AdminHandler) Unblock(w http.ResponseWriter, r *http.Request) {
	var req UnblockRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}
	if req.UserID == "" && req.IPAddress == "" {
		pkghttp.WriteBadRequest(w, "user_id or ip_address is required")
		return
	}

	h.limiter.Unblock(req.UserID, req.IPAddress)

	h.logger.Info("identity unblocked by operator",
		slog.String("user_id", req.UserID),
		slog.String("ip_address", req.IPAddress))
	h.auditLogger.LogSecurityDecision("limiter_unblocked", req.UserID, req.IPAddress, nil)

	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"message": "Identity unblocked"})
}

// GetRiskProfile returns the current behavioral profile for a user
func (h *AdminHandler) GetRiskProfile(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		pkghttp.WriteBadRequest(w, "user ID is required")
		return
	}

	profile := h.profiles.Snapshot(userID)
	if profile == nil {
		pkghttp.WriteNotFound(w, "No risk profile for user")
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, profile)
}

// ResetRiskProfile discards a user's learned behavioral profile
func (h *AdminHandler) ResetRiskProfile(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if userID == "" {
		pkghttp.WriteBadRequest(w, "user ID is required")
		return
	}

	h.profiles.Reset(userID)

	h.logger.Info("risk profile reset by operator", slog.String("user_id", userID))
	h.auditLogger.LogSecurityDecision("risk_profile_reset", userID, "", nil)

	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"message": "Risk profile reset"})
}

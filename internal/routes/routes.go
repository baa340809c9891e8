package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/qistpay/authcore/internal/auth"
	"github.com/qistpay/authcore/internal/handlers"
	"github.com/qistpay/authcore/internal/middleware"
	"github.com/qistpay/authcore/internal/repositories"
)

// RegisterRoutes registers all application routes. Every route passes
// through the adaptive guard; auth endpoints additionally carry the
// blunt per-IP edge limit.
func RegisterRoutes(
	router chi.Router,
	authHandler *handlers.AuthHandler,
	resetHandler *handlers.PasswordResetHandler,
	mfaHandler *handlers.MFAHandler,
	adminHandler *handlers.AdminHandler,
	tokenManager *auth.TokenManager,
	userRepo *repositories.UserRepository,
	limiter middleware.RateLimitChecker,
	edgeLimit middleware.EdgeLimitConfig,
) {
	edge := middleware.EdgeLimitByIP(edgeLimit)
	guard := middleware.AdaptiveGuard(limiter)

	// Public routes - no authentication required
	router.Group(func(r chi.Router) {
		r.Use(edge, guard)

		r.Post("/auth/login", authHandler.Login)
		r.Post("/auth/step-up", authHandler.StepUp)
		r.Post("/auth/refresh", authHandler.RefreshToken)
		r.Post("/auth/password-reset/request", resetHandler.RequestReset)
		r.Post("/auth/password-reset/validate", resetHandler.ValidateReset)
		r.Post("/auth/password-reset/confirm", resetHandler.ConfirmReset)
	})

	// Protected routes - authentication required
	router.Group(func(r chi.Router) {
		r.Use(auth.AuthMiddleware(tokenManager), guard)

		r.Post("/mfa/enroll", mfaHandler.Enroll)
		r.Post("/mfa/verify", mfaHandler.VerifyEnrollment)

		// Admin-only routes
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(userRepo, "admin"))
			r.Post("/auth/register", authHandler.Register)
			r.Post("/admin/limiter/unblock", adminHandler.Unblock)
			r.Get("/admin/risk-profiles/{userID}", adminHandler.GetRiskProfile)
			r.Delete("/admin/risk-profiles/{userID}", adminHandler.ResetRiskProfile)
		})
	})
}

package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/qistpay/authcore/internal/auth"
	"github.com/qistpay/authcore/internal/models"
	"github.com/qistpay/authcore/internal/ratelimit"
	"github.com/qistpay/authcore/internal/security"
	pkgauth "github.com/qistpay/authcore/pkg/auth"
	pkglogger "github.com/qistpay/authcore/pkg/logger"
)

// UserRepository defines the interface for user persistence
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	Create(ctx context.Context, user *models.User) (*models.User, error)
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	SetTOTP(ctx context.Context, id string, secret, nonce []byte, enabled bool) error
}

// LoginAttemptRepository records authentication attempt history
type LoginAttemptRepository interface {
	RecordAttempt(ctx context.Context, attempt *models.LoginAttempt) error
}

// RiskAnalyzer scores an authentication event against the user's profile
type RiskAnalyzer interface {
	Analyze(ctx context.Context, event *models.RiskEvent) *models.RiskAssessment
}

// OutcomeRecorder feeds request outcomes back into the adaptive limiter
type OutcomeRecorder interface {
	RecordSuccessfulRequest(userID, ipAddress string)
	RecordFailedRequest(userID, ipAddress string)
}

// AuthService handles authentication business logic
type AuthService struct {
	repo        UserRepository
	attempts    LoginAttemptRepository
	risk        RiskAnalyzer
	outcomes    OutcomeRecorder
	feed        SecurityFeed
	tm          *auth.TokenManager
	totp        *auth.TOTPManager
	timing      *auth.TimingDelay
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
	attemptTTL  time.Duration
}

// NewAuthService creates a new AuthService
func NewAuthService(
	repo UserRepository,
	attempts LoginAttemptRepository,
	risk RiskAnalyzer,
	outcomes OutcomeRecorder,
	feed SecurityFeed,
	tm *auth.TokenManager,
	totp *auth.TOTPManager,
	timing *auth.TimingDelay,
	logger *slog.Logger,
	auditLogger *pkglogger.AuditLogger,
	attemptTTL time.Duration,
) *AuthService {
	return &AuthService{
		repo:        repo,
		attempts:    attempts,
		risk:        risk,
		outcomes:    outcomes,
		feed:        feed,
		tm:          tm,
		totp:        totp,
		timing:      timing,
		logger:      logger,
		auditLogger: auditLogger,
		attemptTTL:  attemptTTL,
	}
}

// UserResponse represents a user in the HTTP response
type UserResponse struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	Name          string `json:"name"`
	Role          string `json:"role"`
	EmailVerified bool   `json:"email_verified"`
	TOTPEnabled   bool   `json:"totp_enabled"`
	CreatedAt     string `json:"created_at"`
	UpdatedAt     string `json:"updated_at"`
}

// AuthResponse represents the response from auth operations
type AuthResponse struct {
	AccessToken  string        `json:"access_token"`
	RefreshToken string        `json:"refresh_token"`
	User         *UserResponse `json:"user"`
}

// LoginResult carries either a completed login or a pending step-up
// challenge. Exactly one of Auth and ChallengeToken is set.
type LoginResult struct {
	Auth           *AuthResponse
	StepUpRequired bool
	ChallengeToken string
}

// LoginContext carries request metadata used by risk scoring
type LoginContext struct {
	IPAddress         string
	UserAgent         string
	DeviceFingerprint string
	Country           string
	City              string
}

// Login authenticates a user. Credential verification runs behind a
// constant-floor timing delay; the outcome is scored by the risk engine,
// which can demand TOTP step-up or refuse the login outright.
func (s *AuthService) Login(ctx context.Context, email, password string, rc LoginContext) (*LoginResult, error) {
	start := time.Now()

	if email = strings.ToLower(strings.TrimSpace(email)); email == "" {
		s.logger.Warn("login attempt with empty email")
		s.timing.WaitFrom(start)
		return nil, models.ErrUnauthorized
	}

	user, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			// Log login failure without exposing email
			s.logger.Info("login failed: invalid credentials")
			s.recordFailedLogin(ctx, email, "", rc, "invalid_credentials")
			s.timing.WaitFrom(start)
			return nil, models.ErrUnauthorized
		}
		s.logger.Error("failed to get user by email", slog.Any("error", err))
		s.timing.WaitFrom(start)
		return nil, models.ErrInternalServer
	}

	// Enforce email verification
	if !user.EmailVerified {
		s.logger.Info("login blocked: email not verified", slog.String("user_id", user.ID))
		s.recordFailedLogin(ctx, email, user.ID, rc, "email_not_verified")
		s.timing.WaitFrom(start)
		return nil, models.ErrEmailNotVerified
	}

	// Verify password
	if err := pkgauth.ComparePassword(user.PasswordHash, password); err != nil {
		s.logger.Info("login failed: invalid credentials")
		s.recordFailedLogin(ctx, email, user.ID, rc, "invalid_credentials")
		s.timing.WaitFrom(start)
		return nil, models.ErrUnauthorized
	}

	// Score the authentication event
	assessment := s.risk.Analyze(ctx, &models.RiskEvent{
		UserID:            user.ID,
		Country:           rc.Country,
		City:              rc.City,
		DeviceFingerprint: rc.DeviceFingerprint,
		IPAddress:         rc.IPAddress,
		OccurredAt:        start,
	})

	switch assessment.RecommendedAction {
	case models.ActionBlock:
		s.logger.Warn("login blocked by risk assessment",
			slog.String("user_id", user.ID),
			slog.Float64("score", assessment.Overall),
			slog.String("level", string(assessment.Level)))
		s.recordFailedLogin(ctx, email, user.ID, rc, "risk_blocked")
		s.timing.WaitFrom(start)
		return nil, models.ErrForbidden

	case models.ActionInvestigate, models.ActionReview:
		if user.TOTPEnabled {
			challenge, err := s.tm.GenerateChallengeToken(user.ID, user.Email)
			if err != nil {
				s.logger.Error("failed to generate challenge token", slog.String("user_id", user.ID), slog.Any("error", err))
				return nil, models.ErrInternalServer
			}
			s.logger.Info("step-up verification required",
				slog.String("user_id", user.ID),
				slog.Float64("score", assessment.Overall))
			s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
				EventType: "login_step_up",
				UserID:    user.ID,
				IPAddress: rc.IPAddress,
				Success:   true,
			})
			s.timing.WaitFrom(start)
			return &LoginResult{StepUpRequired: true, ChallengeToken: challenge}, nil
		}
		// Without an enrolled factor there is nothing to step up to;
		// the elevated score still reaches the feed via the risk engine.
		s.logger.Info("elevated risk login without enrolled factor",
			slog.String("user_id", user.ID),
			slog.Float64("score", assessment.Overall))
	}

	resp, err := s.issueTokens(ctx, user, rc)
	if err != nil {
		return nil, err
	}
	s.timing.WaitFrom(start)
	return &LoginResult{Auth: resp}, nil
}

// CompleteStepUp finishes a login that the risk engine flagged for
// step-up verification. The challenge token proves the password check
// already passed; the TOTP code proves factor possession.
func (s *AuthService) CompleteStepUp(ctx context.Context, challengeToken, code string, rc LoginContext) (*AuthResponse, error) {
	claims, err := s.tm.ValidateToken(challengeToken)
	if err != nil {
		s.logger.Info("step-up challenge validation failed", slog.Any("error", err))
		return nil, models.ErrUnauthorized
	}
	if claims.Type != "challenge" {
		s.logger.Warn("step-up attempt with non-challenge token", slog.String("user_id", claims.UserID))
		return nil, models.ErrUnauthorized
	}

	user, err := s.repo.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrUnauthorized
		}
		s.logger.Error("failed to get user for step-up", slog.String("user_id", claims.UserID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	if !user.TOTPEnabled {
		return nil, models.ErrUnauthorized
	}

	valid, err := s.totp.Validate(user.TOTPSecret, user.TOTPNonce, code)
	if err != nil {
		s.logger.Error("failed to validate TOTP code", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	if !valid {
		s.recordFailedLogin(ctx, user.Email, user.ID, rc, "invalid_totp")
		return nil, models.ErrUnauthorized
	}

	return s.issueTokens(ctx, user, rc)
}

// RefreshToken generates a new token pair from a refresh token
func (s *AuthService) RefreshToken(ctx context.Context, refreshTokenString string) (*AuthResponse, error) {
	if refreshTokenString = strings.TrimSpace(refreshTokenString); refreshTokenString == "" {
		return nil, models.ErrUnauthorized
	}

	claims, err := s.tm.ValidateToken(refreshTokenString)
	if err != nil {
		s.logger.Info("refresh token validation failed", slog.Any("error", err))
		return nil, models.ErrUnauthorized
	}

	// Verify it's a refresh token
	if claims.Type != "refresh" {
		s.logger.Warn("refresh attempt with non-refresh token", slog.String("user_id", claims.UserID))
		return nil, models.ErrUnauthorized
	}

	// Fetch fresh user data
	user, err := s.repo.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			s.logger.Info("user not found for token refresh", slog.String("user_id", claims.UserID))
			return nil, models.ErrUnauthorized
		}
		s.logger.Error("failed to get user for token refresh", slog.String("user_id", claims.UserID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	// Invalidate tokens if password changed after token was issued
	if user.PasswordChangedAt != nil && claims.IssuedAt != nil {
		if claims.IssuedAt.Time.Before(*user.PasswordChangedAt) {
			s.logger.Info("token refresh blocked: issued before password change",
				slog.String("user_id", user.ID))
			return nil, models.ErrUnauthorized
		}
	}

	accessToken, err := s.tm.GenerateAccessToken(user.ID, user.Email)
	if err != nil {
		s.logger.Error("failed to generate access token", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	newRefreshToken, err := s.tm.GenerateRefreshToken(user.ID, user.Email)
	if err != nil {
		s.logger.Error("failed to generate refresh token", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.logger.Info("token refreshed", slog.String("user_id", user.ID))

	return &AuthResponse{
		AccessToken:  accessToken,
		RefreshToken: newRefreshToken,
		User:         userModelToResponse(user),
	}, nil
}

// Register creates a new user account
func (s *AuthService) Register(ctx context.Context, email, password, name string) (*AuthResponse, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	name = strings.TrimSpace(name)

	if email == "" {
		return nil, fmt.Errorf("email is required")
	}
	if name == "" {
		return nil, fmt.Errorf("name is required")
	}

	if err := pkgauth.ValidatePassword(password); err != nil {
		return nil, err
	}

	// Check if user already exists
	_, err := s.repo.GetByEmail(ctx, email)
	if err == nil {
		s.logger.Info("registration failed: user already exists")
		return nil, models.ErrConflict
	}
	if !errors.Is(err, models.ErrNotFound) {
		s.logger.Error("failed to check if user exists", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	hashedPassword, err := pkgauth.HashPassword(password)
	if err != nil {
		s.logger.Error("failed to hash password", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	now := time.Now()
	user := &models.User{
		Email:             email,
		PasswordHash:      hashedPassword,
		Name:              name,
		Role:              "user", // Default role
		PasswordChangedAt: &now,
	}

	createdUser, err := s.repo.Create(ctx, user)
	if err != nil {
		s.logger.Error("failed to create user", slog.Any("error", err))
		if errors.Is(err, models.ErrConflict) {
			return nil, models.ErrConflict
		}
		return nil, models.ErrInternalServer
	}

	accessToken, err := s.tm.GenerateAccessToken(createdUser.ID, createdUser.Email)
	if err != nil {
		s.logger.Error("failed to generate access token", slog.String("user_id", createdUser.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	refreshToken, err := s.tm.GenerateRefreshToken(createdUser.ID, createdUser.Email)
	if err != nil {
		s.logger.Error("failed to generate refresh token", slog.String("user_id", createdUser.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.logger.Info("user registered", slog.String("user_id", createdUser.ID))
	s.auditLogger.LogAccountAction("user_registered", createdUser.ID, "", nil)

	return &AuthResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		User:         userModelToResponse(createdUser),
	}, nil
}

// EnrollTOTP generates and stores an encrypted TOTP secret for the user.
// Returns a QR provisioning image as a data URL.
func (s *AuthService) EnrollTOTP(ctx context.Context, userID string) (string, error) {
	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return "", models.ErrNotFound
		}
		s.logger.Error("failed to get user for TOTP enrollment", slog.String("user_id", userID), slog.Any("error", err))
		return "", models.ErrInternalServer
	}

	encrypted, nonce, qrDataURL, err := s.totp.Enroll(user.Email)
	if err != nil {
		s.logger.Error("failed to generate TOTP secret", slog.String("user_id", userID), slog.Any("error", err))
		return "", models.ErrInternalServer
	}

	// Enabled flips to true only after the first successful verification
	if err := s.repo.SetTOTP(ctx, userID, encrypted, nonce, false); err != nil {
		s.logger.Error("failed to store TOTP secret", slog.String("user_id", userID), slog.Any("error", err))
		return "", models.ErrInternalServer
	}

	s.auditLogger.LogAccountAction("totp_enrolled", userID, "", nil)
	return qrDataURL, nil
}

// VerifyTOTPEnrollment confirms the user's first code and activates TOTP
func (s *AuthService) VerifyTOTPEnrollment(ctx context.Context, userID, code string) error {
	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrNotFound
		}
		return models.ErrInternalServer
	}
	if len(user.TOTPSecret) == 0 {
		return models.ErrBadRequest
	}

	valid, err := s.totp.Validate(user.TOTPSecret, user.TOTPNonce, code)
	if err != nil {
		s.logger.Error("failed to validate TOTP code", slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrInternalServer
	}
	if !valid {
		return models.ErrUnauthorized
	}

	if err := s.repo.SetTOTP(ctx, userID, user.TOTPSecret, user.TOTPNonce, true); err != nil {
		s.logger.Error("failed to activate TOTP", slog.String("user_id", userID), slog.Any("error", err))
		return models.ErrInternalServer
	}

	s.auditLogger.LogAccountAction("totp_activated", userID, "", nil)
	return nil
}

func (s *AuthService) issueTokens(ctx context.Context, user *models.User, rc LoginContext) (*AuthResponse, error) {
	accessToken, err := s.tm.GenerateAccessToken(user.ID, user.Email)
	if err != nil {
		s.logger.Error("failed to generate access token", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	refreshToken, err := s.tm.GenerateRefreshToken(user.ID, user.Email)
	if err != nil {
		s.logger.Error("failed to generate refresh token", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.outcomes.RecordSuccessfulRequest(user.ID, rc.IPAddress)
	s.recordAttempt(ctx, user.Email, rc, true, "")

	s.logger.Info("user logged in", slog.String("user_id", user.ID))
	s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
		EventType: "login_success",
		UserID:    user.ID,
		IPAddress: rc.IPAddress,
		UserAgent: rc.UserAgent,
		Success:   true,
	})

	return &AuthResponse{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		User:         userModelToResponse(user),
	}, nil
}

// recordFailedLogin fans a failure out to the limiter, the security
// feed, the durable attempt log, and the audit log
func (s *AuthService) recordFailedLogin(ctx context.Context, email, userID string, rc LoginContext, reason string) {
	s.outcomes.RecordFailedRequest(userID, rc.IPAddress)
	s.feed.Record(ctx, security.AuthFailure{
		Key:       ratelimit.Identity(userID, rc.IPAddress),
		UserID:    userID,
		IPAddress: rc.IPAddress,
		Reason:    reason,
		At:        time.Now(),
	})
	s.recordAttempt(ctx, email, rc, false, reason)
	s.auditLogger.LogAuthAttempt(pkglogger.AuditEvent{
		EventType:     "login_failed",
		UserID:        userID,
		IPAddress:     rc.IPAddress,
		UserAgent:     rc.UserAgent,
		FailureReason: reason,
		Success:       false,
	})
}

func (s *AuthService) recordAttempt(ctx context.Context, email string, rc LoginContext, success bool, reason string) {
	attempt := &models.LoginAttempt{
		Email:             email,
		IPAddress:         rc.IPAddress,
		UserAgent:         rc.UserAgent,
		Success:           success,
		DeviceFingerprint: rc.DeviceFingerprint,
		AttemptTime:       time.Now(),
		ExpiresAt:         time.Now().Add(s.attemptTTL),
	}
	if reason != "" {
		attempt.FailureReason = &reason
	}
	if err := s.attempts.RecordAttempt(ctx, attempt); err != nil {
		s.logger.Error("failed to record login attempt", slog.Any("error", err))
	}
}

// userModelToResponse converts a user model to response DTO
func userModelToResponse(user *models.User) *UserResponse {
	return &UserResponse{
		ID:            user.ID,
		Email:         user.Email,
		Name:          user.Name,
		Role:          user.Role,
		EmailVerified: user.EmailVerified,
		TOTPEnabled:   user.TOTPEnabled,
		CreatedAt:     user.CreatedAt.Format(time.RFC3339),
		UpdatedAt:     user.UpdatedAt.Format(time.RFC3339),
	}
}

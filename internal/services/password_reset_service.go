package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/qistpay/authcore/internal/metrics"
	"github.com/qistpay/authcore/internal/models"
	"github.com/qistpay/authcore/internal/security"
)

// ResetTokenRepository defines the interface for reset token persistence
type ResetTokenRepository interface {
	Create(ctx context.Context, userID, tokenHash, ipAddress, userAgent string, expiresAt time.Time) (*models.ResetToken, error)
	GetByTokenHash(ctx context.Context, tokenHash string) (*models.ResetToken, error)
	HasActive(ctx context.Context, userID string) (bool, error)
	Consume(ctx context.Context, tokenHash string) (string, error)
	CleanupExpired(ctx context.Context, retention time.Duration) (int64, error)
}

// SecurityFeed is the slice of the event feed this service writes to
type SecurityFeed interface {
	Record(ctx context.Context, event security.Event)
}

// ValidationResult reports whether a supplied token is currently valid
type ValidationResult struct {
	UserID  string
	IsValid bool
}

// PasswordResetService manages the single-use reset token lifecycle.
// Only token hashes touch persistence; the plaintext leaves this service
// exactly once, inside the IssuedToken returned by GenerateToken.
type PasswordResetService struct {
	repo      ResetTokenRepository
	feed      SecurityFeed
	logger    *slog.Logger
	tokenTTL  time.Duration
	retention time.Duration
	dbTimeout time.Duration
}

// NewPasswordResetService creates a new PasswordResetService
func NewPasswordResetService(
	repo ResetTokenRepository,
	feed SecurityFeed,
	logger *slog.Logger,
	tokenTTL time.Duration,
	retention time.Duration,
	dbTimeout time.Duration,
) *PasswordResetService {
	return &PasswordResetService{
		repo:      repo,
		feed:      feed,
		logger:    logger,
		tokenTTL:  tokenTTL,
		retention: retention,
		dbTimeout: dbTimeout,
	}
}

// HasActiveToken reports whether the user already holds an unexpired,
// unused token. Callers must check this before GenerateToken; a pending
// token suppresses both issuance and notification.
func (s *PasswordResetService) HasActiveToken(ctx context.Context, userID string) (bool, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()
	return s.repo.HasActive(ctx, userID)
}

// GenerateToken issues a fresh single-use token for the user. The
// returned plaintext must be delivered out-of-band and never logged.
func (s *PasswordResetService) GenerateToken(ctx context.Context, userID, ipAddress, userAgent string) (*models.IssuedToken, error) {
	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		s.logger.Error("failed to generate random token", slog.Any("error", err))
		return nil, fmt.Errorf("failed to generate token: %w", err)
	}

	plaintext := base64.URLEncoding.EncodeToString(tokenBytes)
	tokenHash := hashToken(plaintext)
	expiresAt := time.Now().Add(s.tokenTTL)

	ctx, cancel := s.bounded(ctx)
	defer cancel()

	token, err := s.repo.Create(ctx, userID, tokenHash, ipAddress, userAgent, expiresAt)
	if err != nil {
		s.logger.Error("failed to persist reset token",
			slog.String("user_id", userID),
			slog.Any("error", err))
		return nil, models.ErrPasswordResetFailed
	}

	metrics.ResetTokenOutcomes.WithLabelValues("issued").Inc()
	s.logger.Info("reset token issued",
		slog.String("user_id", userID),
		slog.Time("expires_at", expiresAt))

	return &models.IssuedToken{Token: token, Plaintext: plaintext}, nil
}

// Request applies the issuance policy and generates a token when none is
// pending. The suppressed return is true when an active token already
// exists; the caller must then skip notification as well.
func (s *PasswordResetService) Request(ctx context.Context, userID, ipAddress, userAgent string) (issued *models.IssuedToken, suppressed bool, err error) {
	active, err := s.HasActiveToken(ctx, userID)
	if err != nil {
		return nil, false, models.ErrPasswordResetFailed
	}
	if active {
		metrics.ResetTokenOutcomes.WithLabelValues("suppressed").Inc()
		s.logger.Info("reset request suppressed, token already pending",
			slog.String("user_id", userID))
		return nil, true, nil
	}

	issued, err = s.GenerateToken(ctx, userID, ipAddress, userAgent)
	if err != nil {
		return nil, false, err
	}
	return issued, false, nil
}

// ValidateToken checks a supplied plaintext without mutating state, so
// repeated validation of an unconsumed token is safe. The result never
// distinguishes why an invalid token failed.
func (s *PasswordResetService) ValidateToken(ctx context.Context, plaintext, ipAddress string) ValidationResult {
	tokenHash := hashToken(plaintext)

	ctx, cancel := s.bounded(ctx)
	defer cancel()

	token, err := s.repo.GetByTokenHash(ctx, tokenHash)
	if err != nil {
		cause := "persistence"
		if errors.Is(err, models.ErrNotFound) {
			cause = "not_found"
		}
		s.recordFailure(ctx, "", ipAddress, cause)
		return ValidationResult{}
	}

	switch {
	case token.IsUsed():
		s.recordFailure(ctx, token.UserID, ipAddress, "already_used")
		return ValidationResult{}
	case token.IsExpired():
		s.recordFailure(ctx, token.UserID, ipAddress, "expired")
		return ValidationResult{}
	}

	return ValidationResult{UserID: token.UserID, IsValid: true}
}

// ConsumeToken atomically spends a token. Exactly one of N concurrent
// calls for the same plaintext succeeds; the rest fail like any other
// invalid token.
func (s *PasswordResetService) ConsumeToken(ctx context.Context, plaintext, ipAddress string) (string, error) {
	tokenHash := hashToken(plaintext)

	ctx, cancel := s.bounded(ctx)
	defer cancel()

	userID, err := s.repo.Consume(ctx, tokenHash)
	if err != nil {
		cause := "persistence"
		if errors.Is(err, models.ErrNotFound) {
			cause = s.classifyConsumeFailure(ctx, tokenHash)
		}
		s.recordFailure(ctx, "", ipAddress, cause)
		metrics.ResetTokenOutcomes.WithLabelValues("rejected").Inc()
		return "", models.ErrInvalidResetToken
	}

	metrics.ResetTokenOutcomes.WithLabelValues("consumed").Inc()
	s.logger.Info("reset token consumed", slog.String("user_id", userID))
	return userID, nil
}

// CleanupExpiredTokens removes expired and spent tokens, returning the
// count deleted
func (s *PasswordResetService) CleanupExpiredTokens(ctx context.Context) (int64, error) {
	ctx, cancel := s.bounded(ctx)
	defer cancel()

	removed, err := s.repo.CleanupExpired(ctx, s.retention)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		metrics.ResetTokenOutcomes.WithLabelValues("cleaned").Add(float64(removed))
	}
	return removed, nil
}

// classifyConsumeFailure distinguishes the audit cause after a lost
// consume. Best effort; the caller-facing error stays generic.
func (s *PasswordResetService) classifyConsumeFailure(ctx context.Context, tokenHash string) string {
	token, err := s.repo.GetByTokenHash(ctx, tokenHash)
	if err != nil {
		return "not_found"
	}
	switch {
	case token.IsUsed():
		return "already_used"
	case token.IsExpired():
		return "expired"
	default:
		return "race_lost"
	}
}

func (s *PasswordResetService) recordFailure(ctx context.Context, userID, ipAddress, cause string) {
	s.feed.Record(ctx, security.TokenFailure{
		UserID:    userID,
		IPAddress: ipAddress,
		Cause:     cause,
		At:        time.Now(),
	})
}

// bounded caps persistence calls so a slow store surfaces failure
// instead of hanging the request
func (s *PasswordResetService) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.dbTimeout)
}

func hashToken(plaintext string) string {
	hash := sha256.Sum256([]byte(plaintext))
	return hex.EncodeToString(hash[:])
}

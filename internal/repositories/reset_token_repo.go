package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/qistpay/authcore/internal/database"
	"github.com/qistpay/authcore/internal/models"
)

// ResetTokenRepository handles password reset token persistence. The
// table carries a unique index on token_hash; consumption is a single
// conditional UPDATE so it stays exactly-once under concurrent callers.
type ResetTokenRepository struct {
	db *database.DB
}

// NewResetTokenRepository creates a new ResetTokenRepository
func NewResetTokenRepository(db *database.DB) *ResetTokenRepository {
	return &ResetTokenRepository{db: db}
}

// rowScanner abstracts pgx.Row and pgx.Rows for shared scanning
type rowScanner interface {
	Scan(dest ...any) error
}

func scanResetToken(row rowScanner) (*models.ResetToken, error) {
	var token models.ResetToken
	var usedAt *time.Time

	err := row.Scan(
		&token.ID, &token.UserID, &token.TokenHash, &token.IPAddress,
		&token.UserAgent, &token.ExpiresAt, &usedAt, &token.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	token.UsedAt = usedAt
	return &token, nil
}

// Create persists a new reset token record
func (r *ResetTokenRepository) Create(ctx context.Context, userID, tokenHash, ipAddress, userAgent string, expiresAt time.Time) (*models.ResetToken, error) {
	query := `
		INSERT INTO password_reset_tokens (user_id, token_hash, ip_address, user_agent, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, user_id, token_hash, ip_address, user_agent, expires_at, used_at, created_at
	`

	token, err := scanResetToken(r.db.Pool.QueryRow(ctx, query, userID, tokenHash, ipAddress, userAgent, expiresAt))
	if err != nil {
		return nil, fmt.Errorf("failed to create reset token: %w", err)
	}

	return token, nil
}

// GetByTokenHash retrieves a token by its hash
func (r *ResetTokenRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*models.ResetToken, error) {
	query := `
		SELECT id, user_id, token_hash, ip_address, user_agent, expires_at, used_at, created_at
		FROM password_reset_tokens
		WHERE token_hash = $1
	`

	return scanResetToken(r.db.Pool.QueryRow(ctx, query, tokenHash))
}

// HasActive reports whether the user has an unexpired, unused token
func (r *ResetTokenRepository) HasActive(ctx context.Context, userID string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM password_reset_tokens
			WHERE user_id = $1 AND used_at IS NULL AND expires_at > NOW()
		)
	`

	var active bool
	if err := r.db.Pool.QueryRow(ctx, query, userID).Scan(&active); err != nil {
		return false, fmt.Errorf("failed to check active reset token: %w", err)
	}
	return active, nil
}

// Consume atomically marks an unused, unexpired token as used and
// returns the owning user. The conditional UPDATE is the compare-and-set
// that guarantees exactly one concurrent caller wins; every other caller
// sees models.ErrNotFound.
func (r *ResetTokenRepository) Consume(ctx context.Context, tokenHash string) (string, error) {
	query := `
		UPDATE password_reset_tokens
		SET used_at = NOW()
		WHERE token_hash = $1 AND used_at IS NULL AND expires_at > NOW()
		RETURNING user_id
	`

	var userID string
	err := r.db.Pool.QueryRow(ctx, query, tokenHash).Scan(&userID)
	if err == pgx.ErrNoRows {
		return "", models.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to consume reset token: %w", err)
	}

	return userID, nil
}

// CleanupExpired deletes tokens that are expired past the retention
// period or already used, returning the count removed
func (r *ResetTokenRepository) CleanupExpired(ctx context.Context, retention time.Duration) (int64, error) {
	query := `
		DELETE FROM password_reset_tokens
		WHERE used_at IS NOT NULL OR expires_at < $1
	`

	cutoff := time.Now().Add(-retention)
	result, err := r.db.Pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup reset tokens: %w", err)
	}

	return result.RowsAffected(), nil
}

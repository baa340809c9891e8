package background

import (
	"context"
	"log/slog"
	"time"
)

// TokenCleaner removes expired and spent reset tokens
type TokenCleaner interface {
	CleanupExpiredTokens(ctx context.Context) (int64, error)
}

// AttemptCleaner removes expired login attempt records
type AttemptCleaner interface {
	DeleteExpiredAttempts(ctx context.Context) (int64, error)
}

// LimiterSweeper evicts stale limiter entries
type LimiterSweeper interface {
	Sweep(now time.Time) int
}

// MaintenanceRunner runs the periodic housekeeping tasks: reset token
// cleanup, login attempt purge, and the limiter sweep
type MaintenanceRunner struct {
	tokens        TokenCleaner
	attempts      AttemptCleaner
	limiter       LimiterSweeper
	logger        *slog.Logger
	tokenInterval time.Duration
	sweepInterval time.Duration
	stopCh        chan struct{}
}

// NewMaintenanceRunner creates a new maintenance runner
func NewMaintenanceRunner(
	tokens TokenCleaner,
	attempts AttemptCleaner,
	limiter LimiterSweeper,
	logger *slog.Logger,
	tokenInterval time.Duration,
	sweepInterval time.Duration,
) *MaintenanceRunner {
	return &MaintenanceRunner{
		tokens:        tokens,
		attempts:      attempts,
		limiter:       limiter,
		logger:        logger,
		tokenInterval: tokenInterval,
		sweepInterval: sweepInterval,
		stopCh:        make(chan struct{}),
	}
}

// Start begins the periodic maintenance loop. Blocks until Stop is
// called or the context is cancelled.
func (mr *MaintenanceRunner) Start(ctx context.Context) {
	tokenTicker := time.NewTicker(mr.tokenInterval)
	defer tokenTicker.Stop()
	sweepTicker := time.NewTicker(mr.sweepInterval)
	defer sweepTicker.Stop()

	// Run cleanup immediately on startup
	mr.runCleanup(ctx)

	for {
		select {
		case <-tokenTicker.C:
			mr.runCleanup(ctx)
		case <-sweepTicker.C:
			mr.runSweep()
		case <-mr.stopCh:
			mr.logger.Info("maintenance runner stopped")
			return
		case <-ctx.Done():
			mr.logger.Info("maintenance runner context cancelled")
			return
		}
	}
}

func (mr *MaintenanceRunner) runCleanup(ctx context.Context) {
	cleanupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	tokensDeleted, err := mr.tokens.CleanupExpiredTokens(cleanupCtx)
	if err != nil {
		mr.logger.Error("failed to cleanup expired reset tokens", slog.Any("error", err))
	} else if tokensDeleted > 0 {
		mr.logger.Info("expired reset token cleanup completed", slog.Int64("rows_deleted", tokensDeleted))
	}

	attemptsDeleted, err := mr.attempts.DeleteExpiredAttempts(cleanupCtx)
	if err != nil {
		mr.logger.Error("failed to cleanup expired login attempts", slog.Any("error", err))
	} else if attemptsDeleted > 0 {
		mr.logger.Info("expired login attempt cleanup completed", slog.Int64("rows_deleted", attemptsDeleted))
	}
}

func (mr *MaintenanceRunner) runSweep() {
	evicted := mr.limiter.Sweep(time.Now())
	if evicted > 0 {
		mr.logger.Info("limiter sweep completed", slog.Int("entries_evicted", evicted))
	}
}

// Stop signals the maintenance runner to stop
func (mr *MaintenanceRunner) Stop() {
	close(mr.stopCh)
}

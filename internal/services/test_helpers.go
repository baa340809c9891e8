package services

import (
	"context"
	"sync"
	"time"

	"github.com/qistpay/authcore/internal/models"
	"github.com/qistpay/authcore/internal/security"
)

// MockUserRepository implements UserRepository for testing
type MockUserRepository struct {
	GetByIDFunc        func(ctx context.Context, id string) (*models.User, error)
	GetByEmailFunc     func(ctx context.Context, email string) (*models.User, error)
	CreateFunc         func(ctx context.Context, user *models.User) (*models.User, error)
	UpdatePasswordFunc func(ctx context.Context, id, passwordHash string) error
	SetTOTPFunc        func(ctx context.Context, id string, secret, nonce []byte, enabled bool) error
}

func (m *MockUserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	if m.GetByEmailFunc != nil {
		return m.GetByEmailFunc(ctx, email)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, user)
	}
	return nil, models.ErrInternalServer
}

func (m *MockUserRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	if m.UpdatePasswordFunc != nil {
		return m.UpdatePasswordFunc(ctx, id, passwordHash)
	}
	return nil
}

func (m *MockUserRepository) SetTOTP(ctx context.Context, id string, secret, nonce []byte, enabled bool) error {
	if m.SetTOTPFunc != nil {
		return m.SetTOTPFunc(ctx, id, secret, nonce, enabled)
	}
	return nil
}

// MockResetTokenRepository implements ResetTokenRepository for testing
type MockResetTokenRepository struct {
	CreateFunc         func(ctx context.Context, userID, tokenHash, ipAddress, userAgent string, expiresAt time.Time) (*models.ResetToken, error)
	GetByTokenHashFunc func(ctx context.Context, tokenHash string) (*models.ResetToken, error)
	HasActiveFunc      func(ctx context.Context, userID string) (bool, error)
	ConsumeFunc        func(ctx context.Context, tokenHash string) (string, error)
	CleanupExpiredFunc func(ctx context.Context, retention time.Duration) (int64, error)
}

func (m *MockResetTokenRepository) Create(ctx context.Context, userID, tokenHash, ipAddress, userAgent string, expiresAt time.Time) (*models.ResetToken, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, userID, tokenHash, ipAddress, userAgent, expiresAt)
	}
	return nil, models.ErrInternalServer
}

func (m *MockResetTokenRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*models.ResetToken, error) {
	if m.GetByTokenHashFunc != nil {
		return m.GetByTokenHashFunc(ctx, tokenHash)
	}
	return nil, models.ErrNotFound
}

func (m *MockResetTokenRepository) HasActive(ctx context.Context, userID string) (bool, error) {
	if m.HasActiveFunc != nil {
		return m.HasActiveFunc(ctx, userID)
	}
	return false, nil
}

func (m *MockResetTokenRepository) Consume(ctx context.Context, tokenHash string) (string, error) {
	if m.ConsumeFunc != nil {
		return m.ConsumeFunc(ctx, tokenHash)
	}
	return "", models.ErrNotFound
}

func (m *MockResetTokenRepository) CleanupExpired(ctx context.Context, retention time.Duration) (int64, error) {
	if m.CleanupExpiredFunc != nil {
		return m.CleanupExpiredFunc(ctx, retention)
	}
	return 0, nil
}

// MockLoginAttemptRepository implements LoginAttemptRepository for testing
type MockLoginAttemptRepository struct {
	RecordAttemptFunc func(ctx context.Context, attempt *models.LoginAttempt) error
}

func (m *MockLoginAttemptRepository) RecordAttempt(ctx context.Context, attempt *models.LoginAttempt) error {
	if m.RecordAttemptFunc != nil {
		return m.RecordAttemptFunc(ctx, attempt)
	}
	return nil
}

// MockRiskAnalyzer implements RiskAnalyzer for testing
type MockRiskAnalyzer struct {
	AnalyzeFunc func(ctx context.Context, event *models.RiskEvent) *models.RiskAssessment
}

func (m *MockRiskAnalyzer) Analyze(ctx context.Context, event *models.RiskEvent) *models.RiskAssessment {
	if m.AnalyzeFunc != nil {
		return m.AnalyzeFunc(ctx, event)
	}
	return &models.RiskAssessment{
		Overall:           0,
		Level:             models.RiskLow,
		Confidence:        1.0,
		RecommendedAction: models.ActionApprove,
	}
}

// MockOutcomeRecorder implements OutcomeRecorder for testing
type MockOutcomeRecorder struct {
	mu        sync.Mutex
	Successes []string
	Failures  []string
}

func (m *MockOutcomeRecorder) RecordSuccessfulRequest(userID, ipAddress string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Successes = append(m.Successes, userID+"|"+ipAddress)
}

func (m *MockOutcomeRecorder) RecordFailedRequest(userID, ipAddress string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Failures = append(m.Failures, userID+"|"+ipAddress)
}

// RecordingFeed implements SecurityFeed and captures recorded events
type RecordingFeed struct {
	mu     sync.Mutex
	Events []security.Event
}

func (f *RecordingFeed) Record(_ context.Context, event security.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Events = append(f.Events, event)
}

func (f *RecordingFeed) Recorded() []security.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]security.Event, len(f.Events))
	copy(out, f.Events)
	return out
}

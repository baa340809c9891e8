package services

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/qistpay/authcore/internal/auth"
	"github.com/qistpay/authcore/internal/models"
	pkgauth "github.com/qistpay/authcore/pkg/auth"
	pkglogger "github.com/qistpay/authcore/pkg/logger"
)

type authFixture struct {
	svc      *AuthService
	users    *MockUserRepository
	attempts *MockLoginAttemptRepository
	risk     *MockRiskAnalyzer
	outcomes *MockOutcomeRecorder
	feed     *RecordingFeed
	tm       *auth.TokenManager
	totp     *auth.TOTPManager
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tm := auth.NewTokenManager("test-signing-secret-for-unit-tests", 15*time.Minute, 7*24*time.Hour)
	totp, err := auth.NewTOTPManager([]byte("0123456789abcdef0123456789abcdef"), "authcore-test")
	require.NoError(t, err)

	f := &authFixture{
		users:    &MockUserRepository{},
		attempts: &MockLoginAttemptRepository{},
		risk:     &MockRiskAnalyzer{},
		outcomes: &MockOutcomeRecorder{},
		feed:     &RecordingFeed{},
		tm:       tm,
		totp:     totp,
	}
	f.svc = NewAuthService(
		f.users, f.attempts, f.risk, f.outcomes, f.feed,
		tm, totp, auth.NewTimingDelay(auth.TimingConfig{}),
		logger, pkglogger.NewAuditLogger(logger), 24*time.Hour,
	)
	return f
}

// testHash uses the minimum bcrypt cost; production hashing cost is
// exercised in pkg/auth
func testHash(t *testing.T, password string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.MinCost)
	require.NoError(t, err)
	return string(hash)
}

func verifiedUser(t *testing.T, password string) *models.User {
	return &models.User{
		ID:            "u1",
		Email:         "user@example.com",
		PasswordHash:  testHash(t, password),
		Name:          "Test User",
		Role:          "user",
		EmailVerified: true,
	}
}

func testLoginContext() LoginContext {
	return LoginContext{
		IPAddress:         "203.0.113.9",
		UserAgent:         "test-agent",
		DeviceFingerprint: "device-1",
		Country:           "AE",
		City:              "Dubai",
	}
}

func TestLogin_Success(t *testing.T) {
	f := newAuthFixture(t)
	user := verifiedUser(t, "correct horse battery")
	f.users.GetByEmailFunc = func(_ context.Context, email string) (*models.User, error) {
		assert.Equal(t, "user@example.com", email)
		return user, nil
	}

	var recorded []*models.LoginAttempt
	f.attempts.RecordAttemptFunc = func(_ context.Context, attempt *models.LoginAttempt) error {
		recorded = append(recorded, attempt)
		return nil
	}

	result, err := f.svc.Login(context.Background(), "User@Example.com", "correct horse battery", testLoginContext())

	require.NoError(t, err)
	require.NotNil(t, result.Auth)
	assert.False(t, result.StepUpRequired)
	assert.NotEmpty(t, result.Auth.AccessToken)
	assert.NotEmpty(t, result.Auth.RefreshToken)
	assert.Equal(t, "u1", result.Auth.User.ID)

	assert.Equal(t, []string{"u1|203.0.113.9"}, f.outcomes.Successes)
	assert.Empty(t, f.outcomes.Failures)
	require.Len(t, recorded, 1)
	assert.True(t, recorded[0].Success)

	claims, err := f.tm.ValidateToken(result.Auth.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "access", claims.Type)
	assert.Equal(t, "u1", claims.UserID)
}

func TestLogin_UnknownEmail(t *testing.T) {
	f := newAuthFixture(t)

	result, err := f.svc.Login(context.Background(), "nobody@example.com", "whatever", testLoginContext())

	assert.ErrorIs(t, err, models.ErrUnauthorized)
	assert.Nil(t, result)

	// The failure is attributed to the IP since no user resolved
	assert.Equal(t, []string{"|203.0.113.9"}, f.outcomes.Failures)
	events := f.feed.Recorded()
	require.Len(t, events, 1)
	failure := events[0].(interface{ TrackingKey() string })
	assert.Equal(t, "ip:203.0.113.9", failure.TrackingKey())
}

func TestLogin_WrongPassword(t *testing.T) {
	f := newAuthFixture(t)
	user := verifiedUser(t, "correct horse battery")
	f.users.GetByEmailFunc = func(context.Context, string) (*models.User, error) { return user, nil }

	_, err := f.svc.Login(context.Background(), "user@example.com", "wrong password", testLoginContext())

	assert.ErrorIs(t, err, models.ErrUnauthorized)
	assert.Equal(t, []string{"u1|203.0.113.9"}, f.outcomes.Failures)
	assert.Empty(t, f.outcomes.Successes)
}

func TestLogin_EmptyEmail(t *testing.T) {
	f := newAuthFixture(t)

	_, err := f.svc.Login(context.Background(), "   ", "whatever", testLoginContext())

	assert.ErrorIs(t, err, models.ErrUnauthorized)
}

func TestLogin_UnverifiedEmail(t *testing.T) {
	f := newAuthFixture(t)
	user := verifiedUser(t, "correct horse battery")
	user.EmailVerified = false
	f.users.GetByEmailFunc = func(context.Context, string) (*models.User, error) { return user, nil }

	_, err := f.svc.Login(context.Background(), "user@example.com", "correct horse battery", testLoginContext())

	assert.ErrorIs(t, err, models.ErrEmailNotVerified)
	assert.Equal(t, []string{"u1|203.0.113.9"}, f.outcomes.Failures)
}

func TestLogin_BlockedByRiskAssessment(t *testing.T) {
	f := newAuthFixture(t)
	user := verifiedUser(t, "correct horse battery")
	f.users.GetByEmailFunc = func(context.Context, string) (*models.User, error) { return user, nil }
	f.risk.AnalyzeFunc = func(_ context.Context, event *models.RiskEvent) *models.RiskAssessment {
		assert.Equal(t, "u1", event.UserID)
		assert.Equal(t, "AE", event.Country)
		return &models.RiskAssessment{
			Overall:           95,
			Level:             models.RiskCritical,
			RecommendedAction: models.ActionBlock,
		}
	}

	_, err := f.svc.Login(context.Background(), "user@example.com", "correct horse battery", testLoginContext())

	// The password was right; the risk engine refused anyway
	assert.ErrorIs(t, err, models.ErrForbidden)
	assert.Equal(t, []string{"u1|203.0.113.9"}, f.outcomes.Failures)
	assert.Empty(t, f.outcomes.Successes)
}

func TestLogin_StepUpWhenFlaggedAndEnrolled(t *testing.T) {
	f := newAuthFixture(t)
	user := verifiedUser(t, "correct horse battery")
	user.TOTPEnabled = true
	f.users.GetByEmailFunc = func(context.Context, string) (*models.User, error) { return user, nil }
	f.risk.AnalyzeFunc = func(context.Context, *models.RiskEvent) *models.RiskAssessment {
		return &models.RiskAssessment{
			Overall:           78,
			Level:             models.RiskHigh,
			RecommendedAction: models.ActionInvestigate,
		}
	}

	result, err := f.svc.Login(context.Background(), "user@example.com", "correct horse battery", testLoginContext())

	require.NoError(t, err)
	assert.True(t, result.StepUpRequired)
	assert.Nil(t, result.Auth)
	require.NotEmpty(t, result.ChallengeToken)

	claims, err := f.tm.ValidateToken(result.ChallengeToken)
	require.NoError(t, err)
	assert.Equal(t, "challenge", claims.Type)
	assert.Equal(t, "u1", claims.UserID)

	// No tokens issued yet, so no success outcome either
	assert.Empty(t, f.outcomes.Successes)
}

func TestLogin_FlaggedWithoutEnrolledFactorProceeds(t *testing.T) {
	f := newAuthFixture(t)
	user := verifiedUser(t, "correct horse battery")
	f.users.GetByEmailFunc = func(context.Context, string) (*models.User, error) { return user, nil }
	f.risk.AnalyzeFunc = func(context.Context, *models.RiskEvent) *models.RiskAssessment {
		return &models.RiskAssessment{
			Overall:           65,
			Level:             models.RiskMedium,
			RecommendedAction: models.ActionReview,
		}
	}

	result, err := f.svc.Login(context.Background(), "user@example.com", "correct horse battery", testLoginContext())

	require.NoError(t, err)
	assert.False(t, result.StepUpRequired)
	require.NotNil(t, result.Auth)
	assert.Equal(t, []string{"u1|203.0.113.9"}, f.outcomes.Successes)
}

func TestCompleteStepUp_RejectsNonChallengeToken(t *testing.T) {
	f := newAuthFixture(t)
	access, err := f.tm.GenerateAccessToken("u1", "user@example.com")
	require.NoError(t, err)

	_, err = f.svc.CompleteStepUp(context.Background(), access, "123456", testLoginContext())

	assert.ErrorIs(t, err, models.ErrUnauthorized)
}

func TestCompleteStepUp_RejectsWrongCode(t *testing.T) {
	f := newAuthFixture(t)
	encrypted, nonce, _, err := f.totp.Enroll("user@example.com")
	require.NoError(t, err)

	user := verifiedUser(t, "correct horse battery")
	user.TOTPEnabled = true
	user.TOTPSecret = encrypted
	user.TOTPNonce = nonce
	f.users.GetByIDFunc = func(context.Context, string) (*models.User, error) { return user, nil }

	challenge, err := f.tm.GenerateChallengeToken("u1", "user@example.com")
	require.NoError(t, err)

	_, err = f.svc.CompleteStepUp(context.Background(), challenge, "000000", testLoginContext())

	assert.ErrorIs(t, err, models.ErrUnauthorized)
	assert.Equal(t, []string{"u1|203.0.113.9"}, f.outcomes.Failures)
}

func TestCompleteStepUp_GarbageToken(t *testing.T) {
	f := newAuthFixture(t)

	_, err := f.svc.CompleteStepUp(context.Background(), "not-a-jwt", "123456", testLoginContext())

	assert.ErrorIs(t, err, models.ErrUnauthorized)
}

func TestRefreshToken_IssuesNewPair(t *testing.T) {
	f := newAuthFixture(t)
	user := verifiedUser(t, "correct horse battery")
	f.users.GetByIDFunc = func(_ context.Context, id string) (*models.User, error) {
		assert.Equal(t, "u1", id)
		return user, nil
	}

	refresh, err := f.tm.GenerateRefreshToken("u1", "user@example.com")
	require.NoError(t, err)

	resp, err := f.svc.RefreshToken(context.Background(), refresh)

	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
	assert.NotEmpty(t, resp.RefreshToken)
	assert.NotEqual(t, refresh, resp.RefreshToken)
}

func TestRefreshToken_RejectsAccessToken(t *testing.T) {
	f := newAuthFixture(t)
	access, err := f.tm.GenerateAccessToken("u1", "user@example.com")
	require.NoError(t, err)

	_, err = f.svc.RefreshToken(context.Background(), access)

	assert.ErrorIs(t, err, models.ErrUnauthorized)
}

func TestRefreshToken_InvalidatedByPasswordChange(t *testing.T) {
	f := newAuthFixture(t)
	refresh, err := f.tm.GenerateRefreshToken("u1", "user@example.com")
	require.NoError(t, err)

	changed := time.Now().Add(time.Hour)
	user := verifiedUser(t, "new password entirely")
	user.PasswordChangedAt = &changed
	f.users.GetByIDFunc = func(context.Context, string) (*models.User, error) { return user, nil }

	_, err = f.svc.RefreshToken(context.Background(), refresh)

	assert.ErrorIs(t, err, models.ErrUnauthorized)
}

func TestRefreshToken_Empty(t *testing.T) {
	f := newAuthFixture(t)

	_, err := f.svc.RefreshToken(context.Background(), "  ")

	assert.ErrorIs(t, err, models.ErrUnauthorized)
}

func TestRegister_Success(t *testing.T) {
	f := newAuthFixture(t)
	var created *models.User
	f.users.CreateFunc = func(_ context.Context, user *models.User) (*models.User, error) {
		created = user
		out := *user
		out.ID = "u-new"
		out.CreatedAt = time.Now()
		out.UpdatedAt = time.Now()
		return &out, nil
	}

	resp, err := f.svc.Register(context.Background(), "  New@Example.com ", "Sturdy-Passphrase-9", "New User")

	require.NoError(t, err)
	assert.Equal(t, "u-new", resp.User.ID)
	assert.Equal(t, "new@example.com", resp.User.Email)
	assert.NotEmpty(t, resp.AccessToken)

	require.NotNil(t, created)
	assert.Equal(t, "user", created.Role)
	assert.NotNil(t, created.PasswordChangedAt)
	assert.NotEqual(t, "Sturdy-Passphrase-9", created.PasswordHash)
	assert.True(t, strings.HasPrefix(created.PasswordHash, "$2"))
}

func TestRegister_ExistingEmailConflicts(t *testing.T) {
	f := newAuthFixture(t)
	f.users.GetByEmailFunc = func(context.Context, string) (*models.User, error) {
		return verifiedUser(t, "whatever works here"), nil
	}

	_, err := f.svc.Register(context.Background(), "user@example.com", "Sturdy-Passphrase-9", "New User")

	assert.ErrorIs(t, err, models.ErrConflict)
}

func TestRegister_WeakPasswordRejected(t *testing.T) {
	f := newAuthFixture(t)

	_, err := f.svc.Register(context.Background(), "new@example.com", "password", "New User")

	var validationErr *pkgauth.PasswordValidationError
	assert.ErrorAs(t, err, &validationErr)
}

func TestEnrollTOTP_StoresDisabledSecret(t *testing.T) {
	f := newAuthFixture(t)
	user := verifiedUser(t, "correct horse battery")
	f.users.GetByIDFunc = func(context.Context, string) (*models.User, error) { return user, nil }

	var storedEnabled bool
	var storedSecret []byte
	f.users.SetTOTPFunc = func(_ context.Context, id string, secret, nonce []byte, enabled bool) error {
		assert.Equal(t, "u1", id)
		storedSecret = secret
		storedEnabled = enabled
		return nil
	}

	qr, err := f.svc.EnrollTOTP(context.Background(), "u1")

	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(qr, "data:image/png;base64,"))
	assert.False(t, storedEnabled)
	assert.NotEmpty(t, storedSecret)
}

func TestVerifyTOTPEnrollment_NoPendingSecret(t *testing.T) {
	f := newAuthFixture(t)
	f.users.GetByIDFunc = func(context.Context, string) (*models.User, error) {
		return verifiedUser(t, "correct horse battery"), nil
	}

	err := f.svc.VerifyTOTPEnrollment(context.Background(), "u1", "123456")

	assert.ErrorIs(t, err, models.ErrBadRequest)
}

func TestVerifyTOTPEnrollment_WrongCode(t *testing.T) {
	f := newAuthFixture(t)
	encrypted, nonce, _, err := f.totp.Enroll("user@example.com")
	require.NoError(t, err)

	user := verifiedUser(t, "correct horse battery")
	user.TOTPSecret = encrypted
	user.TOTPNonce = nonce
	f.users.GetByIDFunc = func(context.Context, string) (*models.User, error) { return user, nil }

	err = f.svc.VerifyTOTPEnrollment(context.Background(), "u1", "000000")

	assert.ErrorIs(t, err, models.ErrUnauthorized)
}

package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTokenManager() *TokenManager {
	return NewTokenManager("test-signing-secret", 15*time.Minute, 7*24*time.Hour)
}

func TestGenerateAndValidateAccessToken(t *testing.T) {
	tm := newTestTokenManager()

	token, err := tm.GenerateAccessToken("u1", "user@example.com")
	require.NoError(t, err)

	claims, err := tm.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "access", claims.Type)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "user@example.com", claims.Email)
	assert.NotEmpty(t, claims.ID)
}

func TestTokenTypesAreDistinct(t *testing.T) {
	tm := newTestTokenManager()

	refresh, err := tm.GenerateRefreshToken("u1", "user@example.com")
	require.NoError(t, err)
	challenge, err := tm.GenerateChallengeToken("u1", "user@example.com")
	require.NoError(t, err)

	refreshClaims, err := tm.ValidateToken(refresh)
	require.NoError(t, err)
	assert.Equal(t, "refresh", refreshClaims.Type)

	challengeClaims, err := tm.ValidateToken(challenge)
	require.NoError(t, err)
	assert.Equal(t, "challenge", challengeClaims.Type)
}

func TestChallengeTokenExpiresInFiveMinutes(t *testing.T) {
	tm := newTestTokenManager()

	challenge, err := tm.GenerateChallengeToken("u1", "user@example.com")
	require.NoError(t, err)

	claims, err := tm.ValidateToken(challenge)
	require.NoError(t, err)
	ttl := claims.ExpiresAt.Sub(claims.IssuedAt.Time)
	assert.Equal(t, 5*time.Minute, ttl)
}

func TestValidateToken_RejectsWrongSecret(t *testing.T) {
	tm := newTestTokenManager()
	other := NewTokenManager("different-secret", 15*time.Minute, 7*24*time.Hour)

	token, err := tm.GenerateAccessToken("u1", "user@example.com")
	require.NoError(t, err)

	_, err = other.ValidateToken(token)
	assert.Error(t, err)
}

func TestValidateToken_RejectsGarbage(t *testing.T) {
	tm := newTestTokenManager()

	_, err := tm.ValidateToken("not.a.jwt")
	assert.Error(t, err)

	_, err = tm.ValidateToken("")
	assert.Error(t, err)
}

func TestEachTokenCarriesUniqueJTI(t *testing.T) {
	tm := newTestTokenManager()

	first, err := tm.GenerateAccessToken("u1", "user@example.com")
	require.NoError(t, err)
	second, err := tm.GenerateAccessToken("u1", "user@example.com")
	require.NoError(t, err)

	firstClaims, err := tm.ValidateToken(first)
	require.NoError(t, err)
	secondClaims, err := tm.ValidateToken(second)
	require.NoError(t, err)

	assert.NotEqual(t, firstClaims.ID, secondClaims.ID)
}

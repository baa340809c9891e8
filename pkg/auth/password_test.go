package auth

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePassword(t *testing.T) {
	tests := []struct {
		name     string
		password string
		wantErr  bool
	}{
		{"valid password", "Sturdy-Passphrase-9", false},
		{"minimum viable", "Aa1!aaaa", false},
		{"too short", "Aa1!aaa", true},
		{"too long", "Aa1!" + strings.Repeat("a", 125), true},
		{"missing uppercase", "sturdy-passphrase-9", true},
		{"missing lowercase", "STURDY-PASSPHRASE-9", true},
		{"missing digit", "Sturdy-Passphrase-x", true},
		{"missing special", "SturdyPassphrase9x", true},
		{"space is not a special character", "Sturdy Passphrase9", true},
		{"common password", "password", true},
		{"common password mixed case", "PASSWORD", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePassword(tt.password)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidatePassword_ErrorIsGeneric(t *testing.T) {
	err := ValidatePassword("weak")
	require.Error(t, err)

	var verr *PasswordValidationError
	require.ErrorAs(t, err, &verr)
	assert.NotEmpty(t, verr.Errors)

	// The user-facing message never names the failed requirement
	assert.Equal(t, "invalid password", err.Error())
}

func TestHashAndComparePassword(t *testing.T) {
	hash, err := HashPassword("Sturdy-Passphrase-9")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "$2"))

	assert.NoError(t, ComparePassword(hash, "Sturdy-Passphrase-9"))
	assert.Error(t, ComparePassword(hash, "Sturdy-Passphrase-8"))
}

func TestHashPassword_RejectsEmpty(t *testing.T) {
	_, err := HashPassword("")
	assert.Error(t, err)
}

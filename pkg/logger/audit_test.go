package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// auditEntry runs fn against a JSON-backed audit logger and decodes the
// single line it wrote
func auditEntry(t *testing.T, fn func(al *AuditLogger)) map[string]any {
	t.Helper()
	var buf bytes.Buffer
	fn(NewAuditLogger(slog.New(slog.NewJSONHandler(&buf, nil))))

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestLogAuthAttempt_Failure(t *testing.T) {
	entry := auditEntry(t, func(al *AuditLogger) {
		al.LogAuthAttempt(AuditEvent{
			EventType:     "login",
			UserID:        "u1",
			IPAddress:     "203.0.113.9",
			Success:       false,
			FailureReason: "invalid_credentials",
		})
	})

	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "auth", entry["audit_type"])
	assert.Equal(t, "login", entry["event_type"])
	assert.Equal(t, false, entry["success"])
	assert.Equal(t, "invalid_credentials", entry["failure_reason"])
	assert.NotContains(t, entry, "user_agent")
}

func TestLogAuthAttempt_SuccessIsInfo(t *testing.T) {
	entry := auditEntry(t, func(al *AuditLogger) {
		al.LogAuthAttempt(AuditEvent{EventType: "login", UserID: "u1", Success: true})
	})

	assert.Equal(t, "INFO", entry["level"])
	assert.NotContains(t, entry, "failure_reason")
}

func TestLogPasswordChange(t *testing.T) {
	entry := auditEntry(t, func(al *AuditLogger) {
		al.LogPasswordChange("u1", "203.0.113.9", false)
	})

	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "password", entry["audit_type"])
	assert.Equal(t, "password_change", entry["event_type"])
	assert.Equal(t, "u1", entry["user_id"])
}

func TestLogAccountAction_CarriesMetadata(t *testing.T) {
	entry := auditEntry(t, func(al *AuditLogger) {
		al.LogAccountAction("password_reset_requested", "u1", "203.0.113.9", map[string]string{
			"suppressed": "true",
		})
	})

	assert.Equal(t, "account", entry["audit_type"])
	assert.Equal(t, "password_reset_requested", entry["event_type"])
	assert.Equal(t, "true", entry["suppressed"])
}

func TestLogSecurityDecision(t *testing.T) {
	entry := auditEntry(t, func(al *AuditLogger) {
		al.LogSecurityDecision("limiter_unblocked", "", "203.0.113.9", nil)
	})

	assert.Equal(t, "INFO", entry["level"])
	assert.Equal(t, "security_decision", entry["audit_type"])
	assert.Equal(t, "limiter_unblocked", entry["event_type"])
	assert.Equal(t, "203.0.113.9", entry["ip_address"])
	assert.NotContains(t, entry, "user_id")
}

package logger

import (
	"context"
	"log/slog"
	"time"
)

// AuditEvent describes an authentication attempt outcome
type AuditEvent struct {
	EventType     string
	UserID        string
	IPAddress     string
	UserAgent     string
	Success       bool
	FailureReason string
	Metadata      map[string]string
}

// AuditLogger writes security-relevant outcomes to the structured log.
// Callers pass identifiers and outcomes only; token plaintexts and
// passwords must never reach it.
type AuditLogger struct {
	logger *slog.Logger
}

// NewAuditLogger creates a new audit logger
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return &AuditLogger{
		logger: logger,
	}
}

// LogAuthAttempt records a login, step-up, or refresh outcome
func (al *AuditLogger) LogAuthAttempt(event AuditEvent) {
	attrs := []slog.Attr{
		slog.String("event_type", event.EventType),
		slog.Bool("success", event.Success),
	}
	attrs = appendNonEmpty(attrs, "user_id", event.UserID)
	attrs = appendNonEmpty(attrs, "ip_address", event.IPAddress)
	attrs = appendNonEmpty(attrs, "user_agent", event.UserAgent)
	attrs = appendNonEmpty(attrs, "failure_reason", event.FailureReason)
	for key, val := range event.Metadata {
		attrs = append(attrs, slog.String(key, val))
	}

	al.emit(outcomeLevel(event.Success), "auth", attrs)
}

// LogPasswordChange records the outcome of a reset-flow password change
func (al *AuditLogger) LogPasswordChange(userID, ipAddress string, success bool) {
	attrs := []slog.Attr{
		slog.String("event_type", "password_change"),
		slog.Bool("success", success),
		slog.String("user_id", userID),
	}
	attrs = appendNonEmpty(attrs, "ip_address", ipAddress)

	al.emit(outcomeLevel(success), "password", attrs)
}

// LogAccountAction records account lifecycle actions: registration,
// TOTP enrollment, reset requests
func (al *AuditLogger) LogAccountAction(eventType, userID, ipAddress string, metadata map[string]string) {
	attrs := []slog.Attr{
		slog.String("event_type", eventType),
		slog.String("user_id", userID),
	}
	attrs = appendNonEmpty(attrs, "ip_address", ipAddress)
	for key, val := range metadata {
		attrs = append(attrs, slog.String(key, val))
	}

	al.emit(slog.LevelInfo, "account", attrs)
}

// LogSecurityDecision records operator interventions in the decisioning
// core: lifting a limiter block, resetting a learned risk profile
func (al *AuditLogger) LogSecurityDecision(action, userID, ipAddress string, metadata map[string]string) {
	attrs := []slog.Attr{
		slog.String("event_type", action),
	}
	attrs = appendNonEmpty(attrs, "user_id", userID)
	attrs = appendNonEmpty(attrs, "ip_address", ipAddress)
	for key, val := range metadata {
		attrs = append(attrs, slog.String(key, val))
	}

	al.emit(slog.LevelInfo, "security_decision", attrs)
}

func (al *AuditLogger) emit(level slog.Level, auditType string, attrs []slog.Attr) {
	attrs = append(attrs,
		slog.String("audit_type", auditType),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)))
	al.logger.LogAttrs(context.Background(), level, "audit", attrs...)
}

func appendNonEmpty(attrs []slog.Attr, key, value string) []slog.Attr {
	if value != "" {
		attrs = append(attrs, slog.String(key, value))
	}
	return attrs
}

func outcomeLevel(success bool) slog.Level {
	if success {
		return slog.LevelInfo
	}
	return slog.LevelWarn
}

package security

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// AuditSink writes every feed event to the structured audit log
type AuditSink struct {
	logger *slog.Logger
}

// NewAuditSink creates an audit sink over the given logger
func NewAuditSink(logger *slog.Logger) *AuditSink {
	return &AuditSink{logger: logger}
}

// Emit logs the event with variant-specific attributes
func (s *AuditSink) Emit(ctx context.Context, event Event) {
	attrs := []slog.Attr{
		slog.String("audit_type", "security"),
		slog.String("event_type", string(event.Kind())),
		slog.String("severity", string(event.Severity())),
		slog.String("timestamp", event.When().UTC().Format(time.RFC3339)),
	}

	switch e := event.(type) {
	case RateLimitViolation:
		attrs = append(attrs,
			slog.String("identity", e.Key),
			slog.String("ip_address", e.IPAddress),
			slog.String("endpoint", e.Endpoint),
			slog.String("method", e.Method))
	case AuthFailure:
		attrs = append(attrs,
			slog.String("identity", e.Key),
			slog.String("ip_address", e.IPAddress),
			slog.String("reason", e.Reason))
		if e.UserID != "" {
			attrs = append(attrs, slog.String("user_id", e.UserID))
		}
	case FraudHighRisk:
		attrs = append(attrs,
			slog.String("user_id", e.UserID),
			slog.String("ip_address", e.IPAddress),
			slog.Float64("score", e.Score),
			slog.String("level", string(e.Level)),
			slog.String("reasons", strings.Join(e.Reasons, "; ")))
	case TokenFailure:
		attrs = append(attrs,
			slog.String("ip_address", e.IPAddress),
			slog.String("cause", e.Cause))
		if e.UserID != "" {
			attrs = append(attrs, slog.String("user_id", e.UserID))
		}
	}

	level := slog.LevelWarn
	if event.Severity() == SeverityCritical {
		level = slog.LevelError
	}
	s.logger.LogAttrs(ctx, level, "security event", attrs...)
}

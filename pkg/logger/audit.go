package logger

import (
	"context"
	"log/slog"
	"time"
)

// DecisionEvent is the audit record for one decided login attempt.
type DecisionEvent struct {
	AccountID       string
	AddressOfClient string
	Outcome         string
	AttemptID       string
}

// AuditLogger emits structured audit lines for login decisions. It never
// logs passwords, cookies, or unmasked account identifiers.
type AuditLogger struct {
	logger *slog.Logger
}

// NewAuditLogger creates a new audit logger
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return &AuditLogger{
		logger: logger,
	}
}

// LogLoginDecision logs the outcome of one evaluated login attempt.
// Refused attempts log at Warn so operators can alert on them directly.
func (al *AuditLogger) LogLoginDecision(event DecisionEvent, allowed bool) {
	attrs := []slog.Attr{
		slog.String("audit_type", "login_decision"),
		slog.String("account", SanitizedAccountID(event.AccountID)),
		slog.String("ip_address", event.AddressOfClient),
		slog.String("outcome", event.Outcome),
		slog.String("attempt_id", event.AttemptID),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}

	level := slog.LevelInfo
	if !allowed {
		level = slog.LevelWarn
	}
	al.logger.LogAttrs(context.Background(), level, "audit", attrs...)
}

// LogHostChange logs fleet membership changes made through the admin
// surface.
func (al *AuditLogger) LogHostChange(action, hostID, hostURL string) {
	al.logger.LogAttrs(context.Background(), slog.LevelInfo, "audit",
		slog.String("audit_type", "fleet_membership"),
		slog.String("event_type", action),
		slog.String("host_id", hostID),
		slog.String("host_url", hostURL),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	)
}

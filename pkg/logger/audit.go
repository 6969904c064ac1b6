package logger

import (
	"context"
	"log/slog"
	"strings"
	"time"
)

// SecurityEvent represents one security-relevant event in the log stream
type SecurityEvent struct {
	EventType     string
	AccountID     string
	IPAddress     string
	UserAgent     string
	Success       bool
	FailureReason string
	Metadata      map[string]string
}

// SecurityLogger provides structured security-event logging
type SecurityLogger struct {
	logger *slog.Logger
}

// NewSecurityLogger creates a new security logger
func NewSecurityLogger(logger *slog.Logger) *SecurityLogger {
	return &SecurityLogger{
		logger: logger,
	}
}

// LogAuthAttempt logs authentication attempts
func (sl *SecurityLogger) LogAuthAttempt(event SecurityEvent) {
	attrs := []slog.Attr{
		slog.String("audit_type", "auth"),
		slog.String("event_type", event.EventType),
		slog.Bool("success", event.Success),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}

	if event.AccountID != "" {
		attrs = append(attrs, slog.String("account_id", event.AccountID))
	}
	if event.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", event.IPAddress))
	}
	if event.UserAgent != "" {
		attrs = append(attrs, slog.String("user_agent", event.UserAgent))
	}
	if event.FailureReason != "" {
		attrs = append(attrs, slog.String("failure_reason", event.FailureReason))
	}
	for k, v := range event.Metadata {
		attrs = append(attrs, slog.String(k, v))
	}

	if event.Success {
		sl.logger.LogAttrs(context.Background(), slog.LevelInfo, "security event", attrs...)
	} else {
		sl.logger.LogAttrs(context.Background(), slog.LevelWarn, "security event", attrs...)
	}
}

// LogAdminAction logs administrator actions on accounts and alerts
func (sl *SecurityLogger) LogAdminAction(action, actorID, targetID string, metadata map[string]string) {
	attrs := []slog.Attr{
		slog.String("audit_type", "admin"),
		slog.String("action", action),
		slog.String("actor_id", actorID),
		slog.String("target_id", targetID),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}
	for k, v := range metadata {
		attrs = append(attrs, slog.String(k, v))
	}

	sl.logger.LogAttrs(context.Background(), slog.LevelInfo, "security event", attrs...)
}

// SanitizedEmail masks an email address for logging (e.g., "u***@e***.com")
func SanitizedEmail(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return "[invalid-email]"
	}

	username := parts[0]
	domain := parts[1]

	if len(username) > 1 {
		username = string(username[0]) + strings.Repeat("*", len(username)-1)
	}

	domainParts := strings.Split(domain, ".")
	if len(domainParts) > 1 {
		for i := 0; i < len(domainParts)-1; i++ {
			domainParts[i] = strings.Repeat("*", len(domainParts[i]))
		}
		domain = strings.Join(domainParts, ".")
	}

	return username + "@" + domain
}

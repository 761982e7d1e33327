package logger

import (
	"context"
	"log/slog"
	"sort"
	"time"
)

// AuditEvent represents a security audit event about one identity
type AuditEvent struct {
	EventType string
	Identity  string
	Kind      string
	IPAddress string
	UserAgent string
	Success   bool
	Reason    string
	Metadata  map[string]string
}

// AuditLogger writes security audit lines. Identities are never logged in clear:
// each line carries a masked form plus a keyed fingerprint for correlation.
type AuditLogger struct {
	logger      *slog.Logger
	fingerprint *Fingerprinter
	now         func() time.Time
}

// NewAuditLogger creates a new audit logger. A nil fingerprinter disables the
// identity_fp attribute.
func NewAuditLogger(logger *slog.Logger, fingerprint *Fingerprinter) *AuditLogger {
	return &AuditLogger{
		logger:      logger,
		fingerprint: fingerprint,
		now:         time.Now,
	}
}

func (al *AuditLogger) baseAttrs(auditType, eventType string) []slog.Attr {
	return []slog.Attr{
		slog.String("audit_type", auditType),
		slog.String("event_type", eventType),
		slog.String("timestamp", al.now().UTC().Format(time.RFC3339)),
	}
}

func (al *AuditLogger) identityAttrs(identity string) []slog.Attr {
	if identity == "" {
		return nil
	}
	attrs := []slog.Attr{slog.String("identity", SanitizedIdentity(identity))}
	if al.fingerprint != nil {
		attrs = append(attrs, slog.String("identity_fp", al.fingerprint.Sum(identity)))
	}
	return attrs
}

// LogAttempt logs a recorded authentication attempt
func (al *AuditLogger) LogAttempt(ctx context.Context, event AuditEvent) {
	attrs := al.baseAttrs("auth", event.EventType)
	attrs = append(attrs, slog.Bool("success", event.Success))
	attrs = append(attrs, al.identityAttrs(event.Identity)...)

	if event.Kind != "" {
		attrs = append(attrs, slog.String("kind", event.Kind))
	}
	if event.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", event.IPAddress))
	}
	if event.UserAgent != "" {
		attrs = append(attrs, slog.String("user_agent", event.UserAgent))
	}
	if event.Reason != "" {
		attrs = append(attrs, slog.String("reason", event.Reason))
	}
	attrs = append(attrs, metadataAttrs(event.Metadata)...)

	if event.Success {
		al.logger.LogAttrs(ctx, slog.LevelInfo, "audit", attrs...)
	} else {
		al.logger.LogAttrs(ctx, slog.LevelWarn, "audit", attrs...)
	}
}

// LogSecurityEvent logs a decision taken by the security core (lockout, risk, challenge)
func (al *AuditLogger) LogSecurityEvent(ctx context.Context, level slog.Level, eventType, identity, ipAddress string, extra ...slog.Attr) {
	attrs := al.baseAttrs("security", eventType)
	attrs = append(attrs, al.identityAttrs(identity)...)
	if ipAddress != "" {
		attrs = append(attrs, slog.String("ip_address", ipAddress))
	}
	attrs = append(attrs, extra...)

	al.logger.LogAttrs(ctx, level, "audit", attrs...)
}

// LogAdminAction logs administrative operations such as forced cleanup
func (al *AuditLogger) LogAdminAction(ctx context.Context, eventType, actorID, ipAddress string, metadata map[string]string) {
	attrs := al.baseAttrs("admin", eventType)
	if actorID != "" {
		attrs = append(attrs, slog.String("actor_id", actorID))
	}
	if ipAddress != "" {
		attrs = append(attrs, slog.String("ip_address", ipAddress))
	}
	attrs = append(attrs, metadataAttrs(metadata)...)

	al.logger.LogAttrs(ctx, slog.LevelInfo, "audit", attrs...)
}

// metadataAttrs emits metadata in key order so log lines are stable
func metadataAttrs(metadata map[string]string) []slog.Attr {
	if len(metadata) == 0 {
		return nil
	}

	keys := make([]string, 0, len(metadata))
	for k := range metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	attrs := make([]slog.Attr, 0, len(keys))
	for _, k := range keys {
		attrs = append(attrs, slog.String(k, metadata[k]))
	}
	return attrs
}

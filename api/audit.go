package api

import (
	"log/slog"
	"net/http"
	"time"
)

// AuditEvent identifies the type of security-relevant action being logged.
type AuditEvent string

const (
	AuditLoginBegin      AuditEvent = "login_begin"
	AuditCallbackSuccess AuditEvent = "callback_success"
	AuditCallbackFailure AuditEvent = "callback_failure"
	AuditMFASuccess      AuditEvent = "mfa_success"
	AuditMFAFailure      AuditEvent = "mfa_failure"
	AuditLogout          AuditEvent = "logout"
	AuditCSRFRejected    AuditEvent = "csrf_rejected"
	AuditRateLimited     AuditEvent = "rate_limited"
	AuditUploadStaged    AuditEvent = "upload_staged"
	AuditUploadCancelled AuditEvent = "upload_cancelled"
	AuditUploadCommitted AuditEvent = "upload_committed"
	AuditProjectSaved    AuditEvent = "project_saved"
	AuditProjectDeleted  AuditEvent = "project_deleted"
	AuditDownloadCounted AuditEvent = "download_counted"
)

// auditLogger wraps slog.Logger for structured security audit logging.
type auditLogger struct {
	logger  *slog.Logger
	metrics *metricsCollector
}

func newAuditLogger(logger *slog.Logger) *auditLogger {
	return &auditLogger{
		logger: logger.With("component", "audit"),
	}
}

// logEvent writes a structured audit entry. subject is the external
// identity id, which is safe for logs; secrets never appear here.
func (al *auditLogger) logEvent(event AuditEvent, r *http.Request, subject string, attrs ...slog.Attr) {
	baseAttrs := []slog.Attr{
		slog.String("event", string(event)),
		slog.String("remote_addr", r.RemoteAddr),
		slog.String("timestamp", time.Now().UTC().Format(time.RFC3339)),
	}
	if subject != "" {
		baseAttrs = append(baseAttrs, slog.String("subject", subject))
	}
	baseAttrs = append(baseAttrs, attrs...)

	al.logger.LogAttrs(r.Context(), slog.LevelInfo, "audit", baseAttrs...)
	if al.metrics != nil {
		al.metrics.recordEvent(event)
	}
}

// logFailure is logEvent for rejections, carrying the reason.
func (al *auditLogger) logFailure(event AuditEvent, r *http.Request, reason string, attrs ...slog.Attr) {
	attrs = append([]slog.Attr{slog.String("reason", reason)}, attrs...)
	al.logEvent(event, r, "", attrs...)
}

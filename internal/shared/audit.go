package shared

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Audit actions recorded by the console.
const (
	AuditLogin            = "login"
	AuditLogout           = "logout"
	AuditForcedLogout     = "logout.forced"
	AuditPasswordChange   = "password.change"
	AuditPermissionUpdate = "permission.update"
)

// AuditLog is one security-relevant event of a console context.
type AuditLog struct {
	ContextID string
	Actor     string
	Action    string
	Detail    string
	At        time.Time
}

// AuditRecorder persists audit events.
type AuditRecorder interface {
	Record(ctx context.Context, log AuditLog) error
}

func validateAudit(log AuditLog) error {
	if log.ContextID == "" || log.Action == "" {
		return errors.New("audit log requires context_id/action")
	}
	return nil
}

// AuditSchemaSQL creates the table AuditLogger writes to.
const AuditSchemaSQL = `CREATE TABLE IF NOT EXISTS console_audit_logs (
	id          BIGSERIAL PRIMARY KEY,
	context_id  TEXT NOT NULL,
	actor       TEXT NOT NULL DEFAULT '',
	action      TEXT NOT NULL,
	detail      TEXT NOT NULL DEFAULT '',
	occurred_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// AuditLogger writes records into console_audit_logs.
type AuditLogger struct {
	pool *pgxpool.Pool
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(pool *pgxpool.Pool) *AuditLogger {
	return &AuditLogger{pool: pool}
}

// Record persists the log entry.
func (l *AuditLogger) Record(ctx context.Context, log AuditLog) error {
	if l == nil {
		return errors.New("audit logger not initialised")
	}
	if err := validateAudit(log); err != nil {
		return err
	}
	var at *time.Time
	if !log.At.IsZero() {
		at = &log.At
	}
	_, err := l.pool.Exec(ctx, `INSERT INTO console_audit_logs (context_id, actor, action, detail, occurred_at) VALUES ($1, $2, $3, $4, COALESCE($5, NOW()))`, log.ContextID, log.Actor, log.Action, log.Detail, at)
	return err
}

// LogAuditRecorder writes audit events to a structured logger.
type LogAuditRecorder struct {
	Logger *slog.Logger
}

// Record logs the entry at info level.
func (r LogAuditRecorder) Record(ctx context.Context, log AuditLog) error {
	if err := validateAudit(log); err != nil {
		return err
	}
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "audit",
		slog.String("context_id", log.ContextID),
		slog.String("actor", log.Actor),
		slog.String("action", log.Action),
		slog.String("detail", log.Detail),
	)
	return nil
}

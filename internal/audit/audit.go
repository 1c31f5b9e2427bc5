// Package audit persists a durable, append-only record of each
// execution request's language, session, timing and outcome — never
// the submitted code or its output, which stay ephemeral per the
// service's no-persistent-compute design. Grounded on the reference's
// db.MySQL query surface and its repository's degrade-don't-fail
// policy for storage errors.
package audit

import (
	"context"
	"time"

	"coderunner/internal/common/db"
	appErr "coderunner/pkg/errors"
	"coderunner/pkg/utils/logger"

	"go.uber.org/zap"
)

// Entry is one audited execution.
type Entry struct {
	RequestID  string
	Language   string
	SessionID  string
	Outcome    string // "ok", "bad_request", "pool_exhausted", "timeout", "resource_exceeded", "internal_error"
	DurationMs int64
	StartedAt  time.Time
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS execution_audit (
	id BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
	request_id VARCHAR(64) NOT NULL,
	language VARCHAR(16) NOT NULL,
	session_id VARCHAR(64) NOT NULL DEFAULT '',
	outcome VARCHAR(32) NOT NULL,
	duration_ms BIGINT NOT NULL,
	started_at DATETIME NOT NULL,
	UNIQUE KEY uniq_request_id (request_id),
	KEY idx_started_at (started_at)
)`

const insertSQL = `
INSERT INTO execution_audit (request_id, language, session_id, outcome, duration_ms, started_at)
VALUES (?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE outcome = VALUES(outcome), duration_ms = VALUES(duration_ms)`

// Log writes execution audit rows. A nil *db.MySQL degrades every
// Record call to a no-op, matching the optional nature of this
// supplemented feature.
type Log struct {
	mysql *db.MySQL
}

// New builds a Log. Call EnsureSchema once at startup.
func New(mysql *db.MySQL) *Log {
	return &Log{mysql: mysql}
}

// EnsureSchema creates the audit table if it does not already exist.
func (l *Log) EnsureSchema(ctx context.Context) error {
	if l.mysql == nil {
		return nil
	}
	if _, err := l.mysql.Exec(ctx, createTableSQL); err != nil {
		return appErr.Wrap(err, appErr.DatabaseError).WithMessage("create execution_audit table")
	}
	return nil
}

// Record writes one audit row. A write failure is logged and
// swallowed — audit logging must never fail the caller's execution
// response, matching spec.md §7's StorageUnavailable degrade policy.
func (l *Log) Record(ctx context.Context, e Entry) {
	if l.mysql == nil {
		return
	}
	_, err := l.mysql.Exec(ctx, insertSQL, e.RequestID, e.Language, e.SessionID, e.Outcome, e.DurationMs, e.StartedAt)
	if err != nil {
		logger.Warn(ctx, "failed to write execution audit row", zap.String("request_id", e.RequestID), zap.Error(err))
	}
}

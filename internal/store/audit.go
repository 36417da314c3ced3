// ABOUTME: Audit log entity and store methods for authentication and account events
// ABOUTME: Records who logged in, who changed which account, and credential resets

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AuditAction represents an auditable action.
type AuditAction string

const (
	AuditMasterConfigured AuditAction = "master_configured"
	AuditLoginSucceeded   AuditAction = "login_succeeded"
	AuditLoginFailed      AuditAction = "login_failed"
	AuditLogout           AuditAction = "logout"
	AuditUserAdded        AuditAction = "user_added"
	AuditUserDeleted      AuditAction = "user_deleted"
	AuditPasswordChanged  AuditAction = "password_changed"
	AuditCredentialsReset AuditAction = "credentials_reset"
)

// ValidAuditActions lists all valid audit actions.
var ValidAuditActions = []AuditAction{
	AuditMasterConfigured,
	AuditLoginSucceeded,
	AuditLoginFailed,
	AuditLogout,
	AuditUserAdded,
	AuditUserDeleted,
	AuditPasswordChanged,
	AuditCredentialsReset,
}

// Well-known actors that are not user accounts.
const (
	ActorMaster    = "master"
	ActorSystem    = "system"
	ActorAnonymous = "anonymous"
)

// tsLayout is fixed-width so timestamps sort lexically.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

// AuditEntry represents a single audit log entry.
type AuditEntry struct {
	ID         string         // UUID v4
	Actor      string         // username, or ActorMaster / ActorSystem / ActorAnonymous
	Action     AuditAction    // what happened
	Target     string         // affected account or file, if any
	RemoteAddr string         // client address for request-driven events
	Timestamp  time.Time      // when it happened
	Detail     map[string]any // additional context
}

// AuditFilter specifies filtering options for listing audit entries.
type AuditFilter struct {
	Since  *time.Time   // entries after this time
	Actor  *string      // filter by actor
	Action *AuditAction // filter by action type
	Limit  int          // max results (default 100, max 1000)
}

// Auditor records and lists audit entries.
type Auditor interface {
	AppendAuditLog(ctx context.Context, e *AuditEntry) error
	ListAuditLog(ctx context.Context, f AuditFilter) ([]AuditEntry, error)
}

// NopAuditor discards entries. It is used when auditing is disabled.
type NopAuditor struct{}

func (NopAuditor) AppendAuditLog(context.Context, *AuditEntry) error { return nil }

func (NopAuditor) ListAuditLog(context.Context, AuditFilter) ([]AuditEntry, error) {
	return []AuditEntry{}, nil
}

// AppendAuditLog appends a new entry to the audit log.
// Generates ID and Timestamp if not set.
func (s *SQLiteStore) AppendAuditLog(ctx context.Context, e *AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.Actor == "" {
		e.Actor = ActorAnonymous
	}

	var detailJSON *string
	if e.Detail != nil {
		data, err := json.Marshal(e.Detail)
		if err != nil {
			return fmt.Errorf("marshaling audit detail: %w", err)
		}
		str := string(data)
		detailJSON = &str
	}

	query := `
		INSERT INTO audit_log (audit_id, actor, action, target, remote_addr, ts, detail_json)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		e.ID,
		e.Actor,
		e.Action,
		e.Target,
		e.RemoteAddr,
		e.Timestamp.UTC().Format(tsLayout),
		detailJSON,
	)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}

	s.logger.Debug("appended audit log",
		"id", e.ID,
		"actor", e.Actor,
		"action", e.Action,
		"target", e.Target,
	)
	return nil
}

// normalizeAuditLimit applies default (100) and cap (1000) to audit limit.
func normalizeAuditLimit(limit int) int {
	switch {
	case limit <= 0:
		return 100
	case limit > 1000:
		return 1000
	default:
		return limit
	}
}

// scanAuditEntry scans a row into an AuditEntry.
func scanAuditEntry(scanner interface{ Scan(dest ...any) error }) (AuditEntry, error) {
	var e AuditEntry
	var actionStr, tsStr string
	var detailJSON *string

	if err := scanner.Scan(
		&e.ID,
		&e.Actor,
		&actionStr,
		&e.Target,
		&e.RemoteAddr,
		&tsStr,
		&detailJSON,
	); err != nil {
		return e, fmt.Errorf("scanning audit entry: %w", err)
	}

	e.Action = AuditAction(actionStr)
	var err error
	e.Timestamp, err = time.Parse(tsLayout, tsStr)
	if err != nil {
		return e, fmt.Errorf("parsing timestamp: %w", err)
	}

	if detailJSON != nil {
		if err := json.Unmarshal([]byte(*detailJSON), &e.Detail); err != nil {
			return e, fmt.Errorf("unmarshaling detail: %w", err)
		}
	}
	return e, nil
}

const auditLogQuery = `
	SELECT audit_id, actor, action, target, remote_addr, ts, detail_json
	FROM audit_log
	WHERE (? IS NULL OR ts >= ?)
	  AND (? IS NULL OR actor = ?)
	  AND (? IS NULL OR action = ?)
	ORDER BY ts DESC, rowid DESC
	LIMIT ?
`

// ListAuditLog returns audit entries matching the filter criteria.
// Results are returned newest first.
func (s *SQLiteStore) ListAuditLog(ctx context.Context, f AuditFilter) ([]AuditEntry, error) {
	limit := normalizeAuditLimit(f.Limit)

	var sinceStr, actionStr *string
	if f.Since != nil {
		v := f.Since.UTC().Format(tsLayout)
		sinceStr = &v
	}
	if f.Action != nil {
		v := string(*f.Action)
		actionStr = &v
	}

	rows, err := s.db.QueryContext(ctx, auditLogQuery,
		sinceStr, sinceStr,
		f.Actor, f.Actor,
		actionStr, actionStr,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying audit log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []AuditEntry
	for rows.Next() {
		e, err := scanAuditEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit entries: %w", err)
	}

	if entries == nil {
		entries = []AuditEntry{}
	}
	return entries, nil
}

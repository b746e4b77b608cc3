package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/platinummonkey/shopadmin/pkg/apperr"
	"github.com/platinummonkey/shopadmin/pkg/storage"
)

// Migrations returns the audit_logs schema
func Migrations() []storage.Migration {
	return []storage.Migration{
		{
			Version:     1,
			Description: "create audit_logs",
			SQL: `
CREATE TABLE IF NOT EXISTS audit_logs (
	id VARCHAR(36) PRIMARY KEY,
	occurred_at TIMESTAMP NOT NULL,
	event_type VARCHAR(100) NOT NULL,
	status VARCHAR(20) NOT NULL,
	user_id VARCHAR(255) NOT NULL DEFAULT '',
	username VARCHAR(255) NOT NULL DEFAULT '',
	resource_type VARCHAR(50) NOT NULL DEFAULT '',
	resource_id VARCHAR(255) NOT NULL DEFAULT '',
	ip_address VARCHAR(45) NOT NULL DEFAULT '',
	user_agent TEXT NOT NULL DEFAULT '',
	request_id VARCHAR(100) NOT NULL DEFAULT '',
	method VARCHAR(10) NOT NULL DEFAULT '',
	path TEXT NOT NULL DEFAULT '',
	message TEXT NOT NULL DEFAULT '',
	error_message TEXT NOT NULL DEFAULT '',
	metadata TEXT,
	changes TEXT
);
CREATE INDEX IF NOT EXISTS idx_audit_logs_occurred_at ON audit_logs(occurred_at);
CREATE INDEX IF NOT EXISTS idx_audit_logs_event_type ON audit_logs(event_type);
CREATE INDEX IF NOT EXISTS idx_audit_logs_user_id ON audit_logs(user_id);
CREATE INDEX IF NOT EXISTS idx_audit_logs_resource ON audit_logs(resource_type, resource_id);
`,
		},
	}
}

// DBLogger writes audit events to the audit_logs table
type DBLogger struct {
	db *sql.DB
}

// NewDBLogger creates a new database-based audit logger. The schema comes
// from Migrations and must already be applied.
func NewDBLogger(db *sql.DB) (*DBLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	return &DBLogger{db: db}, nil
}

const eventColumns = `
	id, occurred_at, event_type, status,
	user_id, username, resource_type, resource_id,
	ip_address, user_agent, request_id, method, path,
	message, error_message, metadata, changes`

// Log logs an audit event to the database
func (l *DBLogger) Log(ctx context.Context, event *AuditEvent) error {
	var metadataJSON, changesJSON sql.NullString

	if event.Metadata != nil {
		b, err := json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		metadataJSON = sql.NullString{String: string(b), Valid: true}
	}

	if event.Changes != nil {
		b, err := json.Marshal(event.Changes)
		if err != nil {
			return fmt.Errorf("failed to marshal changes: %w", err)
		}
		changesJSON = sql.NullString{String: string(b), Valid: true}
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	query := `INSERT INTO audit_logs (` + eventColumns + `) VALUES (
		$1, $2, $3, $4,
		$5, $6, $7, $8,
		$9, $10, $11, $12, $13,
		$14, $15, $16, $17)`

	_, err := l.db.ExecContext(ctx, query,
		event.ID, event.Timestamp.UTC(), string(event.EventType), string(event.Status),
		event.UserID, event.Username, string(event.ResourceType), event.ResourceID,
		event.IPAddress, event.UserAgent, event.RequestID, event.Method, event.Path,
		event.Message, event.ErrorMessage, metadataJSON, changesJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}
	return nil
}

// Search returns events matching filter, newest first
func (l *DBLogger) Search(ctx context.Context, filter SearchFilter) (*SearchResult, error) {
	where, args := buildWhere(filter)

	var total int
	if err := l.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_logs`+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("failed to count audit logs: %w", err)
	}

	query := `SELECT ` + eventColumns + ` FROM audit_logs` + where + ` ORDER BY occurred_at DESC, id`
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", filter.Limit, filter.Offset)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search audit logs: %w", err)
	}
	defer rows.Close()

	events := make([]*AuditEvent, 0)
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit logs: %w", err)
	}

	return &SearchResult{Events: events, TotalRecords: total}, nil
}

// Get returns a single event by id
func (l *DBLogger) Get(ctx context.Context, id string) (*AuditEvent, error) {
	row := l.db.QueryRowContext(ctx, `SELECT `+eventColumns+` FROM audit_logs WHERE id = $1`, id)
	event, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, apperr.NotFound("audit event", id)
	}
	if err != nil {
		return nil, err
	}
	return event, nil
}

// Close is a no-op; the database handle is owned by the caller
func (l *DBLogger) Close() error {
	return nil
}

func buildWhere(filter SearchFilter) (string, []interface{}) {
	var clauses []string
	var args []interface{}
	add := func(clause string, arg interface{}) {
		args = append(args, arg)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if filter.StartTime != nil {
		add("occurred_at >= $%d", filter.StartTime.UTC())
	}
	if filter.EndTime != nil {
		add("occurred_at <= $%d", filter.EndTime.UTC())
	}
	if filter.UserID != "" {
		add("user_id = $%d", filter.UserID)
	}
	if len(filter.EventTypes) > 0 {
		placeholders := make([]string, len(filter.EventTypes))
		for i, et := range filter.EventTypes {
			args = append(args, string(et))
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, "event_type IN ("+strings.Join(placeholders, ", ")+")")
	}
	if filter.Status != "" {
		add("status = $%d", string(filter.Status))
	}
	if filter.ResourceType != "" {
		add("resource_type = $%d", string(filter.ResourceType))
	}
	if filter.ResourceID != "" {
		add("resource_id = $%d", filter.ResourceID)
	}

	if len(clauses) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEvent(row rowScanner) (*AuditEvent, error) {
	var (
		event                   AuditEvent
		eventType, status       string
		resourceType            string
		metadataJSON, changesJS sql.NullString
	)
	err := row.Scan(
		&event.ID, &event.Timestamp, &eventType, &status,
		&event.UserID, &event.Username, &resourceType, &event.ResourceID,
		&event.IPAddress, &event.UserAgent, &event.RequestID, &event.Method, &event.Path,
		&event.Message, &event.ErrorMessage, &metadataJSON, &changesJS,
	)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan audit log: %w", err)
	}

	event.EventType = EventType(eventType)
	event.Status = EventStatus(status)
	event.ResourceType = ResourceType(resourceType)

	if metadataJSON.Valid && metadataJSON.String != "" {
		if err := json.Unmarshal([]byte(metadataJSON.String), &event.Metadata); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}
	if changesJS.Valid && changesJS.String != "" {
		event.Changes = &ChangeDetails{}
		if err := json.Unmarshal([]byte(changesJS.String), event.Changes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal changes: %w", err)
		}
	}
	return &event, nil
}

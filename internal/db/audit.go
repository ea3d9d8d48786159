package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// AuditAction represents the type of action being audited
type AuditAction string

const (
	AuditActionFileUpload   AuditAction = "file_upload"
	AuditActionFileDownload AuditAction = "file_download"
)

const (
	DefaultAuditLimit = 50
	MaxAuditLimit     = 500
)

// AuditEntry represents an audit log entry
type AuditEntry struct {
	ID        string                 `json:"id"`
	Timestamp time.Time              `json:"timestamp"`
	Action    AuditAction            `json:"action"`
	Resource  string                 `json:"resource,omitempty"` // sanitized file name, or the raw name when rejected
	IPAddress string                 `json:"ip_address"`
	UserAgent string                 `json:"user_agent,omitempty"`
	RequestID string                 `json:"request_id,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Success   bool                   `json:"success"`
	ErrorMsg  string                 `json:"error_message,omitempty"`
}

// AuditFilter for querying audit logs
type AuditFilter struct {
	Action AuditAction
	Since  time.Time
	Limit  int
}

// AuditStore persists audit entries in the audit_logs table.
type AuditStore struct {
	db *sql.DB
}

func NewAuditStore(db *sql.DB) *AuditStore {
	return &AuditStore{db: db}
}

// Record inserts entry, filling in the id and timestamp when unset.
func (s *AuditStore) Record(ctx context.Context, entry AuditEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}

	var details []byte
	if len(entry.Details) > 0 {
		var err error
		details, err = json.Marshal(entry.Details)
		if err != nil {
			return err
		}
	}

	query := `
		INSERT INTO audit_logs (
			id, timestamp, action, resource, ip_address,
			user_agent, request_id, success, error_message, details
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := s.db.ExecContext(ctx, query,
		entry.ID,
		entry.Timestamp,
		string(entry.Action),
		nullString(entry.Resource),
		entry.IPAddress,
		nullString(entry.UserAgent),
		nullString(entry.RequestID),
		entry.Success,
		nullString(entry.ErrorMsg),
		nullBytes(details),
	)
	return err
}

// List returns the newest entries matching filter.
func (s *AuditStore) List(ctx context.Context, filter AuditFilter) ([]AuditEntry, error) {
	query := `
		SELECT id::text, timestamp, action, resource, ip_address,
		       user_agent, request_id, success, error_message, details::text
		FROM audit_logs
		WHERE 1=1
	`
	args := []interface{}{}

	if filter.Action != "" {
		args = append(args, string(filter.Action))
		query += ` AND action = $` + strconv.Itoa(len(args))
	}

	if !filter.Since.IsZero() {
		args = append(args, filter.Since)
		query += ` AND timestamp >= $` + strconv.Itoa(len(args))
	}

	args = append(args, ClampLimit(filter.Limit))
	query += ` ORDER BY timestamp DESC LIMIT $` + strconv.Itoa(len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []AuditEntry{}
	for rows.Next() {
		var e AuditEntry
		var action string
		var resource, userAgent, requestID, errorMsg, details sql.NullString

		if err := rows.Scan(
			&e.ID,
			&e.Timestamp,
			&action,
			&resource,
			&e.IPAddress,
			&userAgent,
			&requestID,
			&e.Success,
			&errorMsg,
			&details,
		); err != nil {
			return nil, err
		}

		e.Action = AuditAction(action)
		e.Resource = resource.String
		e.UserAgent = userAgent.String
		e.RequestID = requestID.String
		e.ErrorMsg = errorMsg.String
		if details.Valid && details.String != "" {
			if err := json.Unmarshal([]byte(details.String), &e.Details); err != nil {
				return nil, err
			}
		}

		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// ClampLimit applies the default and maximum page sizes.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultAuditLimit
	case limit > MaxAuditLimit:
		return MaxAuditLimit
	default:
		return limit
	}
}

// nullString helper for nullable strings
func nullString(s string) sql.NullString {
	return sql.NullString{
		String: s,
		Valid:  s != "",
	}
}

func nullBytes(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

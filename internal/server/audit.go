package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"filedrop/internal/db"
)

// AuditRecorder persists and lists audit entries. *db.AuditStore
// satisfies it; a nil recorder disables the audit trail.
type AuditRecorder interface {
	Record(ctx context.Context, entry db.AuditEntry) error
	List(ctx context.Context, filter db.AuditFilter) ([]db.AuditEntry, error)
}

const (
	// auditTimeout bounds each write so a slow database never stalls a transfer.
	auditTimeout = 2 * time.Second

	auditMaxFailures = 5
	auditCooldown    = 30 * time.Second
)

// recordAudit writes entry, filling request metadata. Failures are logged
// and never surface to the client.
func (s *Server) recordAudit(r *http.Request, entry db.AuditEntry) {
	if s.audit == nil {
		return
	}

	entry.Resource = auditText(entry.Resource)
	entry.IPAddress = auditText(s.clientIP(r))
	entry.UserAgent = auditText(r.UserAgent())
	entry.RequestID = auditText(RequestIDFromContext(r.Context()))
	entry.ErrorMsg = auditText(entry.ErrorMsg)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), auditTimeout)
	defer cancel()

	err := s.breaker.Do(func() error { return s.audit.Record(ctx, entry) })
	if err == nil {
		return
	}
	fields := map[string]interface{}{
		"request_id": entry.RequestID,
		"action":     string(entry.Action),
		"resource":   entry.Resource,
	}
	if errors.Is(err, ErrCircuitOpen) {
		s.log.Debug("audit record skipped", fields)
		return
	}
	s.log.Warn("audit record failed", fields, err)
}

// auditText makes client-supplied text storable in a UTF-8 TEXT column:
// invalid sequences and NUL bytes become U+FFFD.
func auditText(v string) string {
	v = strings.ToValidUTF8(v, "\uFFFD")
	return strings.ReplaceAll(v, "\x00", "\uFFFD")
}

// auditHandler serves GET /api/audit?action=&limit=&since=.
func (s *Server) auditHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.audit == nil || !s.cfg.AuditAPI {
			writeError(w, http.StatusNotFound, errorResponse{Error: "audit listing disabled"})
			return
		}

		q := r.URL.Query()
		filter := db.AuditFilter{}

		switch action := db.AuditAction(q.Get("action")); action {
		case "", db.AuditActionFileUpload, db.AuditActionFileDownload:
			filter.Action = action
		default:
			writeError(w, http.StatusBadRequest, errorResponse{Error: "unknown action"})
			return
		}

		if raw := q.Get("limit"); raw != "" {
			limit, err := strconv.Atoi(raw)
			if err != nil || limit < 1 {
				writeError(w, http.StatusBadRequest, errorResponse{Error: "limit must be a positive integer"})
				return
			}
			filter.Limit = db.ClampLimit(limit)
		}

		if raw := q.Get("since"); raw != "" {
			since, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, errorResponse{Error: "since must be RFC3339"})
				return
			}
			filter.Since = since
		}

		entries, err := s.audit.List(r.Context(), filter)
		if err != nil {
			s.log.Error("audit list failed", map[string]interface{}{
				"request_id": RequestIDFromContext(r.Context()),
			}, err)
			captureError(r, err, "audit list failed")
			writeError(w, http.StatusInternalServerError, errorResponse{Error: "audit query failed"})
			return
		}

		writeJSON(w, http.StatusOK, entries)
	})
}

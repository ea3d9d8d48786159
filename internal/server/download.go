package server

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"filedrop/internal/db"
)

// downloadHandler handles GET /file/download/{filename} and streams the
// stored file as an attachment.
func (s *Server) downloadHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := RequestIDFromContext(r.Context())

		name := chi.URLParam(r, "filename")
		// chi matches on RawPath when set, so encoded separators arrive
		// still escaped.
		if r.URL.RawPath != "" {
			if unescaped, err := url.PathUnescape(name); err == nil {
				name = unescaped
			}
		}

		f, err := s.store.Retrieve(r.Context(), name)
		if err != nil {
			status, message, kind := classify(err)
			s.metrics.RecordDownloadError(kind)
			s.recordAudit(r, db.AuditEntry{
				Action:   db.AuditActionFileDownload,
				Resource: name,
				Success:  false,
				ErrorMsg: err.Error(),
				Details:  map[string]interface{}{"kind": kind},
			})

			fields := map[string]interface{}{"request_id": rid, "name": name, "kind": kind}
			if status >= http.StatusInternalServerError {
				s.log.Error("download failed", fields, err)
				captureError(r, err, "download failed")
			} else {
				s.log.Warn("download rejected", fields, err)
			}

			writeError(w, status, errorResponse{Error: message, Name: name})
			return
		}
		defer func() { _ = f.Body.Close() }()

		h := w.Header()
		h.Set("Content-Type", f.ContentType)
		h.Set("Content-Length", strconv.FormatInt(f.Size, 10))
		h.Set("File-Name", f.Name)
		h.Set("Content-Disposition", attachmentDisposition(f.Name))
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Last-Modified", f.ModTime.UTC().Format(http.TimeFormat))
		w.WriteHeader(http.StatusOK)

		n, err := io.Copy(w, f.Body)
		if err != nil {
			// Headers are gone; all that is left is to record the cut.
			s.metrics.RecordDownloadError(kindIO)
			s.log.Warn("download interrupted", map[string]interface{}{
				"request_id": rid,
				"name":       f.Name,
				"sent":       n,
				"size":       f.Size,
			}, err)
			return
		}

		s.metrics.RecordDownload(n)
		s.recordAudit(r, db.AuditEntry{
			Action:   db.AuditActionFileDownload,
			Resource: f.Name,
			Success:  true,
			Details: map[string]interface{}{
				"size":         n,
				"content_type": f.ContentType,
			},
		})
	})
}

// attachmentDisposition builds a Content-Disposition header value. Names
// outside printable ASCII also get an RFC 5987 filename* parameter.
func attachmentDisposition(name string) string {
	if isPlainASCII(name) {
		return fmt.Sprintf(`attachment; filename="%s"`, name)
	}
	fallback := strings.Map(func(r rune) rune {
		if r < 0x20 || r > 0x7e || r == '"' || r == '\\' {
			return '_'
		}
		return r
	}, name)
	return fmt.Sprintf(`attachment; filename="%s"; filename*=UTF-8''%s`, fallback, strings.ReplaceAll(url.QueryEscape(name), "+", "%20"))
}

func isPlainASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 0x20 || s[i] > 0x7e || s[i] == '"' || s[i] == '\\' {
			return false
		}
	}
	return true
}

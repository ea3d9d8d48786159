package server

import (
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"

	"filedrop/internal/db"
	"filedrop/internal/storage"
)

// uploadFieldNames are the multipart form fields treated as files.
var uploadFieldNames = map[string]bool{"files": true, "file": true}

// uploadErrorResponse always lists what was stored before the failure.
type uploadErrorResponse struct {
	Error  string   `json:"error"`
	Name   string   `json:"name,omitempty"`
	Stored []string `json:"stored"`
}

// multipartSource streams file parts to the storage service one at a
// time. Non-file fields are skipped.
type multipartSource struct {
	reader  *multipart.Reader
	current *multipart.Part
	seen    int
	last    string
}

func (m *multipartSource) Next() (storage.Item, error) {
	m.closeCurrent()
	for {
		part, err := m.reader.NextPart()
		if err != nil {
			return storage.Item{}, err
		}
		if !uploadFieldNames[part.FormName()] {
			_ = part.Close()
			continue
		}

		m.current = part
		m.seen++
		m.last = rawFileName(part)
		return storage.Item{Name: m.last, Body: part}, nil
	}
}

func (m *multipartSource) closeCurrent() {
	if m.current != nil {
		_ = m.current.Close()
		m.current = nil
	}
}

// rawFileName returns the filename parameter exactly as the client sent
// it. Part.FileName applies filepath.Base, which would hide traversal
// attempts from the resolver.
func rawFileName(part *multipart.Part) string {
	_, params, err := mime.ParseMediaType(part.Header.Get("Content-Disposition"))
	if err != nil {
		return part.FileName()
	}
	return params["filename"]
}

// uploadHandler handles POST /file/upload. Every "files" (or "file") part
// is stored under its sanitized name and the names are returned in order.
// A failure stops the batch; parts stored before it stay on disk and are
// listed in the error body.
func (s *Server) uploadHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := RequestIDFromContext(r.Context())

		if s.cfg.MaxUploadBytes > 0 {
			r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
		}

		mr, err := r.MultipartReader()
		if err != nil {
			s.metrics.RecordUploadError(kindBadRequest)
			writeError(w, http.StatusBadRequest, errorResponse{Error: "bad multipart"})
			return
		}

		src := &multipartSource{reader: mr}
		stored, err := s.store.StoreFrom(r.Context(), src)
		src.closeCurrent()

		names := make([]string, 0, len(stored))
		for _, f := range stored {
			names = append(names, f.Name)
			s.metrics.RecordUpload(f.Size)
			s.recordAudit(r, db.AuditEntry{
				Action:   db.AuditActionFileUpload,
				Resource: f.Name,
				Success:  true,
				Details: map[string]interface{}{
					"size":   f.Size,
					"sha256": f.SHA256,
				},
			})
			s.log.Info("file stored", map[string]interface{}{
				"request_id": rid,
				"name":       f.Name,
				"size":       f.Size,
				"sha256":     f.SHA256,
			})
		}

		if err != nil {
			s.uploadFailed(w, r, names, err)
			return
		}

		if src.seen == 0 {
			s.metrics.RecordUploadError(kindBadRequest)
			writeJSON(w, http.StatusBadRequest, uploadErrorResponse{Error: "missing file", Stored: names})
			return
		}

		writeJSON(w, http.StatusOK, names)
	})
}

func (s *Server) uploadFailed(w http.ResponseWriter, r *http.Request, stored []string, err error) {
	status, message, kind := classify(err)
	name := rejectedName(err)

	// Errors from the multipart stream itself are the client's fault unless
	// the size limit tripped.
	var ioErr *storage.IOFailure
	if errors.As(err, &ioErr) && ioErr.Op == "read" && kind == kindIO {
		status, message, kind = http.StatusBadRequest, "bad multipart", kindBadRequest
	}
	if errors.Is(err, io.ErrUnexpectedEOF) && kind == kindIO {
		status, message, kind = http.StatusBadRequest, "truncated upload", kindBadRequest
	}

	s.metrics.RecordUploadError(kind)
	s.recordAudit(r, db.AuditEntry{
		Action:   db.AuditActionFileUpload,
		Resource: name,
		Success:  false,
		ErrorMsg: err.Error(),
		Details:  map[string]interface{}{"kind": kind},
	})

	fields := map[string]interface{}{
		"request_id": RequestIDFromContext(r.Context()),
		"name":       name,
		"stored":     len(stored),
		"kind":       kind,
	}
	if status >= http.StatusInternalServerError {
		s.log.Error("upload failed", fields, err)
		if kind == kindIO {
			captureError(r, err, "upload failed")
		}
	} else {
		s.log.Warn("upload rejected", fields, err)
	}

	writeJSON(w, status, uploadErrorResponse{Error: message, Name: name, Stored: stored})
}

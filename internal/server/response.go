package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"filedrop/internal/storage"
)

// errorResponse is the JSON body of every error reply.
type errorResponse struct {
	Error  string   `json:"error"`
	Name   string   `json:"name,omitempty"`
	Stored []string `json:"stored,omitempty"`
}

// Error kinds used in metric labels and audit details.
const (
	kindInvalidName = "invalid_name"
	kindNotFound    = "not_found"
	kindTooLarge    = "too_large"
	kindCanceled    = "canceled"
	kindIO          = "io"
	kindBadRequest  = "bad_request"
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, body errorResponse) {
	writeJSON(w, status, body)
}

// classify maps a storage or transport error onto an HTTP status, a public
// message and a metric kind.
func classify(err error) (status int, message, kind string) {
	var tooLarge *http.MaxBytesError
	var invalid *storage.InvalidNameError
	var notFound *storage.NotFoundError

	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge, "file too large", kindTooLarge
	case errors.As(err, &invalid):
		return http.StatusBadRequest, invalid.Error(), kindInvalidName
	case errors.As(err, &notFound):
		return http.StatusNotFound, notFound.Error(), kindNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusInternalServerError, "request canceled", kindCanceled
	default:
		return http.StatusInternalServerError, "storage failure", kindIO
	}
}

// rejectedName returns the client-supplied name carried by err, if any.
func rejectedName(err error) string {
	var invalid *storage.InvalidNameError
	if errors.As(err, &invalid) {
		return invalid.Name
	}
	var notFound *storage.NotFoundError
	if errors.As(err, &notFound) {
		return notFound.Name
	}
	var ioErr *storage.IOFailure
	if errors.As(err, &ioErr) {
		return ioErr.Name
	}
	return ""
}

package server

import (
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"
)

var sentryEnabled atomic.Bool

// SentryOptions configures error reporting. An empty DSN disables it.
type SentryOptions struct {
	DSN         string
	Environment string
	Release     string
	ServerName  string
}

// InitSentry initializes the global Sentry client. It reports whether
// reporting is active.
func InitSentry(opts SentryOptions) (bool, error) {
	if opts.DSN == "" {
		return false, nil
	}
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:              opts.DSN,
		Environment:      opts.Environment,
		Release:          opts.Release,
		ServerName:       opts.ServerName,
		AttachStacktrace: true,
	}); err != nil {
		return false, fmt.Errorf("sentry init: %w", err)
	}
	sentryEnabled.Store(true)
	return true, nil
}

// FlushSentry waits up to timeout for buffered events.
func FlushSentry(timeout time.Duration) {
	if !sentryEnabled.Load() {
		return
	}
	sentry.Flush(timeout)
}

// captureError reports err with request context attached.
func captureError(r *http.Request, err error, message string) {
	if !sentryEnabled.Load() || err == nil {
		return
	}

	hub := sentry.CurrentHub().Clone()
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetRequest(r)
		scope.SetTag("request_id", RequestIDFromContext(r.Context()))
		if message != "" {
			scope.SetTag("log_message", message)
		}
		hub.CaptureException(err)
	})
}

// recoverMiddleware turns a handler panic into a 500 and reports it.
func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			// Let net/http abort the connection as it normally would.
			if rec == http.ErrAbortHandler {
				panic(rec)
			}

			s.log.Error("panic recovered", map[string]interface{}{
				"request_id": RequestIDFromContext(r.Context()),
				"method":     r.Method,
				"path":       r.URL.Path,
				"panic":      fmt.Sprint(rec),
			}, nil)

			if sentryEnabled.Load() {
				hub := sentry.CurrentHub().Clone()
				hub.Scope().SetRequest(r)
				hub.Recover(rec)
			}

			writeError(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		}()

		next.ServeHTTP(w, r)
	})
}

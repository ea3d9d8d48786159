// prometheus.go - Prometheus exposition endpoint
package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// metricsHandler serves GET /metrics from the server's own registry.
func (s *Server) metricsHandler() http.Handler {
	return promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{
		ErrorLog:      promErrorLogger{log: s.log},
		ErrorHandling: promhttp.ContinueOnError,
	})
}

// promErrorLogger adapts Logger to promhttp.Logger.
type promErrorLogger struct {
	log *Logger
}

func (p promErrorLogger) Println(v ...interface{}) {
	p.log.Error("metrics exposition failed", map[string]interface{}{"detail": v}, nil)
}

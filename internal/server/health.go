package server

import (
	"context"
	"net/http"
	"os"
	"time"

	"filedrop/internal/db"
)

// HealthStatus represents the overall health of the system
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// ComponentStatus represents the health of an individual component
type ComponentStatus string

const (
	ComponentStatusUp       ComponentStatus = "up"
	ComponentStatusDown     ComponentStatus = "down"
	ComponentStatusDegraded ComponentStatus = "degraded"
)

// Health represents the complete health check response
type Health struct {
	Status     HealthStatus               `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Commit     string                     `json:"commit,omitempty"`
	Components map[string]ComponentHealth `json:"components"`
}

// ComponentHealth represents the health of a single system component
type ComponentHealth struct {
	Status    ComponentStatus `json:"status"`
	Message   string          `json:"message,omitempty"`
	LatencyMs float64         `json:"latency_ms,omitempty"`
	Details   interface{}     `json:"details,omitempty"`
}

// HandleHealth provides a detailed health check endpoint
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	health := s.checkHealth(r.Context())

	// Degraded still returns 200
	statusCode := http.StatusOK
	if health.Status == HealthStatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	writeJSON(w, statusCode, health)
}

// HandleReady provides a simple readiness probe for Kubernetes/load balancers
func (s *Server) HandleReady(w http.ResponseWriter, r *http.Request) {
	if c := s.checkStorageHealth(); c.Status == ComponentStatusDown {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":  "not_ready",
			"message": c.Message,
		})
		return
	}
	if s.db != nil {
		if err := db.Ping(r.Context(), s.db, 2*time.Second); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status":  "not_ready",
				"message": "database unavailable",
			})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

// HandleLive provides a liveness probe (is the process running?)
func (s *Server) HandleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "alive",
	})
}

// checkHealth performs health checks on all components
func (s *Server) checkHealth(ctx context.Context) Health {
	health := Health{
		Timestamp:  time.Now(),
		Version:    s.cfg.Build.Version,
		Commit:     s.cfg.Build.Commit,
		Components: make(map[string]ComponentHealth),
	}

	health.Components["storage"] = s.checkStorageHealth()
	if s.db != nil {
		health.Components["database"] = s.checkDatabaseHealth(ctx)
	}
	if s.breaker != nil {
		health.Components["audit"] = s.checkAuditHealth()
	}

	health.Status = determineOverallHealth(health.Components)

	return health
}

// checkStorageHealth verifies the storage root is a reachable directory.
func (s *Server) checkStorageHealth() ComponentHealth {
	start := time.Now()
	root := s.store.Root()

	info, err := os.Stat(root)
	if err != nil {
		return ComponentHealth{
			Status:  ComponentStatusDown,
			Message: "storage root unavailable: " + err.Error(),
		}
	}
	if !info.IsDir() {
		return ComponentHealth{
			Status:  ComponentStatusDown,
			Message: "storage root is not a directory",
		}
	}

	details := map[string]interface{}{
		"root":          root,
		"atomic_writes": s.cfg.AtomicWrites,
	}
	status := ComponentStatusUp
	message := "storage healthy"
	if info.Mode().Perm()&0o200 == 0 {
		status = ComponentStatusDegraded
		message = "storage root is read-only"
	}

	return ComponentHealth{
		Status:    status,
		Message:   message,
		LatencyMs: float64(time.Since(start).Microseconds()) / 1000,
		Details:   details,
	}
}

// checkDatabaseHealth checks PostgreSQL connectivity and performance
func (s *Server) checkDatabaseHealth(ctx context.Context) ComponentHealth {
	start := time.Now()

	if err := db.Ping(ctx, s.db, 5*time.Second); err != nil {
		return ComponentHealth{
			Status:  ComponentStatusDown,
			Message: "database ping failed: " + err.Error(),
		}
	}

	latency := time.Since(start).Milliseconds()

	// Check connection pool stats
	stats := s.db.Stats()
	details := map[string]interface{}{
		"open_connections": stats.OpenConnections,
		"in_use":           stats.InUse,
		"idle":             stats.Idle,
		"wait_count":       stats.WaitCount,
		"wait_duration_ms": stats.WaitDuration.Milliseconds(),
	}

	status := ComponentStatusUp
	message := "database healthy"

	// Warn if latency is high
	if latency > 1000 {
		status = ComponentStatusDegraded
		message = "database latency high"
	}

	return ComponentHealth{
		Status:    status,
		Message:   message,
		LatencyMs: float64(latency),
		Details:   details,
	}
}

// checkAuditHealth reports the audit breaker. An open breaker only
// degrades: transfers keep working without the trail.
func (s *Server) checkAuditHealth() ComponentHealth {
	state := s.breaker.State()
	c := ComponentHealth{
		Status:  ComponentStatusUp,
		Message: "audit trail recording",
		Details: map[string]interface{}{
			"breaker":  state.String(),
			"rejected": s.breaker.Rejected(),
		},
	}
	if state != StateClosed {
		c.Status = ComponentStatusDegraded
		c.Message = "audit writes suspended"
	}
	return c
}

// determineOverallHealth calculates overall health from component statuses
func determineOverallHealth(components map[string]ComponentHealth) HealthStatus {
	var (
		downCount     int
		degradedCount int
	)

	for _, component := range components {
		switch component.Status {
		case ComponentStatusDown:
			downCount++
		case ComponentStatusDegraded:
			degradedCount++
		}
	}

	// If any critical component is down, system is unhealthy
	if downCount > 0 {
		return HealthStatusUnhealthy
	}

	// If any component is degraded, system is degraded
	if degradedCount > 0 {
		return HealthStatusDegraded
	}

	return HealthStatusHealthy
}

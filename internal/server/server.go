package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"filedrop/internal/db"
	"filedrop/internal/storage"
)

// BuildInfo identifies the running binary.
type BuildInfo struct {
	Version string
	Commit  string
}

type Config struct {
	Addr string // e.g. ":8080"

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration

	// MaxUploadBytes caps a whole upload request body; 0 means no limit.
	MaxUploadBytes int64
	// AtomicWrites is reported by the health check.
	AtomicWrites bool

	// RateLimitRequests per RateLimitWindow per client IP; 0 disables.
	RateLimitRequests int
	RateLimitWindow   time.Duration

	// CORSOrigins enables CORS for the listed origins when non-empty.
	CORSOrigins []string

	// TrustedProxies are IPs or CIDRs allowed to set X-Forwarded-For and
	// X-Real-IP.
	TrustedProxies []string

	Build BuildInfo

	Storage *storage.Service
	DB      *sql.DB       // optional, health reporting only
	Audit   AuditRecorder // optional
	Logger  *Logger       // nil means DefaultLogger

	// AuditAPI exposes GET /api/audit. It lists client IPs and names, so it
	// stays off unless asked for.
	AuditAPI bool
}

type Server struct {
	cfg        Config
	store      *storage.Service
	db         *sql.DB
	audit      AuditRecorder
	breaker    *circuitBreaker
	log        *Logger
	ips        clientIPResolver
	metrics    *Metrics
	limiter    *rateLimiter
	handler    http.Handler
	httpServer *http.Server
}

func New(cfg Config) (*Server, error) {
	if cfg.Storage == nil {
		return nil, errors.New("server: storage service is required")
	}
	ips, err := newClientIPResolver(cfg.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}

	s := &Server{
		cfg:     cfg,
		store:   cfg.Storage,
		db:      cfg.DB,
		audit:   cfg.Audit,
		log:     cfg.Logger,
		ips:     ips,
		metrics: NewMetrics(cfg.Build),
	}
	if s.log == nil {
		s.log = DefaultLogger
	}
	if s.audit != nil {
		s.breaker = newCircuitBreaker(auditMaxFailures, auditCooldown)
		s.breaker.benign = db.IsDataError
	}
	if cfg.RateLimitRequests > 0 && cfg.RateLimitWindow > 0 {
		s.limiter = newRateLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow)
		s.limiter.clientIP = s.clientIP
	}

	s.handler = s.routes()
	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}

	return s, nil
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(securityHeadersMiddleware)
	if len(s.cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: s.cfg.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Content-Type", HeaderRequestID},
			ExposedHeaders: []string{"Content-Disposition", "File-Name", HeaderRequestID},
			MaxAge:         300,
		}))
	}

	// Probes and metrics stay outside the limiter.
	r.Get("/health", s.HandleHealth)
	r.Get("/live", s.HandleLive)
	r.Get("/ready", s.HandleReady)
	r.Method(http.MethodGet, "/metrics", s.metricsHandler())

	r.Group(func(r chi.Router) {
		if s.limiter != nil {
			r.Use(s.limiter.middleware)
		}
		r.Method(http.MethodPost, "/file/upload", s.uploadHandler())
		r.Method(http.MethodGet, "/file/download/{filename}", s.downloadHandler())
		r.Method(http.MethodGet, "/api/audit", s.auditHandler())
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, errorResponse{Error: "not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
	})

	return r
}

func (s *Server) clientIP(r *http.Request) string {
	return s.ips.clientIP(r)
}

// Handler exposes the routed handler, e.g. for httptest.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Metrics exposes the server's collectors.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	err := s.httpServer.Serve(ln)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.limiter != nil {
		s.limiter.Close()
	}
	return s.httpServer.Shutdown(ctx)
}

package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"filedrop/internal/config"
	"filedrop/internal/db"
	"filedrop/internal/server"
	"filedrop/internal/storage"
)

func main() {
	fs := flag.NewFlagSet("filedrop", flag.ExitOnError)
	configFile := fs.String("config", os.Getenv("FILEDROP_CONFIG"), "path to a filedrop.yaml config file")
	_ = fs.Parse(os.Args[1:])

	if err := run(*configFile); err != nil {
		server.Error("fatal", map[string]interface{}{"service": "backend"}, err)
		server.FlushSentry(2 * time.Second)
		os.Exit(1)
	}
}

func run(configFile string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := server.ConfigureLogging(cfg.Log.Format, cfg.Log.Level, cfg.IsProduction()); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}

	host, _ := os.Hostname()
	enabled, err := server.InitSentry(server.SentryOptions{
		DSN:         cfg.Sentry.DSN,
		Environment: sentryEnvironment(cfg),
		Release:     cfg.Build.Version,
		ServerName:  host,
	})
	if err != nil {
		// Error reporting is optional; carry on without it.
		server.Warn("sentry disabled", nil, err)
	} else if enabled {
		server.Info("sentry enabled", map[string]interface{}{"environment": sentryEnvironment(cfg)})
	}
	defer server.FlushSentry(2 * time.Second)

	var (
		dbConn *sql.DB
		audit  server.AuditRecorder
	)
	if cfg.AuditEnabled() {
		dbConn, err = db.Open(cfg.Database.URL)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer func() { _ = dbConn.Close() }()

		server.Info("running migrations", nil)
		if err := db.RunMigrations(context.Background(), dbConn); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		server.Info("migrations complete", nil)
		audit = db.NewAuditStore(dbConn)
	}

	store, err := storage.Open(cfg.Storage.Root, storageOptions(cfg.Storage))
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}

	srv, err := server.New(serverConfig(cfg, store, dbConn, audit))
	if err != nil {
		return err
	}

	// Start the HTTP server in a background goroutine.
	// This allows us to listen for OS signals while the server runs.
	errCh := make(chan error, 1)
	go func() {
		server.Info("starting", map[string]interface{}{
			"addr":          cfg.Server.Addr,
			"root":          store.Root(),
			"atomic_writes": cfg.Storage.AtomicWrites,
			"audit":         audit != nil,
			"version":       cfg.Build.Version,
			"commit":        cfg.Build.Commit,
		})
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	// Block until either a shutdown signal is received or the server encounters an error.
	select {
	case sig := <-sigCh:
		server.Info("shutting down", map[string]interface{}{"signal": sig.String()})
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		server.Info("shutdown complete", nil)
		return nil
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	}
}

// storageOptions maps storage settings onto service options. With sniffing
// off, content types come from the extension alone.
func storageOptions(sc config.StorageConfig) storage.Options {
	opts := storage.Options{AtomicWrites: sc.AtomicWrites}
	if !sc.SniffContent {
		opts.Detector = storage.ExtensionDetector{}
	}
	return opts
}

func serverConfig(cfg *config.Config, store *storage.Service, dbConn *sql.DB, audit server.AuditRecorder) server.Config {
	return server.Config{
		Addr:              cfg.Server.Addr,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		MaxUploadBytes:    cfg.Storage.MaxUploadBytes,
		AtomicWrites:      cfg.Storage.AtomicWrites,
		RateLimitRequests: cfg.RateLimit.Requests,
		RateLimitWindow:   cfg.RateLimit.Window,
		CORSOrigins:       cfg.CORS.AllowedOrigins,
		TrustedProxies:    cfg.Server.TrustedProxies,
		Build: server.BuildInfo{
			Version: cfg.Build.Version,
			Commit:  cfg.Build.Commit,
		},
		Storage: store,
		DB:      dbConn,
		Audit:   audit,

		AuditAPI: cfg.Audit.APIEnabled,
	}
}

func sentryEnvironment(cfg *config.Config) string {
	if cfg.Sentry.Environment != "" {
		return cfg.Sentry.Environment
	}
	return cfg.Env
}

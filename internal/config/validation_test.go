package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	return &Config{
		Env: "development",
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 5 * time.Second,
		},
		Storage:   StorageConfig{Root: "/tmp/uploads"},
		Log:       LogConfig{Format: "text", Level: "info"},
		RateLimit: RateLimitConfig{Requests: 100, Window: time.Minute},
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name        string
		mutate      func(*Config)
		shouldError bool
		field       string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "empty root", mutate: func(c *Config) { c.Storage.Root = " " }, shouldError: true, field: "storage.root"},
		{name: "negative max upload", mutate: func(c *Config) { c.Storage.MaxUploadBytes = -1 }, shouldError: true, field: "storage.max_upload_bytes"},
		{name: "bad port", mutate: func(c *Config) { c.Server.Addr = ":99999" }, shouldError: true, field: "server.addr"},
		{name: "host and port", mutate: func(c *Config) { c.Server.Addr = "localhost:8080" }},
		{name: "zero shutdown timeout", mutate: func(c *Config) { c.Server.ShutdownTimeout = 0 }, shouldError: true, field: "server.shutdown_timeout"},
		{name: "negative idle timeout", mutate: func(c *Config) { c.Server.IdleTimeout = -time.Second }, shouldError: true, field: "server.idle_timeout"},
		{name: "unknown env", mutate: func(c *Config) { c.Env = "qa" }, shouldError: true, field: "env"},
		{name: "unknown level", mutate: func(c *Config) { c.Log.Level = "trace" }, shouldError: true, field: "log.level"},
		{name: "postgres url", mutate: func(c *Config) { c.Database.URL = "postgres://u:p@localhost:5432/db" }},
		{name: "non postgres url", mutate: func(c *Config) { c.Database.URL = "http://localhost" }, shouldError: true, field: "database.url"},
		{name: "limiter disabled ignores window", mutate: func(c *Config) { c.RateLimit = RateLimitConfig{} }},
		{name: "limiter without window", mutate: func(c *Config) { c.RateLimit.Window = 0 }, shouldError: true, field: "ratelimit.window"},
		{name: "wildcard origin", mutate: func(c *Config) { c.CORS.AllowedOrigins = []string{"*"} }},
		{name: "origin with path", mutate: func(c *Config) { c.CORS.AllowedOrigins = []string{"https://a.example/app"} }, shouldError: true, field: "cors.allowed_origins"},
		{name: "trusted proxies", mutate: func(c *Config) { c.Server.TrustedProxies = []string{"10.0.0.0/8", "192.0.2.7", "::1"} }},
		{name: "bad trusted proxy", mutate: func(c *Config) { c.Server.TrustedProxies = []string{"proxy.local"} }, shouldError: true, field: "server.trusted_proxies"},
		{name: "audit api without database", mutate: func(c *Config) { c.Audit.APIEnabled = true }, shouldError: true, field: "audit.api_enabled"},
		{name: "audit api with database", mutate: func(c *Config) {
			c.Database.URL = "postgres://u:p@localhost:5432/db"
			c.Audit.APIEnabled = true
		}},
		{name: "origin without scheme", mutate: func(c *Config) { c.CORS.AllowedOrigins = []string{"a.example"} }, shouldError: true, field: "cors.allowed_origins"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			if tt.shouldError && err == nil {
				t.Fatalf("Expected error for %s, got nil", tt.name)
			}
			if !tt.shouldError && err != nil {
				t.Fatalf("Expected no error for %s, got %v", tt.name, err)
			}
			if tt.shouldError && !strings.Contains(err.Error(), tt.field) {
				t.Errorf("Expected error to mention %s, got %v", tt.field, err)
			}
		})
	}
}

func TestValidator_CollectsAllErrors(t *testing.T) {
	v := NewValidator()
	v.ValidateRequired("a", "")
	v.ValidateEnum("b", "x", []string{"y", "z"})
	v.ValidateNonNegative("c", -5)

	if len(v.Errors()) != 3 {
		t.Fatalf("Expected 3 errors, got %d", len(v.Errors()))
	}
	msg := v.ErrorString()
	if !strings.Contains(msg, "3 error(s)") {
		t.Errorf("Expected count in message, got %q", msg)
	}
	if !strings.Contains(msg, "  3. config validation failed for c") {
		t.Errorf("Expected numbered entries, got %q", msg)
	}
}

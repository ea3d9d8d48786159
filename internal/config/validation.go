// validation.go - startup validation of the loaded configuration.
//
// Every problem is collected before failing so operators see the full list
// in one run instead of fixing settings one at a time.
package config

import (
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// ValidationError represents a single invalid setting.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation failed for %s: %s", e.Field, e.Message)
}

// Validator accumulates validation errors.
type Validator struct {
	errors []ValidationError
}

// NewValidator creates a new configuration validator.
func NewValidator() *Validator {
	return &Validator{
		errors: make([]ValidationError, 0),
	}
}

// AddError adds a validation error.
func (v *Validator) AddError(field, message string) {
	v.errors = append(v.errors, ValidationError{
		Field:   field,
		Message: message,
	})
}

// HasErrors returns true if there are validation errors.
func (v *Validator) HasErrors() bool {
	return len(v.errors) > 0
}

// Errors returns all validation errors.
func (v *Validator) Errors() []ValidationError {
	return v.errors
}

// ErrorString returns a formatted string of all errors.
func (v *Validator) ErrorString() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Configuration validation failed with %d error(s):\n", len(v.errors)))
	for i, err := range v.errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Err returns nil when valid, otherwise an error listing every problem.
func (v *Validator) Err() error {
	if !v.HasErrors() {
		return nil
	}
	return fmt.Errorf("%s", v.ErrorString())
}

// ValidateRequired records an error when value is blank.
func (v *Validator) ValidateRequired(key, value string) {
	if strings.TrimSpace(value) == "" {
		v.AddError(key, "required setting is empty")
	}
}

// ValidateListenAddr accepts "host:port" or ":port".
func (v *Validator) ValidateListenAddr(key, value string) {
	if value == "" {
		v.AddError(key, "listen address is required")
		return
	}

	_, portStr, err := net.SplitHostPort(value)
	if err != nil {
		v.AddError(key, fmt.Sprintf("invalid listen address: %v", err))
		return
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		v.AddError(key, "port must be a number")
		return
	}

	if port < 0 || port > 65535 {
		v.AddError(key, "port must be between 0 and 65535")
	}
}

// ValidateEnum validates that a value is one of allowed options.
func (v *Validator) ValidateEnum(key, value string, allowed []string) {
	if value == "" {
		return
	}

	for _, opt := range allowed {
		if strings.EqualFold(value, opt) {
			return
		}
	}

	v.AddError(key, fmt.Sprintf("must be one of: %s (got: %s)", strings.Join(allowed, ", "), value))
}

// ValidateNonNegative rejects negative counts.
func (v *Validator) ValidateNonNegative(key string, value int64) {
	if value < 0 {
		v.AddError(key, "must not be negative")
	}
}

// ValidateDuration rejects negative durations, and zero when required is set.
func (v *Validator) ValidateDuration(key string, value time.Duration, required bool) {
	switch {
	case value < 0:
		v.AddError(key, "must not be negative")
	case required && value == 0:
		v.AddError(key, "must be greater than zero")
	}
}

// ValidatePostgresURL checks for a postgres:// or postgresql:// URL.
func (v *Validator) ValidatePostgresURL(key, value string) {
	if value == "" {
		return
	}

	parsed, err := url.Parse(value)
	if err != nil {
		v.AddError(key, fmt.Sprintf("invalid URL format: %v", err))
		return
	}

	if parsed.Scheme != "postgres" && parsed.Scheme != "postgresql" {
		v.AddError(key, "must be a valid PostgreSQL connection string")
	}
}

// ValidateOrigin accepts "*" or an http(s) origin without a path.
func (v *Validator) ValidateOrigin(key, value string) {
	if value == "*" {
		return
	}

	parsed, err := url.Parse(value)
	if err != nil {
		v.AddError(key, fmt.Sprintf("invalid origin %q: %v", value, err))
		return
	}

	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		v.AddError(key, fmt.Sprintf("origin %q must use http or https scheme", value))
		return
	}
	if parsed.Host == "" || (parsed.Path != "" && parsed.Path != "/") {
		v.AddError(key, fmt.Sprintf("origin %q must be scheme://host[:port]", value))
	}
}

// ValidateProxy accepts an IP address or a CIDR prefix.
func (v *Validator) ValidateProxy(key, value string) {
	if _, err := netip.ParsePrefix(value); err == nil {
		return
	}
	if _, err := netip.ParseAddr(value); err == nil {
		return
	}
	v.AddError(key, fmt.Sprintf("%q is not an IP address or CIDR", value))
}

// Validate performs comprehensive validation of cfg.
func Validate(cfg *Config) error {
	v := NewValidator()

	v.ValidateEnum("env", cfg.Env, []string{"development", "staging", "production", "test"})

	// Server
	v.ValidateListenAddr("server.addr", cfg.Server.Addr)
	v.ValidateDuration("server.read_header_timeout", cfg.Server.ReadHeaderTimeout, false)
	v.ValidateDuration("server.read_timeout", cfg.Server.ReadTimeout, false)
	v.ValidateDuration("server.write_timeout", cfg.Server.WriteTimeout, false)
	v.ValidateDuration("server.idle_timeout", cfg.Server.IdleTimeout, false)
	v.ValidateDuration("server.shutdown_timeout", cfg.Server.ShutdownTimeout, true)
	for _, proxy := range cfg.Server.TrustedProxies {
		v.ValidateProxy("server.trusted_proxies", proxy)
	}

	// Storage
	v.ValidateRequired("storage.root", cfg.Storage.Root)
	v.ValidateNonNegative("storage.max_upload_bytes", cfg.Storage.MaxUploadBytes)

	// Logging
	v.ValidateEnum("log.format", cfg.Log.Format, []string{"text", "json"})
	v.ValidateEnum("log.level", cfg.Log.Level, []string{"debug", "info", "warn", "warning", "error"})

	v.ValidatePostgresURL("database.url", cfg.Database.URL)
	if cfg.Audit.APIEnabled && cfg.Database.URL == "" {
		v.AddError("audit.api_enabled", "requires database.url")
	}

	// Rate limiting
	v.ValidateNonNegative("ratelimit.requests", int64(cfg.RateLimit.Requests))
	if cfg.RateLimit.Requests > 0 {
		v.ValidateDuration("ratelimit.window", cfg.RateLimit.Window, true)
	}

	for _, origin := range cfg.CORS.AllowedOrigins {
		v.ValidateOrigin("cors.allowed_origins", origin)
	}

	return v.Err()
}

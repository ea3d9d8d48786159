// Package config loads filedrop settings from defaults, an optional YAML
// file, a .env file and FILEDROP_* environment variables, in increasing
// order of precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// FILEDROP_STORAGE_ROOT for storage.root.
const EnvPrefix = "FILEDROP"

type Config struct {
	Env       string          `mapstructure:"env"`
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Log       LogConfig       `mapstructure:"log"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Sentry    SentryConfig    `mapstructure:"sentry"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	CORS      CORSConfig      `mapstructure:"cors"`
	Build     BuildConfig     `mapstructure:"build"`
}

type ServerConfig struct {
	Addr              string        `mapstructure:"addr"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
	ReadTimeout       time.Duration `mapstructure:"read_timeout"`
	WriteTimeout      time.Duration `mapstructure:"write_timeout"`
	IdleTimeout       time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
	// TrustedProxies lists proxy IPs or CIDRs whose forwarding headers are
	// believed. Empty means the socket peer is always the client.
	TrustedProxies []string `mapstructure:"trusted_proxies"`
}

type StorageConfig struct {
	Root           string `mapstructure:"root"`
	AtomicWrites   bool   `mapstructure:"atomic_writes"`
	MaxUploadBytes int64  `mapstructure:"max_upload_bytes"` // 0 means unlimited
	SniffContent   bool   `mapstructure:"sniff_content"`
}

type LogConfig struct {
	Format string `mapstructure:"format"`
	Level  string `mapstructure:"level"`
}

// DatabaseConfig enables the audit trail when URL is set.
type DatabaseConfig struct {
	URL string `mapstructure:"url"`
}

// AuditConfig controls the audit listing endpoint. Recording only needs
// database.url; the listing exposes client details and stays off unless
// enabled.
type AuditConfig struct {
	APIEnabled bool `mapstructure:"api_enabled"`
}

type SentryConfig struct {
	DSN         string `mapstructure:"dsn"`
	Environment string `mapstructure:"environment"`
}

// RateLimitConfig allows Requests per Window for each client IP. Zero
// requests disables limiting.
type RateLimitConfig struct {
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

type CORSConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type BuildConfig struct {
	Version string `mapstructure:"version"`
	Commit  string `mapstructure:"commit"`
}

// IsProduction reports whether env is "production".
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

// AuditEnabled reports whether a database is configured.
func (c *Config) AuditEnabled() bool {
	return c.Database.URL != ""
}

// DefaultStorageRoot is $HOME/Downloads/uploads, or ./uploads when the home
// directory cannot be determined.
func DefaultStorageRoot() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "uploads"
	}
	return filepath.Join(home, "Downloads", "uploads")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", "development")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_header_timeout", 5*time.Second)
	v.SetDefault("server.read_timeout", time.Duration(0))
	v.SetDefault("server.write_timeout", time.Duration(0))
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.shutdown_timeout", 5*time.Second)

	v.SetDefault("storage.root", DefaultStorageRoot())
	v.SetDefault("storage.atomic_writes", true)
	v.SetDefault("storage.max_upload_bytes", int64(0))
	v.SetDefault("storage.sniff_content", true)

	v.SetDefault("log.format", "text")
	v.SetDefault("log.level", "info")

	v.SetDefault("server.trusted_proxies", []string{})

	v.SetDefault("database.url", "")
	v.SetDefault("audit.api_enabled", false)

	v.SetDefault("sentry.dsn", "")
	v.SetDefault("sentry.environment", "")

	v.SetDefault("ratelimit.requests", 100)
	v.SetDefault("ratelimit.window", time.Minute)

	v.SetDefault("cors.allowed_origins", []string{})

	v.SetDefault("build.version", "dev")
	v.SetDefault("build.commit", "unknown")
}

// Load reads configuration. An empty configFile searches for filedrop.yaml
// in the working directory and /etc/filedrop; a missing file is not an
// error in that case. The result is validated before it is returned.
func Load(configFile string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("filedrop")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/filedrop")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configFile != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.CORS.AllowedOrigins = splitList(cfg.CORS.AllowedOrigins)
	cfg.Server.TrustedProxies = splitList(cfg.Server.TrustedProxies)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// splitList flattens comma-separated entries and drops blanks.
func splitList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, entry := range in {
		for _, o := range strings.Split(entry, ",") {
			if o = strings.TrimSpace(o); o != "" {
				out = append(out, o)
			}
		}
	}
	return out
}

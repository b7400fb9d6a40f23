// Package config loads configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all server configuration.
type Config struct {
	// Server
	ListenAddr  string
	MetricsAddr string

	// Logging
	LogLevel  string
	LogFormat string

	// Google Drive access
	GoogleClientID     string
	GoogleClientSecret string
	GoogleAPIKey       string
	OAuthRedirectURL   string
	DriveHost          string

	// Sessions
	SessionSecret string
	SessionTTL    time.Duration
	CookieSecure  bool

	// Database (optional — empty means in-memory session store)
	DatabaseURL string

	// TLS (optional — if both set, server uses HTTPS)
	TLSCertFile string
	TLSKeyFile  string

	// Rate limiting (per session)
	RateLimitPerMin int
	RateLimitBurst  int

	// Downloads
	DownloadTimeout time.Duration
}

// Load reads configuration from environment variables with defaults.
func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:  envOr("LISTEN_ADDR", ":8080"),
		MetricsAddr: envOr("METRICS_ADDR", ":9090"),
		LogLevel:    envOr("LOG_LEVEL", "info"),
		LogFormat:   envOr("LOG_FORMAT", "json"),

		GoogleClientID:     envOr("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: envOr("GOOGLE_CLIENT_SECRET", ""),
		GoogleAPIKey:       envOr("GOOGLE_API_KEY", ""),
		OAuthRedirectURL:   envOr("OAUTH_REDIRECT_URL", "http://localhost:8080/api/v1/auth/provider/callback"),
		DriveHost:          envOr("DRIVE_HOST", "drive.google.com"),

		SessionSecret: envOr("SESSION_SECRET", ""),
		SessionTTL:    envDuration("SESSION_TTL", 24*time.Hour),
		CookieSecure:  envBool("COOKIE_SECURE", true),

		DatabaseURL: envOr("DATABASE_URL", ""),

		TLSCertFile: envOr("TLS_CERT_FILE", ""),
		TLSKeyFile:  envOr("TLS_KEY_FILE", ""),

		RateLimitPerMin: envInt("RATE_LIMIT_PER_MINUTE", 60),
		RateLimitBurst:  envInt("RATE_LIMIT_BURST", 10),

		DownloadTimeout: envDuration("DOWNLOAD_TIMEOUT", 30*time.Minute),
	}

	if cfg.GoogleClientID == "" {
		return nil, fmt.Errorf("GOOGLE_CLIENT_ID is required")
	}
	if cfg.GoogleClientSecret == "" {
		return nil, fmt.Errorf("GOOGLE_CLIENT_SECRET is required")
	}
	if cfg.GoogleAPIKey == "" {
		return nil, fmt.Errorf("GOOGLE_API_KEY is required")
	}
	if cfg.SessionSecret == "" {
		return nil, fmt.Errorf("SESSION_SECRET is required")
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}

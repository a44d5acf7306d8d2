// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port      string
	Env       string // "development", "staging", "production"
	LogLevel  string
	LogFormat string // "text" or "json"

	// Storage
	DatabaseURL string // PostgreSQL users table (optional, uses in-memory if not set)
	RedisURL    string // Session token store (optional, uses in-memory if not set)

	// Analysis service
	AnalysisURL     string
	AnalysisTimeout time.Duration

	// Sessions and views
	SessionTTL      time.Duration
	ViewIdleTimeout time.Duration
	ResolveTimeout  time.Duration
	SessionRecheck  time.Duration

	// Security
	SignInRatePerMinute int
	RateLimitRPM        int
	CORSOrigins         []string

	// Tracing
	OTLPEndpoint string
}

const (
	DefaultPort                = "8080"
	DefaultEnv                 = "development"
	DefaultLogLevel            = "info"
	DefaultLogFormat           = "text"
	DefaultAnalysisTimeout     = 60 * time.Second
	DefaultSessionTTL          = 168 * time.Hour
	DefaultViewIdleTimeout     = 30 * time.Minute
	DefaultResolveTimeout      = 5 * time.Second
	DefaultSessionRecheck      = 5 * time.Second
	DefaultSignInRatePerMinute = 10
	DefaultRateLimitRPM        = 120
)

// LoadDotEnv loads a .env file from the working directory if present.
// Variables already set in the environment win.
func LoadDotEnv() error {
	return godotenv.Load()
}

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	_ = LoadDotEnv()

	cfg := &Config{
		Port:                getEnv("PORT", DefaultPort),
		Env:                 getEnv("ENV", DefaultEnv),
		LogLevel:            getEnv("LOG_LEVEL", DefaultLogLevel),
		LogFormat:           getEnv("LOG_FORMAT", DefaultLogFormat),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		RedisURL:            os.Getenv("REDIS_URL"),
		AnalysisURL:         strings.TrimRight(os.Getenv("ANALYSIS_URL"), "/"),
		AnalysisTimeout:     getEnvDuration("ANALYSIS_TIMEOUT", DefaultAnalysisTimeout),
		SessionTTL:          getEnvDuration("SESSION_TTL", DefaultSessionTTL),
		ViewIdleTimeout:     getEnvDuration("VIEW_IDLE_TIMEOUT", DefaultViewIdleTimeout),
		ResolveTimeout:      getEnvDuration("RESOLVE_TIMEOUT", DefaultResolveTimeout),
		SessionRecheck:      getEnvDuration("SESSION_RECHECK_INTERVAL", DefaultSessionRecheck),
		SignInRatePerMinute: int(getEnvInt64("SIGNIN_RATE_PER_MINUTE", DefaultSignInRatePerMinute)),
		RateLimitRPM:        int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimitRPM)),
		CORSOrigins:         getEnvList("CORS_ORIGINS"),
		OTLPEndpoint:        os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	if c.AnalysisURL == "" {
		return fmt.Errorf("ANALYSIS_URL is required")
	}
	u, err := url.Parse(c.AnalysisURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("ANALYSIS_URL must be an absolute http(s) URL")
	}
	if c.AnalysisTimeout <= 0 {
		return fmt.Errorf("ANALYSIS_TIMEOUT must be positive")
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive")
	}
	if c.ResolveTimeout <= 0 {
		return fmt.Errorf("RESOLVE_TIMEOUT must be positive")
	}
	if c.SessionRecheck < 0 {
		return fmt.Errorf("SESSION_RECHECK_INTERVAL must not be negative")
	}
	if c.SignInRatePerMinute <= 0 {
		return fmt.Errorf("SIGNIN_RATE_PER_MINUTE must be positive")
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("LOG_FORMAT must be text or json")
	}
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.ParseInt(value, 10, 64); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// DisputeResolvePolicy controls what happens to the held funds when an open
// dispute is resolved in the client's favour.
type DisputeResolvePolicy string

const (
	// PolicyManual clears the release block and leaves the payout decision
	// to an operator (release or refund, case by case).
	PolicyManual DisputeResolvePolicy = "manual"
	// PolicyAutoRefund refunds the client automatically on a resolved dispute.
	PolicyAutoRefund DisputeResolvePolicy = "auto_refund"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Payment processor
	StripeSecretKey     string
	StripeWebhookSecret string
	Currency            string // ISO currency code for transfers, e.g. "usd"

	// Gateway call behaviour
	GatewayTimeout     time.Duration
	GatewayMaxAttempts int

	// Booking lifecycle
	AutoReleaseWindow    time.Duration // completed -> released delay
	DefaultRevisions     int           // revisions granted per booking
	DisputeResolvePolicy DisputeResolvePolicy

	// Security
	AdminSecret   string // X-Admin-Secret header for operator endpoints
	NotifySecret  string // HMAC secret for signing outbound notifications
	RateLimitRPM  int
	OTLPEndpoint  string
	AllowedOrigin string
}

const (
	DefaultPort              = "8080"
	DefaultEnv               = "development"
	DefaultLogLevel          = "info"
	DefaultCurrency          = "usd"
	DefaultGatewayTimeout    = 15 * time.Second
	DefaultGatewayAttempts   = 3
	DefaultAutoReleaseWindow = 72 * time.Hour
	DefaultRevisions         = 2
	DefaultRateLimit         = 120
)

// Load reads configuration from environment variables
// It loads .env file if present (for local development)
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:                 getEnv("PORT", DefaultPort),
		Env:                  getEnv("ENV", DefaultEnv),
		LogLevel:             getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:          os.Getenv("DATABASE_URL"), // Optional, uses in-memory if not set
		StripeSecretKey:      os.Getenv("STRIPE_SECRET_KEY"),
		StripeWebhookSecret:  os.Getenv("STRIPE_WEBHOOK_SECRET"),
		Currency:             getEnv("CURRENCY", DefaultCurrency),
		GatewayTimeout:       getEnvDuration("GATEWAY_TIMEOUT", DefaultGatewayTimeout),
		GatewayMaxAttempts:   int(getEnvInt64("GATEWAY_MAX_ATTEMPTS", DefaultGatewayAttempts)),
		AutoReleaseWindow:    getEnvDuration("AUTO_RELEASE_WINDOW", DefaultAutoReleaseWindow),
		DefaultRevisions:     int(getEnvInt64("DEFAULT_REVISIONS", DefaultRevisions)),
		DisputeResolvePolicy: DisputeResolvePolicy(getEnv("DISPUTE_RESOLVE_POLICY", string(PolicyManual))),
		AdminSecret:          os.Getenv("ADMIN_SECRET"),
		NotifySecret:         os.Getenv("NOTIFY_SECRET"),
		RateLimitRPM:         int(getEnvInt64("RATE_LIMIT_RPM", DefaultRateLimit)),
		OTLPEndpoint:         os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		AllowedOrigin:        getEnv("ALLOWED_ORIGIN", "*"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that all required configuration is present
func (c *Config) Validate() error {
	switch c.DisputeResolvePolicy {
	case PolicyManual, PolicyAutoRefund:
	default:
		return fmt.Errorf("DISPUTE_RESOLVE_POLICY must be %q or %q", PolicyManual, PolicyAutoRefund)
	}

	if c.DefaultRevisions < 0 {
		return fmt.Errorf("DEFAULT_REVISIONS must be non-negative")
	}

	if c.GatewayMaxAttempts < 1 {
		return fmt.Errorf("GATEWAY_MAX_ATTEMPTS must be at least 1")
	}

	// Stripe keys are required outside development; in development the
	// server falls back to a fake in-process gateway.
	if c.IsProduction() {
		if c.StripeSecretKey == "" {
			return fmt.Errorf("STRIPE_SECRET_KEY is required in production")
		}
		if c.StripeWebhookSecret == "" {
			return fmt.Errorf("STRIPE_WEBHOOK_SECRET is required in production")
		}
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
		if d, err := time.ParseDuration(value); err == nil && d > 0 {
			return d
		}
	}
	return defaultValue
}

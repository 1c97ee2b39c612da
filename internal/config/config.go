// Package config handles application configuration from environment variables
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Server settings
	Port     string
	Env      string // "development", "staging", "production"
	LogLevel string

	// Database
	DatabaseURL string // PostgreSQL connection string (optional, uses in-memory if not set)

	// Ephemeral state store
	RedisURL string // Redis connection URL (optional, uses in-memory if not set)

	// Routing provider (OSRM-compatible)
	OSRMBaseURL    string
	RouteTimeout   time.Duration
	SearchRadiusM  float64 // candidates beyond this many meters are excluded
	ArrivalRadiusM float64 // computed distance at or below this counts as arrived

	// Bank transfer provider
	BankBaseURL     string
	BankBearerToken string
	BankSecretKey   string

	// Platform escrow account funds are held in between hold and release
	EscrowAccountNo string
	EscrowBankCode  string

	// Card payment provider
	CardBaseURL     string
	CardAPIKey      string
	CardSecretKey   string
	CardEncryptURL  string

	// Push notifications
	PushEndpoint string
	PushSecret   string

	// Observability
	SentryDSN    string
	OTLPEndpoint string
}

// Defaults
const (
	DefaultPort          = "8080"
	DefaultEnv           = "development"
	DefaultLogLevel      = "info"
	DefaultOSRMBaseURL   = "https://router.project-osrm.org"
	DefaultRouteTimeout  = 2 * time.Second
	DefaultSearchRadius  = 100_000 // 100 km in meters
	DefaultArrivalRadius = 5       // meters
)

// Load reads configuration from environment variables.
// It loads .env file if present (for local development).
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not present)
	_ = godotenv.Load()

	cfg := &Config{
		Port:            getEnv("PORT", DefaultPort),
		Env:             getEnv("ENV", DefaultEnv),
		LogLevel:        getEnv("LOG_LEVEL", DefaultLogLevel),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		RedisURL:        os.Getenv("REDIS_URL"),
		OSRMBaseURL:     getEnv("OSRM_BASE_URL", DefaultOSRMBaseURL),
		RouteTimeout:    getEnvDuration("ROUTE_TIMEOUT", DefaultRouteTimeout),
		SearchRadiusM:   getEnvFloat("SEARCH_RADIUS_METERS", DefaultSearchRadius),
		ArrivalRadiusM:  getEnvFloat("ARRIVAL_RADIUS_METERS", DefaultArrivalRadius),
		BankBaseURL:     os.Getenv("BANK_BASE_URL"),
		BankBearerToken: os.Getenv("BANK_BEARER_TOKEN"),
		BankSecretKey:   os.Getenv("BANK_SECRET_KEY"),
		EscrowAccountNo: os.Getenv("ESCROW_ACCOUNT_NUMBER"),
		EscrowBankCode:  os.Getenv("ESCROW_BANK_CODE"),
		CardBaseURL:     os.Getenv("CARD_BASE_URL"),
		CardAPIKey:      os.Getenv("CARD_API_KEY"),
		CardSecretKey:   os.Getenv("CARD_SECRET_KEY"),
		CardEncryptURL:  os.Getenv("CARD_ENCRYPT_URL"),
		PushEndpoint:    os.Getenv("PUSH_ENDPOINT"),
		PushSecret:      os.Getenv("PUSH_SECRET"),
		SentryDSN:       os.Getenv("SENTRY_DSN"),
		OTLPEndpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks that required configuration is present and sane.
func (c *Config) Validate() error {
	if c.OSRMBaseURL == "" {
		return fmt.Errorf("OSRM_BASE_URL is required")
	}
	if c.SearchRadiusM <= 0 {
		return fmt.Errorf("SEARCH_RADIUS_METERS must be positive")
	}
	if c.ArrivalRadiusM <= 0 {
		return fmt.Errorf("ARRIVAL_RADIUS_METERS must be positive")
	}
	if c.IsProduction() {
		if c.BankBaseURL == "" || c.BankBearerToken == "" || c.BankSecretKey == "" {
			return fmt.Errorf("BANK_BASE_URL, BANK_BEARER_TOKEN and BANK_SECRET_KEY are required in production")
		}
		if c.EscrowAccountNo == "" || c.EscrowBankCode == "" {
			return fmt.Errorf("ESCROW_ACCOUNT_NUMBER and ESCROW_BANK_CODE are required in production")
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

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
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

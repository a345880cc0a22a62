// Package config contains configuration parsing for the VetSphere backend.
package config

import (
	"flag"
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Environment selects how security-relevant fallbacks behave. In production
// the webhook receiver refuses to start without a signing secret; in
// development unsigned webhook bodies are accepted.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvProduction  Environment = "production"
)

// Config contains runtime parameters of the VetSphere backend.
type Config struct {
	RunAddress  string `env:"RUN_ADDRESS"`
	DatabaseURI string `env:"DATABASE_URI"`
	Environment string `env:"ENVIRONMENT"`

	StripeSecretKey     string `env:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string `env:"STRIPE_WEBHOOK_SECRET"`

	AirwallexClientID string `env:"AIRWALLEX_CLIENT_ID"`
	AirwallexAPIKey   string `env:"AIRWALLEX_API_KEY"`

	LLMAPIKey  string `env:"LLM_API_KEY"`
	LLMBaseURL string `env:"LLM_BASE_URL"`
	LLMModel   string `env:"LLM_MODEL"`

	AdminToken string `env:"ADMIN_TOKEN"`
	AuthSecret string `env:"AUTH_SECRET"`
}

// Parse reads configuration from an optional .env file, command-line flags
// and environment variables. Environment variables take precedence.
func Parse() (*Config, error) {
	// Missing .env is fine, variables may come from the real environment.
	_ = godotenv.Load()

	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envEnvironment := cfg.Environment

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.Environment, "e", string(EnvDevelopment), "environment: development or production")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envEnvironment != "" {
		cfg.Environment = envEnvironment
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	switch Environment(cfg.Environment) {
	case EnvDevelopment, EnvProduction:
	default:
		return nil, fmt.Errorf("unknown environment %q", cfg.Environment)
	}

	if cfg.Env() == EnvProduction && !IsConfigured(cfg.StripeWebhookSecret) {
		return nil, fmt.Errorf("production requires a configured webhook signing secret")
	}

	return cfg, nil
}

// Env returns the parsed environment mode.
func (c *Config) Env() Environment {
	return Environment(c.Environment)
}

// StripeConfigured reports whether real Stripe credentials are present.
func (c *Config) StripeConfigured() bool {
	return IsConfigured(c.StripeSecretKey)
}

// AirwallexConfigured reports whether real Airwallex credentials are present.
func (c *Config) AirwallexConfigured() bool {
	return IsConfigured(c.AirwallexClientID) && IsConfigured(c.AirwallexAPIKey)
}

// LLMConfigured reports whether a real LLM API key is present.
func (c *Config) LLMConfigured() bool {
	return IsConfigured(c.LLMAPIKey)
}

// IsConfigured reports whether a credential holds a real value rather than an
// empty string or a template placeholder left in a .env file.
func IsConfigured(value string) bool {
	v := strings.TrimSpace(value)
	if v == "" {
		return false
	}

	lower := strings.ToLower(v)
	placeholders := []string{"your-", "your_", "changeme", "placeholder", "xxx"}
	for _, p := range placeholders {
		if strings.Contains(lower, p) {
			return false
		}
	}

	return true
}

// Package config loads gateway configuration from environment
// variables, replacing the teacher's YAML-plus-${VAR}-expansion loader
// with a struct-tag-driven one; this service has no multi-provider
// route table to express in a file, so the whole surface fits env vars.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Enforcement modes for the budget enforcer stage.
const (
	EnforcementSoft = "soft"
	EnforcementHard = "hard"
	EnforcementNone = "none"
)

// Auth modes for the authentication stage.
const (
	AuthModeMock  = "mock"
	AuthModeToken = "token"
)

// Config is the gateway's complete runtime configuration.
type Config struct {
	NodeEnv string `env:"NODE_ENV" envDefault:"development"`
	Port    int    `env:"PORT" envDefault:"8080"`

	UpstreamAPIKey       string `env:"UPSTREAM_API_KEY,required"`
	UpstreamDefaultModel string `env:"UPSTREAM_DEFAULT_MODEL" envDefault:"claude-sonnet-4-20250514"`
	UpstreamMaxTokens    int    `env:"UPSTREAM_MAX_TOKENS" envDefault:"4096"`

	CORSOrigin string `env:"CORS_ORIGIN" envDefault:"*"`
	LogLevel   string `env:"LOG_LEVEL" envDefault:"info"`

	// DatabaseURL is optional. Its absence disables every persistence
	// path (api keys, budgets, audit log, profiles) gracefully rather
	// than failing startup.
	DatabaseURL string `env:"DATABASE_URL"`

	TokenBudgetEnforcement string `env:"TOKEN_BUDGET_ENFORCEMENT" envDefault:"soft"`

	// AlertTopicARN is optional. Its absence degrades the alert
	// publisher to a structured log line.
	AlertTopicARN string `env:"ALERT_TOPIC_ARN"`

	AuthMode  string `env:"AUTH_MODE" envDefault:"mock"`
	JWTSecret string `env:"JWT_SECRET"`

	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"30s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"120s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`

	// OTLPEndpoint is optional. Its absence disables tracing entirely
	// rather than failing startup.
	OTLPEndpoint      string  `env:"OTLP_ENDPOINT"`
	TracingSampleRate float64 `env:"TRACING_SAMPLE_RATE" envDefault:"0.1"`

	// MetricsEnabled toggles the /metrics endpoint and all Prometheus
	// collectors.
	MetricsEnabled bool `env:"METRICS_ENABLED" envDefault:"true"`
}

// Load reads and validates configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.TokenBudgetEnforcement {
	case EnforcementSoft, EnforcementHard, EnforcementNone:
	default:
		return fmt.Errorf("config: invalid TOKEN_BUDGET_ENFORCEMENT %q", c.TokenBudgetEnforcement)
	}
	switch c.AuthMode {
	case AuthModeMock, AuthModeToken:
	default:
		return fmt.Errorf("config: invalid AUTH_MODE %q", c.AuthMode)
	}
	if c.AuthMode == AuthModeToken && c.JWTSecret == "" {
		return fmt.Errorf("config: JWT_SECRET is required when AUTH_MODE=token")
	}
	return nil
}

// Addr returns the address the HTTP server should listen on.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// PersistenceEnabled reports whether a database is configured.
func (c *Config) PersistenceEnabled() bool {
	return c.DatabaseURL != ""
}

// AlertingEnabled reports whether an external alert topic is configured.
func (c *Config) AlertingEnabled() bool {
	return c.AlertTopicARN != ""
}

// TracingEnabled reports whether an OTLP collector endpoint is configured.
func (c *Config) TracingEnabled() bool {
	return c.OTLPEndpoint != ""
}

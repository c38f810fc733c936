// Package config loads service configuration from the environment.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config is the full service configuration.
type Config struct {
	// Addr is the HTTP listen address.
	Addr string `env:"TALEFOLD_ADDR" envDefault:":8080"`

	// DBPath is the SQLite database file.
	DBPath string `env:"TALEFOLD_DB" envDefault:"data/talefold.db"`

	// APIKey is the bearer token required on every request. Empty disables
	// the API entirely rather than running open.
	APIKey string `env:"TALEFOLD_API_KEY"`

	// OwnerID is the identity all requests act as. Single-user deployment;
	// a fronting auth layer would resolve this per request instead.
	OwnerID string `env:"TALEFOLD_OWNER" envDefault:"owner"`

	// ProviderURL overrides the AI provider endpoint (tests, proxies).
	ProviderURL string `env:"TALEFOLD_PROVIDER_URL"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `env:"TALEFOLD_LOG_LEVEL" envDefault:"info"`
}

// Load parses configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

// Package config provides service configuration for configd.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/agathahq/configd/pkg/models"
)

const (
	// DefaultAdminPort is the default HTTP port for the operator service.
	DefaultAdminPort = 37780

	// DefaultEnvironment is the environment configd serves when none is
	// configured.
	DefaultEnvironment = "production"

	// DefaultNamespace is the prefix for configuration-override
	// environment variables (NAMESPACE__SECTION__KEY=value).
	DefaultNamespace = "AGATHA"

	// DefaultRollbackRecencyWindow guards rollback against dropping
	// tables that received rows recently. Resolvable per feature through
	// the coordinator's parameter chain; this is the built-in fallback.
	DefaultRollbackRecencyWindow = 24 * time.Hour
)

// Config holds the service configuration.
type Config struct {
	// DatabaseDSN is the PostgreSQL DSN of the shared store.
	DatabaseDSN string

	// Environment scopes every config/flag lookup.
	Environment string

	// Namespace is the env-var override prefix.
	Namespace string

	// DefaultsDir holds YAML fallback configuration documents, one file
	// per config key. Optional.
	DefaultsDir string

	// DependencyPolicy controls unsatisfied feature dependencies.
	DependencyPolicy models.DependencyPolicy

	// AdminPort is the operator HTTP port.
	AdminPort int

	// MaxConns bounds the store's connection pool.
	MaxConns int

	// LogLevel is the zerolog level name (debug, info, warn, error).
	LogLevel string
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Environment:      DefaultEnvironment,
		Namespace:        DefaultNamespace,
		DependencyPolicy: models.DependencyAdvisory,
		AdminPort:        DefaultAdminPort,
		MaxConns:         10,
		LogLevel:         "info",
	}
}

// Load builds the configuration from AGATHA_* environment variables,
// falling back to defaults for anything unset.
func Load() *Config {
	cfg := Default()

	if v := os.Getenv("AGATHA_DATABASE_DSN"); v != "" {
		cfg.DatabaseDSN = v
	}
	if v := os.Getenv("AGATHA_ENVIRONMENT"); v != "" {
		cfg.Environment = v
	}
	if v := os.Getenv("AGATHA_NAMESPACE"); v != "" {
		cfg.Namespace = v
	}
	if v := os.Getenv("AGATHA_DEFAULTS_DIR"); v != "" {
		cfg.DefaultsDir = v
	}
	if v := os.Getenv("AGATHA_DEPENDENCY_POLICY"); v != "" {
		if p := models.DependencyPolicy(v); p.Valid() {
			cfg.DependencyPolicy = p
		}
	}
	if v := os.Getenv("AGATHA_ADMIN_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			cfg.AdminPort = p
		}
	}
	if v := os.Getenv("AGATHA_MAX_CONNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.MaxConns = n
		}
	}
	if v := os.Getenv("AGATHA_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}

	return cfg
}

// Package db defines database interfaces for the configd stores.
package db

import (
	"context"
	"time"

	"github.com/agathahq/configd/pkg/models"
)

// ConfigVersionReader defines read operations for config versions.
type ConfigVersionReader interface {
	// GetActive returns the active version for (key, environment), or
	// (nil, nil) when no active version exists. Absence is not an error.
	GetActive(ctx context.Context, key, environment string) (*models.ConfigVersion, error)
	ListVersions(ctx context.Context, key, environment string) ([]*models.ConfigVersion, error)
}

// ConfigVersionWriter defines write operations for config versions.
type ConfigVersionWriter interface {
	CreateVersion(ctx context.Context, v *models.ConfigVersion) error
	// Activate deactivates the current active version and activates the
	// named one in a single transaction. Concurrent activations race but
	// always leave exactly one active row.
	Activate(ctx context.Context, key, version, environment string) error
}

// ConfigVersionStore combines read and write operations for config versions.
type ConfigVersionStore interface {
	ConfigVersionReader
	ConfigVersionWriter
}

// OverrideStore defines operations for per-user config overrides.
type OverrideStore interface {
	// Upsert creates or replaces the override for (user, key).
	Upsert(ctx context.Context, o *models.UserOverride) error
	// GetEffective returns the non-expired override with the lowest
	// priority value for (user, key), ties broken by most recent update.
	// Returns (nil, nil) when none applies.
	GetEffective(ctx context.Context, userID, key string) (*models.UserOverride, error)
	ListGroups(ctx context.Context) ([]models.OverrideGroup, error)
	// SweepExpired deletes overrides whose expiry is before now and
	// returns the number of rows removed.
	SweepExpired(ctx context.Context, now time.Time) (int64, error)
}

// FlagReader defines read operations for feature flags.
type FlagReader interface {
	// Get returns the flag for (feature, environment), or (nil, nil) when
	// no row exists.
	Get(ctx context.Context, feature, environment string) (*models.FeatureFlag, error)
	List(ctx context.Context, environment string) ([]*models.FeatureFlag, error)
}

// FlagWriter defines write operations for feature flags.
type FlagWriter interface {
	Upsert(ctx context.Context, flag *models.FeatureFlag) error
	SetEnabled(ctx context.Context, feature, environment string, enabled bool) error
	// PatchSettings merges the given keys into the flag's settings
	// document (shallow, top-level replacement).
	PatchSettings(ctx context.Context, feature, environment string, patch models.Document) error
}

// FlagStore combines read and write operations for feature flags.
type FlagStore interface {
	FlagReader
	FlagWriter
}

// AuditStore is the append-only migration/config-change log.
type AuditStore interface {
	Append(ctx context.Context, rec *models.MigrationRecord) error
	ListRecent(ctx context.Context, name, environment string, limit int) ([]*models.MigrationRecord, error)
}

// Package gorm provides GORM-based database operations for configd.
package gorm

import (
	"fmt"

	"github.com/go-gormigrate/gormigrate/v2"
	"gorm.io/gorm"
)

// runMigrations runs the bootstrap migrations using gormigrate. Only the
// four core tables live here; capability-specific objects (vector tables,
// ANN indexes, search routines) are provisioned by the migration
// coordinator under its advisory lock.
func runMigrations(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		// Migration 001: Core tables
		{
			ID: "001_core_tables",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&ConfigVersion{}); err != nil {
					return err
				}
				if err := tx.AutoMigrate(&FeatureFlag{}); err != nil {
					return err
				}
				if err := tx.AutoMigrate(&UserConfigOverride{}); err != nil {
					return err
				}
				return tx.AutoMigrate(&MigrationRecord{})
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(
					"config_versions", "feature_flags",
					"user_config_overrides", "migration_records",
				)
			},
		},

		// Migration 002: One-active-version invariant
		// A partial unique index makes "at most one active row per
		// (config_key, environment)" hold even when two activation
		// transactions race.
		{
			ID: "002_single_active_version",
			Migrate: func(tx *gorm.DB) error {
				return tx.Exec(
					`CREATE UNIQUE INDEX IF NOT EXISTS idx_config_versions_single_active
					 ON config_versions (config_key, environment)
					 WHERE active`,
				).Error
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Exec("DROP INDEX IF EXISTS idx_config_versions_single_active").Error
			},
		},

		// Migration 003: Override resolution index
		// Covers the effective-override lookup: WHERE user_id = ? AND
		// config_key = ? AND (expires_at IS NULL OR expires_at > now())
		// ORDER BY priority ASC, updated_at DESC.
		{
			ID: "003_override_resolution_index",
			Migrate: func(tx *gorm.DB) error {
				return tx.Exec(
					`CREATE INDEX IF NOT EXISTS idx_user_overrides_resolution
					 ON user_config_overrides (user_id, config_key, priority, updated_at DESC)`,
				).Error
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Exec("DROP INDEX IF EXISTS idx_user_overrides_resolution").Error
			},
		},
	})

	if err := m.Migrate(); err != nil {
		return fmt.Errorf("run gormigrate migrations: %w", err)
	}

	return nil
}

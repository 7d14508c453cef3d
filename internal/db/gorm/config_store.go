// Package gorm provides GORM-based database operations for configd.
package gorm

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/agathahq/configd/internal/db"
	"github.com/agathahq/configd/pkg/models"
)

// ConfigStore implements db.ConfigVersionStore on PostgreSQL.
type ConfigStore struct {
	store *Store
}

// NewConfigStore creates a new config version store.
func NewConfigStore(store *Store) *ConfigStore {
	return &ConfigStore{store: store}
}

// CreateVersion appends a new immutable version. Versions are created
// inactive; use Activate to flip them in.
func (s *ConfigStore) CreateVersion(ctx context.Context, v *models.ConfigVersion) error {
	row := ConfigVersion{
		ConfigKey:   v.ConfigKey,
		Version:     v.Version,
		Environment: v.Environment,
		Payload:     v.Payload,
		CreatedBy:   v.CreatedBy,
		Active:      false,
	}
	if v.Description != "" {
		row.Description = sql.NullString{String: v.Description, Valid: true}
	}
	if row.Payload == nil {
		row.Payload = models.Document{}
	}

	ctx, cancel := s.store.WithTimeout(ctx, DefaultQueryTimeout, "create_config_version")
	defer cancel()

	err := s.store.DB.WithContext(ctx).Create(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fmt.Errorf("%w: %s/%s (%s)", db.ErrVersionExists, v.ConfigKey, v.Version, v.Environment)
		}
		return fmt.Errorf("create config version: %w", err)
	}

	v.ID = row.ID
	v.CreatedAt = row.CreatedAt
	return nil
}

// GetActive returns the active version for (key, environment), or (nil, nil)
// when no active version exists.
func (s *ConfigStore) GetActive(ctx context.Context, key, environment string) (*models.ConfigVersion, error) {
	ctx, cancel := s.store.WithTimeout(ctx, DefaultQueryTimeout, "get_active_config_version")
	defer cancel()

	var row ConfigVersion
	err := s.store.DB.WithContext(ctx).
		Where("config_key = ? AND environment = ? AND active", key, environment).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get active config version: %w", err)
	}
	return row.toModel(), nil
}

// ListVersions returns all versions for (key, environment), newest first.
func (s *ConfigStore) ListVersions(ctx context.Context, key, environment string) ([]*models.ConfigVersion, error) {
	ctx, cancel := s.store.WithTimeout(ctx, DefaultQueryTimeout, "list_config_versions")
	defer cancel()

	var rows []ConfigVersion
	err := s.store.DB.WithContext(ctx).
		Where("config_key = ? AND environment = ?", key, environment).
		Order("created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list config versions: %w", err)
	}

	out := make([]*models.ConfigVersion, len(rows))
	for i := range rows {
		out[i] = rows[i].toModel()
	}
	return out, nil
}

// Activate deactivates the currently active version and activates the named
// one in a single transaction. The partial unique index from migration 002
// guarantees at most one active row survives even when two activations race.
func (s *ConfigStore) Activate(ctx context.Context, key, version, environment string) error {
	ctx, cancel := s.store.WithTimeout(ctx, DefaultQueryTimeout, "activate_config_version")
	defer cancel()

	return s.store.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var target ConfigVersion
		err := tx.
			Where("config_key = ? AND version = ? AND environment = ?", key, version, environment).
			First(&target).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %s/%s (%s)", db.ErrVersionNotFound, key, version, environment)
			}
			return fmt.Errorf("find target version: %w", err)
		}
		if target.Active {
			// Already in effect; nothing to flip.
			return nil
		}

		err = tx.Model(&ConfigVersion{}).
			Where("config_key = ? AND environment = ? AND active", key, environment).
			Update("active", false).Error
		if err != nil {
			return fmt.Errorf("deactivate current version: %w", err)
		}

		res := tx.Model(&ConfigVersion{}).
			Where("id = ?", target.ID).
			Update("active", true)
		if res.Error != nil {
			return fmt.Errorf("activate version: %w", res.Error)
		}
		if res.RowsAffected != 1 {
			return fmt.Errorf("%w: %s/%s (%s)", db.ErrVersionNotFound, key, version, environment)
		}
		return nil
	})
}

// Compile-time check: ConfigStore must satisfy db.ConfigVersionStore.
var _ db.ConfigVersionStore = (*ConfigStore)(nil)

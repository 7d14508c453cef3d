// Package gorm provides GORM-based database operations for configd.
package gorm

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/agathahq/configd/internal/db"
	"github.com/agathahq/configd/pkg/models"
)

// FlagStore implements db.FlagStore on PostgreSQL.
type FlagStore struct {
	store *Store
}

// NewFlagStore creates a new feature flag store.
func NewFlagStore(store *Store) *FlagStore {
	return &FlagStore{store: store}
}

// Get returns the flag for (feature, environment), or (nil, nil) when no
// row exists.
func (s *FlagStore) Get(ctx context.Context, feature, environment string) (*models.FeatureFlag, error) {
	ctx, cancel := s.store.WithTimeout(ctx, DefaultQueryTimeout, "get_feature_flag")
	defer cancel()

	var row FeatureFlag
	err := s.store.DB.WithContext(ctx).
		Where("feature_name = ? AND environment = ?", feature, environment).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get feature flag: %w", err)
	}
	return row.toModel(), nil
}

// List returns all flags for an environment.
func (s *FlagStore) List(ctx context.Context, environment string) ([]*models.FeatureFlag, error) {
	ctx, cancel := s.store.WithTimeout(ctx, DefaultQueryTimeout, "list_feature_flags")
	defer cancel()

	var rows []FeatureFlag
	err := s.store.DB.WithContext(ctx).
		Where("environment = ?", environment).
		Order("feature_name").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list feature flags: %w", err)
	}

	out := make([]*models.FeatureFlag, len(rows))
	for i := range rows {
		out[i] = rows[i].toModel()
	}
	return out, nil
}

// Upsert creates or replaces the flag for (feature, environment).
func (s *FlagStore) Upsert(ctx context.Context, flag *models.FeatureFlag) error {
	row := FeatureFlag{
		FeatureName:  flag.FeatureName,
		Environment:  flag.Environment,
		Enabled:      flag.Enabled,
		Dependencies: flag.Dependencies,
		Settings:     flag.Settings,
	}
	if row.Settings == nil {
		row.Settings = models.Document{}
	}

	ctx, cancel := s.store.WithTimeout(ctx, DefaultQueryTimeout, "upsert_feature_flag")
	defer cancel()

	err := s.store.DB.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "feature_name"}, {Name: "environment"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"enabled", "dependencies", "settings", "updated_at",
			}),
		}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("upsert feature flag: %w", err)
	}

	flag.ID = row.ID
	return nil
}

// SetEnabled mutates the enabled state; the change is immediately visible
// to readers, there is no caching layer in front of this table.
func (s *FlagStore) SetEnabled(ctx context.Context, feature, environment string, enabled bool) error {
	ctx, cancel := s.store.WithTimeout(ctx, DefaultQueryTimeout, "set_flag_enabled")
	defer cancel()

	res := s.store.DB.WithContext(ctx).
		Model(&FeatureFlag{}).
		Where("feature_name = ? AND environment = ?", feature, environment).
		Update("enabled", enabled)
	if res.Error != nil {
		return fmt.Errorf("set flag enabled: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: %s (%s)", db.ErrFlagNotFound, feature, environment)
	}
	return nil
}

// PatchSettings merges the given keys into the flag's settings document.
// Top-level keys replace wholesale, matching resolver merge semantics.
func (s *FlagStore) PatchSettings(ctx context.Context, feature, environment string, patch models.Document) error {
	if len(patch) == 0 {
		return nil
	}

	ctx, cancel := s.store.WithTimeout(ctx, DefaultQueryTimeout, "patch_flag_settings")
	defer cancel()

	return s.store.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row FeatureFlag
		err := tx.
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("feature_name = ? AND environment = ?", feature, environment).
			First(&row).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: %s (%s)", db.ErrFlagNotFound, feature, environment)
			}
			return fmt.Errorf("load flag for patch: %w", err)
		}

		merged := row.Settings.Merge(patch)
		return tx.Model(&FeatureFlag{}).
			Where("id = ?", row.ID).
			Update("settings", merged).Error
	})
}

// Compile-time check: FlagStore must satisfy db.FlagStore.
var _ db.FlagStore = (*FlagStore)(nil)

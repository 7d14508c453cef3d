// Package gorm provides GORM-based database operations for configd.
package gorm

import (
	"database/sql"
	"time"

	"gorm.io/gorm"

	"github.com/agathahq/configd/pkg/models"
)

// GORM Models

// Note: JSON column types (Document, StringList, StepList) are imported from
// pkg/models and already implement sql.Scanner and driver.Valuer.

// ConfigVersion is one immutable version of a configuration document.
// The at-most-one-active-per-(key, environment) invariant is enforced by a
// partial unique index created in migration 002.
type ConfigVersion struct {
	ConfigKey   string          `gorm:"type:text;not null;uniqueIndex:idx_config_versions_unique,priority:1;index:idx_config_versions_key_env,priority:1"`
	Version     string          `gorm:"type:text;not null;uniqueIndex:idx_config_versions_unique,priority:2"`
	Environment string          `gorm:"type:text;not null;uniqueIndex:idx_config_versions_unique,priority:3;index:idx_config_versions_key_env,priority:2"`
	Payload     models.Document `gorm:"type:jsonb;not null"`
	CreatedBy   string          `gorm:"type:text;not null;default:''"`
	Description sql.NullString  `gorm:"type:text"`
	CreatedAt   time.Time       `gorm:"autoCreateTime"`
	ID          int64           `gorm:"primaryKey;autoIncrement"`
	Active      bool            `gorm:"not null;default:false"`
}

func (ConfigVersion) TableName() string { return "config_versions" }

// FeatureFlag is a per-environment capability toggle.
type FeatureFlag struct {
	FeatureName  string            `gorm:"type:text;not null;uniqueIndex:idx_feature_flags_unique,priority:1"`
	Environment  string            `gorm:"type:text;not null;uniqueIndex:idx_feature_flags_unique,priority:2"`
	Dependencies models.StringList `gorm:"type:jsonb"`
	Settings     models.Document   `gorm:"type:jsonb;not null"`
	UpdatedAt    time.Time         `gorm:"autoUpdateTime"`
	ID           int64             `gorm:"primaryKey;autoIncrement"`
	Enabled      bool              `gorm:"not null;default:false"`
}

func (FeatureFlag) TableName() string { return "feature_flags" }

// UserConfigOverride is a per-user override, optionally tagged with an A/B
// test name and bounded by an expiry.
type UserConfigOverride struct {
	UserID    string          `gorm:"type:varchar(255);not null;uniqueIndex:idx_user_overrides_unique,priority:1"`
	ConfigKey string          `gorm:"type:text;not null;uniqueIndex:idx_user_overrides_unique,priority:2"`
	Value     models.Document `gorm:"type:jsonb;not null"`
	TestName  sql.NullString  `gorm:"type:text;index:idx_user_overrides_test"`
	ExpiresAt sql.NullTime    `gorm:"index:idx_user_overrides_expires"`
	UpdatedAt time.Time       `gorm:"autoUpdateTime"`
	ID        int64           `gorm:"primaryKey;autoIncrement"`
	Priority  int             `gorm:"not null;default:100"`
}

func (UserConfigOverride) TableName() string { return "user_config_overrides" }

// BeforeCreate hook to ensure the default priority is set.
func (o *UserConfigOverride) BeforeCreate(tx *gorm.DB) error {
	if o.Priority == 0 {
		o.Priority = models.PriorityDefault
	}
	return nil
}

// MigrationRecord is an append-only audit row. Rows are immutable once
// written; there are no update paths in this package.
type MigrationRecord struct {
	RecordID       string          `gorm:"type:uuid;not null;uniqueIndex"`
	Kind           string          `gorm:"type:text;not null;check:kind IN ('migration', 'config_change')"`
	MigrationName  string          `gorm:"type:text;not null;index:idx_migration_records_name,priority:1"`
	Environment    string          `gorm:"type:text;not null;index:idx_migration_records_name,priority:2"`
	Status         string          `gorm:"type:text;not null"`
	Reason         sql.NullString  `gorm:"type:text"`
	Steps          models.StepList `gorm:"type:jsonb"`
	ResolvedConfig models.Document `gorm:"type:jsonb"`
	StartedAt      time.Time       `gorm:"not null;index:idx_migration_records_started,sort:desc"`
	CompletedAt    sql.NullTime
	ID             int64 `gorm:"primaryKey;autoIncrement"`
}

func (MigrationRecord) TableName() string { return "migration_records" }

// Conversion helpers between GORM rows and domain models.

func (v *ConfigVersion) toModel() *models.ConfigVersion {
	return &models.ConfigVersion{
		ID:          v.ID,
		ConfigKey:   v.ConfigKey,
		Version:     v.Version,
		Environment: v.Environment,
		Payload:     v.Payload,
		Active:      v.Active,
		CreatedAt:   v.CreatedAt,
		CreatedBy:   v.CreatedBy,
		Description: v.Description.String,
	}
}

func (f *FeatureFlag) toModel() *models.FeatureFlag {
	return &models.FeatureFlag{
		ID:           f.ID,
		FeatureName:  f.FeatureName,
		Environment:  f.Environment,
		Enabled:      f.Enabled,
		Dependencies: f.Dependencies,
		Settings:     f.Settings,
		UpdatedAt:    f.UpdatedAt,
	}
}

func (o *UserConfigOverride) toModel() *models.UserOverride {
	m := &models.UserOverride{
		ID:        o.ID,
		UserID:    o.UserID,
		ConfigKey: o.ConfigKey,
		Value:     o.Value,
		TestName:  o.TestName.String,
		Priority:  o.Priority,
		UpdatedAt: o.UpdatedAt,
	}
	if o.ExpiresAt.Valid {
		t := o.ExpiresAt.Time
		m.ExpiresAt = &t
	}
	return m
}

func (r *MigrationRecord) toModel() *models.MigrationRecord {
	m := &models.MigrationRecord{
		ID:             r.ID,
		RecordID:       r.RecordID,
		Kind:           models.RecordKind(r.Kind),
		MigrationName:  r.MigrationName,
		Environment:    r.Environment,
		Status:         models.RunStatus(r.Status),
		Reason:         r.Reason.String,
		Steps:          r.Steps,
		ResolvedConfig: r.ResolvedConfig,
		StartedAt:      r.StartedAt,
	}
	if r.CompletedAt.Valid {
		t := r.CompletedAt.Time
		m.CompletedAt = &t
	}
	return m
}

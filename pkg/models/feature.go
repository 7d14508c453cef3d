// Package models contains domain models for configd.
package models

import "time"

// DependencyPolicy controls how unsatisfied feature dependencies are treated.
type DependencyPolicy string

const (
	// DependencyAdvisory logs unsatisfied dependencies but never blocks
	// availability or migrations.
	DependencyAdvisory DependencyPolicy = "advisory"
	// DependencyBlocking makes a feature unavailable while any declared
	// dependency is disabled or missing.
	DependencyBlocking DependencyPolicy = "blocking"
)

// Valid reports whether p is a known policy.
func (p DependencyPolicy) Valid() bool {
	return p == DependencyAdvisory || p == DependencyBlocking
}

// Well-known keys inside FeatureFlag.Settings maintained by the migration
// coordinator.
const (
	SettingStatus         = "status"
	SettingLastError      = "last_error"
	SettingLastRunAt      = "last_run_at"
	SettingResolvedParams = "resolved_params"
	SettingShapeMismatch  = "shape_mismatch"
)

// Flag lifecycle statuses written into Settings[SettingStatus].
const (
	FlagStatusInstalled       = "installed"
	FlagStatusDryRunCompleted = "dry_run_completed"
	FlagStatusFailed          = "failed"
	FlagStatusRolledBack      = "rolled_back"
)

// FeatureFlag is a per-environment capability toggle. Settings is free-form;
// the coordinator additionally maintains the well-known keys above.
type FeatureFlag struct {
	FeatureName  string     `db:"feature_name" json:"feature_name"`
	Environment  string     `db:"environment" json:"environment"`
	Enabled      bool       `db:"enabled" json:"enabled"`
	Dependencies StringList `db:"dependencies" json:"dependencies,omitempty"`
	Settings     Document   `db:"settings" json:"settings"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
	ID           int64      `db:"id" json:"id"`
}

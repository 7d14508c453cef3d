// Package models contains domain models for configd.
package models

import "time"

// ConfigVersion is one immutable version of a configuration document.
// Exactly one version per (config_key, environment) is active at a time;
// versions are never content-mutated after creation, only flipped
// active/inactive.
type ConfigVersion struct {
	ConfigKey   string    `db:"config_key" json:"config_key"`
	Version     string    `db:"version" json:"version"`
	Environment string    `db:"environment" json:"environment"`
	Payload     Document  `db:"payload" json:"payload"`
	Active      bool      `db:"active" json:"active"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	CreatedBy   string    `db:"created_by" json:"created_by"`
	Description string    `db:"description" json:"description,omitempty"`
	ID          int64     `db:"id" json:"id"`
}

// Override priorities. Lower value wins. A/B test assignments sit above
// ordinary admin overrides so running experiments take precedence.
const (
	PriorityABTest  = 10
	PriorityDefault = 100
)

// UserOverride is a per-user configuration override. Expired overrides are
// never merged into resolved output, though they persist until swept.
type UserOverride struct {
	UserID    string     `db:"user_id" json:"user_id"`
	ConfigKey string     `db:"config_key" json:"config_key"`
	Value     Document   `db:"value" json:"value"`
	TestName  string     `db:"test_name" json:"test_name,omitempty"`
	Priority  int        `db:"priority" json:"priority"`
	ExpiresAt *time.Time `db:"expires_at" json:"expires_at,omitempty"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
	ID        int64      `db:"id" json:"id"`
}

// Expired reports whether the override has passed its expiry.
func (o *UserOverride) Expired(now time.Time) bool {
	return o.ExpiresAt != nil && o.ExpiresAt.Before(now)
}

// OverrideGroup aggregates the overrides sharing a test name.
type OverrideGroup struct {
	TestName  string     `json:"test_name"`
	ConfigKey string     `json:"config_key"`
	Size      int        `json:"size"`
	StartedAt time.Time  `json:"started_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Active    bool       `json:"active"`
}

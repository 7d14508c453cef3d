// Package models contains domain models for configd.
package models

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// RecordKind distinguishes audit entries in the migration log.
type RecordKind string

const (
	// KindMigration is a coordinator run (install, dry-run or rollback).
	KindMigration RecordKind = "migration"
	// KindConfigChange is a config version activation event.
	KindConfigChange RecordKind = "config_change"
)

// RunStatus is the overall outcome of a coordinator run.
type RunStatus string

const (
	StatusInstalled       RunStatus = "installed"
	StatusDryRunCompleted RunStatus = "dry_run_completed"
	StatusFailed          RunStatus = "failed"
	StatusRolledBack      RunStatus = "rolled_back"
	StatusSkipped         RunStatus = "skipped"
	StatusAborted         RunStatus = "aborted"
	StatusConfigChange    RunStatus = "config_change"
)

// Skip/abort reasons attached to a RunStatus.
const (
	ReasonLockContention        = "lock_contention"
	ReasonFlagMissing           = "flag_missing"
	ReasonFeatureDisabled       = "feature_disabled"
	ReasonDependencyUnsatisfied = "dependency_unsatisfied"
	ReasonHasRecentData         = "has_recent_data"
	ReasonUnknownFeature        = "unknown_feature"
)

// StepOutcome is the explicit result of one migration step. Every mutating
// step reports an outcome instead of raising; failures are aggregated into
// the record.
type StepOutcome string

const (
	OutcomeChecked          StepOutcome = "checked"
	OutcomeCreated          StepOutcome = "created"
	OutcomeAlreadySatisfied StepOutcome = "already_satisfied"
	OutcomeWouldCreate      StepOutcome = "would_create"
	OutcomeShapeMismatch    StepOutcome = "shape_mismatch"
	OutcomeDropped          StepOutcome = "dropped"
	OutcomeWouldDrop        StepOutcome = "would_drop"
	OutcomeFailed           StepOutcome = "failed"
)

// Step is one ordered event within a migration run.
type Step struct {
	Name    string      `json:"name"`
	Target  string      `json:"target,omitempty"`
	Outcome StepOutcome `json:"outcome"`
	Detail  string      `json:"detail,omitempty"`
	At      time.Time   `json:"at"`
}

// MigrationRecord is the append-only audit entry for a coordinator run or a
// config change. Records are immutable once written.
type MigrationRecord struct {
	RecordID       string     `db:"record_id" json:"record_id"`
	Kind           RecordKind `db:"kind" json:"kind"`
	MigrationName  string     `db:"migration_name" json:"migration_name"`
	Environment    string     `db:"environment" json:"environment"`
	Status         RunStatus  `db:"status" json:"status"`
	Reason         string     `db:"reason" json:"reason,omitempty"`
	Steps          StepList   `db:"steps" json:"steps"`
	ResolvedConfig Document   `db:"resolved_config" json:"resolved_config,omitempty"`
	StartedAt      time.Time  `db:"started_at" json:"started_at"`
	CompletedAt    *time.Time `db:"completed_at" json:"completed_at,omitempty"`
	ID             int64      `db:"id" json:"id"`
}

// NewMigrationRecord starts a migration audit record for the given feature
// and environment.
func NewMigrationRecord(feature, environment string) *MigrationRecord {
	return &MigrationRecord{
		RecordID:      uuid.NewString(),
		Kind:          KindMigration,
		MigrationName: feature,
		Environment:   environment,
		StartedAt:     time.Now().UTC(),
	}
}

// AddStep appends an ordered step event.
func (r *MigrationRecord) AddStep(name, target string, outcome StepOutcome, detail string) {
	r.Steps = append(r.Steps, Step{
		Name:    name,
		Target:  target,
		Outcome: outcome,
		Detail:  detail,
		At:      time.Now().UTC(),
	})
}

// Finish sets the final status (with optional reason) and completion time.
func (r *MigrationRecord) Finish(status RunStatus, reason string) *MigrationRecord {
	now := time.Now().UTC()
	r.Status = status
	r.Reason = reason
	r.CompletedAt = &now
	return r
}

// StatusString renders the status in "status/reason" form, e.g.
// "skipped/lock_contention".
func (r *MigrationRecord) StatusString() string {
	if r.Reason == "" {
		return string(r.Status)
	}
	return string(r.Status) + "/" + r.Reason
}

// StepList is the ordered list of step events stored as a jsonb column.
type StepList []Step

// Value implements driver.Valuer.
func (l StepList) Value() (driver.Value, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l)
}

// Scan implements sql.Scanner.
func (l *StepList) Scan(value any) error {
	if value == nil {
		*l = nil
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("scan StepList: unsupported type %T", value)
	}
	if len(data) == 0 {
		*l = nil
		return nil
	}
	return json.Unmarshal(data, l)
}

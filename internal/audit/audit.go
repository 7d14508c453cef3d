// Package audit is the append-only sink for migration and config-change
// records, with outcome counters exported through OpenTelemetry.
package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/agathahq/configd/internal/db"
	"github.com/agathahq/configd/pkg/models"
)

// Service records coordinator runs and config-change events. Records are
// immutable once appended; the service exposes no update or delete.
type Service struct {
	store db.AuditStore

	migrationRuns metric.Int64Counter
	configChanges metric.Int64Counter
}

// NewService creates the audit service. Counters register against the
// global meter provider; without a configured exporter they are no-ops.
func NewService(store db.AuditStore) *Service {
	meter := otel.Meter("configd/audit")

	migrationRuns, err := meter.Int64Counter("configd.migration.runs",
		metric.WithDescription("Coordinator runs by outcome status"))
	if err != nil {
		log.Error().Err(err).Msg("Failed to create migration runs counter")
	}
	configChanges, err := meter.Int64Counter("configd.config.changes",
		metric.WithDescription("Config version activation events"))
	if err != nil {
		log.Error().Err(err).Msg("Failed to create config changes counter")
	}

	return &Service{
		store:         store,
		migrationRuns: migrationRuns,
		configChanges: configChanges,
	}
}

// Append writes a migration record and counts its outcome.
func (s *Service) Append(ctx context.Context, rec *models.MigrationRecord) error {
	if err := s.store.Append(ctx, rec); err != nil {
		return fmt.Errorf("append audit record: %w", err)
	}
	if s.migrationRuns != nil && rec.Kind == models.KindMigration {
		s.migrationRuns.Add(ctx, 1, metric.WithAttributes(
			attribute.String("feature", rec.MigrationName),
			attribute.String("environment", rec.Environment),
			attribute.String("status", string(rec.Status)),
		))
	}
	return nil
}

// RecordConfigChange appends a config_change record for a version
// activation.
func (s *Service) RecordConfigChange(ctx context.Context, key, version, environment, changedBy string) error {
	now := time.Now().UTC()
	rec := &models.MigrationRecord{
		RecordID:      uuid.NewString(),
		Kind:          models.KindConfigChange,
		MigrationName: key,
		Environment:   environment,
		Status:        models.StatusConfigChange,
		StartedAt:     now,
		CompletedAt:   &now,
		ResolvedConfig: models.Document{
			"version":    version,
			"changed_by": changedBy,
		},
	}
	if err := s.store.Append(ctx, rec); err != nil {
		return fmt.Errorf("record config change: %w", err)
	}
	if s.configChanges != nil {
		s.configChanges.Add(ctx, 1, metric.WithAttributes(
			attribute.String("config_key", key),
			attribute.String("environment", environment),
		))
	}
	log.Info().
		Str("config_key", key).
		Str("version", version).
		Str("environment", environment).
		Str("changed_by", changedBy).
		Msg("Config version activated")
	return nil
}

// ListRecent returns the newest records for a name, or across all names
// when name is empty.
func (s *Service) ListRecent(ctx context.Context, name, environment string, limit int) ([]*models.MigrationRecord, error) {
	return s.store.ListRecent(ctx, name, environment, limit)
}

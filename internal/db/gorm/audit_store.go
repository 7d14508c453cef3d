// Package gorm provides GORM-based database operations for configd.
package gorm

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/agathahq/configd/internal/db"
	"github.com/agathahq/configd/pkg/models"
)

// AuditStore implements db.AuditStore on PostgreSQL. Rows are append-only;
// this type deliberately exposes no update or delete operations.
type AuditStore struct {
	store *Store
}

// NewAuditStore creates a new audit log store.
func NewAuditStore(store *Store) *AuditStore {
	return &AuditStore{store: store}
}

// Append writes one audit record.
func (s *AuditStore) Append(ctx context.Context, rec *models.MigrationRecord) error {
	row := MigrationRecord{
		RecordID:       rec.RecordID,
		Kind:           string(rec.Kind),
		MigrationName:  rec.MigrationName,
		Environment:    rec.Environment,
		Status:         string(rec.Status),
		Steps:          rec.Steps,
		ResolvedConfig: rec.ResolvedConfig,
		StartedAt:      rec.StartedAt,
	}
	if rec.Reason != "" {
		row.Reason = sql.NullString{String: rec.Reason, Valid: true}
	}
	if rec.CompletedAt != nil {
		row.CompletedAt = sql.NullTime{Time: *rec.CompletedAt, Valid: true}
	}

	ctx, cancel := s.store.WithTimeout(ctx, DefaultQueryTimeout, "append_audit_record")
	defer cancel()

	if err := s.store.DB.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("append audit record: %w", err)
	}

	rec.ID = row.ID
	return nil
}

// ListRecent returns the most recent records for (name, environment),
// newest first. An empty name returns records across all names.
func (s *AuditStore) ListRecent(ctx context.Context, name, environment string, limit int) ([]*models.MigrationRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	ctx, cancel := s.store.WithTimeout(ctx, DefaultQueryTimeout, "list_audit_records")
	defer cancel()

	q := s.store.DB.WithContext(ctx).
		Model(&MigrationRecord{}).
		Where("environment = ?", environment)
	if name != "" {
		q = q.Where("migration_name = ?", name)
	}

	var rows []MigrationRecord
	err := q.Order("started_at DESC").Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list audit records: %w", err)
	}

	out := make([]*models.MigrationRecord, len(rows))
	for i := range rows {
		out[i] = rows[i].toModel()
	}
	return out, nil
}

// Compile-time check: AuditStore must satisfy db.AuditStore.
var _ db.AuditStore = (*AuditStore)(nil)

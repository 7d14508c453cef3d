// Package gorm provides GORM-based database operations for configd.
package gorm

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/agathahq/configd/internal/db"
	"github.com/agathahq/configd/pkg/models"
)

// OverrideStore implements db.OverrideStore on PostgreSQL.
type OverrideStore struct {
	store *Store
}

// NewOverrideStore creates a new user override store.
func NewOverrideStore(store *Store) *OverrideStore {
	return &OverrideStore{store: store}
}

// Upsert creates or replaces the override for (user, key).
func (s *OverrideStore) Upsert(ctx context.Context, o *models.UserOverride) error {
	row := UserConfigOverride{
		UserID:    o.UserID,
		ConfigKey: o.ConfigKey,
		Value:     o.Value,
		Priority:  o.Priority,
	}
	if row.Value == nil {
		row.Value = models.Document{}
	}
	if o.TestName != "" {
		row.TestName = sql.NullString{String: o.TestName, Valid: true}
	}
	if o.ExpiresAt != nil {
		row.ExpiresAt = sql.NullTime{Time: *o.ExpiresAt, Valid: true}
	}

	ctx, cancel := s.store.WithTimeout(ctx, DefaultQueryTimeout, "upsert_user_override")
	defer cancel()

	err := s.store.DB.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}, {Name: "config_key"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"value", "test_name", "priority", "expires_at", "updated_at",
			}),
		}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("upsert user override: %w", err)
	}

	o.ID = row.ID
	return nil
}

// GetEffective returns the non-expired override with the lowest priority
// value for (user, key); ties break on most recent update. Expired rows are
// filtered here, never merged, even though they persist until swept.
func (s *OverrideStore) GetEffective(ctx context.Context, userID, key string) (*models.UserOverride, error) {
	ctx, cancel := s.store.WithTimeout(ctx, DefaultQueryTimeout, "get_effective_override")
	defer cancel()

	var row UserConfigOverride
	err := s.store.DB.WithContext(ctx).
		Where("user_id = ? AND config_key = ?", userID, key).
		Where("expires_at IS NULL OR expires_at > ?", time.Now()).
		Order("priority ASC, updated_at DESC").
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("get effective override: %w", err)
	}
	return row.toModel(), nil
}

// ListGroups aggregates tagged overrides by test name.
func (s *OverrideStore) ListGroups(ctx context.Context) ([]models.OverrideGroup, error) {
	type groupRow struct {
		TestName  string
		ConfigKey string
		Size      int
		StartedAt time.Time
		ExpiresAt sql.NullTime
	}

	ctx, cancel := s.store.WithTimeout(ctx, SlowQueryTimeout, "list_override_groups")
	defer cancel()

	var rows []groupRow
	err := s.store.DB.WithContext(ctx).
		Model(&UserConfigOverride{}).
		Select(`test_name,
			MIN(config_key)  AS config_key,
			COUNT(*)         AS size,
			MIN(updated_at)  AS started_at,
			MAX(expires_at)  AS expires_at`).
		Where("test_name IS NOT NULL").
		Group("test_name").
		Order("test_name").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list override groups: %w", err)
	}

	now := time.Now()
	out := make([]models.OverrideGroup, len(rows))
	for i, r := range rows {
		g := models.OverrideGroup{
			TestName:  r.TestName,
			ConfigKey: r.ConfigKey,
			Size:      r.Size,
			StartedAt: r.StartedAt,
			Active:    true,
		}
		if r.ExpiresAt.Valid {
			t := r.ExpiresAt.Time
			g.ExpiresAt = &t
			g.Active = t.After(now)
		}
		out[i] = g
	}
	return out, nil
}

// SweepExpired deletes overrides whose expiry is before now and returns the
// number of rows removed. Resolution never triggers this; it is an explicit
// maintenance operation.
func (s *OverrideStore) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	ctx, cancel := s.store.WithTimeout(ctx, SlowQueryTimeout, "sweep_expired_overrides")
	defer cancel()

	res := s.store.DB.WithContext(ctx).
		Where("expires_at IS NOT NULL AND expires_at < ?", now).
		Delete(&UserConfigOverride{})
	if res.Error != nil {
		return 0, fmt.Errorf("sweep expired overrides: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// Compile-time check: OverrideStore must satisfy db.OverrideStore.
var _ db.OverrideStore = (*OverrideStore)(nil)

// Package abtest manages tagged, time-bounded user override groups.
package abtest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/agathahq/configd/internal/db"
	"github.com/agathahq/configd/pkg/models"
)

// ErrInvalidGroup marks a group request rejected by validation, as opposed
// to a store fault.
var ErrInvalidGroup = errors.New("invalid override group")

// Manager creates and sweeps A/B test override groups. Assignments are
// ordinary user overrides tagged with a test name; resolution treats them
// like any other override, just at a higher precedence.
type Manager struct {
	overrides db.OverrideStore
}

// NewManager creates a manager over the override store.
func NewManager(overrides db.OverrideStore) *Manager {
	return &Manager{overrides: overrides}
}

// CreateOverrideGroup upserts one tagged override per user, expiring after
// durationDays. Group assignments carry A/B test priority so they shadow
// ordinary admin overrides during the test window.
func (m *Manager) CreateOverrideGroup(ctx context.Context, configKey, testName string, userIDs []string, overrides models.Document, durationDays int) error {
	if testName == "" {
		return fmt.Errorf("%w: test name is required", ErrInvalidGroup)
	}
	if len(userIDs) == 0 {
		return fmt.Errorf("%w: at least one user is required", ErrInvalidGroup)
	}
	if durationDays < 1 {
		return fmt.Errorf("%w: duration must be at least one day", ErrInvalidGroup)
	}

	expires := time.Now().UTC().AddDate(0, 0, durationDays)
	for _, userID := range userIDs {
		o := &models.UserOverride{
			UserID:    userID,
			ConfigKey: configKey,
			Value:     overrides.Clone(),
			TestName:  testName,
			Priority:  models.PriorityABTest,
			ExpiresAt: &expires,
		}
		if err := m.overrides.Upsert(ctx, o); err != nil {
			return fmt.Errorf("assign %s to test %q: %w", userID, testName, err)
		}
	}

	log.Info().
		Str("test_name", testName).
		Str("config_key", configKey).
		Int("users", len(userIDs)).
		Time("expires_at", expires).
		Msg("Created override group")
	return nil
}

// ListActiveGroups aggregates override groups by test name.
func (m *Manager) ListActiveGroups(ctx context.Context) ([]models.OverrideGroup, error) {
	return m.overrides.ListGroups(ctx)
}

// SweepExpired deletes expired overrides and returns the count. Resolution
// already ignores expired rows; the sweep only reclaims storage.
func (m *Manager) SweepExpired(ctx context.Context) (int64, error) {
	n, err := m.overrides.SweepExpired(ctx, time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("sweep expired overrides: %w", err)
	}
	if n > 0 {
		log.Info().Int64("removed", n).Msg("Swept expired overrides")
	}
	return n, nil
}

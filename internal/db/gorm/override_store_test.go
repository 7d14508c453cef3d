// Package gorm provides GORM-based database operations for configd.
package gorm

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agathahq/configd/pkg/models"
)

func TestOverrideStore_UpsertReplacesExisting(t *testing.T) {
	store := newTestStore(t)
	os := NewOverrideStore(store)
	ctx := context.Background()

	o := &models.UserOverride{
		UserID:    "u1",
		ConfigKey: "search_weights",
		Value:     models.Document{"semantic": 0.6},
		Priority:  models.PriorityDefault,
	}
	require.NoError(t, os.Upsert(ctx, o))

	o.Value = models.Document{"semantic": 0.9}
	require.NoError(t, os.Upsert(ctx, o))

	got, err := os.GetEffective(ctx, "u1", "search_weights")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 0.9, got.Value.Float("semantic", 0))

	var count int64
	store.DB.Model(&UserConfigOverride{}).Where("user_id = ?", "u1").Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestOverrideStore_ExpiredNeverReturned(t *testing.T) {
	store := newTestStore(t)
	os := NewOverrideStore(store)
	ctx := context.Background()

	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Upsert(ctx, &models.UserOverride{
		UserID:    "u2",
		ConfigKey: "search_weights",
		Value:     models.Document{"semantic": 1.0},
		Priority:  models.PriorityABTest, // highest precedence, still must not apply
		ExpiresAt: &past,
	}))

	got, err := os.GetEffective(ctx, "u2", "search_weights")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestOverrideStore_SweepExpired(t *testing.T) {
	store := newTestStore(t)
	os := NewOverrideStore(store)
	ctx := context.Background()

	past := time.Now().Add(-time.Hour)
	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Upsert(ctx, &models.UserOverride{
		UserID: "u3", ConfigKey: "k", Value: models.Document{}, ExpiresAt: &past,
	}))
	require.NoError(t, os.Upsert(ctx, &models.UserOverride{
		UserID: "u4", ConfigKey: "k", Value: models.Document{}, ExpiresAt: &future,
	}))
	require.NoError(t, os.Upsert(ctx, &models.UserOverride{
		UserID: "u5", ConfigKey: "k", Value: models.Document{},
	}))

	removed, err := os.SweepExpired(ctx, time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	// Unexpired and unbounded overrides survive the sweep
	var count int64
	store.DB.Model(&UserConfigOverride{}).Where("config_key = ?", "k").Count(&count)
	assert.Equal(t, int64(2), count)
}

func TestOverrideStore_ListGroups(t *testing.T) {
	store := newTestStore(t)
	os := NewOverrideStore(store)
	ctx := context.Background()

	future := time.Now().Add(24 * time.Hour)
	for _, user := range []string{"a", "b", "c"} {
		require.NoError(t, os.Upsert(ctx, &models.UserOverride{
			UserID:    user,
			ConfigKey: "prompt_style",
			Value:     models.Document{"tone": "warm"},
			TestName:  "warm_tone_test",
			Priority:  models.PriorityABTest,
			ExpiresAt: &future,
		}))
	}
	// Untagged override must not appear in groups
	require.NoError(t, os.Upsert(ctx, &models.UserOverride{
		UserID: "d", ConfigKey: "prompt_style", Value: models.Document{},
	}))

	groups, err := os.ListGroups(ctx)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	assert.Equal(t, "warm_tone_test", groups[0].TestName)
	assert.Equal(t, 3, groups[0].Size)
	assert.True(t, groups[0].Active)
}

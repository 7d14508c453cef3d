// Package gorm provides GORM-based database operations for configd.
package gorm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agathahq/configd/internal/db"
	"github.com/agathahq/configd/pkg/models"
)

func TestFlagStore_GetMissingReturnsNil(t *testing.T) {
	store := newTestStore(t)
	fs := NewFlagStore(store)

	flag, err := fs.Get(context.Background(), "nope", "test")
	require.NoError(t, err)
	assert.Nil(t, flag)
}

func TestFlagStore_UpsertAndSetEnabled(t *testing.T) {
	store := newTestStore(t)
	fs := NewFlagStore(store)
	ctx := context.Background()

	require.NoError(t, fs.Upsert(ctx, &models.FeatureFlag{
		FeatureName:  "vector_search",
		Environment:  "test",
		Enabled:      false,
		Dependencies: models.StringList{"embeddings"},
		Settings:     models.Document{"dimensions": 1536},
	}))

	flag, err := fs.Get(ctx, "vector_search", "test")
	require.NoError(t, err)
	require.NotNil(t, flag)
	assert.False(t, flag.Enabled)
	assert.Equal(t, models.StringList{"embeddings"}, flag.Dependencies)

	require.NoError(t, fs.SetEnabled(ctx, "vector_search", "test", true))
	flag, err = fs.Get(ctx, "vector_search", "test")
	require.NoError(t, err)
	assert.True(t, flag.Enabled)

	err = fs.SetEnabled(ctx, "absent_feature", "test", true)
	require.ErrorIs(t, err, db.ErrFlagNotFound)
}

func TestFlagStore_PatchSettings_ShallowMerge(t *testing.T) {
	store := newTestStore(t)
	fs := NewFlagStore(store)
	ctx := context.Background()

	require.NoError(t, fs.Upsert(ctx, &models.FeatureFlag{
		FeatureName: "vector_search",
		Environment: "test",
		Settings:    models.Document{"dimensions": 1536, "status": "installed"},
	}))

	require.NoError(t, fs.PatchSettings(ctx, "vector_search", "test", models.Document{
		"status":     "failed",
		"last_error": "insufficient privilege",
	}))

	flag, err := fs.Get(ctx, "vector_search", "test")
	require.NoError(t, err)
	assert.Equal(t, "failed", flag.Settings.String("status", ""))
	assert.Equal(t, "insufficient privilege", flag.Settings.String("last_error", ""))
	assert.Equal(t, 1536, flag.Settings.Int("dimensions", 0)) // untouched key survives
}

package abtest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agathahq/configd/pkg/models"
)

type fakeOverrides struct {
	upserts []*models.UserOverride
	groups  []models.OverrideGroup
	swept   int64
}

func (f *fakeOverrides) Upsert(_ context.Context, o *models.UserOverride) error {
	f.upserts = append(f.upserts, o)
	return nil
}

func (f *fakeOverrides) GetEffective(context.Context, string, string) (*models.UserOverride, error) {
	return nil, nil
}

func (f *fakeOverrides) ListGroups(context.Context) ([]models.OverrideGroup, error) {
	return f.groups, nil
}

func (f *fakeOverrides) SweepExpired(context.Context, time.Time) (int64, error) {
	return f.swept, nil
}

// failingOverrides simulates a store whose writes fail.
type failingOverrides struct{ fakeOverrides }

func (f *failingOverrides) Upsert(context.Context, *models.UserOverride) error {
	return errors.New("connection refused")
}

func TestCreateOverrideGroup(t *testing.T) {
	store := &fakeOverrides{}
	m := NewManager(store)

	err := m.CreateOverrideGroup(context.Background(), "retrieval", "topk_50",
		[]string{"u1", "u2"}, models.Document{"top_k": 50}, 14)
	require.NoError(t, err)
	require.Len(t, store.upserts, 2)

	for _, o := range store.upserts {
		assert.Equal(t, "retrieval", o.ConfigKey)
		assert.Equal(t, "topk_50", o.TestName)
		assert.Equal(t, models.PriorityABTest, o.Priority)
		assert.Equal(t, 50, o.Value.Int("top_k", 0))
		require.NotNil(t, o.ExpiresAt)
		assert.WithinDuration(t, time.Now().UTC().AddDate(0, 0, 14), *o.ExpiresAt, time.Minute)
	}

	// Each assignment holds its own copy of the override document.
	store.upserts[0].Value["top_k"] = 99
	assert.Equal(t, 50, store.upserts[1].Value.Int("top_k", 0))
}

func TestCreateOverrideGroup_Validation(t *testing.T) {
	m := NewManager(&fakeOverrides{})
	ctx := context.Background()

	assert.ErrorIs(t, m.CreateOverrideGroup(ctx, "k", "", []string{"u1"}, nil, 7), ErrInvalidGroup)
	assert.ErrorIs(t, m.CreateOverrideGroup(ctx, "k", "t", nil, nil, 7), ErrInvalidGroup)
	assert.ErrorIs(t, m.CreateOverrideGroup(ctx, "k", "t", []string{"u1"}, nil, 0), ErrInvalidGroup)
}

func TestCreateOverrideGroup_StoreFaultIsNotValidation(t *testing.T) {
	m := NewManager(&failingOverrides{})

	err := m.CreateOverrideGroup(context.Background(), "k", "t", []string{"u1"}, nil, 7)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidGroup)
}

func TestSweepExpired(t *testing.T) {
	m := NewManager(&fakeOverrides{swept: 3})

	n, err := m.SweepExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

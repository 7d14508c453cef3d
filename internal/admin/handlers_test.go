package admin

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agathahq/configd/internal/abtest"
	"github.com/agathahq/configd/internal/audit"
	"github.com/agathahq/configd/internal/coordinator"
	"github.com/agathahq/configd/internal/db"
	"github.com/agathahq/configd/internal/feature"
	"github.com/agathahq/configd/internal/resolver"
	"github.com/agathahq/configd/pkg/models"
)

// memStore is an in-memory stand-in for all four store interfaces.
type memStore struct {
	versions  []*models.ConfigVersion
	overrides map[string]*models.UserOverride
	flags     map[string]*models.FeatureFlag
	records   []*models.MigrationRecord
}

func newMemStore() *memStore {
	return &memStore{
		overrides: map[string]*models.UserOverride{},
		flags:     map[string]*models.FeatureFlag{},
	}
}

func (m *memStore) CreateVersion(_ context.Context, v *models.ConfigVersion) error {
	for _, existing := range m.versions {
		if existing.ConfigKey == v.ConfigKey && existing.Version == v.Version && existing.Environment == v.Environment {
			return db.ErrVersionExists
		}
	}
	m.versions = append(m.versions, v)
	return nil
}

func (m *memStore) GetActive(_ context.Context, key, environment string) (*models.ConfigVersion, error) {
	for _, v := range m.versions {
		if v.ConfigKey == key && v.Environment == environment && v.Active {
			return v, nil
		}
	}
	return nil, nil
}

func (m *memStore) ListVersions(_ context.Context, key, environment string) ([]*models.ConfigVersion, error) {
	var out []*models.ConfigVersion
	for _, v := range m.versions {
		if v.ConfigKey == key && v.Environment == environment {
			out = append(out, v)
		}
	}
	return out, nil
}

func (m *memStore) Activate(_ context.Context, key, version, environment string) error {
	var target *models.ConfigVersion
	for _, v := range m.versions {
		if v.ConfigKey == key && v.Version == version && v.Environment == environment {
			target = v
		}
	}
	if target == nil {
		return db.ErrVersionNotFound
	}
	for _, v := range m.versions {
		if v.ConfigKey == key && v.Environment == environment {
			v.Active = false
		}
	}
	target.Active = true
	return nil
}

func (m *memStore) Upsert(_ context.Context, o *models.UserOverride) error {
	m.overrides[o.UserID+"/"+o.ConfigKey] = o
	return nil
}

func (m *memStore) GetEffective(_ context.Context, userID, key string) (*models.UserOverride, error) {
	o := m.overrides[userID+"/"+key]
	if o == nil || o.Expired(time.Now()) {
		return nil, nil
	}
	return o, nil
}

func (m *memStore) ListGroups(context.Context) ([]models.OverrideGroup, error) {
	return nil, nil
}

func (m *memStore) SweepExpired(context.Context, time.Time) (int64, error) {
	var n int64
	for k, o := range m.overrides {
		if o.Expired(time.Now()) {
			delete(m.overrides, k)
			n++
		}
	}
	return n, nil
}

func (m *memStore) Get(_ context.Context, feature, environment string) (*models.FeatureFlag, error) {
	return m.flags[feature+"/"+environment], nil
}

func (m *memStore) List(_ context.Context, environment string) ([]*models.FeatureFlag, error) {
	var out []*models.FeatureFlag
	for _, f := range m.flags {
		if f.Environment == environment {
			out = append(out, f)
		}
	}
	return out, nil
}

func (m *memStore) UpsertFlag(flag *models.FeatureFlag) {
	m.flags[flag.FeatureName+"/"+flag.Environment] = flag
}

func (m *memStore) SetEnabled(_ context.Context, feature, environment string, enabled bool) error {
	f, ok := m.flags[feature+"/"+environment]
	if !ok {
		return db.ErrFlagNotFound
	}
	f.Enabled = enabled
	return nil
}

func (m *memStore) PatchSettings(_ context.Context, feature, environment string, patch models.Document) error {
	f, ok := m.flags[feature+"/"+environment]
	if !ok {
		return db.ErrFlagNotFound
	}
	f.Settings = f.Settings.Merge(patch)
	return nil
}

func (m *memStore) Append(_ context.Context, rec *models.MigrationRecord) error {
	m.records = append(m.records, rec)
	return nil
}

func (m *memStore) ListRecent(_ context.Context, name, environment string, limit int) ([]*models.MigrationRecord, error) {
	return m.records, nil
}

// flagStore adapts memStore to db.FlagStore with the Upsert signature the
// interface expects.
type flagStore struct{ *memStore }

func (f flagStore) Upsert(_ context.Context, flag *models.FeatureFlag) error {
	f.UpsertFlag(flag)
	return nil
}

// failingOverrides simulates a store whose writes fail.
type failingOverrides struct{ *memStore }

func (failingOverrides) Upsert(context.Context, *models.UserOverride) error {
	return errors.New("connection refused")
}

type openLocker struct{}

func (openLocker) TryLock(context.Context, string, string) (func(), bool, error) {
	return func() {}, true, nil
}

type fakeProber struct{ err error }

func (p *fakeProber) Ping() error { return p.err }

func (p *fakeProber) Stats() sql.DBStats {
	return sql.DBStats{OpenConnections: 2, InUse: 1, Idle: 1}
}

func newTestService(store *memStore) *Service {
	return newTestServiceWithHealth(store, &fakeProber{})
}

func newTestServiceWithHealth(store *memStore, health HealthProber) *Service {
	flags := flagStore{store}
	res := resolver.New(store, store, nil, "")
	registry := feature.NewRegistry(flags, models.DependencyAdvisory)
	audits := audit.NewService(store)
	coord := coordinator.New(nil, openLocker{}, flags, res, audits, models.DependencyAdvisory)
	abtests := abtest.NewManager(store)
	return NewService("production", res, store, registry, coord, abtests, audits, health)
}

func do(t *testing.T, s *Service, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	s.Router().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	s := newTestService(newMemStore())
	w := do(t, s, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "ok", body["database"])
	pool := body["pool"].(map[string]any)
	assert.Equal(t, float64(2), pool["open"])
}

func TestHealth_DegradedWhenStoreUnreachable(t *testing.T) {
	s := newTestServiceWithHealth(newMemStore(), &fakeProber{err: errors.New("connection refused")})
	w := do(t, s, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "degraded", decode(t, w)["status"])
}

func TestConfigVersionLifecycle(t *testing.T) {
	store := newMemStore()
	s := newTestService(store)

	w := do(t, s, http.MethodPost, "/api/config/retrieval/versions",
		`{"version":"v1","payload":{"top_k":20},"created_by":"ops"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	// Duplicate version is a conflict.
	w = do(t, s, http.MethodPost, "/api/config/retrieval/versions",
		`{"version":"v1","payload":{}}`)
	require.Equal(t, http.StatusConflict, w.Code)

	// New versions start inactive: resolve yields an empty document.
	w = do(t, s, http.MethodGet, "/api/config/retrieval/resolve", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "{}", strings.TrimSpace(w.Body.String()))

	w = do(t, s, http.MethodPost, "/api/config/retrieval/versions/v1/activate",
		`{"changed_by":"ops"}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, s, http.MethodGet, "/api/config/retrieval/resolve", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(20), decode(t, w)["top_k"])

	// Activation was audited as a config change.
	require.Len(t, store.records, 1)
	assert.Equal(t, models.KindConfigChange, store.records[0].Kind)

	w = do(t, s, http.MethodPost, "/api/config/retrieval/versions/v9/activate", "")
	require.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, s, http.MethodPost, "/api/config/retrieval/versions", `{"payload":{}}`)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestFlagEndpoints(t *testing.T) {
	store := newMemStore()
	s := newTestService(store)

	w := do(t, s, http.MethodGet, "/api/flags/vector_search", "")
	require.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, s, http.MethodPut, "/api/flags/vector_search",
		`{"enabled":false,"dependencies":["embedding_pipeline"]}`)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, s, http.MethodPost, "/api/flags/vector_search/enable", "")
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, s, http.MethodGet, "/api/flags/vector_search", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	avail := body["availability"].(map[string]any)
	assert.Equal(t, true, avail["available"])
	assert.Equal(t, []any{"embedding_pipeline"}, avail["unsatisfied"])

	w = do(t, s, http.MethodPost, "/api/flags/nonexistent/enable", "")
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestMigrationEndpoints_DomainOutcomesAre200(t *testing.T) {
	store := newMemStore()
	store.UpsertFlag(&models.FeatureFlag{
		FeatureName: "vector_search", Environment: "production", Enabled: false,
	})
	s := newTestService(store)

	// Disabled feature: still HTTP 200, outcome on the record.
	w := do(t, s, http.MethodPost, "/api/migrations/vector_search/run", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "skipped", body["status"])
	assert.Equal(t, "feature_disabled", body["reason"])

	w = do(t, s, http.MethodPost, "/api/migrations/quantum_search/run", "")
	require.Equal(t, http.StatusOK, w.Code)
	body = decode(t, w)
	assert.Equal(t, "failed", body["status"])
	assert.Equal(t, "unknown_feature", body["reason"])

	w = do(t, s, http.MethodGet, "/api/migrations/quantum_search/status", "")
	require.Equal(t, http.StatusNotFound, w.Code)

	// Runs are audited.
	w = do(t, s, http.MethodGet, "/api/migrations/records", "")
	require.Equal(t, http.StatusOK, w.Code)
	var recs []map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &recs))
	assert.Len(t, recs, 2)
}

func TestABTestEndpoints(t *testing.T) {
	store := newMemStore()
	s := newTestService(store)

	w := do(t, s, http.MethodPost, "/api/abtests",
		`{"config_key":"retrieval","test_name":"topk_50","user_ids":["u1","u2"],"overrides":{"top_k":50},"duration_days":7}`)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Len(t, store.overrides, 2)

	// Assigned users resolve the override; others do not.
	do(t, s, http.MethodPost, "/api/config/retrieval/versions", `{"version":"v1","payload":{"top_k":20}}`)
	do(t, s, http.MethodPost, "/api/config/retrieval/versions/v1/activate", "")

	w = do(t, s, http.MethodGet, "/api/config/retrieval/resolve?user_id=u1", "")
	assert.Equal(t, float64(50), decode(t, w)["top_k"])
	w = do(t, s, http.MethodGet, "/api/config/retrieval/resolve?user_id=u3", "")
	assert.Equal(t, float64(20), decode(t, w)["top_k"])

	// Missing test name is a client error.
	w = do(t, s, http.MethodPost, "/api/abtests",
		`{"config_key":"retrieval","user_ids":["u1"],"duration_days":7}`)
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, s, http.MethodPost, "/api/abtests/sweep", "")
	require.Equal(t, http.StatusOK, w.Code)
	var swept map[string]int64
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &swept))
	assert.Equal(t, int64(0), swept["removed"])
}

func TestABTestEndpoints_StoreFaultIs500(t *testing.T) {
	store := newMemStore()
	s := newTestService(store)
	s.abtests = abtest.NewManager(failingOverrides{store})

	w := do(t, s, http.MethodPost, "/api/abtests",
		`{"config_key":"retrieval","test_name":"t","user_ids":["u1"],"overrides":{},"duration_days":7}`)
	require.Equal(t, http.StatusInternalServerError, w.Code)
}

package admin

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/agathahq/configd/internal/abtest"
	"github.com/agathahq/configd/internal/db"
	"github.com/agathahq/configd/pkg/models"
)

// writeJSON writes a JSON response with proper error handling.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// env returns the request's environment, falling back to the service
// default.
func (s *Service) env(r *http.Request) string {
	if e := r.URL.Query().Get("environment"); e != "" {
		return e
	}
	return s.environment
}

func boolQuery(r *http.Request, name string) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get(name))
	return v
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":      "ok",
		"environment": s.environment,
	}
	if s.health != nil {
		if err := s.health.Ping(); err != nil {
			resp["status"] = "degraded"
			resp["database"] = err.Error()
			writeJSON(w, http.StatusServiceUnavailable, resp)
			return
		}
		stats := s.health.Stats()
		resp["database"] = "ok"
		resp["pool"] = map[string]any{
			"open":   stats.OpenConnections,
			"in_use": stats.InUse,
			"idle":   stats.Idle,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Service) handleResolve(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	userID := r.URL.Query().Get("user_id")

	doc, err := s.resolver.Resolve(r.Context(), key, userID, s.env(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Service) handleListVersions(w http.ResponseWriter, r *http.Request) {
	versions, err := s.configs.ListVersions(r.Context(), chi.URLParam(r, "key"), s.env(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, versions)
}

func (s *Service) handleCreateVersion(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Version     string          `json:"version"`
		Payload     models.Document `json:"payload"`
		Description string          `json:"description"`
		CreatedBy   string          `json:"created_by"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if body.Version == "" {
		writeError(w, http.StatusBadRequest, "version is required")
		return
	}

	v := &models.ConfigVersion{
		ConfigKey:   chi.URLParam(r, "key"),
		Version:     body.Version,
		Environment: s.env(r),
		Payload:     body.Payload,
		Description: body.Description,
		CreatedBy:   body.CreatedBy,
	}
	if err := s.configs.CreateVersion(r.Context(), v); err != nil {
		if errors.Is(err, db.ErrVersionExists) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

func (s *Service) handleActivate(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	version := chi.URLParam(r, "version")
	environment := s.env(r)

	var body struct {
		ChangedBy string `json:"changed_by"`
	}
	// The body is optional metadata.
	_ = json.NewDecoder(r.Body).Decode(&body)

	if err := s.configs.Activate(r.Context(), key, version, environment); err != nil {
		if errors.Is(err, db.ErrVersionNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if err := s.audits.RecordConfigChange(r.Context(), key, version, environment, body.ChangedBy); err != nil {
		log.Error().Err(err).Str("config_key", key).Msg("Failed to record config change")
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"config_key":  key,
		"version":     version,
		"environment": environment,
		"status":      "activated",
	})
}

func (s *Service) handleListFlags(w http.ResponseWriter, r *http.Request) {
	flags, err := s.registry.List(r.Context(), s.env(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, flags)
}

func (s *Service) handleGetFlag(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "feature")
	environment := s.env(r)

	flag, err := s.registry.Get(r.Context(), name, environment)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if flag == nil {
		writeError(w, http.StatusNotFound, "flag not found")
		return
	}
	avail, err := s.registry.IsAvailable(r.Context(), name, environment)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"flag":         flag,
		"availability": avail,
	})
}

func (s *Service) handleUpsertFlag(w http.ResponseWriter, r *http.Request) {
	var flag models.FeatureFlag
	if err := json.NewDecoder(r.Body).Decode(&flag); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	flag.FeatureName = chi.URLParam(r, "feature")
	if flag.Environment == "" {
		flag.Environment = s.env(r)
	}
	if err := s.registry.Upsert(r.Context(), &flag); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, flag)
}

func (s *Service) handleSetEnabled(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "feature")
		if err := s.registry.SetEnabled(r.Context(), name, s.env(r), enabled); err != nil {
			if errors.Is(err, db.ErrFlagNotFound) {
				writeError(w, http.StatusNotFound, err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"feature": name,
			"enabled": enabled,
		})
	}
}

// Coordinator endpoints return HTTP 200 with the record for every domain
// outcome (skips, aborts, failures); only infrastructure faults map to 5xx.
func (s *Service) handleRunMigration(w http.ResponseWriter, r *http.Request) {
	rec, err := s.coord.RunMigration(r.Context(), chi.URLParam(r, "feature"), s.env(r), boolQuery(r, "dry_run"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Service) handleRollback(w http.ResponseWriter, r *http.Request) {
	rec, err := s.coord.Rollback(r.Context(), chi.URLParam(r, "feature"), s.env(r),
		boolQuery(r, "force"), boolQuery(r, "dry_run"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Service) handleMigrationStatus(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "feature")
	if !s.coord.Known(name) {
		writeError(w, http.StatusNotFound, "unknown feature")
		return
	}
	doc, err := s.coord.Status(r.Context(), name, s.env(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Service) handleListRecords(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	recs, err := s.audits.ListRecent(r.Context(), r.URL.Query().Get("name"), s.env(r), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Service) handleCreateGroup(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ConfigKey    string          `json:"config_key"`
		TestName     string          `json:"test_name"`
		UserIDs      []string        `json:"user_ids"`
		Overrides    models.Document `json:"overrides"`
		DurationDays int             `json:"duration_days"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	err := s.abtests.CreateOverrideGroup(r.Context(), body.ConfigKey, body.TestName,
		body.UserIDs, body.Overrides, body.DurationDays)
	if err != nil {
		if errors.Is(err, abtest.ErrInvalidGroup) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"test_name": body.TestName,
		"users":     len(body.UserIDs),
	})
}

func (s *Service) handleListGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.abtests.ListActiveGroups(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, groups)
}

func (s *Service) handleSweep(w http.ResponseWriter, r *http.Request) {
	n, err := s.abtests.SweepExpired(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"removed": n})
}

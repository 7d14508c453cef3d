// Package admin provides the operator HTTP surface for configd.
package admin

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/agathahq/configd/internal/abtest"
	"github.com/agathahq/configd/internal/audit"
	"github.com/agathahq/configd/internal/coordinator"
	"github.com/agathahq/configd/internal/db"
	"github.com/agathahq/configd/internal/feature"
	"github.com/agathahq/configd/internal/resolver"
)

// DefaultHTTPTimeout bounds every admin request.
const DefaultHTTPTimeout = 60 * time.Second

// HealthProber reports liveness and pool statistics for the shared store.
type HealthProber interface {
	Ping() error
	Stats() sql.DBStats
}

// Service is the operator HTTP service. Read endpoints are safe to call
// from any number of clients; coordinator endpoints report contention
// through record statuses rather than blocking.
type Service struct {
	environment string

	resolver *resolver.Resolver
	configs  db.ConfigVersionStore
	registry *feature.Registry
	coord    *coordinator.Coordinator
	abtests  *abtest.Manager
	audits   *audit.Service
	health   HealthProber

	router *chi.Mux
	server *http.Server
}

// NewService assembles the admin service routes. environment is the
// default when a request does not specify one. health may be nil, in which
// case /health reports process liveness only.
func NewService(environment string, res *resolver.Resolver, configs db.ConfigVersionStore, registry *feature.Registry, coord *coordinator.Coordinator, abtests *abtest.Manager, audits *audit.Service, health HealthProber) *Service {
	s := &Service{
		environment: environment,
		resolver:    res,
		configs:     configs,
		registry:    registry,
		coord:       coord,
		abtests:     abtests,
		audits:      audits,
		health:      health,
		router:      chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Service) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(DefaultHTTPTimeout))
	s.router.Use(middleware.RealIP)
}

func (s *Service) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/config/{key}/resolve", s.handleResolve)
		r.Get("/config/{key}/versions", s.handleListVersions)
		r.Post("/config/{key}/versions", s.handleCreateVersion)
		r.Post("/config/{key}/versions/{version}/activate", s.handleActivate)

		r.Get("/flags", s.handleListFlags)
		r.Get("/flags/{feature}", s.handleGetFlag)
		r.Put("/flags/{feature}", s.handleUpsertFlag)
		r.Post("/flags/{feature}/enable", s.handleSetEnabled(true))
		r.Post("/flags/{feature}/disable", s.handleSetEnabled(false))

		r.Post("/migrations/{feature}/run", s.handleRunMigration)
		r.Post("/migrations/{feature}/rollback", s.handleRollback)
		r.Get("/migrations/{feature}/status", s.handleMigrationStatus)
		r.Get("/migrations/records", s.handleListRecords)

		r.Get("/abtests", s.handleListGroups)
		r.Post("/abtests", s.handleCreateGroup)
		r.Post("/abtests/sweep", s.handleSweep)
	})
}

// Router exposes the handler for tests and embedding.
func (s *Service) Router() http.Handler { return s.router }

// Start begins serving on the given port.
func (s *Service) Start(port int) error {
	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("Admin HTTP server error")
		}
	}()

	log.Info().Int("port", port).Str("environment", s.environment).Msg("Admin HTTP server started")
	return nil
}

// Shutdown stops the HTTP server gracefully.
func (s *Service) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

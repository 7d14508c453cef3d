// Package main provides the entry point for the configd service.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	gormlogger "gorm.io/gorm/logger"

	"github.com/agathahq/configd/internal/abtest"
	"github.com/agathahq/configd/internal/admin"
	"github.com/agathahq/configd/internal/audit"
	"github.com/agathahq/configd/internal/config"
	"github.com/agathahq/configd/internal/coordinator"
	gormstore "github.com/agathahq/configd/internal/db/gorm"
	"github.com/agathahq/configd/internal/feature"
	"github.com/agathahq/configd/internal/resolver"
)

var Version = "dev"

func main() {
	// Setup logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg := config.Load()
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(level)
	}

	log.Info().
		Str("version", Version).
		Str("environment", cfg.Environment).
		Msg("Starting configd")

	if cfg.DatabaseDSN == "" {
		log.Fatal().Msg("AGATHA_DATABASE_DSN is required")
	}

	gormLevel := gormlogger.Silent
	if cfg.LogLevel == "debug" {
		gormLevel = gormlogger.Info
	}
	store, err := gormstore.NewStore(gormstore.Config{
		DSN:      cfg.DatabaseDSN,
		MaxConns: cfg.MaxConns,
		LogLevel: gormLevel,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize store")
	}
	defer store.Close()

	defaults, err := config.LoadDefaults(cfg.DefaultsDir)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load defaults directory")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := defaults.Watch(ctx); err != nil {
		log.Warn().Err(err).Msg("Defaults hot reload unavailable")
	}

	configs := gormstore.NewConfigStore(store)
	overrides := gormstore.NewOverrideStore(store)
	flags := gormstore.NewFlagStore(store)
	audits := audit.NewService(gormstore.NewAuditStore(store))

	res := resolver.New(configs, overrides, defaults, cfg.Namespace)
	registry := feature.NewRegistry(flags, cfg.DependencyPolicy)
	coord := coordinator.New(
		store.GetRawDB(),
		coordinator.NewAdvisoryLocker(store.GetRawDB()),
		flags,
		res,
		audits,
		cfg.DependencyPolicy,
	)
	abtests := abtest.NewManager(overrides)

	svc := admin.NewService(cfg.Environment, res, configs, registry, coord, abtests, audits, store)
	if err := svc.Start(cfg.AdminPort); err != nil {
		log.Fatal().Err(err).Msg("Failed to start admin service")
	}

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Received shutdown signal")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := svc.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Shutdown error")
	}

	log.Info().Msg("configd shutdown complete")
}

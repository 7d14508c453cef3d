package coordinator

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/agathahq/configd/internal/db"
	"github.com/agathahq/configd/pkg/models"
)

// GlobalResolver supplies the globally resolved configuration document for
// a feature key (fallback defaults layered under the active version).
type GlobalResolver interface {
	ResolveGlobal(ctx context.Context, key, environment string) (models.Document, error)
}

// Recorder appends migration records to the audit sink.
type Recorder interface {
	Append(ctx context.Context, rec *models.MigrationRecord) error
}

// Coordinator converges feature schema state under per-(feature,
// environment) advisory locks. Runs are best-effort background
// convergence: domain failures are reported on the returned record, and
// only infrastructure faults (lock primitive or store unavailable at the
// gates) propagate as errors.
type Coordinator struct {
	db       *sql.DB
	locks    Locker
	flags    db.FlagStore
	resolver GlobalResolver
	recorder Recorder
	policy   models.DependencyPolicy
	caps     map[string]Capability
}

// New creates a coordinator with the built-in capabilities registered.
func New(sqlDB *sql.DB, locks Locker, flags db.FlagStore, resolver GlobalResolver, recorder Recorder, policy models.DependencyPolicy) *Coordinator {
	if !policy.Valid() {
		policy = models.DependencyAdvisory
	}
	c := &Coordinator{
		db:       sqlDB,
		locks:    locks,
		flags:    flags,
		resolver: resolver,
		recorder: recorder,
		policy:   policy,
		caps:     map[string]Capability{},
	}
	c.Register(VectorSearch{})
	c.Register(FuzzySearch{})
	return c
}

// Register adds a capability keyed by its feature name.
func (c *Coordinator) Register(capability Capability) {
	c.caps[capability.Name()] = capability
}

// Known reports whether a capability is registered for the feature name.
func (c *Coordinator) Known(featureName string) bool {
	_, ok := c.caps[featureName]
	return ok
}

// RunMigration converges the feature's backing schema objects toward the
// resolved configuration. Non-blocking: a concurrent run for the same
// (feature, environment) observes lock contention and returns
// skipped/lock_contention immediately. With dryRun only read-only checks
// execute and intended actions are reported.
func (c *Coordinator) RunMigration(ctx context.Context, featureName, environment string, dryRun bool) (*models.MigrationRecord, error) {
	rec := models.NewMigrationRecord(featureName, environment)

	capability, ok := c.caps[featureName]
	if !ok {
		return c.finish(ctx, rec, models.StatusFailed, models.ReasonUnknownFeature)
	}

	release, acquired, err := c.locks.TryLock(ctx, featureName, environment)
	if err != nil {
		return nil, fmt.Errorf("run migration %s/%s: %w", featureName, environment, err)
	}
	if !acquired {
		return c.finish(ctx, rec, models.StatusSkipped, models.ReasonLockContention)
	}
	defer release()

	flag, err := c.flags.Get(ctx, featureName, environment)
	if err != nil {
		return nil, fmt.Errorf("run migration %s/%s: %w", featureName, environment, err)
	}
	if flag == nil {
		return c.finish(ctx, rec, models.StatusSkipped, models.ReasonFlagMissing)
	}
	if !flag.Enabled {
		return c.finish(ctx, rec, models.StatusSkipped, models.ReasonFeatureDisabled)
	}

	if unsatisfied, err := c.unsatisfiedDeps(ctx, flag); err != nil {
		return nil, fmt.Errorf("run migration %s/%s: %w", featureName, environment, err)
	} else if len(unsatisfied) > 0 {
		rec.AddStep("dependency_check", strings.Join(unsatisfied, ","),
			models.OutcomeChecked, "unsatisfied dependencies")
		if c.policy == models.DependencyBlocking {
			return c.finish(ctx, rec, models.StatusSkipped, models.ReasonDependencyUnsatisfied)
		}
		log.Warn().
			Str("feature", featureName).
			Str("environment", environment).
			Strs("unsatisfied", unsatisfied).
			Msg("Proceeding despite unsatisfied dependencies")
	}

	global, err := c.resolver.ResolveGlobal(ctx, featureName, environment)
	if err != nil {
		rec.AddStep("resolve_params", "", models.OutcomeFailed, err.Error())
		c.patchFlag(ctx, featureName, environment, models.FlagStatusFailed, nil, false, err.Error())
		return c.finish(ctx, rec, models.StatusFailed, reasonUnexpectedError)
	}
	params := resolveParams(capability.Defaults(), global, flag.Settings)
	rec.ResolvedConfig = params

	plan, err := capability.Plan(params)
	if err != nil {
		rec.AddStep("plan", "", models.OutcomeFailed, err.Error())
		c.patchFlag(ctx, featureName, environment, models.FlagStatusFailed, params, false, err.Error())
		return c.finish(ctx, rec, models.StatusFailed, reasonInvalidParameters)
	}

	res := (&runner{db: c.db}).converge(ctx, plan, rec, dryRun)

	var status models.RunStatus
	var flagStatus, lastError string
	switch {
	case res.failReason != "":
		status, flagStatus = models.StatusFailed, models.FlagStatusFailed
		lastError = lastFailureDetail(rec)
	case dryRun:
		status, flagStatus = models.StatusDryRunCompleted, models.FlagStatusDryRunCompleted
	default:
		status, flagStatus = models.StatusInstalled, models.FlagStatusInstalled
	}
	c.patchFlag(ctx, featureName, environment, flagStatus, params, res.shapeMismatch, lastError)

	if res.failReason != "" {
		return c.finish(ctx, rec, status, res.failReason)
	}
	return c.finish(ctx, rec, status, "")
}

// Rollback drops the feature's routines and backing table. It refuses with
// aborted/has_recent_data when the table holds rows newer than the resolved
// recency window, unless force is set. Flags of other features are never
// touched.
func (c *Coordinator) Rollback(ctx context.Context, featureName, environment string, force, dryRun bool) (*models.MigrationRecord, error) {
	rec := models.NewMigrationRecord(featureName, environment)

	capability, ok := c.caps[featureName]
	if !ok {
		return c.finish(ctx, rec, models.StatusFailed, models.ReasonUnknownFeature)
	}

	release, acquired, err := c.locks.TryLock(ctx, featureName, environment)
	if err != nil {
		return nil, fmt.Errorf("rollback %s/%s: %w", featureName, environment, err)
	}
	if !acquired {
		return c.finish(ctx, rec, models.StatusSkipped, models.ReasonLockContention)
	}
	defer release()

	flag, err := c.flags.Get(ctx, featureName, environment)
	if err != nil {
		return nil, fmt.Errorf("rollback %s/%s: %w", featureName, environment, err)
	}
	if flag == nil {
		return c.finish(ctx, rec, models.StatusSkipped, models.ReasonFlagMissing)
	}

	global, err := c.resolver.ResolveGlobal(ctx, featureName, environment)
	if err != nil {
		rec.AddStep("resolve_params", "", models.OutcomeFailed, err.Error())
		return c.finish(ctx, rec, models.StatusFailed, reasonUnexpectedError)
	}
	params := resolveParams(capability.Defaults(), global, flag.Settings)
	rec.ResolvedConfig = params

	plan, err := capability.Plan(params)
	if err != nil {
		rec.AddStep("plan", "", models.OutcomeFailed, err.Error())
		return c.finish(ctx, rec, models.StatusFailed, reasonInvalidParameters)
	}

	run := &runner{db: c.db}
	exists, err := run.tableExists(ctx, plan.Table.Name)
	if err != nil {
		rec.AddStep("recency_check", string(plan.Table.Name), models.OutcomeFailed, err.Error())
		return c.finish(ctx, rec, models.StatusFailed, classify(err))
	}
	if exists {
		window := recencyWindow(params)
		recent, err := run.rowsSince(ctx, plan.Table.Name, plan.Table.RecencyColumn, time.Now().UTC().Add(-window))
		if err != nil {
			rec.AddStep("recency_check", string(plan.Table.Name), models.OutcomeFailed, err.Error())
			return c.finish(ctx, rec, models.StatusFailed, classify(err))
		}
		rec.AddStep("recency_check", string(plan.Table.Name), models.OutcomeChecked,
			fmt.Sprintf("%d rows newer than %s", recent, window))
		if recent > 0 && !force {
			return c.finish(ctx, rec, models.StatusAborted, models.ReasonHasRecentData)
		}
	}

	res := run.teardown(ctx, plan, rec, dryRun)
	switch {
	case res.failReason != "":
		c.patchFlag(ctx, featureName, environment, models.FlagStatusFailed, params, false, lastFailureDetail(rec))
		return c.finish(ctx, rec, models.StatusFailed, res.failReason)
	case dryRun:
		return c.finish(ctx, rec, models.StatusDryRunCompleted, "")
	default:
		c.patchFlag(ctx, featureName, environment, models.FlagStatusRolledBack, params, false, "")
		return c.finish(ctx, rec, models.StatusRolledBack, "")
	}
}

// Status merges stored flag settings with live read-only probes of the
// feature's backing objects. It never mutates anything.
func (c *Coordinator) Status(ctx context.Context, featureName, environment string) (models.Document, error) {
	capability, ok := c.caps[featureName]
	if !ok {
		return nil, fmt.Errorf("unknown feature %q", featureName)
	}

	doc := models.Document{
		"feature":     featureName,
		"environment": environment,
	}

	flag, err := c.flags.Get(ctx, featureName, environment)
	if err != nil {
		return nil, fmt.Errorf("status %s/%s: %w", featureName, environment, err)
	}
	doc["flag_present"] = flag != nil

	var settings models.Document
	if flag != nil {
		doc["enabled"] = flag.Enabled
		doc["settings"] = flag.Settings
		settings = flag.Settings
	}

	global, err := c.resolver.ResolveGlobal(ctx, featureName, environment)
	if err != nil {
		return nil, fmt.Errorf("status %s/%s: %w", featureName, environment, err)
	}
	params := resolveParams(capability.Defaults(), global, settings)

	plan, err := capability.Plan(params)
	if err != nil {
		doc["plan_error"] = err.Error()
		return doc, nil
	}
	doc["table"] = string(plan.Table.Name)

	run := &runner{db: c.db}
	var (
		tableExists bool
		rowCount    int64
		indexes     = map[string]bool{}
		routines    = map[string]bool{}
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if tableExists, err = run.tableExists(gctx, plan.Table.Name); err != nil || !tableExists {
			return err
		}
		rowCount, err = run.rowCount(gctx, plan.Table.Name)
		return err
	})
	g.Go(func() error {
		for _, idx := range plan.Indexes {
			present, err := run.indexExists(gctx, idx.Table, idx.Name)
			if err != nil {
				return err
			}
			indexes[string(idx.Name)] = present
		}
		return nil
	})
	g.Go(func() error {
		for _, rt := range plan.Routines {
			present, err := run.routineExists(gctx, rt.Name)
			if err != nil {
				return err
			}
			routines[string(rt.Name)] = present
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("status %s/%s: %w", featureName, environment, err)
	}

	doc["table_exists"] = tableExists
	if tableExists {
		doc["row_count"] = rowCount
	}
	doc["indexes"] = indexes
	doc["routines"] = routines
	return doc, nil
}

// unsatisfiedDeps checks the flag's declared dependencies one level deep.
func (c *Coordinator) unsatisfiedDeps(ctx context.Context, flag *models.FeatureFlag) ([]string, error) {
	var unsatisfied []string
	for _, dep := range flag.Dependencies {
		depFlag, err := c.flags.Get(ctx, dep, flag.Environment)
		if err != nil {
			return nil, err
		}
		if depFlag == nil || !depFlag.Enabled {
			unsatisfied = append(unsatisfied, dep)
		}
	}
	return unsatisfied, nil
}

// patchFlag records the run outcome on the flag's settings. Best effort:
// a patch failure is logged, never escalated past the record.
func (c *Coordinator) patchFlag(ctx context.Context, featureName, environment, status string, params models.Document, shapeMismatch bool, lastError string) {
	patch := models.Document{
		models.SettingStatus:        status,
		models.SettingLastRunAt:     time.Now().UTC().Format(time.RFC3339),
		models.SettingLastError:     lastError,
		models.SettingShapeMismatch: shapeMismatch,
	}
	if params != nil {
		patch[models.SettingResolvedParams] = params
	}
	if err := c.flags.PatchSettings(ctx, featureName, environment, patch); err != nil {
		log.Error().Err(err).
			Str("feature", featureName).
			Str("environment", environment).
			Msg("Failed to record run outcome on flag settings")
	}
}

// finish completes the record, appends it to the audit sink and logs the
// outcome. Audit append failures are logged; the record is still returned
// so callers can inspect the run result.
func (c *Coordinator) finish(ctx context.Context, rec *models.MigrationRecord, status models.RunStatus, reason string) (*models.MigrationRecord, error) {
	rec.Finish(status, reason)
	if err := c.recorder.Append(ctx, rec); err != nil {
		log.Error().Err(err).
			Str("feature", rec.MigrationName).
			Str("environment", rec.Environment).
			Msg("Failed to append migration record")
	}
	log.Info().
		Str("feature", rec.MigrationName).
		Str("environment", rec.Environment).
		Str("status", rec.StatusString()).
		Int("steps", len(rec.Steps)).
		Msg("Coordinator run finished")
	return rec, nil
}

// lastFailureDetail returns the detail of the most recent failed step.
func lastFailureDetail(rec *models.MigrationRecord) string {
	for i := len(rec.Steps) - 1; i >= 0; i-- {
		if rec.Steps[i].Outcome == models.OutcomeFailed {
			return rec.Steps[i].Detail
		}
	}
	return ""
}

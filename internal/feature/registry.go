// Package feature implements the feature-flag registry.
package feature

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/agathahq/configd/internal/db"
	"github.com/agathahq/configd/pkg/models"
)

// Registry answers availability questions about feature flags and applies
// the configured dependency policy.
type Registry struct {
	flags  db.FlagStore
	policy models.DependencyPolicy
}

// NewRegistry creates a registry. An invalid policy falls back to advisory.
func NewRegistry(flags db.FlagStore, policy models.DependencyPolicy) *Registry {
	if !policy.Valid() {
		policy = models.DependencyAdvisory
	}
	return &Registry{flags: flags, policy: policy}
}

// Policy returns the dependency policy the registry applies.
func (r *Registry) Policy() models.DependencyPolicy { return r.policy }

// Get returns the flag for (feature, environment), or (nil, nil) when no
// flag row exists.
func (r *Registry) Get(ctx context.Context, feature, environment string) (*models.FeatureFlag, error) {
	return r.flags.Get(ctx, feature, environment)
}

// List returns all flags in an environment.
func (r *Registry) List(ctx context.Context, environment string) ([]*models.FeatureFlag, error) {
	return r.flags.List(ctx, environment)
}

// Upsert creates or replaces a flag definition.
func (r *Registry) Upsert(ctx context.Context, flag *models.FeatureFlag) error {
	return r.flags.Upsert(ctx, flag)
}

// SetEnabled flips a flag. Disabling never cascades to dependents; they
// surface as unsatisfied dependencies on their next availability check.
func (r *Registry) SetEnabled(ctx context.Context, feature, environment string, enabled bool) error {
	if err := r.flags.SetEnabled(ctx, feature, environment, enabled); err != nil {
		return err
	}
	log.Info().
		Str("feature", feature).
		Str("environment", environment).
		Bool("enabled", enabled).
		Msg("Feature flag toggled")
	return nil
}

// Availability is the result of an IsAvailable check.
type Availability struct {
	// Available is the policy-adjusted answer callers should act on.
	Available bool `json:"available"`
	// Enabled is the raw flag state, ignoring dependencies.
	Enabled bool `json:"enabled"`
	// Unsatisfied lists dependencies that are missing or disabled.
	Unsatisfied []string `json:"unsatisfied,omitempty"`
}

// IsAvailable reports whether a feature can be used. A missing flag row is
// unavailable. Dependencies are checked one level deep; under the advisory
// policy unsatisfied dependencies are logged but do not block, under the
// blocking policy they make the feature unavailable.
func (r *Registry) IsAvailable(ctx context.Context, feature, environment string) (*Availability, error) {
	flag, err := r.flags.Get(ctx, feature, environment)
	if err != nil {
		return nil, fmt.Errorf("check availability of %q: %w", feature, err)
	}
	if flag == nil {
		return &Availability{}, nil
	}

	avail := &Availability{Available: flag.Enabled, Enabled: flag.Enabled}
	if !flag.Enabled {
		return avail, nil
	}

	for _, dep := range flag.Dependencies {
		depFlag, err := r.flags.Get(ctx, dep, environment)
		if err != nil {
			return nil, fmt.Errorf("check dependency %q of %q: %w", dep, feature, err)
		}
		if depFlag == nil || !depFlag.Enabled {
			avail.Unsatisfied = append(avail.Unsatisfied, dep)
		}
	}

	if len(avail.Unsatisfied) > 0 {
		log.Warn().
			Str("feature", feature).
			Str("environment", environment).
			Strs("unsatisfied", avail.Unsatisfied).
			Str("policy", string(r.policy)).
			Msg("Feature has unsatisfied dependencies")
		if r.policy == models.DependencyBlocking {
			avail.Available = false
		}
	}

	return avail, nil
}

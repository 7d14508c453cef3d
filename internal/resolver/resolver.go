// Package resolver merges layered configuration into effective documents.
//
// Resolution order (ascending priority): YAML fallback defaults, the active
// ConfigVersion payload, the user's effective override, then environment
// variable overrides. Merging is shallow: a top-level key in a higher layer
// replaces the lower layer's value wholesale, nested objects included.
package resolver

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/agathahq/configd/internal/db"
	"github.com/agathahq/configd/pkg/models"
)

// Fallback provides defaults documents for keys with no active version.
// *config.Defaults satisfies this; tests substitute a map.
type Fallback interface {
	Get(key string) models.Document
}

// Resolver resolves effective configuration documents. All methods are
// read-only and lock-free; any number of callers may resolve concurrently.
type Resolver struct {
	versions  db.ConfigVersionReader
	overrides db.OverrideStore
	fallback  Fallback
	namespace string
}

// New creates a resolver. fallback may be nil; namespace is the env-var
// override prefix (empty disables env overrides).
func New(versions db.ConfigVersionReader, overrides db.OverrideStore, fallback Fallback, namespace string) *Resolver {
	return &Resolver{
		versions:  versions,
		overrides: overrides,
		fallback:  fallback,
		namespace: namespace,
	}
}

// Resolve returns the effective document for (key, environment), merged
// with the user's override when userID is non-empty. Missing keys, missing
// users and missing overrides yield smaller documents, never an error.
// Only store connectivity failures propagate.
func (r *Resolver) Resolve(ctx context.Context, key, userID, environment string) (models.Document, error) {
	doc := models.Document{}

	if r.fallback != nil {
		if fb := r.fallback.Get(key); fb != nil {
			doc = doc.Merge(fb)
		}
	}

	active, err := r.versions.GetActive(ctx, key, environment)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", key, err)
	}
	if active != nil {
		doc = doc.Merge(active.Payload)
	}

	if userID != "" {
		override, err := r.overrides.GetEffective(ctx, userID, key)
		if err != nil {
			return nil, fmt.Errorf("resolve %q for user: %w", key, err)
		}
		if override != nil {
			doc = doc.Merge(override.Value)
			log.Debug().
				Str("config_key", key).
				Str("user_id", userID).
				Int("priority", override.Priority).
				Msg("Applied user override")
		}
	}

	if r.namespace != "" {
		applyEnvOverrides(doc, r.namespace, key)
	}

	return doc, nil
}

// ResolveGlobal is Resolve without user context.
func (r *Resolver) ResolveGlobal(ctx context.Context, key, environment string) (models.Document, error) {
	return r.Resolve(ctx, key, "", environment)
}

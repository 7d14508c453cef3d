package coordinator

import "github.com/agathahq/configd/pkg/models"

// Capability describes one optional storage feature the coordinator can
// provision. Plan construction is pure: it validates resolved parameters
// and renders descriptors without touching a live store, so it is fully
// testable offline.
type Capability interface {
	// Name is the feature-flag name the capability is gated behind.
	Name() string

	// Defaults returns the built-in parameter fallbacks, the lowest level
	// of the resolution chain.
	Defaults() models.Document

	// Plan builds the validated schema-object descriptors for the resolved
	// parameters. Invalid parameters return an error; nothing is executed.
	Plan(params models.Document) (*Plan, error)
}

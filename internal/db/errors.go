// Package db defines database interfaces for the configd stores.
package db

import "errors"

// Sentinel errors shared by store implementations. Absence of config or
// flags on read paths is NOT an error (stores return nil, nil); these cover
// the write paths where the caller named something that must exist or must
// not already exist.
var (
	// ErrVersionNotFound means an activation named a version that was
	// never created for that (key, environment).
	ErrVersionNotFound = errors.New("config version not found")

	// ErrVersionExists means a version with the same (key, version,
	// environment) was already created; versions are immutable.
	ErrVersionExists = errors.New("config version already exists")

	// ErrFlagNotFound means a write targeted a flag row that does not
	// exist.
	ErrFlagNotFound = errors.New("feature flag not found")
)

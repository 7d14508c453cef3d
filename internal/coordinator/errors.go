package coordinator

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// Failure reasons recorded when a migration step or run fails.
const (
	reasonPrivilegeDenied       = "privilege_denied"
	reasonCapabilityUnavailable = "capability_unavailable"
	reasonInvalidParameters     = "invalid_parameters"
	reasonUnexpectedError       = "unexpected_error"
)

// classify maps a step error onto the failure taxonomy using the Postgres
// SQLSTATE when one is available. Anything unrecognized is an unexpected
// error; it is still recorded, never propagated.
func classify(err error) string {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return reasonUnexpectedError
	}
	switch pgErr.Code {
	case "42501": // insufficient_privilege
		return reasonPrivilegeDenied
	case "0A000", "58P01": // feature_not_supported, undefined_file (missing extension .so)
		return reasonCapabilityUnavailable
	case "42704": // undefined_object (extension not installed)
		return reasonCapabilityUnavailable
	default:
		return reasonUnexpectedError
	}
}

// fatalReason reports whether a failure reason should abort the remaining
// steps of a run. Privilege and capability problems affect every subsequent
// step the same way, so continuing would only repeat the failure.
func fatalReason(reason string) bool {
	return reason == reasonPrivilegeDenied || reason == reasonCapabilityUnavailable
}

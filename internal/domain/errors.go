// Package domain defines the core business entities and errors.
package domain

import "errors"

// Common domain errors used across the application.
var (
	// ErrValidation is returned when an entity or request fails validation.
	// It is classified permanent: the sync pipeline never retries it.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is returned when a requested task does not exist locally.
	ErrNotFound = errors.New("task not found")

	// ErrTransientNetwork is returned when a remote call fails at the
	// transport level (connection refused, reset, deadline exceeded).
	ErrTransientNetwork = errors.New("transient network failure")

	// ErrRemoteServer is returned when the remote endpoint answers with a
	// server-side (5xx-equivalent) error.
	ErrRemoteServer = errors.New("remote server error")

	// ErrRateLimitTimeout is returned when a caller's deadline elapses
	// before a rate limiter token becomes available.
	ErrRateLimitTimeout = errors.New("rate limit timeout")

	// ErrConflict indicates the remote rejected an operation because the
	// expected version was stale. It is resolved automatically and is not
	// surfaced to callers unless resolution cannot proceed.
	ErrConflict = errors.New("version conflict")

	// ErrUnresolvableConflict is returned when conflict resolution cannot
	// proceed, for example when the remote entity was deleted while a local
	// edit was pending. Terminal and user-surfaced.
	ErrUnresolvableConflict = errors.New("unresolvable conflict")

	// ErrAbandoned marks a sync operation that exhausted its retry budget.
	// The operation stays in the log for manual inspection.
	ErrAbandoned = errors.New("operation abandoned")
)

// IsTransient reports whether err belongs to the retryable error classes.
// Validation, not-found and conflict errors are permanent.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransientNetwork) ||
		errors.Is(err, ErrRemoteServer) ||
		errors.Is(err, ErrRateLimitTimeout)
}

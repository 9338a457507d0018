package api

import (
	"errors"
	"net/http"

	"github.com/driftq/driftq/internal/domain"
	"github.com/driftq/driftq/internal/syncer"
)

// MapErrorToStatusCode maps internal errors to appropriate HTTP status codes
// based on the error type. This prevents leaking internal error types or
// messages to clients.
func MapErrorToStatusCode(err error) int {
	switch {
	// Not found errors
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound

	// Conflict errors
	case errors.Is(err, syncer.ErrNotAbandoned),
		errors.Is(err, domain.ErrConflict):
		return http.StatusConflict

	// Bad request errors
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest

	// Default: internal server error
	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a sanitized, user-friendly error message
// based on the error type. This prevents leaking sensitive internal details.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	switch {
	case errors.Is(err, syncer.ErrOperationNotFound):
		return "Operation not found"

	case errors.Is(err, domain.ErrNotFound):
		return "Task not found"

	case errors.Is(err, syncer.ErrNotAbandoned):
		return "Operation is not abandoned"

	case errors.Is(err, domain.ErrConflict):
		return "Conflicting concurrent change"

	case errors.Is(err, domain.ErrValidation):
		// Validation messages are produced by our own code and safe to
		// surface verbatim.
		return err.Error()

	default:
		return "An unexpected error occurred"
	}
}

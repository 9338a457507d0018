package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/driftq/driftq/internal/domain"
)

// getPathUUID extracts a UUID from the URL path parameters, handling the
// missing and malformed cases.
func getPathUUID(r *http.Request, paramName string) (uuid.UUID, error) {
	pathParam := chi.URLParam(r, paramName)
	if pathParam == "" {
		return uuid.Nil, fmt.Errorf("%w: %s is required", domain.ErrValidation, paramName)
	}

	id, err := uuid.Parse(pathParam)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %s has invalid format", domain.ErrValidation, paramName)
	}
	return id, nil
}

// getPathSeq extracts an int64 sequence number from the URL path parameters.
func getPathSeq(r *http.Request, paramName string) (int64, error) {
	pathParam := chi.URLParam(r, paramName)
	seq, err := strconv.ParseInt(pathParam, 10, 64)
	if err != nil || seq <= 0 {
		return 0, fmt.Errorf("%w: %s must be a positive integer", domain.ErrValidation, paramName)
	}
	return seq, nil
}

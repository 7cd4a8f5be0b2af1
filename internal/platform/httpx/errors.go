package httpx

import (
	"errors"
	"net/http"
)

// Sentinel errors for the domain layer.
var (
	ErrNotFound     = errors.New("resource not found")
	ErrDuplicate    = errors.New("duplicate entry")
	ErrValidation   = errors.New("validation failed")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")
)

// Error codes used outside the authentication taxonomy.
const (
	CodeNotFound     = "NOT_FOUND"
	CodeDuplicate    = "DUPLICATE"
	CodeValidation   = "VALIDATION_ERROR"
	CodeForbidden    = "FORBIDDEN"
	CodeUnauthorized = "AUTH_ERROR"
	CodeInternal     = "INTERNAL_ERROR"
	CodeInvalidID    = "INVALID_ID"
	CodeRateLimited  = "RATE_LIMITED"
)

// RespondError maps domain errors to failure envelopes.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		Fail(w, http.StatusNotFound, err.Error(), CodeNotFound)
	case errors.Is(err, ErrDuplicate):
		Fail(w, http.StatusConflict, err.Error(), CodeDuplicate)
	case errors.Is(err, ErrValidation):
		Fail(w, http.StatusBadRequest, err.Error(), CodeValidation)
	case errors.Is(err, ErrForbidden):
		Fail(w, http.StatusForbidden, err.Error(), CodeForbidden)
	case errors.Is(err, ErrUnauthorized):
		Fail(w, http.StatusUnauthorized, err.Error(), CodeUnauthorized)
	default:
		Fail(w, http.StatusInternalServerError, "", CodeInternal)
	}
}

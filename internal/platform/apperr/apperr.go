// Package apperr defines the sentinel errors shared by the LIMS services and
// maps them onto HTTP status codes for the echo handlers.
package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

var (
	ErrValidation          = errors.New("validation error")
	ErrDuplicateAssignment = errors.New("test already assigned to sample")
	ErrConflict            = errors.New("conflict")
	ErrInsufficientData    = errors.New("insufficient data")
	ErrNotFound            = errors.New("not found")
	ErrInvalidTransition   = errors.New("invalid status transition")
)

// Validation wraps ErrValidation with a formatted message.
func Validation(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NotFound wraps ErrNotFound with the entity name.
func NotFound(entity string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, entity)
}

// Status returns the HTTP status code for err. Errors that do not wrap one
// of the sentinels map to fallback.
func Status(err error, fallback int) int {
	switch {
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrDuplicateAssignment),
		errors.Is(err, ErrConflict),
		errors.Is(err, ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, ErrInsufficientData):
		return http.StatusUnprocessableEntity
	default:
		return fallback
	}
}

// HTTPError converts err into an echo.HTTPError. Unmapped errors become
// fallback; a 500 hides the underlying message from the client.
func HTTPError(err error, fallback int) *echo.HTTPError {
	code := Status(err, fallback)
	if code == http.StatusInternalServerError {
		return echo.NewHTTPError(code, "internal server error").SetInternal(err)
	}
	return echo.NewHTTPError(code, err.Error())
}

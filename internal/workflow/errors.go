package workflow

import (
	"errors"
	"net/http"
)

var (
	ErrUnauthorized      = errors.New("unauthorized")
	ErrInvalidRequest    = errors.New("invalid request")
	ErrNotFound          = errors.New("identification not found")
	ErrRecognitionFailed = errors.New("recognition failed")
	ErrPersistFailed     = errors.New("persist failed")
)

// MapHTTPStatus maps workflow errors to HTTP status codes.
func MapHTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrRecognitionFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Public returns the sentinel that may be shown to callers for err.
func Public(err error) error {
	for _, sentinel := range []error{
		ErrUnauthorized,
		ErrInvalidRequest,
		ErrNotFound,
		ErrRecognitionFailed,
		ErrPersistFailed,
	} {
		if errors.Is(err, sentinel) {
			return sentinel
		}
	}
	return ErrPersistFailed
}

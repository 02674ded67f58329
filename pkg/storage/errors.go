package storage

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrNotFound indicates the requested blob does not exist.
	ErrNotFound = errors.New("blob not found")
	// ErrEmptyKey indicates an empty storage key was provided.
	ErrEmptyKey = errors.New("storage key must not be empty")
	// ErrInvalidKey indicates the storage key contains a path traversal segment.
	ErrInvalidKey = errors.New("storage key contains invalid path segment")
)

// PartUploadError reports a multipart part that failed every attempt.
// The multipart session has already been aborted when it is returned.
type PartUploadError struct {
	Key      string
	Part     int
	Attempts int
	Err      error
}

func (e *PartUploadError) Error() string {
	return fmt.Sprintf("upload %s part %d failed after %d attempts: %v", e.Key, e.Part, e.Attempts, e.Err)
}

func (e *PartUploadError) Unwrap() error {
	return e.Err
}

// MapHTTPStatus maps storage errors to HTTP status codes.
func MapHTTPStatus(err error) int {
	if errors.Is(err, ErrNotFound) {
		return http.StatusNotFound
	}
	if errors.Is(err, ErrEmptyKey) || errors.Is(err, ErrInvalidKey) {
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

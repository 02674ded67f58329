package httpclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ResponseError indicates the remote service returned an error status.
type ResponseError struct {
	Method     string
	URL        string
	StatusCode int
	Body       []byte
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("%s %s: status %d", e.Method, e.URL, e.StatusCode)
}

// TransportError indicates no response was received.
type TransportError struct {
	Method string
	URL    string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Method, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ConfigError indicates local misuse of the client.
type ConfigError struct {
	Err error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("client config: %v", e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// UnknownError wraps any error outside the client taxonomy.
type UnknownError struct {
	Err error
}

func (e *UnknownError) Error() string {
	return fmt.Sprintf("unknown client error: %v", e.Err)
}

func (e *UnknownError) Unwrap() error {
	return e.Err
}

// Normalize maps err onto the client error taxonomy. Errors that already
// belong to it are returned unchanged; nil stays nil.
func Normalize(err error) error {
	if err == nil {
		return nil
	}

	var respErr *ResponseError
	var transErr *TransportError
	var cfgErr *ConfigError
	var unkErr *UnknownError

	switch {
	case errors.As(err, &respErr),
		errors.As(err, &transErr),
		errors.As(err, &cfgErr),
		errors.As(err, &unkErr):
		return err
	}

	return &UnknownError{Err: err}
}

// IsRetryable reports whether err is transient: a transport failure other
// than caller cancellation, or a remote 429 / 5xx status.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var transErr *TransportError
	if errors.As(err, &transErr) {
		return !errors.Is(transErr.Err, context.Canceled)
	}

	var respErr *ResponseError
	if errors.As(err, &respErr) {
		return IsRetryableStatus(respErr.StatusCode)
	}

	return false
}

// IsRetryableStatus reports whether an HTTP status code is worth retrying.
func IsRetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

// StatusCode returns the remote status carried by err, or 0.
func StatusCode(err error) int {
	var respErr *ResponseError
	if errors.As(err, &respErr) {
		return respErr.StatusCode
	}
	return 0
}

package types

import (
	"errors"
	"fmt"
	"net/http"
)

// AuthError reports a missing or rejected credential, either a caller's
// bearer token or the service account used to reach the registry.
type AuthError struct {
	Reason string
	Err    error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth: %s: %v", e.Reason, e.Err)
	}
	return "auth: " + e.Reason
}

func (e *AuthError) Unwrap() error { return e.Err }

// ValidationError reports a request missing required fields.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: missing required fields %v", e.Fields)
}

// BackendError wraps a failed call to the registry, state store or log sink.
// StatusCode is an HTTP status derived from the backend response, 0 if unknown.
type BackendError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// MalformedMessageError reports an event missing required fields.
type MalformedMessageError struct {
	Reason string
}

func (e *MalformedMessageError) Error() string {
	return "malformed message: " + e.Reason
}

// StatusCode returns the HTTP status an error should be reported with:
// the status carried by a BackendError, otherwise 401.
func StatusCode(err error) int {
	var backendErr *BackendError
	if errors.As(err, &backendErr) && backendErr.StatusCode != 0 {
		return backendErr.StatusCode
	}
	return http.StatusUnauthorized
}

// Package cloud provides authenticated clients for the tree store
// (Database), the typed-document store (Store) and the blob store (Storage),
// plus the identity-token lifecycle they share.
//
// Every resource client owns one Session: a single keep-alive connection
// guarded by a mutex, so requests on one client never interleave. Distinct
// clients run independently. Nothing retries; callers inspect the returned
// error and decide.
package cloud

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/tonimelisma/firecloud-go/internal/typedvalue"
)

// Sentinel errors for outcome classification.
// Use errors.Is(err, cloud.ErrNotFound) to check.
var (
	ErrTransport      = errors.New("cloud: transport failure")
	ErrNotFound       = errors.New("cloud: not found")
	ErrForbidden      = errors.New("cloud: forbidden")
	ErrInvalidRequest = errors.New("cloud: invalid request")
	ErrDecode         = errors.New("cloud: decode failure")

	// ErrEncodeRejected is returned when a document nests an array directly
	// inside another array.
	ErrEncodeRejected = typedvalue.ErrNestedArray
)

// APIError wraps a sentinel error with the HTTP status and the body the
// server sent back.
type APIError struct {
	StatusCode int
	Status     string // e.g. "404 Not Found"
	Message    string
	Err        error // sentinel, for errors.Is()
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("cloud: HTTP %s: %s", e.Status, e.Message)
	}

	return fmt.Sprintf("cloud: HTTP %s", e.Status)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// classifyStatus maps an HTTP status code to a sentinel error.
// Returns nil for 2xx.
func classifyStatus(code int) error {
	switch {
	case code >= http.StatusOK && code < http.StatusMultipleChoices:
		return nil
	case code == http.StatusNotFound:
		return ErrNotFound
	case code == http.StatusForbidden:
		return ErrForbidden
	default:
		return ErrInvalidRequest
	}
}

// statusText renders the status line the way net/http does when the
// transport left resp.Status empty (test doubles often do).
func statusText(code int, status string) string {
	if status != "" {
		return status
	}

	return fmt.Sprintf("%d %s", code, http.StatusText(code))
}

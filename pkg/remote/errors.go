package remote

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrMissingCredentials is returned by New when the server URL, username or
// password is not configured.
var ErrMissingCredentials = errors.New("server, username and password must be configured")

// ErrResponseTooLarge is returned when a response body exceeds its size
// limit. The body is never truncated silently.
var ErrResponseTooLarge = errors.New("response body too large")

// ErrNotFound matches a RejectedError with status 404.
var ErrNotFound = errors.New("not found")

// UnavailableError reports a transport level failure: DNS, connect, TLS,
// timeout or a connection dropped while reading the body.
type UnavailableError struct {
	URL string
	Err error
}

func (e *UnavailableError) Error() string {
	return fmt.Sprintf("server unavailable for %s: %v", e.URL, e.Err)
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// RejectedError reports a response outside the 2xx range.
type RejectedError struct {
	URL    string
	Status int
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("server rejected %s: %d %s", e.URL, e.Status, http.StatusText(e.Status))
}

// Is lets errors.Is(err, ErrNotFound) match 404 responses.
func (e *RejectedError) Is(target error) bool {
	return target == ErrNotFound && e.Status == http.StatusNotFound
}

// IsAuthFailure reports whether the server refused the credentials.
func (e *RejectedError) IsAuthFailure() bool {
	return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
}

// Kind classifies err for logging: "unavailable", "rejected" or "" for
// errors that did not come from the server.
func Kind(err error) string {
	var unavailable *UnavailableError
	var rejected *RejectedError
	switch {
	case errors.As(err, &rejected):
		return "rejected"
	case errors.As(err, &unavailable):
		return "unavailable"
	default:
		return ""
	}
}

// IsRetryable reports whether err came from the server and is worth another
// pass. Both transport failures and rejections qualify.
func IsRetryable(err error) bool {
	return Kind(err) != ""
}

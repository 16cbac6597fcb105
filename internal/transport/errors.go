package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
)

var (
	// ErrBodyNotReplayable is returned when a request must be retried after a
	// refresh but its body has no GetBody to rewind it.
	ErrBodyNotReplayable = errors.New("request body cannot be replayed")

	// ErrRetryRejected is returned when a request already retried with a fresh token is rejected again.
	ErrRetryRejected = errors.New("request rejected after token refresh")

	// ErrEmptyToken is returned when the refresh endpoint answers without an access token.
	ErrEmptyToken = errors.New("refresh returned an empty access token")
)

// TransportError reports a network failure or timeout. The request may be retried by the caller.
type TransportError struct {
	Method string
	URL    string
	Err    error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: transport failure: %v", e.Method, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Timeout returns true if the failure was a deadline rather than a connection error.
func (e *TransportError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(e.Err, &netErr) && netErr.Timeout()
}

// AuthorizationError reports a 401 that could not be recovered by refreshing
// the access token. The session is over once this error is seen.
type AuthorizationError struct {
	Method string
	URL    string
	Err    error
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("%s %s: unauthorized: %v", e.Method, e.URL, e.Err)
}

func (e *AuthorizationError) Unwrap() error { return e.Err }

// Unrecoverable is always true, retrying the request cannot succeed without a new login.
func (e *AuthorizationError) Unrecoverable() bool { return true }

// IsTransportError reports whether err is, or wraps, a TransportError.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}

// IsAuthorizationError reports whether err is, or wraps, an AuthorizationError.
func IsAuthorizationError(err error) bool {
	var ae *AuthorizationError
	return errors.As(err, &ae)
}

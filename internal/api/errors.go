package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/electra-analytics/electra/internal/transport"
)

// ValidationError is returned by Login when the backend rejects the credentials.
// It is shown to the user as is and never retried.
type ValidationError struct {
	StatusCode int
	Message    string
}

func (e *ValidationError) Error() string {
	if e.Message == "" {
		return "invalid credentials"
	}
	return "invalid credentials: " + e.Message
}

// IsValidationError reports whether err is, or wraps, a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// StatusError is an unexpected HTTP status from the backend.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Detail     string
}

func (e *StatusError) Error() string {
	msg := fmt.Sprintf("%s %s: unexpected status %d %s", e.Method, e.URL, e.StatusCode, http.StatusText(e.StatusCode))
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func newStatusError(resp *http.Response) *StatusError {
	return &StatusError{
		Method:     resp.Request.Method,
		URL:        resp.Request.URL.Redacted(),
		StatusCode: resp.StatusCode,
		Detail:     readDetail(resp.Body),
	}
}

// readDetail extracts the "detail" message of an error body, falling back to the raw text.
func readDetail(body io.Reader) string {
	raw, err := io.ReadAll(io.LimitReader(body, 4<<10))
	if err != nil || len(raw) == 0 {
		return ""
	}

	var payload struct {
		Detail json.RawMessage `json:"detail"`
	}
	if json.Unmarshal(raw, &payload) == nil && len(payload.Detail) > 0 {
		var msg string
		if json.Unmarshal(payload.Detail, &msg) == nil {
			return msg
		}
		return string(payload.Detail)
	}
	return strings.TrimSpace(string(raw))
}

// transportFailure turns a client error into a TransportError unless the
// authenticated transport already classified it.
func transportFailure(req *http.Request, err error) error {
	if transport.IsTransportError(err) || transport.IsAuthorizationError(err) {
		return err
	}
	if errors.Is(err, transport.ErrBodyNotReplayable) {
		return err
	}
	return &transport.TransportError{Method: req.Method, URL: req.URL.Redacted(), Err: err}
}

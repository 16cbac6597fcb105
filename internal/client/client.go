// Package client builds the HTTP plumbing shared by the session core: the
// instrumented base transport, the response cache and the refresh cookie jar.
package client

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Config holds common client configuration
type Config struct {
	ServerURL string
	Timeout   time.Duration
	Debug     bool

	// Cache enables the response cache on authenticated reads.
	Cache bool
	// CacheDir persists cached responses on disk, memory is used when empty.
	CacheDir string
	// Tracing wraps the base transport with otelhttp.
	Tracing bool
}

// DefaultConfig returns a default client configuration
func DefaultConfig() Config {
	return Config{
		ServerURL: "http://localhost:8000/api",
		Timeout:   30 * time.Second,
	}
}

// Validate checks the server URL is absolute and the timeout positive.
func (c Config) Validate() error {
	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return fmt.Errorf("invalid server URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid server URL %q: scheme must be http or https", c.ServerURL)
	}
	if u.Host == "" {
		return errors.New("invalid server URL: missing host")
	}
	if c.Timeout <= 0 {
		return errors.New("timeout must be positive")
	}
	return nil
}

// Endpoint joins path onto the server URL.
func (c Config) Endpoint(path string) string {
	return strings.TrimSuffix(c.ServerURL, "/") + "/" + strings.TrimPrefix(path, "/")
}

// NewBaseTransport returns the round tripper every client of the session core
// sends through. It never attaches credentials.
func NewBaseTransport(config Config) http.RoundTripper {
	base := http.DefaultTransport.(*http.Transport).Clone()
	base.ResponseHeaderTimeout = config.Timeout

	if !config.Tracing {
		return base
	}
	return otelhttp.NewTransport(base)
}

// NewHTTPClient creates a plain client on the base transport. Login, refresh and
// logout go through it, never through the authenticated transport.
func NewHTTPClient(config Config, jar http.CookieJar) *http.Client {
	return &http.Client{
		Transport: NewBaseTransport(config),
		Timeout:   config.Timeout,
		Jar:       jar,
	}
}

// Package transport is the authenticated HTTP transport of the dashboard. It
// attaches the stored bearer token to every request and, when the backend
// answers 401, refreshes the token once for all concurrent callers.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/electra-analytics/electra/internal/credentials"
	"github.com/electra-analytics/electra/internal/telemetry"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/oauth2"
)

// DefaultTimeout bounds every outbound request, the refresh call included.
const DefaultTimeout = 30 * time.Second

const tracerName = "github.com/electra-analytics/electra/internal/transport"

// Refresher exchanges the out-of-band refresh credential for a new access token.
// Implementations must not send their request through a Transport.
type Refresher interface {
	Refresh(ctx context.Context) (*oauth2.Token, error)
}

// RefresherFunc adapts a function to Refresher.
type RefresherFunc func(ctx context.Context) (*oauth2.Token, error)

func (f RefresherFunc) Refresh(ctx context.Context) (*oauth2.Token, error) { return f(ctx) }

// UnauthorizedFunc is invoked once per unrecoverable authorization failure,
// after the stored token has been cleared.
type UnauthorizedFunc func(ctx context.Context, err error)

// Option configures a Transport.
type Option func(*Transport)

// WithBase sets the round tripper requests are sent through, http.DefaultTransport by default.
func WithBase(base http.RoundTripper) Option {
	return func(t *Transport) {
		if base != nil {
			t.base = base
		}
	}
}

// WithOnUnauthorized sets the forced-logout capability.
func WithOnUnauthorized(fn UnauthorizedFunc) Option {
	return func(t *Transport) {
		t.onUnauthorized = fn
	}
}

// WithRefreshTimeout bounds the refresh call, DefaultTimeout by default.
func WithRefreshTimeout(d time.Duration) Option {
	return func(t *Transport) {
		if d > 0 {
			t.refreshTimeout = d
		}
	}
}

// Transport implements http.RoundTripper with bearer injection and
// single-flight token refresh. All refresh state is owned by the instance.
type Transport struct {
	base           http.RoundTripper
	store          credentials.Store
	refresher      Refresher
	onUnauthorized UnauthorizedFunc
	refreshTimeout time.Duration
	metrics        *telemetry.Metrics

	mu       sync.Mutex
	inflight *refreshCall
	last     *refreshCall // most recently settled refresh
	gen      uint64       // incremented each time a refresh settles
}

var _ http.RoundTripper = (*Transport)(nil)

// refreshCall is an in-flight refresh. Callers parked on it all observe the same outcome.
type refreshCall struct {
	done  chan struct{}
	token *oauth2.Token
	err   error
}

// New creates a Transport reading and writing tokens through store and
// refreshing them through refresher.
func New(store credentials.Store, refresher Refresher, opts ...Option) *Transport {
	t := &Transport{
		base:           http.DefaultTransport,
		store:          store,
		refresher:      refresher,
		refreshTimeout: DefaultTimeout,
		metrics:        telemetry.GetMetrics(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// NewClient wraps a Transport in an http.Client bounded by timeout (DefaultTimeout when zero).
func NewClient(t *Transport, timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &http.Client{
		Transport: t,
		Timeout:   timeout,
	}
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	gen := t.generation()
	tok, err := t.currentToken(ctx)
	if err != nil {
		closeBody(req)
		return nil, fmt.Errorf("failed to read access token: %w", err)
	}

	resp, err := t.send(req, tok)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}
	discard(resp)

	if IsRetried(ctx) {
		return nil, t.reject(ctx, req, ErrRetryRejected)
	}

	fresh, err := t.awaitToken(req, tok, gen)
	if err != nil {
		return nil, err
	}

	retry, err := replay(req)
	if err != nil {
		return nil, err
	}

	resp, err = t.send(retry, fresh)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		discard(resp)
		return nil, t.reject(ctx, req, ErrRetryRejected)
	}

	return resp, nil
}

// send clones req, replaces its Authorization header and sends it through the base transport.
func (t *Transport) send(req *http.Request, tok *oauth2.Token) (*http.Response, error) {
	out := req.Clone(req.Context())
	out.Header.Del("Authorization")
	if tok != nil {
		tok.SetAuthHeader(out)
	}

	resp, err := t.base.RoundTrip(out)
	if err != nil {
		return nil, &TransportError{Method: req.Method, URL: req.URL.Redacted(), Err: err}
	}
	return resp, nil
}

// awaitToken returns a token to retry req with after stale was rejected. It
// either parks on the refresh in flight or becomes the refresh owner.
// sentGen is the refresh generation observed before req was sent.
// A failed refresh is reported as an AuthorizationError annotated with req.
func (t *Transport) awaitToken(req *http.Request, stale *oauth2.Token, sentGen uint64) (*oauth2.Token, error) {
	ctx := req.Context()

	t.mu.Lock()
	if call := t.inflight; call != nil {
		t.mu.Unlock()
		return t.wait(req, call)
	}

	// A refresh may have completed while this request was on the wire.
	current, err := t.currentToken(ctx)
	if err != nil {
		t.mu.Unlock()
		return nil, fmt.Errorf("failed to read access token: %w", err)
	}
	if current != nil && (stale == nil || current.AccessToken != stale.AccessToken) {
		t.mu.Unlock()
		log.Debug().
			Str("fingerprint", credentials.Fingerprint(current.AccessToken)).
			Msg("token already refreshed, retrying without refresh")
		return current, nil
	}
	// The request shares the fate of a failed refresh that settled while it was
	// on the wire, or that left it without a token to send.
	if last := t.last; last != nil && last.err != nil && (t.gen != sentGen || stale == nil) {
		t.mu.Unlock()
		return nil, &AuthorizationError{Method: req.Method, URL: req.URL.Redacted(), Err: last.err}
	}

	call := &refreshCall{done: make(chan struct{})}
	t.inflight = call
	t.mu.Unlock()

	call.token, call.err = t.refresh(ctx)

	t.mu.Lock()
	t.inflight = nil
	t.last = call
	t.gen++
	t.mu.Unlock()
	close(call.done)

	if call.err != nil {
		t.forceLogout(ctx, call.err)
		return nil, &AuthorizationError{Method: req.Method, URL: req.URL.Redacted(), Err: call.err}
	}
	return call.token, nil
}

// wait parks the caller until the refresh in flight settles or the request context ends.
func (t *Transport) wait(req *http.Request, call *refreshCall) (*oauth2.Token, error) {
	ctx := req.Context()

	t.metrics.RefreshWaitersTotal.Add(ctx, 1)
	log.Debug().Str("url", req.URL.Redacted()).Msg("refresh in flight, parking request")

	select {
	case <-call.done:
		if call.err != nil {
			return nil, &AuthorizationError{Method: req.Method, URL: req.URL.Redacted(), Err: call.err}
		}
		return call.token, nil
	case <-ctx.Done():
		return nil, &TransportError{Method: req.Method, URL: req.URL.Redacted(), Err: ctx.Err()}
	}
}

// refresh calls the refresher detached from the caller's cancellation and
// stores the new token. On failure the stored token is cleared.
func (t *Transport) refresh(ctx context.Context) (*oauth2.Token, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.refreshTimeout)
	defer cancel()

	ctx, span := otel.Tracer(tracerName).Start(ctx, "transport.refresh")
	defer span.End()

	started := time.Now()
	t.metrics.RefreshTotal.Add(ctx, 1)

	tok, err := t.refresher.Refresh(ctx)
	if err == nil && (tok == nil || tok.AccessToken == "") {
		err = ErrEmptyToken
	}
	if err == nil {
		if serr := t.store.Set(ctx, tok); serr != nil {
			err = fmt.Errorf("failed to store refreshed token: %w", serr)
		}
	}

	t.metrics.RefreshDuration.Record(ctx, float64(time.Since(started).Milliseconds()),
		metric.WithAttributes(attribute.Bool("success", err == nil)))

	if err != nil {
		t.metrics.RefreshErrorsTotal.Add(ctx, 1)
		span.RecordError(err)
		span.SetStatus(codes.Error, "refresh failed")

		if cerr := t.store.Clear(ctx); cerr != nil {
			log.Error().Err(cerr).Msg("failed to clear token after refresh failure")
		}

		log.Warn().Err(err).Dur("duration", time.Since(started)).Msg("token refresh failed")
		return nil, err
	}

	log.Debug().
		Str("fingerprint", credentials.Fingerprint(tok.AccessToken)).
		Dur("duration", time.Since(started)).
		Msg("token refreshed")

	return tok, nil
}

// reject ends the session after a retried request was refused again.
func (t *Transport) reject(ctx context.Context, req *http.Request, cause error) error {
	authErr := &AuthorizationError{Method: req.Method, URL: req.URL.Redacted(), Err: cause}

	if err := t.store.Clear(ctx); err != nil {
		log.Error().Err(err).Msg("failed to clear token after rejected retry")
	}
	t.forceLogout(ctx, authErr)

	return authErr
}

// forceLogout notifies the owner of the session that it is over.
func (t *Transport) forceLogout(ctx context.Context, err error) {
	t.metrics.ForcedLogoutTotal.Add(ctx, 1)
	if t.onUnauthorized != nil {
		t.onUnauthorized(ctx, err)
	}
}

func (t *Transport) generation() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.gen
}

func (t *Transport) currentToken(ctx context.Context) (*oauth2.Token, error) {
	tok, err := t.store.Get(ctx)
	if err != nil {
		if errors.Is(err, credentials.ErrNoToken) {
			return nil, nil
		}
		return nil, err
	}
	return tok, nil
}

type retriedKey struct{}

// MarkRetried flags req as already retried: a 401 answer to it is terminal.
func MarkRetried(req *http.Request) *http.Request {
	return req.WithContext(context.WithValue(req.Context(), retriedKey{}, true))
}

// IsRetried reports whether the request context carries the retried flag.
func IsRetried(ctx context.Context) bool {
	retried, _ := ctx.Value(retriedKey{}).(bool)
	return retried
}

// replay returns a retried copy of req with a rewound body.
func replay(req *http.Request) (*http.Request, error) {
	retry := MarkRetried(req)
	if req.Body == nil || req.Body == http.NoBody {
		return retry, nil
	}
	if req.GetBody == nil {
		return nil, ErrBodyNotReplayable
	}

	body, err := req.GetBody()
	if err != nil {
		return nil, fmt.Errorf("failed to rewind request body: %w", err)
	}
	retry = retry.Clone(retry.Context())
	retry.Body = body
	return retry, nil
}

func discard(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}

func closeBody(req *http.Request) {
	if req.Body != nil {
		_ = req.Body.Close()
	}
}

// Package session owns the in-memory session of the dashboard: who is logged
// in and whether their token was validated. Manager is the only writer.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/electra-analytics/electra/internal/credentials"
	"github.com/electra-analytics/electra/internal/models"
	"github.com/electra-analytics/electra/internal/telemetry"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/oauth2"
)

var (
	// ErrNotAuthenticated is returned by operations needing a validated session.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrSuperseded is returned by Login when a logout or another login
	// happened while it was in flight. Nothing was applied.
	ErrSuperseded = errors.New("session changed while login was in flight")
)

// DefaultRestoreTimeout bounds the profile fetch of a restore.
const DefaultRestoreTimeout = 30 * time.Second

// Backend is the Session Backend the manager drives.
type Backend interface {
	// Login exchanges credentials for an access token.
	Login(ctx context.Context, username, password string) (*oauth2.Token, error)
	// Logout revokes the out-of-band refresh credential. tok may be nil.
	Logout(ctx context.Context, tok *oauth2.Token) error
	// CurrentUser fetches the profile of the stored token's holder.
	CurrentUser(ctx context.Context) (*models.User, error)
}

// Option configures a Manager.
type Option func(*Manager)

// WithRestoreTimeout bounds the validation performed by Restore.
func WithRestoreTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.restoreTimeout = d
		}
	}
}

// Manager is the session state machine.
//
// Every transition bumps an epoch. Operations that span network calls apply
// their result only if the epoch is unchanged, so the latest login, logout
// or expiry always wins.
type Manager struct {
	store          credentials.Store
	backend        Backend
	restoreTimeout time.Duration
	metrics        *telemetry.Metrics

	mu        sync.Mutex
	state     State
	user      *models.User
	epoch     uint64
	restoring *restoreCall
}

type restoreCall struct {
	done  chan struct{}
	state State
	err   error
}

// NewManager creates a Manager in the Unknown state.
func NewManager(store credentials.Store, backend Backend, opts ...Option) *Manager {
	m := &Manager{
		store:          store,
		backend:        backend,
		restoreTimeout: DefaultRestoreTimeout,
		metrics:        telemetry.GetMetrics(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Snapshot returns a copy of the session.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{State: m.state, User: m.user.Clone()}
}

// IsAuthenticated reports whether the session is Authenticated.
func (m *Manager) IsAuthenticated() bool {
	return m.Snapshot().IsAuthenticated()
}

// User returns the authenticated user or ErrNotAuthenticated.
func (m *Manager) User() (*models.User, error) {
	snap := m.Snapshot()
	if !snap.IsAuthenticated() {
		return nil, ErrNotAuthenticated
	}
	return snap.User, nil
}

// Login authenticates against the backend, stores the token and fetches the
// profile. Backend errors are returned unchanged and leave the session
// Unauthenticated.
func (m *Manager) Login(ctx context.Context, username, password string) (*models.User, error) {
	m.mu.Lock()
	m.epoch++
	epoch := m.epoch
	m.state = Authenticating
	m.user = nil
	m.mu.Unlock()

	m.metrics.LoginTotal.Add(ctx, 1)
	logger := log.With().Str("username", username).Logger()

	fail := func(err error) (*models.User, error) {
		m.metrics.LoginErrorsTotal.Add(ctx, 1)
		m.settle(epoch, Unauthenticated, nil)
		logger.Info().Err(err).Msg("login failed")
		return nil, err
	}

	tok, err := m.backend.Login(ctx, username, password)
	if err != nil {
		return fail(err)
	}

	m.mu.Lock()
	if m.epoch != epoch {
		m.mu.Unlock()
		return nil, ErrSuperseded
	}
	err = m.store.Set(ctx, tok)
	m.mu.Unlock()
	if err != nil {
		return fail(fmt.Errorf("failed to store access token: %w", err))
	}

	user, err := m.backend.CurrentUser(ctx)
	if err != nil {
		m.clearToken(ctx, epoch)
		return fail(err)
	}

	if !m.settle(epoch, Authenticated, user) {
		return nil, ErrSuperseded
	}

	logger.Info().
		Int64("user_id", user.ID).
		Str("role", string(user.Role)).
		Str("fingerprint", credentials.Fingerprint(tok.AccessToken)).
		Msg("logged in")

	return user.Clone(), nil
}

// Logout ends the session locally and notifies the backend on a best-effort basis.
// It always succeeds: backend and storage errors are only logged.
func (m *Manager) Logout(ctx context.Context) {
	m.mu.Lock()
	m.epoch++
	tok, err := m.store.Get(ctx)
	if err != nil {
		tok = nil
	}
	if err := m.store.Clear(ctx); err != nil {
		log.Error().Err(err).Msg("failed to clear access token on logout")
	}
	m.state = Unauthenticated
	m.user = nil
	m.mu.Unlock()

	if err := m.backend.Logout(ctx, tok); err != nil {
		log.Warn().Err(err).Msg("backend logout failed")
	}

	log.Info().Msg("logged out")
}

// Expire ends the session after the transport gave up on the token, which it
// has already cleared. It matches transport.UnauthorizedFunc.
func (m *Manager) Expire(ctx context.Context, cause error) {
	m.mu.Lock()
	m.epoch++
	prev := m.state
	m.state = Unauthenticated
	m.user = nil
	m.mu.Unlock()

	log.Warn().Err(cause).Str("previous", prev.String()).Msg("session expired")
}

// Restore validates the persisted token once per process. Concurrent callers
// share one validation; once the state is settled Restore returns it without I/O.
// A caller whose context ends while waiting gets the context error and the
// restore keeps running for the others.
func (m *Manager) Restore(ctx context.Context) (State, error) {
	m.mu.Lock()
	if m.state != Unknown {
		state := m.state
		m.mu.Unlock()
		return state, nil
	}

	call := m.restoring
	if call == nil {
		call = &restoreCall{done: make(chan struct{})}
		m.restoring = call
		go m.restore(context.WithoutCancel(ctx), call, m.epoch)
	}
	m.mu.Unlock()

	select {
	case <-call.done:
		return call.state, call.err
	case <-ctx.Done():
		return Unknown, ctx.Err()
	}
}

func (m *Manager) restore(ctx context.Context, call *restoreCall, epoch uint64) {
	ctx, cancel := context.WithTimeout(ctx, m.restoreTimeout)
	defer cancel()

	call.state, call.err = m.validate(ctx, epoch)

	m.mu.Lock()
	if m.restoring == call {
		m.restoring = nil
	}
	m.mu.Unlock()
	close(call.done)
}

func (m *Manager) validate(ctx context.Context, epoch uint64) (State, error) {
	outcome := "no_token"
	defer func() {
		m.metrics.RestoreTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	}()

	tok, err := m.store.Get(ctx)
	if err != nil {
		if !errors.Is(err, credentials.ErrNoToken) {
			outcome = "store_error"
			log.Warn().Err(err).Msg("failed to read persisted token")
		}
		return m.settled(epoch, Unauthenticated, nil), nil
	}

	user, err := m.backend.CurrentUser(ctx)
	if err != nil {
		outcome = "rejected"
		m.clearToken(ctx, epoch)
		log.Info().Err(err).Str("fingerprint", credentials.Fingerprint(tok.AccessToken)).Msg("persisted token rejected")
		return m.settled(epoch, Unauthenticated, nil), err
	}

	outcome = "restored"
	log.Info().Int64("user_id", user.ID).Str("role", string(user.Role)).Msg("session restored")
	return m.settled(epoch, Authenticated, user), nil
}

// settle applies a transition if no other transition happened since epoch.
func (m *Manager) settle(epoch uint64, state State, user *models.User) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.epoch != epoch {
		return false
	}
	m.epoch++
	m.state = state
	m.user = user.Clone()
	return true
}

// settled is settle returning the state in effect afterwards.
func (m *Manager) settled(epoch uint64, state State, user *models.User) State {
	m.settle(epoch, state, user)
	return m.State()
}

// clearToken drops the persisted token unless the session moved on since epoch.
func (m *Manager) clearToken(ctx context.Context, epoch uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.epoch != epoch {
		return
	}
	if err := m.store.Clear(ctx); err != nil {
		log.Error().Err(err).Msg("failed to clear rejected access token")
	}
}

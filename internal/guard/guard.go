// Package guard gates protected handlers on the session state.
package guard

import (
	"context"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"sync"

	httpx "github.com/electra-analytics/electra/internal/http"
	"github.com/electra-analytics/electra/internal/models"
	"github.com/electra-analytics/electra/internal/session"
	"github.com/electra-analytics/electra/internal/telemetry"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// DefaultLoginPath is where unauthenticated requests are redirected.
const DefaultLoginPath = "/login"

// Sessions is the view of the session manager a guard needs.
type Sessions interface {
	Snapshot() session.Snapshot
	Restore(ctx context.Context) (session.State, error)
}

// PolicyError is a role mismatch: the user is authenticated but may not see the view.
type PolicyError struct {
	Role     models.Role
	Required []models.Role
}

func (e *PolicyError) Error() string {
	required := make([]string, len(e.Required))
	for i, r := range e.Required {
		required[i] = string(r)
	}
	return fmt.Sprintf("role %q is not allowed, requires one of: %s", e.Role, strings.Join(required, ", "))
}

// Option configures a Guard.
type Option func(*Guard)

// WithLoginPath sets the login entry point, DefaultLoginPath by default.
func WithLoginPath(path string) Option {
	return func(g *Guard) {
		if path != "" {
			g.loginPath = path
		}
	}
}

// WithRoles restricts the guarded views to users holding one of roles.
func WithRoles(roles ...models.Role) Option {
	return func(g *Guard) {
		g.roles = append(g.roles, roles...)
	}
}

// Guard is one mounted gate. It triggers session restoration at most once
// over its lifetime and stops caring about the result once closed.
type Guard struct {
	sessions  Sessions
	loginPath string
	roles     []models.Role
	metrics   *telemetry.Metrics

	// mu orders starting the restore goroutine against Close.
	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	restore sync.Once
	wg      sync.WaitGroup
}

// New mounts a guard over sessions.
func New(sessions Sessions, opts ...Option) *Guard {
	ctx, cancel := context.WithCancel(context.Background())
	g := &Guard{
		sessions:  sessions,
		loginPath: DefaultLoginPath,
		metrics:   telemetry.GetMetrics(),
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Close unmounts the guard. A restore still in flight is left to the session
// manager, its outcome is not observed by this guard.
func (g *Guard) Close() {
	g.mu.Lock()
	g.cancel()
	g.mu.Unlock()
	g.wg.Wait()
}

// Middleware gates next on the session state.
func (g *Guard) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		snap := g.sessions.Snapshot()

		html := wantsHTML(r)

		switch {
		case snap.State == session.Unknown || snap.State == session.Authenticating:
			if snap.State == session.Unknown {
				g.triggerRestore()
			}
			g.decision(r, "loading")
			if html {
				renderLoading(w, r)
				return
			}
			w.Header().Set("Retry-After", "1")
			writeProblem(w, http.StatusServiceUnavailable, "Session is being restored")

		case !snap.IsAuthenticated():
			g.decision(r, "redirect")
			if html {
				http.Redirect(w, r, httpx.LoginRedirect(g.loginPath, r.URL.RequestURI()), http.StatusFound)
				return
			}
			writeProblem(w, http.StatusUnauthorized, "Not authenticated")

		case !g.allowed(snap.User.Role):
			g.decision(r, "denied")
			err := &PolicyError{Role: snap.User.Role, Required: g.roles}
			log.Info().Err(err).Int64("user_id", snap.User.ID).Str("path", r.URL.Path).Msg("access denied")
			if html {
				renderDenied(w, r, err)
				return
			}
			writeProblem(w, http.StatusForbidden, err.Error())

		default:
			g.decision(r, "allowed")
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), snap.User)))
		}
	})
}

func (g *Guard) allowed(role models.Role) bool {
	return len(g.roles) == 0 || slices.Contains(g.roles, role)
}

// triggerRestore starts the session restoration the first time the guard sees Unknown.
func (g *Guard) triggerRestore() {
	g.restore.Do(func() {
		g.mu.Lock()
		defer g.mu.Unlock()
		if g.ctx.Err() != nil {
			return
		}
		g.wg.Go(func() {
			state, err := g.sessions.Restore(g.ctx)
			if g.ctx.Err() != nil {
				log.Debug().Msg("guard closed, discarding restore result")
				return
			}
			if err != nil {
				log.Info().Err(err).Str("state", state.String()).Msg("session restore failed")
				return
			}
			log.Debug().Str("state", state.String()).Msg("session restored")
		})
	})
}

// wantsHTML reports whether the caller navigates to a page rather than
// fetching data. Requests without an Accept header are treated as navigation.
func wantsHTML(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	if accept == "" {
		return true
	}
	for part := range strings.SplitSeq(accept, ",") {
		mediaType, _, _ := strings.Cut(strings.TrimSpace(part), ";")
		switch strings.TrimSpace(mediaType) {
		case "text/html", "application/xhtml+xml":
			return true
		}
	}
	return false
}

func (g *Guard) decision(r *http.Request, outcome string) {
	g.metrics.GuardDecisionsTotal.Add(r.Context(), 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

type userKey struct{}

// WithUser returns a context carrying user.
func WithUser(ctx context.Context, user *models.User) context.Context {
	return context.WithValue(ctx, userKey{}, user)
}

// UserFromContext returns the user placed on the context by the guard.
func UserFromContext(ctx context.Context) (*models.User, bool) {
	user, ok := ctx.Value(userKey{}).(*models.User)
	return user, ok && user != nil
}

// Package website serves the locally protected dashboard shell: the login
// form, the guarded views and a proxy to the backend API.
package website

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"filippo.io/csrf"
	"github.com/klauspost/compress/gzhttp"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/electra-analytics/electra/internal/api"
	"github.com/electra-analytics/electra/internal/guard"
	httpx "github.com/electra-analytics/electra/internal/http"
	"github.com/electra-analytics/electra/internal/logger"
	"github.com/electra-analytics/electra/internal/models"
	"github.com/electra-analytics/electra/internal/session"
	"github.com/electra-analytics/electra/internal/transport"
)

// Config holds the dashboard shell settings.
type Config struct {
	LoginPath   string
	DefaultNext string

	// APIRoot is the backend API root the /api/ proxy forwards to.
	APIRoot string

	TrustProxy bool
	Tracing    bool
}

// DefaultConfig returns the settings used by `electra serve`.
func DefaultConfig() Config {
	return Config{
		LoginPath:   guard.DefaultLoginPath,
		DefaultNext: "/dashboard",
		APIRoot:     "http://localhost:8000/api",
	}
}

// Server is the dashboard shell of one process.
type Server struct {
	config    Config
	sessions  *session.Manager
	transport http.RoundTripper
	logger    zerolog.Logger

	guards []*guard.Guard
}

// NewServer creates a shell over sessions. rt must be the authenticated
// transport the session manager's backend uses.
func NewServer(config Config, sessions *session.Manager, rt http.RoundTripper, logger zerolog.Logger) *Server {
	if config.LoginPath == "" {
		config.LoginPath = guard.DefaultLoginPath
	}
	if config.DefaultNext == "" {
		config.DefaultNext = "/dashboard"
	}
	return &Server{
		config:    config,
		sessions:  sessions,
		transport: rt,
		logger:    logger,
	}
}

// Handler builds the routes and middleware of the shell.
func (s *Server) Handler() (http.Handler, error) {
	apiRoot, err := url.Parse(s.config.APIRoot)
	if err != nil || apiRoot.Scheme == "" || apiRoot.Host == "" {
		return nil, fmt.Errorf("invalid api root %q", s.config.APIRoot)
	}

	anyRole := s.mount()
	managers := s.mount(guard.WithRoles(models.RoleAdmin, models.RoleLeader))

	mux := http.NewServeMux()
	mux.HandleFunc("GET "+s.config.LoginPath, s.handleLoginForm)
	mux.HandleFunc("POST "+s.config.LoginPath, s.handleLogin)
	mux.HandleFunc("POST /logout", s.handleLogout)
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, s.config.DefaultNext, http.StatusFound)
	})

	mux.Handle("GET /dashboard", anyRole.Middleware(s.page("dashboard", "Dashboard")))
	mux.Handle("GET /products", anyRole.Middleware(s.page("products", "Products")))
	mux.Handle("GET /reports", anyRole.Middleware(s.page("reports", "Reports")))
	mux.Handle("GET /settings", managers.Middleware(s.page("settings", "Settings")))

	mux.Handle("/api/", anyRole.Middleware(newProxy(apiRoot, s.transport)))

	var handler http.Handler = gzhttp.GzipHandler(csrf.New().Handler(mux))
	handler = logger.RequestLogger(s.logger)(handler)
	handler = httpx.ClientIPMiddleware(s.config.TrustProxy)(handler)
	if s.config.Tracing {
		handler = otelhttp.NewHandler(handler, "electra-serve")
	}
	return handler, nil
}

// Close unmounts the guards of the shell.
func (s *Server) Close() {
	for _, g := range s.guards {
		g.Close()
	}
	s.guards = nil
}

func (s *Server) mount(opts ...guard.Option) *guard.Guard {
	g := guard.New(s.sessions, append([]guard.Option{guard.WithLoginPath(s.config.LoginPath)}, opts...)...)
	s.guards = append(s.guards, g)
	return g
}

func (s *Server) handleLoginForm(w http.ResponseWriter, r *http.Request) {
	next := httpx.LocalRedirect(r.URL.Query().Get("next"), s.config.DefaultNext)
	if s.sessions.IsAuthenticated() {
		http.Redirect(w, r, next, http.StatusFound)
		return
	}
	renderLogin(w, http.StatusOK, loginView{Next: next})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		renderLogin(w, http.StatusBadRequest, loginView{Error: "Malformed form submission."})
		return
	}

	view := loginView{
		Username: r.PostForm.Get("username"),
		Next:     httpx.LocalRedirect(r.PostForm.Get("next"), s.config.DefaultNext),
	}

	user, err := s.sessions.Login(r.Context(), view.Username, r.PostForm.Get("password"))
	if err == nil {
		zerolog.Ctx(r.Context()).Info().Int64("user_id", user.ID).Str("role", string(user.Role)).Msg("signed in")
		http.Redirect(w, r, view.Next, http.StatusFound)
		return
	}

	status := http.StatusInternalServerError
	var ve *api.ValidationError
	switch {
	case errors.As(err, &ve):
		status = http.StatusUnauthorized
		view.Error = "Incorrect email or password."
		if ve.StatusCode != http.StatusUnauthorized && ve.Message != "" {
			view.Error = ve.Message
		}
	case transport.IsTransportError(err):
		status = http.StatusBadGateway
		view.Error = "The service is unavailable, try again in a moment."
	case errors.Is(err, session.ErrSuperseded):
		status = http.StatusConflict
		view.Error = "Sign in was interrupted, try again."
	default:
		view.Error = "Sign in failed."
	}

	zerolog.Ctx(r.Context()).Info().Err(err).Int("status", status).Msg("sign in failed")
	renderLogin(w, status, view)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.sessions.Logout(r.Context())
	http.Redirect(w, r, s.config.LoginPath, http.StatusFound)
}

func (s *Server) page(name, title string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, _ := guard.UserFromContext(r.Context())
		renderPage(w, pageView{
			Name:    name,
			Title:   title,
			User:    user,
			CanEdit: user != nil && (user.Role == models.RoleAdmin || user.Role == models.RoleLeader),
		})
	})
}

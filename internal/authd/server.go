// Package authd is a reference Session Backend for local development and
// end-to-end tests. It implements the /auth contract the session core
// consumes: password login, cookie based refresh, profile and logout.
package authd

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/klauspost/compress/gzhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	httpx "github.com/electra-analytics/electra/internal/http"
	"github.com/electra-analytics/electra/internal/logger"
	"github.com/electra-analytics/electra/internal/models"
)

// Config holds the reference backend settings.
type Config struct {
	Issuer     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration

	CookieName    string
	CookiePath    string
	SecureCookies bool

	AllowedOrigins []string
	TrustProxy     bool
}

// DefaultConfig mirrors the token lifetimes of the production backend.
func DefaultConfig() Config {
	return Config{
		Issuer:         "electra-authd",
		AccessTTL:      15 * time.Minute,
		RefreshTTL:     7 * 24 * time.Hour,
		CookieName:     "refresh_token",
		CookiePath:     "/api/v1/auth",
		AllowedOrigins: []string{"http://localhost:5173"},
	}
}

// Server serves the /api/v1/auth endpoints.
type Server struct {
	config   Config
	users    *UserStore
	sessions *SessionStore
	tokens   *TokenIssuer
	logger   zerolog.Logger
}

// NewServer creates a Server.
func NewServer(config Config, users *UserStore, sessions *SessionStore, tokens *TokenIssuer, logger zerolog.Logger) *Server {
	return &Server{
		config:   config,
		users:    users,
		sessions: sessions,
		tokens:   tokens,
		logger:   logger,
	}
}

// Handler returns the HTTP handler of the backend.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(httpx.ClientIPMiddleware(s.config.TrustProxy))
	r.Use(logger.RequestLogger(s.logger))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.Post("/login", s.handleLogin)
			r.Post("/refresh", s.handleRefresh)
			r.Post("/logout", s.handleLogout)
			r.With(s.requireBearer).Get("/me", s.handleMe)
		})
		r.With(s.requireBearer).Route("/dashboard", func(r chi.Router) {
			r.Get("/kpi", s.handleKPI)
			r.Get("/products", s.handleProducts)
		})
	})

	c := cors.New(cors.Options{
		AllowedOrigins:   s.config.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           600,
	})

	return gzhttp.GzipHandler(c.Handler(r))
}

// RunJanitor deletes expired refresh sessions every interval until ctx ends.
func (s *Server) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.sessions.DeleteExpired(ctx)
			if err != nil {
				log.Error().Err(err).Msg("failed to delete expired refresh sessions")
				continue
			}
			if n > 0 {
				log.Info().Int("count", n).Msg("deleted expired refresh sessions")
			}
		}
	}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeDetail(w, http.StatusUnprocessableEntity, "invalid form body")
		return
	}
	username, password := r.PostForm.Get("username"), r.PostForm.Get("password")
	if username == "" || password == "" {
		writeDetail(w, http.StatusUnprocessableEntity, "username and password are required")
		return
	}

	user, err := s.users.Authenticate(username, password)
	if err != nil {
		zerolog.Ctx(r.Context()).Info().Str("username", username).Msg("login rejected")
		w.Header().Set("WWW-Authenticate", "Bearer")
		writeDetail(w, http.StatusUnauthorized, "Incorrect email or password")
		return
	}

	sessionID, err := uuid.NewV7()
	if err != nil {
		writeDetail(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	now := time.Now()
	session := &models.RefreshSession{
		SessionID:  sessionID,
		UserID:     user.ID,
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.config.RefreshTTL),
		LastUsedAt: now,
		UserAgent:  r.UserAgent(),
		IPAddress:  httpx.ClientIPFromContext(r.Context()),
	}
	if err := s.sessions.Create(r.Context(), session); err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("failed to store refresh session")
		writeDetail(w, http.StatusInternalServerError, "failed to create session")
		return
	}

	token, err := s.tokens.Issue(user)
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("failed to issue access token")
		writeDetail(w, http.StatusInternalServerError, "failed to issue token")
		return
	}

	http.SetCookie(w, s.refreshCookie(sessionID.String(), session.ExpiresAt))

	zerolog.Ctx(r.Context()).Info().Int64("user_id", user.ID).Str("session_id", sessionID.String()).Msg("login")
	writeJSON(w, http.StatusOK, models.TokenResponse{AccessToken: token, TokenType: "bearer"})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(s.config.CookieName)
	if err != nil || cookie.Value == "" {
		writeDetail(w, http.StatusUnauthorized, "Refresh token missing")
		return
	}

	sessionID, err := uuid.Parse(cookie.Value)
	if err != nil {
		writeDetail(w, http.StatusUnauthorized, "Invalid refresh token")
		return
	}

	session, err := s.sessions.Get(r.Context(), sessionID)
	if err != nil {
		zerolog.Ctx(r.Context()).Info().Err(err).Str("session_id", sessionID.String()).Msg("refresh rejected")
		writeDetail(w, http.StatusUnauthorized, "Invalid refresh token")
		return
	}

	user, err := s.users.Get(session.UserID)
	if err != nil {
		writeDetail(w, http.StatusUnauthorized, "User not found")
		return
	}

	if err := s.sessions.Touch(r.Context(), sessionID); err != nil {
		writeDetail(w, http.StatusUnauthorized, "Invalid refresh token")
		return
	}

	token, err := s.tokens.Issue(user)
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("failed to issue access token")
		writeDetail(w, http.StatusInternalServerError, "failed to issue token")
		return
	}

	writeJSON(w, http.StatusOK, models.TokenResponse{AccessToken: token, TokenType: "bearer"})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(s.config.CookieName); err == nil {
		if sessionID, err := uuid.Parse(cookie.Value); err == nil {
			if err := s.sessions.Delete(r.Context(), sessionID); err != nil && !errors.Is(err, ErrSessionNotFound) {
				zerolog.Ctx(r.Context()).Warn().Err(err).Msg("failed to revoke refresh session")
			}
		}
	}

	http.SetCookie(w, s.refreshCookie("", time.Time{}))
	writeJSON(w, http.StatusOK, map[string]string{"message": "Logged out"})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user, err := s.userFromClaims(r.Context())
	if err != nil {
		writeDetail(w, http.StatusUnauthorized, "Could not validate credentials")
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// handleKPI serves empty figures: KPI computation is not part of this backend.
func (s *Server) handleKPI(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("period") == "" {
		writeDetail(w, http.StatusUnprocessableEntity, "period is required")
		return
	}
	w.Header().Set("Cache-Control", "private, max-age=30")
	writeJSON(w, http.StatusOK, models.KPI{})
}

// handleProducts serves an empty page.
func (s *Server) handleProducts(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("period") == "" {
		writeDetail(w, http.StatusUnprocessableEntity, "period is required")
		return
	}
	w.Header().Set("Cache-Control", "private, max-age=30")
	writeJSON(w, http.StatusOK, models.ProductList{Items: []models.Product{}, Page: 1, Limit: 20})
}

func (s *Server) refreshCookie(value string, expires time.Time) *http.Cookie {
	c := &http.Cookie{
		Name:     s.config.CookieName,
		Value:    value,
		Path:     s.config.CookiePath,
		HttpOnly: true,
		Secure:   s.config.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	}
	if value == "" {
		c.MaxAge = -1
	} else {
		c.Expires = expires
	}
	return c
}

type claimsKey struct{}

// requireBearer rejects requests without a valid access token with 401.
func (s *Server) requireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
			w.Header().Set("WWW-Authenticate", "Bearer")
			writeDetail(w, http.StatusUnauthorized, "Not authenticated")
			return
		}

		claims, err := s.tokens.Verify(token)
		if err != nil {
			zerolog.Ctx(r.Context()).Debug().Err(err).Msg("access token rejected")
			w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
			writeDetail(w, http.StatusUnauthorized, "Could not validate credentials")
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), claimsKey{}, claims)))
	})
}

func (s *Server) userFromClaims(ctx context.Context) (*models.User, error) {
	claims, ok := ctx.Value(claimsKey{}).(*Claims)
	if !ok {
		return nil, errors.New("no claims in context")
	}
	id, err := claims.UserID()
	if err != nil {
		return nil, err
	}
	return s.users.Get(id)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	if w.Header().Get("Cache-Control") == "" {
		w.Header().Set("Cache-Control", "no-store")
	}
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeDetail(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

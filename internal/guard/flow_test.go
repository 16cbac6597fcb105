package guard

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/electra-analytics/electra/internal/api"
	"github.com/electra-analytics/electra/internal/client"
	"github.com/electra-analytics/electra/internal/credentials"
	"github.com/electra-analytics/electra/internal/models"
	"github.com/electra-analytics/electra/internal/session"
	"github.com/electra-analytics/electra/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// revokingBackend accepts tok123 until revoked and never refreshes.
type revokingBackend struct {
	revoked   atomic.Bool
	refreshes atomic.Int32
}

func (b *revokingBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case "/v1/auth/login":
		_ = json.NewEncoder(w).Encode(models.TokenResponse{AccessToken: "tok123", TokenType: "bearer"})
	case "/v1/auth/me":
		if b.revoked.Load() || r.Header.Get("Authorization") != "Bearer tok123" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(models.User{ID: 1, Email: "a@x.com", Role: models.RoleAdmin})
	case "/v1/auth/refresh":
		b.refreshes.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"detail":"Refresh token missing"}`))
	case "/v1/auth/logout":
	default:
		http.NotFound(w, r)
	}
}

func TestFlow_FailedRefreshRedirectsToLogin(t *testing.T) {
	backend := &revokingBackend{}
	srv := httptest.NewServer(backend)
	defer srv.Close()

	cfg := client.DefaultConfig()
	cfg.ServerURL = srv.URL
	cfg.Timeout = 5 * time.Second

	store := credentials.NewMemoryStore()
	auth := api.NewAuthClient(cfg, client.NewJar())

	var mgr *session.Manager
	tr := transport.New(store, auth, transport.WithOnUnauthorized(func(ctx context.Context, err error) {
		mgr.Expire(ctx, err)
	}))
	reads := api.NewClient(cfg, tr)
	mgr = session.NewManager(store, api.NewBackend(auth, reads))

	g := New(mgr)
	defer g.Close()
	h := g.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("dashboard"))
	}))

	_, err := mgr.Login(context.Background(), "a@x.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, serve(h, "/dashboard").Code)

	backend.revoked.Store(true)

	const n = 3
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := range n {
		wg.Go(func() {
			_, errs[i] = reads.CurrentUser(context.Background())
		})
	}
	wg.Wait()

	for i := range n {
		require.Error(t, errs[i])
		assert.True(t, transport.IsAuthorizationError(errs[i]))
	}
	assert.Equal(t, int32(1), backend.refreshes.Load())
	assert.Equal(t, session.Unauthenticated, mgr.State())

	_, err = store.Get(context.Background())
	assert.ErrorIs(t, err, credentials.ErrNoToken)

	rec := serve(h, "/dashboard")
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/login?next=%2Fdashboard", rec.Header().Get("Location"))
}

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/electra-analytics/electra/internal/client"
	"github.com/electra-analytics/electra/internal/credentials"
	"github.com/electra-analytics/electra/internal/models"
	"github.com/electra-analytics/electra/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func testConfig(srv *httptest.Server) client.Config {
	cfg := client.DefaultConfig()
	cfg.ServerURL = srv.URL + "/api"
	cfg.Timeout = 5 * time.Second
	return cfg
}

func TestAuthClient_Login(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/auth/login", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		require.NoError(t, r.ParseForm())

		if r.PostForm.Get("username") != "a@x.com" || r.PostForm.Get("password") != "secret1" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Incorrect email or password"})
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "refresh_token", Value: "r-1", Path: "/", HttpOnly: true})
		writeJSON(w, http.StatusOK, models.TokenResponse{AccessToken: "tok123", TokenType: "bearer"})
	}))
	defer srv.Close()

	jar := client.NewJar()
	auth := NewAuthClient(testConfig(srv), jar)

	tok, err := auth.Login(context.Background(), "a@x.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "tok123", tok.AccessToken)
	assert.Equal(t, "bearer", tok.TokenType)
	assert.True(t, tok.Expiry.IsZero(), "opaque tokens carry no expiry")

	u, _ := url.Parse(srv.URL + "/api/v1/auth/refresh")
	require.Len(t, jar.Cookies(u), 1)

	_, err = auth.Login(context.Background(), "a@x.com", "wrong")
	require.Error(t, err)
	var ve *ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, http.StatusUnauthorized, ve.StatusCode)
	assert.Equal(t, "Incorrect email or password", ve.Message)
	assert.True(t, IsValidationError(err))
}

func TestAuthClient_LoginUnexpectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "database unavailable", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := NewAuthClient(testConfig(srv), nil).Login(context.Background(), "a@x.com", "secret1")
	require.Error(t, err)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusServiceUnavailable, se.StatusCode)
	assert.Equal(t, "database unavailable", se.Detail)
	assert.False(t, IsValidationError(err))
}

func TestAuthClient_LoginNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	cfg := testConfig(srv)
	srv.Close()

	_, err := NewAuthClient(cfg, nil).Login(context.Background(), "a@x.com", "secret1")
	require.Error(t, err)
	assert.True(t, transport.IsTransportError(err))
	assert.False(t, IsValidationError(err))
}

func TestAuthClient_RefreshUsesCookie(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/auth/login":
			http.SetCookie(w, &http.Cookie{Name: "refresh_token", Value: "r-1", Path: "/"})
			writeJSON(w, http.StatusOK, models.TokenResponse{AccessToken: "tok123"})
		case "/api/v1/auth/refresh":
			c, err := r.Cookie("refresh_token")
			if err != nil || c.Value != "r-1" {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Refresh token missing"})
				return
			}
			writeJSON(w, http.StatusOK, models.TokenResponse{AccessToken: "tok456"})
		}
	}))
	defer srv.Close()

	auth := NewAuthClient(testConfig(srv), client.NewJar())

	_, err := auth.Refresh(context.Background())
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusUnauthorized, se.StatusCode)
	assert.Equal(t, "Refresh token missing", se.Detail)

	_, err = auth.Login(context.Background(), "a@x.com", "secret1")
	require.NoError(t, err)

	tok, err := auth.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tok456", tok.AccessToken)
}

func TestAuthClient_LogoutAcceptsAnyResponse(t *testing.T) {
	var auth atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth.Store(r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := NewAuthClient(testConfig(srv), nil).Logout(context.Background(), &oauth2.Token{AccessToken: "tok123", TokenType: "bearer"})
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok123", auth.Load())

	err = NewAuthClient(testConfig(srv), nil).Logout(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "", auth.Load())
}

func TestClient_CurrentUserThroughTransport(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok123" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(w, http.StatusOK, models.User{ID: 1, Email: "a@x.com", Role: models.RoleAdmin})
	}))
	defer srv.Close()

	store := credentials.NewMemoryStore()
	require.NoError(t, store.Set(context.Background(), &oauth2.Token{AccessToken: "tok123"}))

	cfg := testConfig(srv)
	refresher := transport.RefresherFunc(func(context.Context) (*oauth2.Token, error) {
		t.Fatal("refresh must not be called")
		return nil, nil
	})
	api := NewClient(cfg, transport.New(store, refresher))

	user, err := api.CurrentUser(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), user.ID)
	assert.Equal(t, models.RoleAdmin, user.Role)
}

func TestClient_CurrentUserUnauthorized(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	store := credentials.NewMemoryStore()
	require.NoError(t, store.Set(context.Background(), &oauth2.Token{AccessToken: "revoked"}))

	refresher := transport.RefresherFunc(func(context.Context) (*oauth2.Token, error) {
		return nil, &StatusError{Method: http.MethodPost, URL: "/v1/auth/refresh", StatusCode: http.StatusUnauthorized}
	})
	api := NewClient(testConfig(srv), transport.New(store, refresher))

	_, err := api.CurrentUser(context.Background())
	require.Error(t, err)
	assert.True(t, transport.IsAuthorizationError(err))

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusUnauthorized, se.StatusCode)
}

func TestClient_DashboardReads(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		switch r.URL.Path {
		case "/api/v1/dashboard/kpi":
			assert.Equal(t, "7d", q.Get("period"))
			assert.Equal(t, "3", q.Get("cabinet_id"))
			writeJSON(w, http.StatusOK, models.KPI{TotalRevenue: 1250.5, TotalOrders: 42})
		case "/api/v1/dashboard/products":
			assert.Equal(t, "30d", q.Get("period"))
			assert.Equal(t, "revenue", q.Get("sort_by"))
			assert.Equal(t, "desc", q.Get("order"))
			assert.Equal(t, "2", q.Get("page"))
			assert.Equal(t, "", q.Get("cabinet_id"))
			writeJSON(w, http.StatusOK, models.ProductList{
				Items: []models.Product{{NmID: 101, Title: "Mug", Revenue: 99}},
				Total: 1, Page: 2, Limit: 20,
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	api := NewClient(testConfig(srv), http.DefaultTransport)

	kpi, err := api.KPI(context.Background(), "7d", 3)
	require.NoError(t, err)
	assert.Equal(t, 1250.5, kpi.TotalRevenue)
	assert.Equal(t, int64(42), kpi.TotalOrders)

	list, err := api.Products(context.Background(), ProductQuery{Period: "30d", SortBy: "revenue", Order: "desc", Page: 2})
	require.NoError(t, err)
	require.Len(t, list.Items, 1)
	assert.Equal(t, int64(101), list.Items[0].NmID)
	assert.Equal(t, 2, list.Page)
}

func TestReadDetail(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{name: "string detail", body: `{"detail":"Incorrect email or password"}`, want: "Incorrect email or password"},
		{name: "structured detail", body: `{"detail":[{"loc":["body","username"]}]}`, want: `[{"loc":["body","username"]}]`},
		{name: "plain text", body: "bad gateway\n", want: "bad gateway"},
		{name: "empty", body: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, readDetail(strings.NewReader(tt.body)))
		})
	}
}

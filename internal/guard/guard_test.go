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

	"github.com/electra-analytics/electra/internal/models"
	"github.com/electra-analytics/electra/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSessions struct {
	mu       sync.Mutex
	snap     session.Snapshot
	restores atomic.Int32
	gate     chan struct{}
	result   session.Snapshot
}

func (f *fakeSessions) Snapshot() session.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeSessions) Restore(ctx context.Context) (session.State, error) {
	f.restores.Add(1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return session.Unknown, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snap = f.result
	return f.snap.State, nil
}

func authenticated(role models.Role) session.Snapshot {
	return session.Snapshot{
		State: session.Authenticated,
		User:  &models.User{ID: 7, Email: "lead@x.com", Role: role},
	}
}

func okHandler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := UserFromContext(r.Context())
		require.True(t, ok)
		_, _ = w.Write([]byte("hello " + user.Email))
	})
}

func serve(h http.Handler, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestGuard_Authenticated(t *testing.T) {
	sessions := &fakeSessions{snap: authenticated(models.RoleManager)}
	g := New(sessions)
	defer g.Close()

	rec := serve(g.Middleware(okHandler(t)), "/dashboard")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "hello lead@x.com", rec.Body.String())
	assert.Zero(t, sessions.restores.Load())
}

func TestGuard_UnauthenticatedRedirectsWithNext(t *testing.T) {
	sessions := &fakeSessions{snap: session.Snapshot{State: session.Unauthenticated}}
	g := New(sessions)
	defer g.Close()

	rec := serve(g.Middleware(okHandler(t)), "/reports?period=7d")

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/login?next=%2Freports%3Fperiod%3D7d", rec.Header().Get("Location"))
}

func TestGuard_CustomLoginPath(t *testing.T) {
	sessions := &fakeSessions{snap: session.Snapshot{State: session.Unauthenticated}}
	g := New(sessions, WithLoginPath("/auth/signin"))
	defer g.Close()

	rec := serve(g.Middleware(okHandler(t)), "/products")

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/auth/signin?next=%2Fproducts", rec.Header().Get("Location"))
}

func TestGuard_UnknownRestoresOncePerMount(t *testing.T) {
	sessions := &fakeSessions{
		snap:   session.Snapshot{State: session.Unknown},
		gate:   make(chan struct{}),
		result: session.Snapshot{State: session.Unauthenticated},
	}
	g := New(sessions)
	defer g.Close()
	h := g.Middleware(okHandler(t))

	for range 5 {
		rec := serve(h, "/dashboard")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "1", rec.Header().Get("Retry-After"))
		assert.Contains(t, rec.Body.String(), "Loading")
	}

	close(sessions.gate)
	require.Eventually(t, func() bool {
		return serve(h, "/dashboard").Code == http.StatusFound
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, int32(1), sessions.restores.Load())
}

func TestGuard_EachMountRestores(t *testing.T) {
	sessions := &fakeSessions{
		snap: session.Snapshot{State: session.Unknown},
		gate: make(chan struct{}),
	}

	a := New(sessions)
	b := New(sessions)
	serve(a.Middleware(okHandler(t)), "/dashboard")
	serve(b.Middleware(okHandler(t)), "/settings")

	require.Eventually(t, func() bool { return sessions.restores.Load() == 2 }, time.Second, time.Millisecond)

	a.Close()
	b.Close()
}

func TestGuard_AuthenticatingShowsLoading(t *testing.T) {
	sessions := &fakeSessions{snap: session.Snapshot{State: session.Authenticating}}
	g := New(sessions)
	defer g.Close()

	rec := serve(g.Middleware(okHandler(t)), "/dashboard")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	assert.Zero(t, sessions.restores.Load())
}

func TestGuard_Roles(t *testing.T) {
	tests := []struct {
		name     string
		role     models.Role
		expected int
	}{
		{name: "admin allowed", role: models.RoleAdmin, expected: http.StatusOK},
		{name: "leader allowed", role: models.RoleLeader, expected: http.StatusOK},
		{name: "manager denied", role: models.RoleManager, expected: http.StatusForbidden},
		{name: "unknown role denied", role: models.Role("auditor"), expected: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := New(&fakeSessions{snap: authenticated(tt.role)}, WithRoles(models.RoleAdmin, models.RoleLeader))
			defer g.Close()

			rec := serve(g.Middleware(okHandler(t)), "/settings")
			assert.Equal(t, tt.expected, rec.Code)
			if tt.expected == http.StatusForbidden {
				assert.Contains(t, rec.Body.String(), "403")
				assert.Contains(t, rec.Body.String(), string(tt.role))
			}
		})
	}
}

func TestGuard_CloseDiscardsRestore(t *testing.T) {
	sessions := &fakeSessions{
		snap: session.Snapshot{State: session.Unknown},
		gate: make(chan struct{}),
	}
	g := New(sessions)

	serve(g.Middleware(okHandler(t)), "/dashboard")
	require.Eventually(t, func() bool { return sessions.restores.Load() == 1 }, time.Second, time.Millisecond)

	done := make(chan struct{})
	go func() {
		g.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close did not return while restore was pending")
	}

	// A closed guard never starts a restore.
	closed := New(sessions)
	closed.Close()
	serve(closed.Middleware(okHandler(t)), "/dashboard")
	assert.Equal(t, int32(1), sessions.restores.Load())
}

func TestGuard_DataRequests(t *testing.T) {
	tests := []struct {
		name       string
		snap       session.Snapshot
		roles      []models.Role
		expected   int
		detail     string
		retryAfter string
	}{
		{name: "unknown", snap: session.Snapshot{State: session.Unknown}, expected: http.StatusServiceUnavailable, detail: "Session is being restored", retryAfter: "1"},
		{name: "authenticating", snap: session.Snapshot{State: session.Authenticating}, expected: http.StatusServiceUnavailable, detail: "Session is being restored", retryAfter: "1"},
		{name: "unauthenticated", snap: session.Snapshot{State: session.Unauthenticated}, expected: http.StatusUnauthorized, detail: "Not authenticated"},
		{name: "denied", snap: authenticated(models.RoleManager), roles: []models.Role{models.RoleAdmin}, expected: http.StatusForbidden, detail: `role "manager" is not allowed, requires one of: admin`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sessions := &fakeSessions{snap: tt.snap, gate: make(chan struct{})}
			g := New(sessions, WithRoles(tt.roles...))
			defer g.Close()

			req := httptest.NewRequest(http.MethodGet, "/api/v1/dashboard/kpi", nil)
			req.Header.Set("Accept", "application/json")
			rec := httptest.NewRecorder()
			g.Middleware(okHandler(t)).ServeHTTP(rec, req)

			assert.Equal(t, tt.expected, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			assert.Equal(t, tt.retryAfter, rec.Header().Get("Retry-After"))
			assert.Empty(t, rec.Header().Get("Location"))

			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.detail, body["detail"])
		})
	}
}

func TestWantsHTML(t *testing.T) {
	tests := []struct {
		accept   string
		expected bool
	}{
		{accept: "", expected: true},
		{accept: "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8", expected: true},
		{accept: "application/xhtml+xml", expected: true},
		{accept: "application/json", expected: false},
		{accept: "*/*", expected: false},
		{accept: "application/json, text/plain;q=0.5", expected: false},
	}

	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tt.accept != "" {
			req.Header.Set("Accept", tt.accept)
		}
		assert.Equal(t, tt.expected, wantsHTML(req), "accept %q", tt.accept)
	}
}

func TestGuard_CloseConcurrentWithFirstRequest(t *testing.T) {
	for range 200 {
		sessions := &fakeSessions{
			snap:   session.Snapshot{State: session.Unknown},
			result: session.Snapshot{State: session.Unauthenticated},
		}
		g := New(sessions)
		h := g.Middleware(okHandler(t))

		var wg sync.WaitGroup
		wg.Go(func() { serve(h, "/dashboard") })
		wg.Go(g.Close)
		wg.Wait()

		// Whichever side won, nothing is left running after Close.
		assert.LessOrEqual(t, sessions.restores.Load(), int32(1))
	}
}

func TestPolicyError(t *testing.T) {
	err := &PolicyError{Role: models.RoleManager, Required: []models.Role{models.RoleAdmin, models.RoleLeader}}
	assert.Equal(t, `role "manager" is not allowed, requires one of: admin, leader`, err.Error())
}

func TestUserFromContext_missing(t *testing.T) {
	_, ok := UserFromContext(context.Background())
	assert.False(t, ok)

	_, ok = UserFromContext(WithUser(context.Background(), nil))
	assert.False(t, ok)
}

package commands

import (
	"bytes"
	"context"
	"errors"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/electra-analytics/electra/internal/authd"
	"github.com/electra-analytics/electra/internal/models"
	"github.com/electra-analytics/electra/internal/transport"
)

func newBackend(t *testing.T) *httptest.Server {
	t.Helper()

	key, err := authd.LoadSigningKey("")
	require.NoError(t, err)

	users := authd.NewUserStore()
	_, err = users.Add("a@x.com", "Alice", models.RoleAdmin, "", "secret1")
	require.NoError(t, err)

	cfg := authd.DefaultConfig()
	srv := authd.NewServer(cfg, users, authd.NewSessionStore(), authd.NewTokenIssuer(key, cfg.Issuer, cfg.AccessTTL), zerolog.Nop())
	backend := httptest.NewServer(srv.Handler())
	t.Cleanup(backend.Close)
	return backend
}

func captureOutput(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := stdout
	stdout = &buf
	t.Cleanup(func() { stdout = prev })
	return &buf
}

func sessionFlags(server, dir, store string) SessionFlags {
	return SessionFlags{
		Server:   server + "/api",
		Timeout:  5 * time.Second,
		StateDir: dir,
		Store:    store,
	}
}

func TestLoginStatusLogout(t *testing.T) {
	backend := newBackend(t)
	dir := t.TempDir()
	flags := sessionFlags(backend.URL, dir, "file")
	out := captureOutput(t)

	login := &LoginCmd{SessionFlags: flags, Username: "a@x.com", Password: "secret1"}
	require.NoError(t, login.Run(context.Background(), &Globals{}))
	assert.Contains(t, out.String(), "Logged in as Alice (admin)")

	_, err := os.Stat(filepath.Join(dir, "sessions.json"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "cookies.json"))
	require.NoError(t, err)

	out.Reset()
	status := &StatusCmd{SessionFlags: flags}
	require.NoError(t, status.Run(context.Background(), &Globals{}))
	assert.Contains(t, out.String(), "Alice <a@x.com>")
	assert.Contains(t, out.String(), "admin")

	out.Reset()
	logout := &LogoutCmd{SessionFlags: flags}
	require.NoError(t, logout.Run(context.Background(), &Globals{}))
	assert.Contains(t, out.String(), "Logged out")

	out.Reset()
	require.NoError(t, status.Run(context.Background(), &Globals{}))
	assert.Contains(t, out.String(), "Not logged in")
}

func TestLogin_PasswordFromStdin(t *testing.T) {
	backend := newBackend(t)
	out := captureOutput(t)

	prev := stdin
	stdin = strings.NewReader("secret1\n")
	t.Cleanup(func() { stdin = prev })

	login := &LoginCmd{SessionFlags: sessionFlags(backend.URL, t.TempDir(), "bolt"), Username: "a@x.com"}
	require.NoError(t, login.Run(context.Background(), &Globals{}))
	assert.Contains(t, out.String(), "Password: ")
	assert.Contains(t, out.String(), "Logged in as Alice")
}

func TestReadPassword_File(t *testing.T) {
	out := captureOutput(t)

	path := filepath.Join(t.TempDir(), "password")
	require.NoError(t, os.WriteFile(path, []byte("secret1\r\nignored\n"), 0o600))
	f, err := os.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })

	prev := stdin
	stdin = f
	t.Cleanup(func() { stdin = prev })

	password, err := readPassword()
	require.NoError(t, err)
	assert.Equal(t, "secret1", password)
	assert.Equal(t, "Password: ", out.String())
}

func TestReadPassword_Empty(t *testing.T) {
	captureOutput(t)

	prev := stdin
	stdin = strings.NewReader("\n")
	t.Cleanup(func() { stdin = prev })

	_, err := readPassword()
	assert.EqualError(t, err, "password is required")
}

func TestLogin_Rejected(t *testing.T) {
	backend := newBackend(t)
	captureOutput(t)

	login := &LoginCmd{SessionFlags: sessionFlags(backend.URL, t.TempDir(), "file"), Username: "a@x.com", Password: "wrong"}
	err := login.Run(context.Background(), &Globals{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "login rejected")
}

func TestDashboardReads(t *testing.T) {
	backend := newBackend(t)
	flags := sessionFlags(backend.URL, t.TempDir(), "file")
	flags.Cache = true
	out := captureOutput(t)

	kpi := &KPICmd{SessionFlags: flags, ReadFlags: ReadFlags{Period: "week", Retries: 1}}
	err := kpi.Run(context.Background(), &Globals{})
	assert.ErrorIs(t, err, errNotLoggedIn)

	login := &LoginCmd{SessionFlags: flags, Username: "a@x.com", Password: "secret1"}
	require.NoError(t, login.Run(context.Background(), &Globals{}))

	out.Reset()
	require.NoError(t, kpi.Run(context.Background(), &Globals{}))
	assert.Contains(t, out.String(), "Revenue:")

	out.Reset()
	products := &ProductsCmd{SessionFlags: flags, ReadFlags: ReadFlags{Period: "week", Retries: 1}, Order: "desc", Page: 1, Limit: 20}
	require.NoError(t, products.Run(context.Background(), &Globals{}))
	assert.Contains(t, out.String(), "No products found.")
}

func TestRetryTransient(t *testing.T) {
	attempts := 0
	v, err := retryTransient(context.Background(), 3, func() (int, error) {
		attempts++
		if attempts < 2 {
			return 0, &transport.TransportError{Method: "GET", URL: "http://x", Err: errors.New("connection refused")}
		}
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, 2, attempts)

	attempts = 0
	boom := errors.New("boom")
	_, err = retryTransient(context.Background(), 3, func() (int, error) {
		attempts++
		return 0, boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, attempts)
}

func TestSessionFlags_InvalidServer(t *testing.T) {
	flags := sessionFlags("ftp://example.com", t.TempDir(), "memory")
	_, err := flags.open(context.Background(), &Globals{})
	assert.Error(t, err)
}

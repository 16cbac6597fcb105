package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/electra-analytics/electra/internal/api"
	"github.com/electra-analytics/electra/internal/client"
	"github.com/electra-analytics/electra/internal/credentials"
	"github.com/electra-analytics/electra/internal/session"
	"github.com/electra-analytics/electra/internal/telemetry"
	"github.com/electra-analytics/electra/internal/transport"
)

type Globals struct {
	Debug   bool
	Version string
}

var (
	stdin  io.Reader = os.Stdin
	stdout io.Writer = os.Stdout
)

var errNotLoggedIn = errors.New("not logged in, run `electra login <email>` first")

// SessionFlags select the backend and where the session is kept.
type SessionFlags struct {
	Server   string        `help:"Backend API root" default:"http://localhost:8000/api" env:"ELECTRA_SERVER"`
	Timeout  time.Duration `help:"Timeout of every backend request" default:"30s" env:"ELECTRA_TIMEOUT"`
	Profile  string        `help:"Credential profile, derived from the server host when empty" env:"ELECTRA_PROFILE"`
	StateDir string        `help:"State directory (default: ~/.electra)" env:"ELECTRA_STATE_DIR"`
	Store    string        `help:"Credential store backend" default:"file" enum:"memory,file,bolt" env:"ELECTRA_STORE"`
	Cache    bool          `help:"Cache dashboard responses on disk" default:"false" env:"ELECTRA_CACHE"`
	Tracing  bool          `help:"Enable OpenTelemetry tracing" default:"false" env:"ELECTRA_TRACING"`
}

func (f *SessionFlags) clientConfig(globals *Globals) client.Config {
	config := client.DefaultConfig()
	config.ServerURL = f.Server
	config.Timeout = f.Timeout
	config.Debug = globals.Debug
	config.Cache = f.Cache
	config.Tracing = f.Tracing
	return config
}

// runtime is the session core of one CLI invocation.
type runtime struct {
	config    client.Config
	dir       string
	profile   string
	store     credentials.Store
	jar       *client.PersistentJar
	cache     *client.CachingTransport
	transport *transport.Transport
	api       *api.Client
	manager   *session.Manager

	closers []func(context.Context) error
}

func (f *SessionFlags) open(ctx context.Context, globals *Globals) (*runtime, error) {
	config := f.clientConfig(globals)
	if err := config.Validate(); err != nil {
		return nil, err
	}

	dir := f.StateDir
	if dir == "" {
		var err error
		if dir, err = credentials.DefaultDir(); err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	profile := f.Profile
	if profile == "" {
		profile = credentials.ProfileName(config.ServerURL)
	}

	rt := &runtime{config: config, dir: dir, profile: profile}

	if f.Tracing {
		shutdown, err := telemetry.InitTelemetry(ctx, "electra-cli", globals.Version)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize telemetry, continuing without it")
		} else {
			rt.closers = append(rt.closers, shutdown)
		}
	}

	switch f.Store {
	case "memory":
		rt.store = credentials.NewMemoryStore()
	case "bolt":
		bs, err := credentials.NewBoltStoreFromFile(filepath.Join(dir, "sessions.db"), profile)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.store = bs
		rt.closers = append(rt.closers, func(context.Context) error { return bs.Close() })
	default:
		fs, err := credentials.NewFileStore(dir, profile)
		if err != nil {
			rt.Close()
			return nil, err
		}
		rt.store = fs
	}

	jar, err := client.NewPersistentJar(filepath.Join(dir, "cookies.json"))
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.jar = jar

	base := client.NewBaseTransport(config)
	if config.Cache {
		rt.cache = client.NewCachingTransport(base, filepath.Join(dir, "cache", profile))
		base = rt.cache
	}

	auth := api.NewAuthClient(config, jar)
	rt.transport = transport.New(rt.store, auth,
		transport.WithBase(base),
		transport.WithRefreshTimeout(config.Timeout),
		transport.WithOnUnauthorized(func(ctx context.Context, err error) {
			rt.manager.Expire(ctx, err)
		}),
	)
	rt.api = api.NewClient(config, rt.transport)
	rt.manager = session.NewManager(rt.store, api.NewBackend(auth, rt.api), session.WithRestoreTimeout(config.Timeout))

	log.Debug().
		Str("server", config.ServerURL).
		Str("profile", profile).
		Str("store", f.Store).
		Bool("cache", config.Cache).
		Msg("session core ready")

	return rt, nil
}

// requireSession restores the persisted session and fails unless it is authenticated.
func (rt *runtime) requireSession(ctx context.Context) error {
	state, err := rt.manager.Restore(ctx)
	if state == session.Authenticated {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %w", errNotLoggedIn, err)
	}
	return errNotLoggedIn
}

func (rt *runtime) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](ctx); err != nil {
			log.Error().Err(err).Msg("Failed to close")
		}
	}
	rt.closers = nil
}

package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/electra-analytics/electra/internal/authd"
	"github.com/electra-analytics/electra/internal/logger"
	"github.com/electra-analytics/electra/internal/telemetry"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// ServeCmd runs the reference session backend.
type ServeCmd struct {
	Listen string `help:"HTTP server listen address" default:"127.0.0.1:8000" env:"ELECTRA_AUTHD_LISTEN"`
	Cert   string `help:"path to TLS cert file" default:"" env:"ELECTRA_AUTHD_TLS_CERT"`
	Key    string `help:"path to TLS key file" default:"" env:"ELECTRA_AUTHD_TLS_KEY"`

	Users      string `help:"YAML file with the seeded users" required:"" type:"existingfile" env:"ELECTRA_AUTHD_USERS"`
	SigningKey string `help:"PEM encoded EC private key, a throwaway key is generated when empty" default:"" env:"ELECTRA_AUTHD_SIGNING_KEY"`
	Issuer     string `help:"access token issuer" default:"electra-authd" env:"ELECTRA_AUTHD_ISSUER"`

	AccessTTL  time.Duration `help:"access token lifetime" default:"15m" env:"ELECTRA_AUTHD_ACCESS_TTL"`
	RefreshTTL time.Duration `help:"refresh session lifetime" default:"168h" env:"ELECTRA_AUTHD_REFRESH_TTL"`

	CORSOrigins []string `help:"allowed CORS origins for the dashboard" default:"http://localhost:5173" env:"ELECTRA_AUTHD_CORS_ORIGINS"`
	TrustProxy  bool     `help:"trust X-Forwarded-For for client addresses" default:"false" env:"ELECTRA_AUTHD_TRUST_PROXY"`

	JanitorInterval time.Duration `help:"interval between expired session sweeps" default:"10m"`
	Tracing         bool          `help:"enable tracing" default:"false" env:"ELECTRA_AUTHD_TRACING"`
}

func (c *ServeCmd) Validate() error {
	if (c.Cert == "") != (c.Key == "") {
		return errors.New("TLS requires both --cert and --key")
	}
	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 {
		return errors.New("token lifetimes must be positive")
	}
	if c.JanitorInterval <= 0 {
		return errors.New("janitor interval must be positive")
	}
	if c.AccessTTL >= c.RefreshTTL {
		return errors.New("access token lifetime must be shorter than the refresh session lifetime")
	}
	return nil
}

func (c *ServeCmd) Run(ctx context.Context, globals *Globals) error {
	log := logger.Setup(globals.Debug)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().Str("version", globals.Version).Bool("debug", globals.Debug).Msg("Starting session backend")

	if c.Tracing {
		log.Info().Msg("Tracing is enabled")
		shutdown, err := telemetry.InitTelemetry(ctx, "electra-authd", globals.Version)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to initialize telemetry, continuing without metrics")
			shutdown = telemetry.Noop
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("Failed to shutdown telemetry")
			}
		}()
	}

	users, err := authd.LoadUsers(c.Users)
	if err != nil {
		return err
	}
	log.Info().Int("users", users.Len()).Str("path", c.Users).Msg("Loaded users")

	key, err := authd.LoadSigningKey(c.SigningKey)
	if err != nil {
		return err
	}
	if c.SigningKey == "" {
		log.Warn().Msg("Using a generated signing key, tokens will not survive a restart")
	}

	config := authd.DefaultConfig()
	config.Issuer = c.Issuer
	config.AccessTTL = c.AccessTTL
	config.RefreshTTL = c.RefreshTTL
	config.SecureCookies = c.Cert != ""
	config.AllowedOrigins = c.CORSOrigins
	config.TrustProxy = c.TrustProxy

	sessions := authd.NewSessionStore()
	server := authd.NewServer(config, users, sessions, authd.NewTokenIssuer(key, config.Issuer, config.AccessTTL), log)
	go server.RunJanitor(ctx, c.JanitorInterval)

	handler := server.Handler()
	if c.Tracing {
		handler = otelhttp.NewHandler(handler, "electra-authd")
	}

	srv := configureHTTPServer(c.Listen, handler)
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", c.Listen).Bool("tls", c.Cert != "").Msg("Starting HTTP server")
		if c.Cert != "" {
			errCh <- srv.ListenAndServeTLS(c.Cert, c.Key)
			return
		}
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

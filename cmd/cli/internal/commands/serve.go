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

	"github.com/rs/zerolog/log"

	"github.com/electra-analytics/electra/internal/website"
)

// ServeCmd serves the dashboard shell on a local address.
type ServeCmd struct {
	SessionFlags `embed:""`

	Listen     string `help:"HTTP listen address" default:"127.0.0.1:5173" env:"ELECTRA_LISTEN"`
	TrustProxy bool   `help:"Trust X-Forwarded-For for client addresses" default:"false" env:"ELECTRA_TRUST_PROXY"`
}

func (c *ServeCmd) Run(ctx context.Context, globals *Globals) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := c.open(ctx, globals)
	if err != nil {
		return err
	}
	defer rt.Close()

	config := website.DefaultConfig()
	config.APIRoot = rt.config.ServerURL
	config.TrustProxy = c.TrustProxy
	config.Tracing = c.Tracing

	shell := website.NewServer(config, rt.manager, rt.transport, log.Logger)
	defer shell.Close()

	handler, err := shell.Handler()
	if err != nil {
		return err
	}

	srv := configureHTTPServer(c.Listen, handler)
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", c.Listen).Str("server", rt.config.ServerURL).Msg("Serving dashboard")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("dashboard server failed: %w", err)
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func configureHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       time.Minute,
		WriteTimeout:      time.Minute,
		IdleTimeout:       5 * time.Minute,
		MaxHeaderBytes:    8 * 1024, // 8KiB
	}
}

package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/pagehaul/pagehaul/internal/config"
	"github.com/pagehaul/pagehaul/internal/logger"
	"github.com/pagehaul/pagehaul/internal/site"
)

const (
	// defaultListenAddress is the plain-HTTP serving address.
	defaultListenAddress = ":80"

	// readHeaderTimeout bounds slow clients.
	readHeaderTimeout = 10 * time.Second

	// shutdownTimeout bounds the graceful drain on shutdown.
	shutdownTimeout = 10 * time.Second
)

// Options controls the serve command.
type Options struct {
	// ConfigPath is the optional path to the settings YAML file.
	ConfigPath string
	// ListenAddress overrides the default listen address.
	ListenAddress string
}

// Run serves the asset tree until the context is canceled.
func Run(ctx context.Context, opts *Options) error {
	ctx = logger.WithName(ctx, "server")

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	tree, err := site.Open(cfg.Site.Path, cfg.Site.Entry)
	if err != nil {
		return err
	}

	// Without the entry file the root path could never resolve.
	if err = tree.VerifyEntry(); err != nil {
		return err
	}

	listenAddress := opts.ListenAddress
	if listenAddress == "" {
		listenAddress = defaultListenAddress
	}

	httpServer := &http.Server{
		Addr:              listenAddress,
		Handler:           NewHandler(cfg.Site.Path),
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	logger.InfoKV(ctx, "Serving asset tree",
		"listen_address", listenAddress, "path", cfg.Site.Path)

	// Done channel is closed after Shutdown finishes so we block until
	// in-flight requests drain before returning.
	done := make(chan struct{})

	go func() {
		<-ctx.Done()
		logger.Info(ctx, "Shutting down HTTP server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		_ = httpServer.Shutdown(shutdownCtx)
		close(done)
	}()

	if err = httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve HTTP: %w", err)
	}

	<-done
	logger.Info(ctx, "HTTP server stopped")

	return nil
}

// File: cmd/serve.go
package cmd

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/xkilldash9x/carlot/internal/api"
	"github.com/xkilldash9x/carlot/internal/browser"
	"github.com/xkilldash9x/carlot/internal/config"
	"github.com/xkilldash9x/carlot/internal/engine"
	"github.com/xkilldash9x/carlot/internal/observability"
	"github.com/xkilldash9x/carlot/internal/scraper"
	"github.com/xkilldash9x/carlot/internal/service"
)

func newServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Long: `Starts the catalogue API. Each request runs as a job on a fixed pool of
workers, each job driving a pooled headless browser session through the site.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfigFromContext(cmd.Context())
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runServe(ctx, cfg, observability.GetLogger())
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides server.addr")
	return cmd
}

// runServe serves until ctx is cancelled, then shuts down in order.
func runServe(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return multierr.Append(
			fmt.Errorf("failed to listen on %s: %w", cfg.Server.Addr, err),
			a.shutdown(cfg.Server.ShutdownTimeout),
		)
	}
	return a.run(ctx, ln)
}

// app owns every long-lived component and their shutdown order.
type app struct {
	logger *zap.Logger
	tracer *observability.TracerProvider
	pool   *browser.Pool
	sched  *engine.Scheduler
	cache  api.ResponseCache
	server *api.Server

	shutdownTimeout time.Duration
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	tracer, err := observability.NewTracerProvider(cfg.Tracing, "carlot", nil)
	if err != nil {
		return nil, err
	}

	// Browsers and jobs outlive the signal; shutdown tears them down explicitly.
	base := context.WithoutCancel(ctx)

	launcher := browser.NewChromeLauncher(base, cfg.Browser, logger)
	pool := browser.NewPool(launcher, logger, browser.WithCloseTimeout(cfg.Browser.CloseTimeout))

	workers := cfg.Engine.Workers()
	sched, err := engine.New(workers, cfg.Engine.QueueSize, logger)
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("failed to create scheduler: %w", err), tracer.Shutdown(base))
	}

	svc, err := service.New(pool, sched, scraper.New(cfg.Site, cfg.Scraper, logger), cfg.Engine.JobTimeout, logger)
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("failed to create service: %w", err), tracer.Shutdown(base))
	}

	cache, err := api.NewResponseCache(cfg.Cache)
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("failed to create response cache: %w", err), tracer.Shutdown(base))
	}

	server := api.NewServer(cfg.Server, logger, api.NewHandlers(logger, svc, cache))

	sched.Start(base)
	logger.Info("Components ready.",
		zap.Int("workers", workers),
		zap.String("cache", cfg.Cache.Backend),
		zap.Duration("job_timeout", cfg.Engine.JobTimeout),
	)

	return &app{
		logger: logger,
		tracer: tracer,
		pool:   pool,
		sched:  sched,
		cache:  cache,
		server: server,

		shutdownTimeout: cfg.Server.ShutdownTimeout,
	}, nil
}

// run serves on ln until ctx is done or the server fails.
func (a *app) run(ctx context.Context, ln net.Listener) error {
	serveErr := make(chan error, 1)
	go func() { serveErr <- a.server.Serve(ln) }()

	var err error
	select {
	case <-ctx.Done():
		a.logger.Info("Shutdown signal received.")
	case err = <-serveErr:
		a.logger.Error("API server stopped unexpectedly.", zap.Error(err))
	}
	return multierr.Append(err, a.shutdown(a.shutdownTimeout))
}

// shutdown stops intake first, then lets jobs finish, then closes browsers.
func (a *app) shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var err error
	err = multierr.Append(err, a.server.Shutdown(ctx))
	err = multierr.Append(err, a.sched.Stop(ctx))

	// Draining gets its own budget; a scheduler that overran must not leave browsers behind.
	drainCtx, cancelDrain := context.WithTimeout(context.Background(), timeout)
	defer cancelDrain()
	err = multierr.Append(err, a.pool.DrainAll(drainCtx))

	err = multierr.Append(err, a.tracer.Shutdown(drainCtx))
	err = multierr.Append(err, a.cache.Close())

	if err != nil {
		a.logger.Warn("Shutdown finished with errors.", zap.Error(err))
	} else {
		a.logger.Info("Shutdown complete.")
	}
	return err
}

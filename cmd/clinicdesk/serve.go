package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/phrazzld/clinicdesk/internal/bridge"
)

// httpShutdownTimeout bounds the graceful shutdown of the bridge listener.
const httpShutdownTimeout = 10 * time.Second

func newServeCommand(rootOpts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the task core and websocket bridge",
		Long: `Connects to the database, applies pending migrations, starts the worker
pool and loads the catalog. When server.bridge_addr is set, every channel
publication is streamed to websocket clients on /ws.

Stops on SIGINT or SIGTERM, draining queued tasks for up to
dispatcher.stop_timeout.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := rootOpts.load(cmd)
			if err != nil {
				return err
			}
			app, err := newApplication(cfg, log)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return app.serve(ctx)
		},
	}
}

// serve runs until ctx is cancelled or the bridge listener fails.
func (app *application) serve(ctx context.Context) error {
	if err := app.connect(ctx); err != nil {
		return err
	}

	var (
		broadcaster *bridge.Broadcaster
		server      *http.Server
	)
	if addr := app.config.Server.BridgeAddr; addr != "" {
		cfg := bridge.DefaultConfig()
		cfg.MaxClients = app.config.Server.BridgeMaxClients
		cfg.AllowedOrigins = app.config.Server.BridgeAllowedOrigins

		var err error
		broadcaster, err = bridge.NewBroadcaster(app.bus, cfg, app.logger)
		if err != nil {
			_ = app.manager.Shutdown()
			return fmt.Errorf("failed to create websocket bridge: %w", err)
		}
		server = &http.Server{
			Addr:              addr,
			Handler:           bridge.NewRouter(broadcaster, app.bus, app.logger),
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	// The loop outlives gctx so shutdown can drain it.
	g.Go(func() error {
		return app.loop.Run(context.WithoutCancel(gctx))
	})
	app.dispatcher.Start()

	if _, err := app.service.RefreshCatalog(); err != nil {
		app.logger.Error("failed to load catalog", "error", err)
	}

	if server != nil {
		g.Go(func() error {
			app.logger.Info("starting websocket bridge", "addr", server.Addr)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("websocket bridge failed: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		app.logger.Info("shutting down")

		var shutdownErr error
		if server != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				shutdownErr = fmt.Errorf("websocket bridge shutdown failed: %w", err)
			}
		}

		// Tasks still draining publish until the loop stops.
		err := app.shutdown(context.Background())
		if broadcaster != nil {
			broadcaster.Close()
		}
		if shutdownErr != nil {
			return shutdownErr
		}
		return err
	})

	return g.Wait()
}

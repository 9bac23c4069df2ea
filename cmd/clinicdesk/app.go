package main

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"

	"github.com/phrazzld/clinicdesk/internal/clinic"
	"github.com/phrazzld/clinicdesk/internal/config"
	"github.com/phrazzld/clinicdesk/internal/consumer"
	"github.com/phrazzld/clinicdesk/internal/events"
	"github.com/phrazzld/clinicdesk/internal/redact"
	"github.com/phrazzld/clinicdesk/internal/store"
	"github.com/phrazzld/clinicdesk/internal/task"
)

// application holds the shared dependencies of a command so they are
// started and cleaned up in one place.
type application struct {
	config *config.Config
	logger *slog.Logger

	loop       *consumer.Loop
	bus        *events.Bus
	manager    *store.Manager
	dispatcher *task.Dispatcher
	service    *clinic.Service
}

// newApplication wires the task core. Nothing runs and no connection is
// opened until connect and start are called.
func newApplication(cfg *config.Config, logger *slog.Logger) (*application, error) {
	app := &application{
		config: cfg,
		logger: logger,
	}

	app.loop = consumer.New(logger)

	var err error
	app.bus, err = events.NewBus(app.loop, logger, events.Channels()...)
	if err != nil {
		return nil, fmt.Errorf("failed to create event bus: %w", err)
	}

	app.manager = store.NewManager(logger, store.WithPoolConfig(store.PoolConfig{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    max(1, cfg.Database.MaxOpenConns/2),
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}))

	app.dispatcher, err = task.NewDispatcher(task.Config{
		WorkerCount: cfg.Dispatcher.WorkerCount,
		QueueSize:   cfg.Dispatcher.QueueSize,
	}, app.loop, logger,
		task.WithMeterProvider(otel.GetMeterProvider()),
		task.WithFailureBus(app.bus),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create task dispatcher: %w", err)
	}

	app.service = clinic.NewService(app.dispatcher, app.manager, clinic.NewQueries(app.bus), logger)
	return app, nil
}

// credentials maps database settings onto the resource manager's credentials.
func credentials(cfg config.DatabaseConfig) store.Credentials {
	return store.Credentials{
		Driver:       cfg.Driver,
		Host:         cfg.Host,
		Port:         cfg.Port,
		User:         cfg.User,
		Secret:       cfg.Password,
		DatabaseName: cfg.Name,
		SSLMode:      cfg.SSLMode,
	}
}

// connect opens the database and brings the schema up to date.
func (app *application) connect(ctx context.Context) error {
	if err := app.manager.Connect(ctx, credentials(app.config.Database)); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	version, err := app.manager.Migrate(ctx)
	if err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	app.logger.Info("database ready", "schema_version", version)
	return nil
}

// start runs the consumer loop in the background and starts the workers.
// The loop ignores ctx cancellation so shutdown can drain it.
func (app *application) start(ctx context.Context) {
	go func() {
		if err := app.loop.Run(context.WithoutCancel(ctx)); err != nil {
			app.logger.Error("consumer loop exited", "error", err)
		}
	}()
	app.dispatcher.Start()
}

// shutdown drains the dispatcher within the configured timeout, lets the
// loop deliver what is left and closes the database.
func (app *application) shutdown(ctx context.Context) error {
	var firstErr error

	stopCtx := ctx
	if timeout := app.config.Dispatcher.StopTimeout; timeout > 0 {
		var cancel context.CancelFunc
		stopCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := app.dispatcher.Stop(stopCtx); err != nil {
		app.logger.Error("task dispatcher did not drain", "error", redact.Error(err))
		firstErr = err
	}

	app.loop.Stop()
	select {
	case <-app.loop.Done():
	case <-ctx.Done():
		app.logger.Warn("consumer loop still running at shutdown")
	}

	if err := app.manager.Shutdown(); err != nil && firstErr == nil {
		firstErr = err
	}

	app.logger.Info("application shutdown completed")
	return firstErr
}

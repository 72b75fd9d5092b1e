package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/phrazzld/sendnforget/internal/api"
	"github.com/phrazzld/sendnforget/internal/config"
	"github.com/phrazzld/sendnforget/internal/delivery"
	"github.com/phrazzld/sendnforget/internal/dispatch"
	"github.com/phrazzld/sendnforget/internal/platform/backends"
	"github.com/phrazzld/sendnforget/internal/platform/postgres"
	"github.com/phrazzld/sendnforget/internal/status"
	"github.com/phrazzld/sendnforget/internal/store"
	"github.com/phrazzld/sendnforget/internal/worker"
)

// application holds the worker's dependencies and releases them on cleanup.
type application struct {
	config *config.Config
	logger *slog.Logger

	jobStore store.JobStore
	broker   backends.Broker
	pool     *worker.Pool
	reader   *status.Reader

	// dispatcher is set in local mode, where this process also accepts submissions.
	dispatcher *dispatch.Dispatcher

	closers []func() error
}

func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger, local bool) (*application, error) {
	if local && cfg.Queue.Driver == backends.QueueMemory {
		logger.Info("local mode with in-memory queue, submissions are processed by this process only")
	}

	js, err := backends.OpenJobStore(ctx, cfg.Store, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open job store: %w", err)
	}
	closers := []func() error{js.Close}

	if js.DB != nil && cfg.Store.AutoMigrate {
		if err := postgres.Migrate(ctx, js.DB, postgres.MigrateUp); err != nil {
			_ = js.Close()
			return nil, err
		}
	}

	sender, err := backends.OpenSender(ctx, cfg.Mail, logger)
	if err != nil {
		_ = js.Close()
		return nil, fmt.Errorf("failed to open mail transport: %w", err)
	}

	broker, err := backends.OpenBroker(ctx, cfg, logger)
	if err != nil {
		_ = js.Close()
		return nil, fmt.Errorf("failed to open task queue: %w", err)
	}

	injector := delivery.NewRandomInjector(cfg.Worker.FailureProbability, time.Now().UnixNano())
	app := newApplicationWith(cfg, logger, js.JobStore, broker, sender, injector, local)
	app.closers = append(app.closers, closers...)
	return app, nil
}

func newApplicationWith(
	cfg *config.Config,
	logger *slog.Logger,
	jobStore store.JobStore,
	broker backends.Broker,
	sender delivery.Sender,
	injector delivery.FailureInjector,
	local bool,
) *application {
	processor := worker.NewProcessor(jobStore, sender, injector, worker.ProcessorConfig{
		SimulatedDelay: cfg.Worker.SimulatedDelay,
		SubjectPrefix:  cfg.Mail.SubjectPrefix,
	}, logger.With("component", "processor"))

	pool := worker.NewPool(broker, processor, worker.PoolConfig{
		Concurrency:    cfg.Worker.Concurrency,
		AttemptTimeout: cfg.Worker.SimulatedDelay + cfg.Worker.DeliveryTimeout,
		Retry: worker.RetryPolicy{
			MaxAttempts: cfg.Worker.MaxAttempts,
			BaseDelay:   cfg.Worker.BackoffBase,
			MaxDelay:    cfg.Worker.BackoffMax,
		},
		DeadLetterConfigErrors: cfg.Worker.DeadLetterConfigErrors,
	}, logger)

	app := &application{
		config:   cfg,
		logger:   logger,
		jobStore: jobStore,
		broker:   broker,
		pool:     pool,
		reader:   status.NewReader(jobStore),
		closers:  []func() error{broker.Close},
	}
	if local {
		app.dispatcher = dispatch.NewDispatcher(broker, logger)
	}
	return app
}

// Run starts the worker pool and the HTTP servers and blocks until ctx is
// cancelled or a server fails.
func (app *application) Run(ctx context.Context) error {
	statusLn, err := net.Listen("tcp", fmt.Sprintf(":%d", app.config.Worker.StatusPort))
	if err != nil {
		return fmt.Errorf("failed to listen on status port %d: %w", app.config.Worker.StatusPort, err)
	}

	var notifyLn net.Listener
	if app.dispatcher != nil {
		notifyLn, err = net.Listen("tcp", fmt.Sprintf(":%d", app.config.Server.Port))
		if err != nil {
			_ = statusLn.Close()
			return fmt.Errorf("failed to listen on port %d: %w", app.config.Server.Port, err)
		}
	}

	return app.serve(ctx, statusLn, notifyLn)
}

// serve runs the pool and serves the status API on statusLn and, when
// notifyLn is non-nil, the submit API.
func (app *application) serve(ctx context.Context, statusLn, notifyLn net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	app.pool.Start()
	defer app.pool.Stop()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	start := func(handler func() error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := handler(); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			// One server stopping takes the other down with it.
			cancel()
		}()
	}

	statusRouter := api.NewStatusRouter(api.NewJobsHandler(app.reader), app.logger)
	start(func() error {
		return api.Serve(ctx, statusLn, statusRouter, app.logger.With("server", "status"))
	})

	if notifyLn != nil {
		notifyRouter := api.NewNotifyRouter(api.NewNotifyHandler(app.dispatcher), app.config.Server.AllowedOrigins, app.logger)
		start(func() error {
			return api.Serve(ctx, notifyLn, notifyRouter, app.logger.With("server", "notify"))
		})
	}

	wg.Wait()
	return errors.Join(errs...)
}

func (app *application) cleanup() {
	for _, c := range app.closers {
		if err := c(); err != nil {
			app.logger.Error("error during cleanup", "error", err)
		}
	}
	app.logger.Info("worker shutdown completed")
}

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/phrazzld/sendnforget/internal/api"
	"github.com/phrazzld/sendnforget/internal/config"
	"github.com/phrazzld/sendnforget/internal/dispatch"
	"github.com/phrazzld/sendnforget/internal/platform/backends"
	"github.com/phrazzld/sendnforget/internal/queue"
)

// application holds the dispatcher's dependencies and releases them on cleanup.
type application struct {
	config     *config.Config
	logger     *slog.Logger
	publisher  queue.Publisher
	dispatcher *dispatch.Dispatcher
}

func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*application, error) {
	publisher, err := backends.OpenPublisher(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open task queue: %w", err)
	}
	return newApplicationWith(cfg, logger, publisher), nil
}

func newApplicationWith(cfg *config.Config, logger *slog.Logger, publisher queue.Publisher) *application {
	return &application{
		config:     cfg,
		logger:     logger,
		publisher:  publisher,
		dispatcher: dispatch.NewDispatcher(publisher, logger),
	}
}

func (app *application) router() http.Handler {
	return api.NewNotifyRouter(
		api.NewNotifyHandler(app.dispatcher),
		app.config.Server.AllowedOrigins,
		app.logger,
	)
}

// Run serves the submit API until ctx is cancelled.
func (app *application) Run(ctx context.Context) error {
	return api.ListenAndServe(ctx, app.config.Server.Port, app.router(), app.logger)
}

func (app *application) cleanup() {
	if app.publisher != nil {
		if err := app.publisher.Close(); err != nil {
			app.logger.Error("error closing task queue", "error", err)
		}
	}
	app.logger.Info("dispatcher shutdown completed")
}

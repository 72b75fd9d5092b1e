package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/phrazzld/sendnforget/internal/config"
	"github.com/phrazzld/sendnforget/internal/platform/backends"
	"github.com/phrazzld/sendnforget/internal/platform/postgres"
)

// handleMigrations runs a single goose command against the configured
// PostgreSQL store.
func handleMigrations(ctx context.Context, cfg *config.Config, command string, logger *slog.Logger) error {
	if cfg.Store.Driver != backends.StorePostgres {
		return fmt.Errorf("migrations require the postgres store driver, got %q", cfg.Store.Driver)
	}

	db, err := postgres.Open(ctx, cfg.Store.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error("error closing database connection", "error", err)
		}
	}()

	return postgres.Migrate(ctx, db, command)
}

// Package main implements the sendNforget worker. It consumes notification
// tasks from the queue, delivers them, records their status and serves the
// status API.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/phrazzld/sendnforget/internal/config"
	"github.com/phrazzld/sendnforget/internal/platform/logger"
)

type flags struct {
	migrate    string
	configFile string
	local      bool
}

func parseFlags(args []string) (flags, error) {
	var f flags
	fs := flag.NewFlagSet("worker", flag.ContinueOnError)
	fs.StringVar(&f.migrate, "migrate", "", "run a database migration command (up, down, status, version, reset) and exit")
	fs.StringVar(&f.configFile, "config", "", "path to a YAML config file (default ./config.yaml)")
	fs.BoolVar(&f.local, "local", false, "also serve the submit API from this process")
	if err := fs.Parse(args); err != nil {
		return flags{}, err
	}
	return f, nil
}

func main() {
	// A missing .env file is normal outside local development.
	_ = godotenv.Load()

	f, err := parseFlags(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, f); err != nil {
		log.Fatalf("worker failed: %v", err)
	}
}

func run(ctx context.Context, f flags) error {
	cfg, err := config.LoadFile(f.configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	l, err := logger.Setup(cfg.Server)
	if err != nil {
		return fmt.Errorf("failed to set up logger: %w", err)
	}

	if f.migrate != "" {
		return handleMigrations(ctx, cfg, f.migrate, l)
	}

	l.Info("worker configuration loaded",
		"status_port", cfg.Worker.StatusPort,
		"log_level", cfg.Server.LogLevel,
		"queue_driver", cfg.Queue.Driver,
		"store_driver", cfg.Store.Driver,
		"mail_transport", cfg.Mail.Transport,
		"concurrency", cfg.Worker.Concurrency,
		"local", f.local)

	app, err := newApplication(ctx, cfg, l, f.local)
	if err != nil {
		return err
	}
	defer app.cleanup()

	return app.Run(ctx)
}

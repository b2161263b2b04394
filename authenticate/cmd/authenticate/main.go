package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/vidcat/vidcat-stack/authenticate/app"
	"github.com/vidcat/vidcat-stack/common/config"
	"github.com/vidcat/vidcat-stack/common/logging"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger := logging.New(
		logging.ParseLevel(cfg.Logging.Level),
		cfg.Logging.Format,
	).With(logging.Service("authenticate"))
	logging.SetDefault(logger)

	slog.Info("Starting Authenticate service",
		slog.Int("port", cfg.Server.Port),
		slog.String("database", cfg.Database.Type),
		slog.String("log_level", cfg.Logging.Level),
		slog.String("log_format", cfg.Logging.Format),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.Run(ctx, cfg, logger); err != nil {
		slog.Error("Authenticate service failed", logging.Error(err))
		os.Exit(1)
	}
}

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"finassist/internal/config"
	"finassist/internal/infrastructure"
	"finassist/internal/pipeline"
	"finassist/internal/store"
)

func main() {
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Error: failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		fmt.Printf("Warning: failed to initialize logger, using default: %v\n", err)
		logger = slog.Default()
	}
	defer infrastructure.CloseLogFile()

	ctx := infrastructure.WithRunID(context.Background(), uuid.NewString())
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	gateway, err := store.NewGateway(ctx, cfg.Mongo, logger)
	if err != nil {
		logger.ErrorContext(ctx, "store_unavailable", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := gateway.Close(closeCtx); err != nil {
			logger.Warn("store_close_failed", slog.String("error", err.Error()))
		}
	}()

	stats, err := pipeline.NewNormalizer(gateway, logger).Run(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "normalize_failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	fmt.Printf("normalized %d companies: %d re-keyed, %d cleaned, %d skipped\n",
		stats.Companies, stats.Rekeyed, stats.Cleaned, stats.Skipped)
}

package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/google/uuid"

	"finassist/internal/config"
	"finassist/internal/download"
	"finassist/internal/infrastructure"
	"finassist/internal/pipeline"
	"finassist/internal/scrape"
	"finassist/internal/store"
)

func main() {
	var logger *slog.Logger
	defer func() {
		if r := recover(); r != nil {
			fmt.Printf("PANIC RECOVERED: %v\n", r)
			fmt.Printf("Stack trace:\n%s\n", debug.Stack())
			if logger != nil {
				logger.Error("Scraper panicked",
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())))
			}
			os.Exit(1)
		}
	}()

	mode := flag.String("mode", "full", "run mode: full | latest")
	symbol := flag.String("symbol", "", "symbol to look up (latest mode only)")
	rankFrom := flag.Int("rank-from", 0, "override first listing rank to process")
	rankTo := flag.Int("rank-to", 0, "override last listing rank to process")
	headless := flag.Bool("headless", true, "run browser headless")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Error: failed to load config: %v\n", err)
		os.Exit(1)
	}
	cfg.Scrape.Headless = *headless
	if *rankFrom > 0 {
		cfg.Scrape.RankFrom = *rankFrom
	}
	if *rankTo > 0 {
		cfg.Scrape.RankTo = *rankTo
	}

	paths := config.NewPaths(cfg)
	if err := paths.EnsureDirectories(); err != nil {
		fmt.Printf("Error: failed to create required directories: %v\n", err)
		os.Exit(1)
	}

	logger, err = infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		fmt.Printf("Warning: failed to initialize logger, using default: %v\n", err)
		logger = slog.Default()
	}
	defer infrastructure.CloseLogFile()

	runID := uuid.NewString()
	ctx := infrastructure.WithRunID(context.Background(), runID)
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.InfoContext(ctx, "scraper_starting",
		slog.String("mode", *mode),
		slog.Int("rank_from", cfg.Scrape.RankFrom),
		slog.Int("rank_to", cfg.Scrape.RankTo),
		slog.String("range", cfg.Scrape.Range),
		slog.Bool("headless", cfg.Scrape.Headless))

	go monitorResources(ctx, logger)

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

	session, err := scrape.NewSession(cfg.Scrape, paths.DownloadsDir)
	if err != nil {
		logger.ErrorContext(ctx, "browser_unavailable", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer session.Close()

	reconciler := download.NewReconciler(paths.DownloadsDir, cfg.Download.PollInterval, logger)
	machine := scrape.NewMachine(session, cfg.Scrape, cfg.Download, gateway, reconciler, paths, logger)

	switch *mode {
	case "full":
		runFull(ctx, cfg, session, machine, logger)
	case "latest":
		runLatest(ctx, session, machine, *symbol, logger)
	default:
		logger.ErrorContext(ctx, "unknown_mode", slog.String("mode", *mode))
		os.Exit(1)
	}
}

// runFull walks the configured rank window through the whole acquisition
// sequence.
func runFull(ctx context.Context, cfg *config.Config, session *scrape.Session, machine *scrape.Machine, logger *slog.Logger) {
	if err := session.Prime(ctx); err != nil {
		logger.ErrorContext(ctx, "prime_failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := session.Anchor(ctx); err != nil {
		logger.ErrorContext(ctx, "anchor_failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	runner := pipeline.NewRunner(machine, logger)
	summary, err := runner.Run(ctx, cfg.Scrape.RankFrom, cfg.Scrape.RankTo)
	if err != nil {
		logger.ErrorContext(ctx, "run_failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if summary.Failed > 0 {
		// Partial success still exits non-zero so schedulers notice.
		os.Exit(2)
	}
}

// runLatest resolves one symbol through the site search and prints its
// most recent trading-day row.
func runLatest(ctx context.Context, session *scrape.Session, machine *scrape.Machine, symbol string, logger *slog.Logger) {
	if symbol == "" {
		logger.ErrorContext(ctx, "symbol_required")
		os.Exit(1)
	}
	if err := session.Prime(ctx); err != nil {
		logger.ErrorContext(ctx, "prime_failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	quote, err := machine.LatestQuote(ctx, symbol)
	if err != nil {
		logger.ErrorContext(ctx, "latest_quote_failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()))
		os.Exit(1)
	}

	fmt.Printf("%s  open=%s high=%s low=%s close=%s ltp=%s volume=%s\n",
		quote.Date, quote.Open, quote.High, quote.Low, quote.Close, quote.LTP, quote.Volume)
}

// monitorResources logs memory and goroutine counts for long runs.
func monitorResources(ctx context.Context, logger *slog.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			var m runtime.MemStats
			runtime.ReadMemStats(&m)
			logger.InfoContext(ctx, "resource_usage",
				slog.Uint64("memory_alloc_mb", m.Alloc/1024/1024),
				slog.Uint64("memory_sys_mb", m.Sys/1024/1024),
				slog.Int("goroutines", runtime.NumGoroutine()))
		}
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/urfave/cli/v2"

	"github.com/Piaskraft/mjw-sync/config"
	"github.com/Piaskraft/mjw-sync/internal/audit"
	"github.com/Piaskraft/mjw-sync/internal/cache"
	"github.com/Piaskraft/mjw-sync/internal/catalog"
	"github.com/Piaskraft/mjw-sync/internal/feed"
	"github.com/Piaskraft/mjw-sync/internal/rate"
	"github.com/Piaskraft/mjw-sync/internal/syncer"
)

func main() {
	app := &cli.App{
		Name:  "mjw-sync",
		Usage: "synchronize supplier feed prices and stock into a PrestaShop catalog",
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "run the synchronization (hourly schedule unless --once)",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "once", Usage: "run a single pass and exit"},
					&cli.BoolFlag{Name: "real", Usage: "apply catalog updates (default is a dry run)"},
				},
				Action: runSync,
			},
			{
				Name:   "export-logs",
				Usage:  "convert the newest run log to CSV",
				Action: exportLogs,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func runSync(c *cli.Context) error {
	if err := godotenv.Load(); err != nil {
		// no .env file is fine, the environment may be set elsewhere
		slog.Debug("no .env file loaded", "err", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if c.Bool("real") {
		cfg.Live = true
	}

	logger := newLogger(cfg.LogLevel)

	store, err := cache.Open(cfg.CachePath)
	if err != nil {
		return fmt.Errorf("opening price cache: %w", err)
	}
	defer store.Close()

	var rates rate.Source
	if cfg.RateMode == "ecb" {
		rates = rate.NewECB(cfg.ECBURL, cfg.RateCurrency)
	} else {
		rates = rate.Fixed(cfg.FixedRate)
	}

	o := &syncer.Orchestrator{
		Feed:       feed.New(cfg.FeedURL),
		Rates:      rates,
		Catalog:    catalog.New(cfg.APIURL, cfg.APIKey, logger),
		Cache:      store,
		Audit:      audit.NewFileSink(cfg.LogsDir, logger),
		Logger:     logger,
		Bounds:     cfg.Bounds,
		Margin:     cfg.Margin,
		Ending:     cfg.Ending,
		MaxDelta:   cfg.MaxDelta,
		ReqsPerSec: cfg.ReqsPerSec,
		Live:       cfg.Live,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if c.Bool("once") {
		return o.RunOnce(ctx)
	}

	err = o.RunScheduled(ctx, cfg.Interval)
	if errors.Is(err, context.Canceled) {
		logger.Info("shutting down")
		return nil
	}
	return err
}

func exportLogs(c *cli.Context) error {
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file loaded", "err", err)
	}
	dir := os.Getenv("LOGS_DIR")
	if dir == "" {
		dir = "./logs"
	}
	out, err := audit.ExportCSV(dir)
	if err != nil {
		return err
	}
	fmt.Println(out)
	return nil
}

func newLogger(level slog.Level) *slog.Logger {
	return slog.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level:      level,
		TimeFormat: "2006-01-02 15:04:05",
	}))
}

package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/scrapline/bidengine/bidengine"
	"github.com/scrapline/bidengine/bidengine/database"
	"github.com/scrapline/bidengine/bidengine/logger"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	path := flag.String("config", "config.toml", "path to config")
	sharedRateLimit := flag.Bool("shared-rate-limit", false, "count bid attempts through the audit store instead of process memory")
	flag.Parse()

	cfg, err := bidengine.LoadConfig(*path)
	if err != nil {
		slog.Error("Failed to load configuration", slog.Any("error", err))
		os.Exit(-1)
	}

	logger.Setup(cfg.Log.Level, cfg.Log.Format, cfg.Log.AddSource)

	slog.Info("Starting bid settlement engine",
		slog.String("version", version),
		slog.String("commit", commit))

	slog.Info("Initializing database connection...")
	dbStartTime := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	db, err := database.New(ctx, cfg.DB)
	if err != nil {
		slog.Error("Database connection failed",
			slog.String("error", err.Error()),
			slog.Duration("attempted_for", time.Since(dbStartTime)))
		os.Exit(-1)
	}
	defer db.Close()

	slog.Info("Database connected successfully",
		slog.String("database", cfg.DB.Database),
		slog.Duration("took", time.Since(dbStartTime)))

	slog.Info("Initializing database schema...")
	if err := db.InitializeSchema(ctx); err != nil {
		slog.Error("Failed to initialize database schema",
			slog.String("error", err.Error()))
		os.Exit(-1)
	}
	slog.Info("Database schema initialized successfully")

	if *sharedRateLimit {
		cfg.Settlement.SharedRateLimit = true
	}

	e := bidengine.New(*cfg, version, commit)
	e.Setup(db, nil)

	e.Scheduler.Start()
	defer e.Scheduler.Shutdown()

	logger.LogSystem("Settlement engine initialized successfully",
		slog.Int("scheduler_interval_sec", cfg.Settlement.SchedulerIntervalSec),
		slog.Int("outbid_backfill_limit", cfg.Settlement.OutbidBackfillLimit),
		slog.Bool("shared_rate_limit", cfg.Settlement.SharedRateLimit))

	s := make(chan os.Signal, 1)
	signal.Notify(s, syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	<-s
	slog.Info("Shutting down settlement engine...")
}

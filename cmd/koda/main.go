package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/kodacare/koda/internal/api"
	"github.com/kodacare/koda/internal/compactor"
	"github.com/kodacare/koda/internal/config"
	"github.com/kodacare/koda/internal/events"
	"github.com/kodacare/koda/internal/extractor"
	"github.com/kodacare/koda/internal/gemini"
	"github.com/kodacare/koda/internal/pipeline"
	"github.com/kodacare/koda/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	setupLogging(cfg.LogLevel)

	slog.Info("koda starting", "port", cfg.Port)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Database
	db, err := store.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()
	if err := db.EnsureSchema(ctx); err != nil {
		slog.Error("failed to apply schema", "error", err)
		os.Exit(1)
	}
	slog.Info("database connected")

	// Extraction oracle
	llm := gemini.NewClient(cfg.GeminiAPIKey, cfg.GeminiModel)
	ext := extractor.New(llm, slog.Default())
	slog.Info("gemini client ready", "model", cfg.GeminiModel)

	// Events (optional: without NATS there is just no speech rendering
	// downstream)
	var publisher pipeline.Publisher
	if cfg.NatsURL != "" {
		eventsClient, err := events.NewClient(cfg.NatsURL, cfg.NatsToken, slog.Default())
		if err != nil {
			slog.Error("failed to connect to NATS", "error", err)
			os.Exit(1)
		}
		defer eventsClient.Close()
		publisher = eventsClient
		slog.Info("NATS connected", "url", cfg.NatsURL)
	} else {
		slog.Warn("NATS not configured — running without event publication")
	}

	// Pipeline, the main report path
	pl := pipeline.New(db, ext, publisher, slog.Default())

	// Background summary compaction
	if cfg.CompactInterval > 0 {
		comp := compactor.NewRunner(compactor.Config{Threshold: cfg.CompactThreshold}, db, llm, slog.Default())
		go comp.RunPeriodically(ctx, cfg.CompactInterval)
		slog.Info("summary compaction enabled", "interval", cfg.CompactInterval, "threshold", cfg.CompactThreshold)
	}

	// HTTP API
	limiter := rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst)
	srv := api.NewServer(cfg.Port, pl, db, limiter, slog.Default())
	go func() {
		if err := srv.Start(); err != nil {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	slog.Info("koda ready", "port", cfg.Port)

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}
	cancel()
	slog.Info("koda stopped")
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	slog.SetDefault(slog.New(handler))
}

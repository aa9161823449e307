package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"squash/internal/core"
	"squash/internal/server/api"
	"squash/internal/server/config"
	"squash/internal/server/database"
	"squash/internal/server/logging"
	"squash/internal/server/service"
	"squash/internal/server/storage"
)

func main() {
	// Load config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Structured logging
	slog.SetDefault(logging.New(cfg.LogLevel))
	slog.Info("configuration loaded",
		"port", cfg.Port,
		"staging_path", cfg.StagingPath,
		"output_path", cfg.OutputPath,
		"max_upload_size", cfg.MaxUploadSize,
		"archive_format", cfg.ArchiveFormat,
		"image_quality", cfg.ImageQuality,
	)

	// Initialize storage
	staging := storage.NewFileSystemStore(cfg.StagingPath)
	output := storage.NewFileSystemStore(cfg.OutputPath)
	for _, store := range []*storage.FileSystemStore{staging, output} {
		if err := store.EnsureDir(); err != nil {
			slog.Error("failed to initialize storage", "error", err)
			os.Exit(1)
		}
	}
	slog.Info("file storage initialized", "staging", cfg.StagingPath, "output", cfg.OutputPath)

	// Optional compression ledger
	ctx := context.Background()
	var (
		ledger service.Ledger
		health api.HealthChecker
	)
	if cfg.DatabaseURL != "" {
		db, err := database.New(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		if err := db.RunMigrations(ctx); err != nil {
			slog.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}
		slog.Info("database migrations complete")

		ledger = database.NewRepository(db.Pool)
		health = db
	} else {
		slog.Info("DATABASE_URL not set, compression ledger disabled")
	}

	// Strategies and service
	archive, err := core.NewArchiveStrategy(cfg.ArchiveFormat)
	if err != nil {
		slog.Error("invalid archive format", "error", err)
		os.Exit(1)
	}
	selector := core.NewSelector(archive, core.NewImageStrategy(cfg.ImageQuality))
	svc := service.NewCompressService(cfg, staging, output, selector, ledger)

	// Start reaper
	reaperCtx, reaperCancel := context.WithCancel(context.Background())
	reaper := storage.NewReaper(map[string]storage.Store{
		"staging": staging,
		"output":  output,
	}, cfg.ReapInterval, cfg.OrphanMaxAge)
	reaper.Start(reaperCtx)

	// Setup HTTP router
	handler := api.NewHandler(svc, health, cfg.MaxUploadSize)
	e, limiter := api.SetupRouter(handler, cfg)
	e.Server.ReadTimeout = cfg.RequestTimeout
	e.Server.WriteTimeout = cfg.RequestTimeout

	// Start server in a goroutine
	go func() {
		addr := fmt.Sprintf(":%s", cfg.Port)
		slog.Info("starting server", "addr", addr, "base_url", cfg.BaseURL)
		if err := e.Start(addr); err != nil {
			slog.Info("server stopped", "reason", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutting down", "signal", sig)

	// Stop accepting new requests, finish in-flight with 30s timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}
	limiter.Stop()

	// Stop reaper
	reaperCancel()
	reaper.Wait()

	slog.Info("server exited cleanly")
}

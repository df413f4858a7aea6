package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	nethttp "net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"timelens/internal/config"
	"timelens/internal/http"
	"timelens/internal/retention"
	"timelens/internal/storage"
	"timelens/internal/timeline"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))

	// Open the store through the recovery chain; only total failure is
	// fatal.
	db, outcome, err := storage.NewWithRecovery(cfg.DBPath, cfg.BackupDir)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer func() {
		_ = db.Close()
	}()
	slog.Info("Database opened", "path", cfg.DBPath, "recovery", outcome.String())

	if err := storage.IntegrityCheck(db); err != nil {
		slog.Error("Startup integrity check failed", "error", err)
	}

	captureRepo := storage.NewCaptureRepo(db, cfg.CaptureDir)
	batchRepo := storage.NewBatchRepo(db)
	observationRepo := storage.NewObservationRepo(db)
	cardRepo := storage.NewCardRepo(db)
	reviewRepo := storage.NewReviewRepo(db)
	llmCallRepo := storage.NewLLMCallRepo(db)
	searchRepo := storage.NewSearchRepo(db)

	svc := timeline.New(captureRepo, batchRepo, observationRepo, cardRepo, reviewRepo, llmCallRepo)
	defer svc.Close()

	bgCtx, cancelBg := context.WithCancel(context.Background())
	defer cancelBg()

	durability := storage.NewDurability(db, storage.DurabilityOptions{
		BackupDir:          cfg.BackupDir,
		BackupRetain:       cfg.BackupRetain,
		BackupInterval:     cfg.BackupInterval,
		CheckpointInterval: cfg.CheckpointInterval,
	})
	go durability.Run(bgCtx)
	slog.Info("Durability loop started", "backup_interval", cfg.BackupInterval, "checkpoint_interval", cfg.CheckpointInterval)

	enforcer := retention.New(captureRepo, cfg.CaptureDir, cfg.StorageLimitBytes, cfg.RetentionInterval)
	go enforcer.Run(bgCtx)
	if cfg.StorageLimitBytes > 0 {
		slog.Info("Retention enforcement started", "limit_bytes", cfg.StorageLimitBytes, "interval", cfg.RetentionInterval)
	} else {
		slog.Info("Retention enforcement disabled, no storage cap configured")
	}

	router := http.NewRouter(&http.Deps{
		Timeline: svc,
		Search:   searchRepo,
		DB:       db,
	})

	server := &nethttp.Server{Addr: ":" + cfg.APIPort, Handler: router}

	go func() {
		slog.Info("Starting API server", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, nethttp.ErrServerClosed) {
			log.Fatalf("API server failed: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	slog.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("Server shutdown incomplete", "error", err)
	}
}

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"faceattend/internal/app"
	"faceattend/internal/config"
	"faceattend/internal/logging"
)

// Worker consumes queued check-ins, runs recognition and stores the job results.
func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	logging.Setup(cfg.LogLevel, cfg.LogFormat)

	// Graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		slog.Error("worker init failed", "error", err)
		os.Exit(1)
	}
	defer a.Close()

	if !a.Async() {
		slog.Warn("queue backend is in-process; the api server runs its own worker", "backend", cfg.QueueBackend)
	}

	// Check face service health on startup
	if !cfg.FaceSkip {
		if err := a.Face.Health(ctx); err != nil {
			slog.Warn("face service not available, check-ins will fail until it is", "error", err)
		} else {
			slog.Info("face service connected")
		}
	}

	if err := a.NewWorker(cfg.ComparisonWorkers).Run(ctx); err != nil {
		slog.Error("worker failed", "error", err)
		os.Exit(1)
	}
}

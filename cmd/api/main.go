package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"faceattend/internal/api"
	"faceattend/internal/app"
	"faceattend/internal/auth"
	"faceattend/internal/config"
	"faceattend/internal/httpmiddleware"
	"faceattend/internal/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	logging.Setup(cfg.LogLevel, cfg.LogFormat)

	// Set Gin mode based on environment
	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		slog.Error("http server failed", "error", err)
		os.Exit(1)
	}
}

func runHTTP(cfg config.App) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if !cfg.FaceSkip {
		if err := a.Face.Health(ctx); err != nil {
			slog.Warn("face service not available", "error", err)
		} else {
			slog.Info("face service connected", "url", cfg.FaceServiceURL)
		}
	}

	// Without an external queue the worker runs in-process.
	workerDone := make(chan struct{})
	if a.Async() {
		close(workerDone)
	} else {
		go func() {
			defer close(workerDone)
			_ = a.NewWorker(cfg.ComparisonWorkers).Run(ctx)
		}()
	}

	r := api.NewRouter(api.RouterConfig{
		Issuer:          auth.NewIssuer(cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL),
		ProvisioningKey: cfg.ProvisioningKey,
		Service:         a.Service,
		Dispatcher:      a.Dispatcher,
		Jobs:            a.Jobs,
		Reports:         a.Ledger,
		Limiter:         httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin, a.Clock),
		Checks:          a.Checks(),
	})

	// Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server", "port", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		stop()
		<-workerDone
		return err
	}
	slog.Info("shutting down server")

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("server forced shutdown", "error", err)
	}
	<-workerDone

	slog.Info("server exited")
	return nil
}

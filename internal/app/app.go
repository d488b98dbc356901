// Package app assembles the attendance engine from configuration. The API
// server, the worker and the CLI all build on it.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"faceattend/internal/api/handlers"
	"faceattend/internal/attendance"
	"faceattend/internal/checkin"
	"faceattend/internal/clock"
	"faceattend/internal/cloudinary"
	"faceattend/internal/config"
	"faceattend/internal/face"
	"faceattend/internal/faceclient"
	"faceattend/internal/gallery"
	"faceattend/internal/queue"
	"faceattend/internal/recognition"
	"faceattend/internal/spool"
	"faceattend/internal/store"
)

// App holds the wired components. Optional parts are nil when not configured.
type App struct {
	Config  config.App
	Clock   clock.Clock
	Ledger  *attendance.Ledger
	Faces   *gallery.Dir
	Gallery *gallery.Cache
	Face    *faceclient.Client
	Engine  *recognition.Engine
	Service *checkin.Service

	Queue      queue.Queue
	Jobs       checkin.Jobs
	Spool      spool.Spool
	Dispatcher *checkin.Dispatcher

	db     *store.DB
	redis  *store.Redis
	nats   *queue.NATSQueue
	minio  *spool.MinIO
	closer []func() error
}

// New builds every component named by cfg. Backends that cannot be reached
// are reported as errors rather than silently replaced.
func New(ctx context.Context, cfg config.App) (*App, error) {
	a := &App{Config: cfg, Clock: clock.Real()}
	if err := a.build(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.Config

	records, err := a.openRecords(ctx)
	if err != nil {
		return err
	}
	schedule, err := attendance.NewSchedule(cfg.OfficialArrival, cfg.OfficialDeparture)
	if err != nil {
		return fmt.Errorf("official times: %w", err)
	}
	a.Ledger = attendance.NewLedger(records, a.Clock, cfg.CacheExpiration(), schedule)

	a.Faces, err = gallery.OpenDir(cfg.FacesDir)
	if err != nil {
		return fmt.Errorf("open faces dir: %w", err)
	}
	a.Gallery = gallery.NewCache(a.Faces, a.Clock, cfg.CacheExpiration())

	a.Face = faceclient.New(cfg.FaceServiceURL, cfg.FaceSkip)
	a.Face.Model = cfg.FaceModel
	a.Face.Detector = cfg.FaceDetector
	a.Face.Metric = cfg.DistanceMetric
	matcher, threshold, err := a.matcher()
	if err != nil {
		return err
	}
	a.Engine = recognition.NewEngine(a.Gallery, matcher, recognition.Options{
		Threshold:         threshold,
		Workers:           cfg.ComparisonWorkers,
		ComparisonTimeout: cfg.ComparisonTimeout,
		ProbeDir:          cfg.ProbeDir,
	})

	if err := a.openQueue(ctx); err != nil {
		return err
	}
	if err := a.openSpool(ctx); err != nil {
		return err
	}

	a.Service = checkin.NewService(checkin.Deps{
		Recognizer: a.Engine,
		Ledger:     a.Ledger,
		Faces:      a.Faces,
		Cache:      a.Gallery,
		Archiver:   a.archiver(),
		Publisher:  a.Queue,
		Clock:      a.Clock,
	})
	a.Dispatcher = checkin.NewDispatcher(a.Spool, a.Queue, a.Jobs, a.Clock)
	return nil
}

func (a *App) openRecords(ctx context.Context) (attendance.Store, error) {
	if a.Config.DatabaseURL == "" {
		csv, err := attendance.OpenCSV(a.Config.DataDir)
		if err != nil {
			return nil, fmt.Errorf("open csv store: %w", err)
		}
		slog.Info("attendance store", "backend", "csv", "dir", a.Config.DataDir)
		return csv, nil
	}

	db, err := store.NewDB(ctx, a.Config.DatabaseURL)
	if err != nil {
		return nil, err
	}
	a.db = db
	a.closer = append(a.closer, db.Close)

	repo := attendance.NewRepository(db.Client, db.Dialect)
	if err := repo.Migrate(ctx); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	slog.Info("attendance store", "backend", db.Dialect)
	return repo, nil
}

// matcher returns the face matcher and the engine threshold that goes with
// it. The face service reports its own distances, so verify mode uses
// RecognitionThreshold. In embedding mode the matcher already verifies
// against the metric threshold and the engine applies the same bound.
func (a *App) matcher() (face.Matcher, float64, error) {
	switch a.Config.MatcherMode {
	case "", "verify":
		return a.Face, a.Config.RecognitionThreshold, nil
	case "embedding":
		distance, threshold, err := face.DistanceByName(a.Config.DistanceMetric)
		if err != nil {
			return nil, 0, err
		}
		if a.Config.EmbeddingThreshold > 0 {
			threshold = a.Config.EmbeddingThreshold
		}
		return face.NewEmbeddingMatcher(a.Face, distance, threshold), threshold, nil
	default:
		return nil, 0, fmt.Errorf("unknown matcher mode %q", a.Config.MatcherMode)
	}
}

func (a *App) openQueue(ctx context.Context) error {
	cfg := a.Config
	switch cfg.QueueBackend {
	case "", "memory":
		a.Queue = queue.NewInMemory(64)
		a.Jobs = checkin.NewMemoryJobs(a.Clock, cfg.JobResultTTL)
		return nil
	case "redis", "nats":
	default:
		return fmt.Errorf("unknown queue backend %q", cfg.QueueBackend)
	}

	r, err := store.NewRedis(cfg.RedisAddr)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	a.redis = r
	a.closer = append(a.closer, r.Close)
	a.Jobs = checkin.NewRedisJobs(r.Client, cfg.JobResultTTL)

	if cfg.QueueBackend == "redis" {
		a.Queue = queue.NewRedisQueue(r.Client, "")
		return nil
	}
	nq, err := queue.NewNATSQueue(ctx, cfg.NATSURL, "")
	if err != nil {
		return err
	}
	a.nats = nq
	a.closer = append(a.closer, func() error { nq.Close(); return nil })
	a.Queue = nq
	return nil
}

func (a *App) openSpool(ctx context.Context) error {
	cfg := a.Config
	if cfg.SpoolBackend == "minio" || cfg.ArchiveBackend == "minio" {
		m, err := spool.NewMinIO(cfg.MinIO)
		if err != nil {
			return err
		}
		initCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		if err := m.EnsureBucket(initCtx); err != nil {
			return err
		}
		a.minio = m
	}

	switch cfg.SpoolBackend {
	case "", "dir":
		d, err := spool.NewDir(cfg.SpoolDir)
		if err != nil {
			return fmt.Errorf("open spool dir: %w", err)
		}
		a.Spool = d
	case "minio":
		a.Spool = a.minio
	default:
		return fmt.Errorf("unknown spool backend %q", cfg.SpoolBackend)
	}
	return nil
}

// archiver picks the off-site copy for enrolled faces. Cloudinary is used
// whenever its credentials are present and no backend is named.
func (a *App) archiver() checkin.Archiver {
	cfg := a.Config
	hasCloudinary := cfg.CloudinaryCloudName != "" && cfg.CloudinaryAPIKey != "" && cfg.CloudinaryAPISecret != ""
	switch {
	case cfg.ArchiveBackend == "minio" && a.minio != nil:
		slog.Info("face archive", "backend", "minio")
		return a.minio
	case cfg.ArchiveBackend == "cloudinary" || (cfg.ArchiveBackend == "" && hasCloudinary):
		if !hasCloudinary {
			slog.Warn("cloudinary archive requested but not configured")
			return nil
		}
		slog.Info("face archive", "backend", "cloudinary", "cloud", cfg.CloudinaryCloudName)
		return cloudinary.New(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder)
	}
	return nil
}

// Async reports whether a separate worker process consumes check-in tasks.
func (a *App) Async() bool {
	return a.Config.QueueBackend == "redis" || a.Config.QueueBackend == "nats"
}

// Checks returns the readiness probes of the configured backends.
func (a *App) Checks() map[string]handlers.Check {
	checks := map[string]handlers.Check{
		"store": func(ctx context.Context) error {
			_, err := a.Ledger.Attendance(ctx)
			return err
		},
		"face_service": a.Face.Health,
	}
	if a.db != nil {
		checks["database"] = a.db.Client.PingContext
	}
	if a.redis != nil {
		checks["redis"] = func(ctx context.Context) error {
			if !a.redis.Healthy(ctx) {
				return errors.New("redis unreachable")
			}
			return nil
		}
	}
	if a.nats != nil {
		checks["nats"] = func(context.Context) error { return a.nats.Ping() }
	}
	if a.minio != nil {
		checks["minio"] = a.minio.Ping
	}
	return checks
}

// NewWorker builds a worker over the app's queue.
func (a *App) NewWorker(concurrency int) *checkin.Worker {
	return checkin.NewWorker(a.Service, a.Spool, a.Jobs, a.Queue, concurrency)
}

// Close releases backends in reverse order of opening.
func (a *App) Close() {
	for i := len(a.closer) - 1; i >= 0; i-- {
		if err := a.closer[i](); err != nil {
			slog.Warn("close backend", "error", err)
		}
	}
	a.closer = nil
}

package config

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// App holds the runtime configuration. Values come from defaults, then an
// optional YAML file (CONFIG_FILE), then environment variables.
type App struct {
	Env       string `yaml:"env"`
	HTTPPort  string `yaml:"http_port"`
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Record store. An empty DatabaseURL selects the CSV files under DataDir.
	DatabaseURL string `yaml:"database_url"`
	DataDir     string `yaml:"data_dir"`
	FacesDir    string `yaml:"faces_dir"`
	ProbeDir    string `yaml:"probe_dir"`

	RedisAddr    string        `yaml:"redis_addr"`
	QueueBackend string        `yaml:"queue_backend"`
	NATSURL      string        `yaml:"nats_url"`
	JobResultTTL time.Duration `yaml:"job_result_ttl"`

	JWTIssuer       string        `yaml:"jwt_issuer"`
	JWTSigningKey   string        `yaml:"jwt_signing_key"`
	AccessTTL       time.Duration `yaml:"access_ttl"`
	RefreshTTL      time.Duration `yaml:"refresh_ttl"`
	ProvisioningKey string        `yaml:"provisioning_key"`

	FaceServiceURL string `yaml:"face_service_url"`
	FaceSkip       bool   `yaml:"face_skip"`
	FaceModel      string `yaml:"face_model"`
	FaceDetector   string `yaml:"face_detector"`
	DistanceMetric string `yaml:"distance_metric"`
	MatcherMode    string `yaml:"matcher_mode"`

	// EmbeddingThreshold bounds distances in embedding mode; zero means the
	// metric default (cosine 0.593, euclidean 0.6).
	EmbeddingThreshold float64 `yaml:"embedding_threshold"`

	OfficialArrival        string        `yaml:"official_arrival"`
	OfficialDeparture      string        `yaml:"official_departure"`
	RecognitionThreshold   float64       `yaml:"recognition_threshold"`
	CacheExpirationSeconds int           `yaml:"cache_expiration_seconds"`
	ComparisonWorkers      int           `yaml:"comparison_workers"`
	ComparisonTimeout      time.Duration `yaml:"comparison_timeout"`

	SpoolBackend   string `yaml:"spool_backend"`
	SpoolDir       string `yaml:"spool_dir"`
	ArchiveBackend string `yaml:"archive_backend"`

	MinIO MinIO `yaml:"minio"`

	CloudinaryCloudName string `yaml:"cloudinary_cloud_name"`
	CloudinaryAPIKey    string `yaml:"cloudinary_api_key"`
	CloudinaryAPISecret string `yaml:"cloudinary_api_secret"`
	CloudinaryFolder    string `yaml:"cloudinary_folder"`

	RateLimitPerMin int `yaml:"rate_limit_per_min"`
}

// MinIO configures the object store used for the probe spool and the
// enrollment archive.
type MinIO struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

// CacheExpiration is the staleness window shared by the gallery and ledger caches.
func (a App) CacheExpiration() time.Duration {
	return time.Duration(a.CacheExpirationSeconds) * time.Second
}

// Load returns the configuration, reading CONFIG_FILE when it is set. A broken
// file is logged and ignored so the process still starts on env values.
func Load() App {
	cfg, err := LoadFile(os.Getenv("CONFIG_FILE"))
	if err != nil {
		slog.Warn("config file ignored", "error", err)
		cfg = defaults()
		applyEnv(&cfg)
	}
	return cfg
}

// LoadFile layers the YAML file at path (if any) and the environment over the defaults.
func LoadFile(path string) (App, error) {
	cfg := defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return App{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return App{}, fmt.Errorf("parse config: %w", err)
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

func defaults() App {
	return App{
		Env:                    "dev",
		HTTPPort:               "8081",
		LogLevel:               "info",
		LogFormat:              "text",
		DataDir:                "database",
		FacesDir:               "database/faces",
		ProbeDir:               os.TempDir(),
		RedisAddr:              "localhost:6379",
		QueueBackend:           "memory",
		NATSURL:                "nats://localhost:4222",
		JobResultTTL:           time.Hour,
		JWTIssuer:              "faceattend",
		JWTSigningKey:          "dev-signing-secret-change",
		AccessTTL:              15 * time.Minute,
		RefreshTTL:             24 * time.Hour,
		FaceServiceURL:         "http://localhost:5005",
		FaceSkip:               false,
		FaceModel:              "SFace",
		FaceDetector:           "opencv",
		DistanceMetric:         "cosine",
		MatcherMode:            "verify",
		OfficialArrival:        "08:30",
		OfficialDeparture:      "17:00",
		RecognitionThreshold:   0.3,
		CacheExpirationSeconds: 3600,
		ComparisonWorkers:      4,
		ComparisonTimeout:      10 * time.Second,
		SpoolBackend:           "dir",
		SpoolDir:               "database/spool",
		MinIO:                  MinIO{Bucket: "faceattend"},
		CloudinaryFolder:       "faceattend",
		RateLimitPerMin:        120,
	}
}

func applyEnv(cfg *App) {
	cfg.Env = getEnv("APP_ENV", cfg.Env)
	cfg.HTTPPort = getEnv("HTTP_PORT", cfg.HTTPPort)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getEnv("LOG_FORMAT", cfg.LogFormat)
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.DataDir = getEnv("DATA_DIR", cfg.DataDir)
	cfg.FacesDir = getEnv("FACES_DIR", cfg.FacesDir)
	cfg.ProbeDir = getEnv("PROBE_DIR", cfg.ProbeDir)
	cfg.RedisAddr = getEnv("REDIS_ADDR", cfg.RedisAddr)
	cfg.QueueBackend = getEnv("QUEUE_BACKEND", cfg.QueueBackend)
	cfg.NATSURL = getEnv("NATS_URL", cfg.NATSURL)
	cfg.JobResultTTL = durationEnv("JOB_RESULT_TTL", cfg.JobResultTTL)
	cfg.JWTIssuer = getEnv("JWT_ISSUER", cfg.JWTIssuer)
	cfg.JWTSigningKey = getEnv("JWT_SIGNING_KEY", cfg.JWTSigningKey)
	cfg.AccessTTL = durationEnv("ACCESS_TTL", cfg.AccessTTL)
	cfg.RefreshTTL = durationEnv("REFRESH_TTL", cfg.RefreshTTL)
	cfg.ProvisioningKey = getEnv("PROVISIONING_KEY", cfg.ProvisioningKey)
	cfg.FaceServiceURL = getEnv("FACE_SERVICE_URL", cfg.FaceServiceURL)
	cfg.FaceSkip = boolEnv("FACE_SKIP", cfg.FaceSkip)
	cfg.FaceModel = getEnv("FACE_MODEL", cfg.FaceModel)
	cfg.FaceDetector = getEnv("FACE_DETECTOR", cfg.FaceDetector)
	cfg.DistanceMetric = getEnv("DISTANCE_METRIC", cfg.DistanceMetric)
	cfg.MatcherMode = getEnv("MATCHER_MODE", cfg.MatcherMode)
	cfg.EmbeddingThreshold = floatEnv("EMBEDDING_THRESHOLD", cfg.EmbeddingThreshold)
	cfg.OfficialArrival = getEnv("OFFICIAL_ARRIVAL", cfg.OfficialArrival)
	cfg.OfficialDeparture = getEnv("OFFICIAL_DEPARTURE", cfg.OfficialDeparture)
	cfg.RecognitionThreshold = floatEnv("RECOGNITION_THRESHOLD", cfg.RecognitionThreshold)
	cfg.CacheExpirationSeconds = intEnv("CACHE_EXPIRATION_SECONDS", cfg.CacheExpirationSeconds)
	cfg.ComparisonWorkers = intEnv("COMPARISON_WORKERS", cfg.ComparisonWorkers)
	cfg.ComparisonTimeout = durationEnv("COMPARISON_TIMEOUT", cfg.ComparisonTimeout)
	cfg.SpoolBackend = getEnv("SPOOL_BACKEND", cfg.SpoolBackend)
	cfg.SpoolDir = getEnv("SPOOL_DIR", cfg.SpoolDir)
	cfg.ArchiveBackend = getEnv("ARCHIVE_BACKEND", cfg.ArchiveBackend)
	cfg.MinIO.Endpoint = getEnv("MINIO_ENDPOINT", cfg.MinIO.Endpoint)
	cfg.MinIO.AccessKey = getEnv("MINIO_ACCESS_KEY", cfg.MinIO.AccessKey)
	cfg.MinIO.SecretKey = getEnv("MINIO_SECRET_KEY", cfg.MinIO.SecretKey)
	cfg.MinIO.Bucket = getEnv("MINIO_BUCKET", cfg.MinIO.Bucket)
	cfg.MinIO.UseSSL = boolEnv("MINIO_USE_SSL", cfg.MinIO.UseSSL)
	cfg.CloudinaryCloudName = getEnv("CLOUDINARY_CLOUD_NAME", cfg.CloudinaryCloudName)
	cfg.CloudinaryAPIKey = getEnv("CLOUDINARY_API_KEY", cfg.CloudinaryAPIKey)
	cfg.CloudinaryAPISecret = getEnv("CLOUDINARY_API_SECRET", cfg.CloudinaryAPISecret)
	cfg.CloudinaryFolder = getEnv("CLOUDINARY_FOLDER", cfg.CloudinaryFolder)
	cfg.RateLimitPerMin = intEnv("RATE_LIMIT_PER_MIN", cfg.RateLimitPerMin)
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			slog.Warn("invalid duration, using fallback", "key", key, "error", err, "fallback", fallback)
			return fallback
		}
		return d
	}
	return fallback
}

func boolEnv(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if val == "1" || val == "true" || val == "TRUE" {
			return true
		}
		if val == "0" || val == "false" || val == "FALSE" {
			return false
		}
		slog.Warn("invalid bool, using fallback", "key", key, "fallback", fallback)
	}
	return fallback
}

func intEnv(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		var parsed int
		if _, err := fmt.Sscanf(val, "%d", &parsed); err == nil {
			return parsed
		}
		slog.Warn("invalid int, using fallback", "key", key, "fallback", fallback)
	}
	return fallback
}

func floatEnv(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		var parsed float64
		if _, err := fmt.Sscanf(val, "%g", &parsed); err == nil {
			return parsed
		}
		slog.Warn("invalid float, using fallback", "key", key, "fallback", fallback)
	}
	return fallback
}

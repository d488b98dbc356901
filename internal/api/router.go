// Package api exposes the attendance engine over HTTP.
package api

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"faceattend/internal/api/handlers"
	"faceattend/internal/auth"
	"faceattend/internal/checkin"
	"faceattend/internal/httpmiddleware"
)

// DefaultMaxUpload bounds an uploaded image.
const DefaultMaxUpload = 8 << 20

type RouterConfig struct {
	Issuer          *auth.Issuer
	ProvisioningKey string
	Service         *checkin.Service
	// Dispatcher and Jobs are nil when asynchronous check-ins are disabled.
	Dispatcher *checkin.Dispatcher
	Jobs       checkin.Jobs
	Reports    handlers.Reports
	Limiter    *httpmiddleware.SimpleTokenBucket
	Checks     map[string]handlers.Check
	MaxUpload  int64
	Now        func() time.Time
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	if cfg.MaxUpload <= 0 {
		cfg.MaxUpload = DefaultMaxUpload
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestLogger())
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:    []string{"Origin", "Content-Type", "Accept", "Authorization"},
		MaxAge:          24 * time.Hour,
	}))
	r.Use(httpmiddleware.SecurityHeaders())

	// System endpoints (no auth)
	systemH := handlers.NewSystemHandler(cfg.Checks)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	deviceH := handlers.NewDeviceHandler(cfg.Issuer, cfg.ProvisioningKey)
	r.POST("/v1/devices/register", deviceH.Register)
	r.POST("/v1/devices/refresh", deviceH.Refresh)

	// API v1 (with auth)
	v1 := r.Group("/v1")
	v1.Use(auth.DeviceAuth(cfg.Issuer))
	if cfg.Limiter != nil {
		v1.Use(cfg.Limiter.GinMiddleware())
	}

	faceH := handlers.NewFaceHandler(cfg.Service, cfg.MaxUpload)
	v1.POST("/faces", faceH.Enroll)

	checkinH := handlers.NewCheckInHandler(cfg.Service, cfg.Dispatcher, cfg.Jobs, cfg.MaxUpload)
	v1.POST("/checkins", checkinH.Create)
	v1.GET("/checkins/jobs/:id", checkinH.Job)

	reportH := handlers.NewReportHandler(cfg.Reports, cfg.Now)
	v1.GET("/attendance", reportH.History)
	v1.GET("/lateness", reportH.Lateness)
	v1.GET("/hours", reportH.Hours)

	return r
}

package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Comparisons = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "faceattend",
		Name:      "comparisons_total",
		Help:      "Gallery comparisons by outcome (match, reject, no_verdict)",
	}, []string{"outcome"})

	Recognitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "faceattend",
		Name:      "recognitions_total",
		Help:      "Recognition attempts by result (known, unknown, failed)",
	}, []string{"result"})

	RecognitionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "faceattend",
		Name:      "recognition_duration_seconds",
		Help:      "End-to-end recognition latency",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
	})

	GallerySize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "faceattend",
		Name:      "gallery_size",
		Help:      "Number of faces in the last gallery snapshot",
	})

	AttendanceRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "faceattend",
		Name:      "attendance_recorded_total",
		Help:      "Attendance events appended by type and punctuality",
	}, []string{"type", "status"})

	Enrollments = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "faceattend",
		Name:      "enrollments_total",
		Help:      "Faces enrolled or re-enrolled",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "faceattend",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)

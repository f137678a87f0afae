package server

import (
	"time"

	"github.com/MeKo-Tech/backdrop/internal/segment"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backdrop_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "backdrop_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Processing metrics
	processingRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backdrop_processing_requests_total",
			Help: "Total number of background processing requests",
		},
		[]string{"operation", "model", "status"}, // operation: remove, replace, batch, websocket_*
	)

	processingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "backdrop_processing_duration_seconds",
			Help:    "Background processing duration in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 25, 60},
		},
		[]string{"operation"},
	)

	placementScale = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "backdrop_placement_scale",
			Help:    "Scale factor applied to the foreground subject",
			Buckets: []float64{.1, .25, .5, .75, 1, 1.5, 2, 3, 5, 10},
		},
		[]string{"policy"},
	)

	placementOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backdrop_placement_outcomes_total",
			Help: "Composite outcomes by policy",
		},
		[]string{"policy", "outcome"}, // outcome: placed, clamped, empty
	)

	// Rate limiting metrics
	rateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backdrop_rate_limit_hits_total",
			Help: "Total number of rate limit hits",
		},
		[]string{"type"}, // type: minute, hour, requests
	)

	// File upload metrics
	uploadSizeBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "backdrop_upload_size_bytes",
			Help:    "Size of uploaded files in bytes",
			Buckets: []float64{1024, 10 * 1024, 100 * 1024, 1024 * 1024, 10 * 1024 * 1024, 50 * 1024 * 1024, 100 * 1024 * 1024},
		},
	)

	// WebSocket metrics
	websocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "backdrop_websocket_active_connections",
			Help: "Number of active WebSocket connections",
		},
	)

	websocketMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backdrop_websocket_messages_total",
			Help: "Total number of WebSocket messages",
		},
		[]string{"direction"}, // direction: sent, received
	)

	// Model session metrics
	modelLoadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backdrop_model_loads_total",
			Help: "Total number of segmentation session loads",
		},
		[]string{"model", "status"},
	)

	modelLoadDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "backdrop_model_load_duration_seconds",
			Help:    "Time spent loading segmentation sessions",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"model"},
	)

	modelEvictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "backdrop_model_evictions_total",
			Help: "Total number of segmentation sessions closed to make room",
		},
		[]string{"model"},
	)
)

// ModelHooks reports session manager events as metrics.
func ModelHooks() segment.Hooks {
	return segment.Hooks{
		Loaded: func(modelID string, took time.Duration) {
			modelLoadsTotal.WithLabelValues(modelID, "success").Inc()
			modelLoadDuration.WithLabelValues(modelID).Observe(took.Seconds())
		},
		Evicted: func(modelID string) {
			modelEvictionsTotal.WithLabelValues(modelID).Inc()
		},
		Failed: func(modelID string, err error) {
			modelLoadsTotal.WithLabelValues(modelID, "error").Inc()
		},
	}
}

// observePlacement records the outcome of one composite.
func observePlacement(policy string, scale float64, clamped, empty bool) {
	outcome := "placed"
	switch {
	case empty:
		outcome = "empty"
	case clamped:
		outcome = "clamped"
	}
	placementOutcomes.WithLabelValues(policy, outcome).Inc()
	if !empty {
		placementScale.WithLabelValues(policy).Observe(scale)
	}
}

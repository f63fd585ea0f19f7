package server

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP request metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toraxia_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "toraxia_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Analysis metrics
	analysesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toraxia_analyses_total",
			Help: "Total number of image analyses",
		},
		[]string{"status"}, // success, error
	)

	analysisDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "toraxia_analysis_duration_seconds",
			Help:    "Image analysis duration in seconds, attribution included",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 25},
		},
	)

	explanationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toraxia_explanations_total",
			Help: "Total number of attribution maps by producing strategy",
		},
		[]string{"strategy", "degraded"},
	)

	// Rate limiting metrics
	rateLimitHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "toraxia_rate_limit_hits_total",
			Help: "Total number of rejected rate limited requests",
		},
	)

	// File upload metrics
	uploadSizeBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "toraxia_upload_size_bytes",
			Help:    "Size of uploaded images in bytes",
			Buckets: []float64{10 * 1024, 100 * 1024, 512 * 1024, 1024 * 1024, 5 * 1024 * 1024, 20 * 1024 * 1024, 50 * 1024 * 1024},
		},
	)

	activeSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "toraxia_active_sessions",
			Help: "Number of retained analyses",
		},
	)

	// WebSocket metrics
	websocketConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "toraxia_websocket_active_connections",
			Help: "Number of active WebSocket connections",
		},
	)

	websocketMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toraxia_websocket_messages_total",
			Help: "Total number of WebSocket messages",
		},
		[]string{"direction"}, // sent, received
	)
)

func observeExplanation(strategy string, degraded bool) {
	if degraded {
		strategy = "none"
	}
	explanationsTotal.WithLabelValues(strategy, strconv.FormatBool(degraded)).Inc()
}

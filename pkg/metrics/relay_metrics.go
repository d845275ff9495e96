package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Relay server metrics
var (
	RelayClientsConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "relay_clients_connected",
		Help: "Current number of connected websocket clients",
	})

	RelayFramesForwardedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_frames_forwarded_total",
		Help: "Total number of frames forwarded between clients",
	}, []string{"op"})

	RelayFramesDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_frames_dropped_total",
		Help: "Total number of frames dropped by the relay",
	}, []string{"reason"})

	RelayFanoutPublishedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_fanout_published_total",
		Help: "Total number of frames published to the cross-instance fanout",
	})

	RelayHTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "relay_http_requests_total",
		Help: "Total number of HTTP requests handled by the relay",
	}, []string{"method", "path", "status"})

	RelayHTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "relay_http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})
)

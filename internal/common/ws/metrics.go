package ws

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsPrefix = "conduit_ws_"

var openConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: metricsPrefix + "open_connections",
		Help: "Number of open WebSocket connections",
	},
)

var requestLatency = promauto.NewHistogram(
	prometheus.HistogramOpts{
		Name:    metricsPrefix + "request_latency_seconds",
		Help:    "Time taken to handle a client request",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
	},
)

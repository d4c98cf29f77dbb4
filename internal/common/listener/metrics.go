package listener

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsPrefix = "conduit_listener_"

var acceptedConnections = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: metricsPrefix + "accepted_connections_total",
		Help: "Number of raw connections accepted",
	},
	[]string{"listener"},
)

var handshakeFailures = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: metricsPrefix + "handshake_failures_total",
		Help: "Number of connections dropped because their handshake failed",
	},
	[]string{"listener"},
)

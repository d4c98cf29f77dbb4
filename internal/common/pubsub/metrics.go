package pubsub

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsPrefix = "conduit_pubsub_"

var deliveredEvents = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: metricsPrefix + "delivered_events_total",
		Help: "Number of events handed to subscriber connections",
	},
	[]string{"topic"},
)

var evictedSubscribers = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: metricsPrefix + "evicted_subscribers_total",
		Help: "Number of subscribers dropped because their connection was gone",
	},
	[]string{"topic"},
)

var relayedEvents = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: metricsPrefix + "relayed_events_total",
		Help: "Number of events exchanged with other instances through the relay",
	},
	[]string{"direction"},
)

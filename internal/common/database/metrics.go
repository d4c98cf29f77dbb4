package database

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsPrefix = "conduit_database_"

var queryLatency = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    metricsPrefix + "query_latency_seconds",
		Help:    "Time taken to acquire, prepare, execute and materialize a query",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
	},
	[]string{"outcome"},
)

var statementCacheLookups = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: metricsPrefix + "statement_cache_lookups_total",
		Help: "Number of prepared statement cache lookups",
	},
	[]string{"result"},
)

var statementCachePurges = promauto.NewCounter(
	prometheus.CounterOpts{
		Name: metricsPrefix + "statement_cache_purges_total",
		Help: "Number of times the prepared statement cache was purged after a schema change",
	},
)

var threadedQueueDepth = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: metricsPrefix + "threaded_queue_depth",
		Help: "Number of requests waiting for the threaded executor",
	},
)

package conduit

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/G-Research/conduit/internal/common/database"
)

const metricsPrefix = "conduit_"

var poolConnections = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: metricsPrefix + "database_pool_connections",
		Help: "Connections in the database pool by state",
	},
	[]string{"state"},
)

var poolAcquires = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: metricsPrefix + "database_pool_acquires",
		Help: "Cumulative number of connections acquired from the database pool",
	},
)

var heartbeatInterval = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: metricsPrefix + "heartbeat_interval_seconds",
		Help: "Current interval of the heartbeat event",
	},
)

func recordPoolStats(stats database.PoolStats) {
	poolConnections.WithLabelValues("acquired").Set(float64(stats.AcquiredConns))
	poolConnections.WithLabelValues("idle").Set(float64(stats.IdleConns))
	poolConnections.WithLabelValues("total").Set(float64(stats.TotalConns))
	poolConnections.WithLabelValues("max").Set(float64(stats.MaxConns))
	poolAcquires.Set(float64(stats.AcquireCount))
}

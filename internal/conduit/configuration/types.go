package configuration

import (
	"time"

	"github.com/G-Research/conduit/internal/common/config"
	"github.com/G-Research/conduit/internal/common/database"
	"github.com/G-Research/conduit/internal/common/logging"
)

type Configuration struct {
	// Client facing WebSocket endpoint
	Listen ListenConfig
	// Database connectivity and executor tuning
	Postgres database.DatabaseConfig
	// How requests reach the database
	Database DatabaseConfig
	// Optional fan-out of published events to other instances
	Redis   config.RedisConfig
	Metrics MetricsConfig
	Logging logging.Config
	// Period of the heartbeat event. It can be changed at runtime by clients.
	Heartbeat HeartbeatConfig
	// Period of the database pool statistics export
	PoolStats PoolStatsConfig
}

type ListenConfig struct {
	Port uint16 `validate:"required"`
	// Maximum number of open client connections. Zero means unlimited.
	MaxConnections int `validate:"gte=0"`
	// Sustained rate at which new connections are accepted. Zero disables rate limiting.
	AcceptRatePerSecond float64 `validate:"gte=0"`
	AcceptBurst         int     `validate:"gte=0"`
	// Maximum time a client has to complete the TLS handshake
	HandshakeTimeout time.Duration
	Tls              TlsConfig
}

type TlsConfig struct {
	Enabled bool
	// PEM files holding the certificate chain, leaf first
	CertPaths []string `validate:"required_if=Enabled true"`
	KeyPath   string   `validate:"required_if=Enabled true"`
	// How often the files are checked for changes. Zero disables reloading.
	RefreshInterval time.Duration
}

type DatabaseConfig struct {
	Mode database.Mode `validate:"required"`
	// Log every driver call at trace level. Also enabled by the detail log level.
	TraceDriver bool
}

type MetricsConfig struct {
	Port uint16 `validate:"required"`
}

type HeartbeatConfig struct {
	Interval time.Duration `validate:"required"`
	// Bounds applied to intervals requested by clients
	MinInterval time.Duration
	MaxInterval time.Duration
}

type PoolStatsConfig struct {
	Interval time.Duration `validate:"required"`
}

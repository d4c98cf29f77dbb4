package database

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pkg/errors"
	"github.com/zeebo/xxh3"

	"github.com/G-Research/conduit/internal/common/conduiterrors"
)

const (
	DefaultStatementTimeout   = 20 * time.Second
	DefaultStatementCacheSize = 1024
	DefaultConnectRetries     = 3
)

type SslMode string

const (
	SslModeDisable    SslMode = "disable"
	SslModeAllow      SslMode = "allow"
	SslModePrefer     SslMode = "prefer"
	SslModeRequire    SslMode = "require"
	SslModeVerifyCa   SslMode = "verify-ca"
	SslModeVerifyFull SslMode = "verify-full"
)

func ParseSslMode(s string) (SslMode, error) {
	switch mode := SslMode(strings.ToLower(s)); mode {
	case SslModeDisable, SslModeAllow, SslModePrefer, SslModeRequire, SslModeVerifyCa, SslModeVerifyFull:
		return mode, nil
	}
	return "", errors.WithStack(&conduiterrors.ErrInvalidArgument{
		Name:    "sslMode",
		Value:   s,
		Message: "expected one of disable, allow, prefer, require, verify-ca, verify-full",
	})
}

func (m *SslMode) UnmarshalText(text []byte) error {
	mode, err := ParseSslMode(string(text))
	if err != nil {
		return err
	}
	*m = mode
	return nil
}

type TargetSessionAttrs string

const (
	TargetSessionAttrsAny           TargetSessionAttrs = "any"
	TargetSessionAttrsReadWrite     TargetSessionAttrs = "read-write"
	TargetSessionAttrsReadOnly      TargetSessionAttrs = "read-only"
	TargetSessionAttrsPrimary       TargetSessionAttrs = "primary"
	TargetSessionAttrsStandby       TargetSessionAttrs = "standby"
	TargetSessionAttrsPreferStandby TargetSessionAttrs = "prefer-standby"
)

func (a *TargetSessionAttrs) UnmarshalText(text []byte) error {
	switch attrs := TargetSessionAttrs(strings.ToLower(string(text))); attrs {
	case TargetSessionAttrsAny, TargetSessionAttrsReadWrite, TargetSessionAttrsReadOnly,
		TargetSessionAttrsPrimary, TargetSessionAttrsStandby, TargetSessionAttrsPreferStandby:
		*a = attrs
		return nil
	}
	return errors.WithStack(&conduiterrors.ErrInvalidArgument{
		Name:    "targetSessionAttrs",
		Value:   string(text),
		Message: "expected one of any, read-write, read-only, primary, standby, prefer-standby",
	})
}

// DatabaseConfig describes how to reach Postgres and how the pool and executors behave.
// Zero values fall back to the pgx defaults.
type DatabaseConfig struct {
	User            string
	Password        string
	Dbname          string
	Options         string
	ApplicationName string
	SslMode         SslMode
	// Host and Port name a single server. Hosts and Ports list further servers; both forms may be given and are
	// merged with the single form first.
	Host               string
	Hosts              []string
	Port               uint16
	Ports              []uint16
	ConnectTimeout     time.Duration
	Keepalives         *bool
	KeepalivesIdle     time.Duration
	TargetSessionAttrs TargetSessionAttrs

	MaxConns          int32 `validate:"gte=0"`
	MinConns          int32 `validate:"gte=0"`
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	AcquireTimeout    time.Duration

	StatementCacheSize int `validate:"gte=0"`
	StatementTimeout   time.Duration
	ConnectRetries     uint
}

func (c DatabaseConfig) AllHosts() []string {
	var hosts []string
	if c.Host != "" {
		hosts = append(hosts, c.Host)
	}
	return append(hosts, c.Hosts...)
}

func (c DatabaseConfig) AllPorts() []uint16 {
	var ports []uint16
	if c.Port != 0 {
		ports = append(ports, c.Port)
	}
	return append(ports, c.Ports...)
}

func (c DatabaseConfig) Validate() error {
	hosts, ports := c.AllHosts(), c.AllPorts()
	if len(ports) > 1 && len(ports) != len(hosts) {
		return errors.WithStack(&conduiterrors.ErrInvalidArgument{
			Name:    "ports",
			Value:   ports,
			Message: fmt.Sprintf("%d ports given for %d hosts", len(ports), len(hosts)),
		})
	}
	if c.MinConns > 0 && c.MaxConns > 0 && c.MinConns > c.MaxConns {
		return errors.WithStack(&conduiterrors.ErrInvalidArgument{
			Name:    "minConns",
			Value:   c.MinConns,
			Message: "must not exceed maxConns",
		})
	}
	return nil
}

// ConnectionString renders the libpq-style parameters of this config. Pool and executor tuning is not included.
func (c DatabaseConfig) ConnectionString() string {
	values := map[string]string{}
	set := func(key, value string) {
		if value != "" {
			values[key] = value
		}
	}
	set("user", c.User)
	set("password", c.Password)
	set("dbname", c.Dbname)
	set("options", c.Options)
	set("application_name", c.ApplicationName)
	set("sslmode", string(c.SslMode))
	set("host", strings.Join(c.AllHosts(), ","))
	ports := make([]string, 0, len(c.AllPorts()))
	for _, port := range c.AllPorts() {
		ports = append(ports, strconv.Itoa(int(port)))
	}
	set("port", strings.Join(ports, ","))
	set("target_session_attrs", string(c.TargetSessionAttrs))
	return CreateConnectionString(values)
}

// PoolConfig builds the pgxpool configuration. The driver's own statement cache is disabled; statements are
// cached by the executor.
func (c DatabaseConfig) PoolConfig() (*pgxpool.Config, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	config, err := pgxpool.ParseConfig(c.ConnectionString())
	if err != nil {
		return nil, errors.Wrap(err, "cannot parse Postgres connection config")
	}
	if c.ConnectTimeout > 0 {
		config.ConnConfig.ConnectTimeout = c.ConnectTimeout
	}
	if c.Keepalives != nil || c.KeepalivesIdle > 0 {
		dialer := &net.Dialer{KeepAlive: 5 * time.Minute}
		if c.KeepalivesIdle > 0 {
			dialer.KeepAlive = c.KeepalivesIdle
		}
		if c.Keepalives != nil && !*c.Keepalives {
			dialer.KeepAlive = -1
		}
		config.ConnConfig.DialFunc = dialer.DialContext
	}
	config.ConnConfig.BuildStatementCache = nil

	if c.MaxConns > 0 {
		config.MaxConns = c.MaxConns
	}
	if c.MinConns > 0 {
		config.MinConns = c.MinConns
	}
	if c.MaxConnLifetime > 0 {
		config.MaxConnLifetime = c.MaxConnLifetime
	}
	if c.MaxConnIdleTime > 0 {
		config.MaxConnIdleTime = c.MaxConnIdleTime
	}
	if c.HealthCheckPeriod > 0 {
		config.HealthCheckPeriod = c.HealthCheckPeriod
	}
	return config, nil
}

// ConnHash identifies the database this config points at. Two configs with the same host, port and dbname hash
// equally regardless of credentials or tuning.
func (c DatabaseConfig) ConnHash() uint64 {
	ports := make([]string, 0, len(c.AllPorts()))
	for _, port := range c.AllPorts() {
		ports = append(ports, strconv.Itoa(int(port)))
	}
	return xxh3.HashString(strings.Join([]string{
		strings.Join(c.AllHosts(), ","),
		strings.Join(ports, ","),
		c.Dbname,
	}, "\x00"))
}

// Describe is safe to log: it never includes the password.
func (c DatabaseConfig) Describe() string {
	ports := make([]string, 0, len(c.AllPorts()))
	for _, port := range c.AllPorts() {
		ports = append(ports, strconv.Itoa(int(port)))
	}
	return fmt.Sprintf("%s:%s %s", strings.Join(c.AllHosts(), ","), strings.Join(ports, ","), c.Dbname)
}

func (c DatabaseConfig) statementTimeout() time.Duration {
	if c.StatementTimeout > 0 {
		return c.StatementTimeout
	}
	return DefaultStatementTimeout
}

func (c DatabaseConfig) statementCacheSize() int {
	if c.StatementCacheSize > 0 {
		return c.StatementCacheSize
	}
	return DefaultStatementCacheSize
}

func (c DatabaseConfig) connectRetries() uint {
	if c.ConnectRetries > 0 {
		return c.ConnectRetries
	}
	return DefaultConnectRetries
}

package database

import (
	"sort"
	"strings"
	"time"

	"github.com/avast/retry-go"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/log/logrusadapter"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pkg/errors"

	"github.com/G-Research/conduit/internal/common/conduitcontext"
)

func CreateConnectionString(values map[string]string) string {
	// https://www.postgresql.org/docs/10/libpq-connect.html#id-1.7.3.8.3.5
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	replacer := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"='"+replacer.Replace(values[k])+"'")
	}
	return strings.Join(pairs, " ")
}

// OpenPool connects to Postgres, retrying the initial connection, and checks the connection with a ping.
// With traceDriver set, every driver call is logged at trace level.
func OpenPool(ctx *conduitcontext.Context, config DatabaseConfig, traceDriver bool) (*PostgresPoolAdapter, error) {
	poolConfig, err := config.PoolConfig()
	if err != nil {
		return nil, err
	}
	if traceDriver {
		poolConfig.ConnConfig.Logger = logrusadapter.NewLogger(ctx.Log.WithField("component", "pgx"))
		poolConfig.ConnConfig.LogLevel = pgx.LogLevelTrace
	}

	ctx.Log.Infof("Connecting to database %s", config.Describe())
	var pool *pgxpool.Pool
	err = retry.Do(
		func() error {
			p, err := pgxpool.ConnectConfig(ctx, poolConfig)
			if err != nil {
				return err
			}
			if err := p.Ping(ctx); err != nil {
				p.Close()
				return err
			}
			pool = p
			return nil
		},
		retry.Attempts(config.connectRetries()),
		retry.Delay(time.Second),
		retry.LastErrorOnly(true),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			ctx.Log.WithError(err).Warnf("Failed to connect to database %s (attempt %d)", config.Describe(), n+1)
		}),
	)
	if err != nil {
		return nil, errors.WithStack(&ErrConnectivity{Err: err})
	}
	return &PostgresPoolAdapter{Pool: pool}, nil
}

// Connect opens a pool for config and wraps it in a PooledExecutor.
func Connect(ctx *conduitcontext.Context, config DatabaseConfig, traceDriver bool) (*PooledExecutor, error) {
	pool, err := OpenPool(ctx, config, traceDriver)
	if err != nil {
		return nil, err
	}
	executor, err := NewPooledExecutor(pool, config, ctx.Log)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return executor, nil
}

package conduit

import (
	"io"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"

	"github.com/G-Research/conduit/internal/common"
	"github.com/G-Research/conduit/internal/common/app"
	"github.com/G-Research/conduit/internal/common/conduitcontext"
	"github.com/G-Research/conduit/internal/common/database"
	"github.com/G-Research/conduit/internal/common/logging"
	"github.com/G-Research/conduit/internal/common/pubsub"
	"github.com/G-Research/conduit/internal/conduit/configuration"
)

// Run starts conduit with the given configuration and blocks until a shutdown signal is received.
func Run(config configuration.Configuration) error {
	ctx := app.CreateContextWithShutdown()
	if err := logging.AddMetricsHook(ctx.Log.Logger); err != nil {
		ctx.Log.WithError(err).Warn("Log lines will not be counted")
	}

	shutdownMetricServer := common.ServeMetrics(config.Metrics.Port)
	defer shutdownMetricServer()

	//////////////////////////////////////////////////////////////////////////
	// Database
	//////////////////////////////////////////////////////////////////////////
	db, err := OpenClient(ctx, config)
	if err != nil {
		return errors.WithMessage(err, "error opening connection to postgres")
	}
	deps := Dependencies{Db: db}

	//////////////////////////////////////////////////////////////////////////
	// Redis relay
	//////////////////////////////////////////////////////////////////////////
	if config.Redis.Enabled {
		ctx.Log.Infof("Relaying events through redis channel %s", config.Redis.Channel)
		redisClient := redis.NewUniversalClient(config.Redis.AsUniversalOptions())
		deps.Transport = pubsub.NewRedisTransport(redisClient)
		deps.Closers = []io.Closer{redisClient}
	}

	server, err := NewServer(ctx, config, deps)
	if err != nil {
		db.Close()
		return err
	}
	defer func() {
		if err := server.Close(); err != nil {
			logging.WithStacktrace(ctx.Log, err).Warn("Conduit didn't close down cleanly")
		}
	}()
	return server.Run(ctx)
}

// OpenClient connects to the configured database and returns a client in the configured mode.
func OpenClient(ctx *conduitcontext.Context, config configuration.Configuration) (*database.Client, error) {
	traceDriver := config.Database.TraceDriver || config.Logging.Level == logging.DetailLevel
	pooled, err := database.Connect(ctx, config.Postgres, traceDriver)
	if err != nil {
		return nil, err
	}
	ctx.Log.Infof("Database requests run in %s mode", config.Database.Mode)
	return database.NewClient(config.Database.Mode, pooled, conduitcontext.WithLogField(ctx, "component", "database").Log), nil
}

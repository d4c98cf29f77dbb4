package conduit

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"k8s.io/utils/clock"

	"github.com/G-Research/conduit/internal/common/conduitcontext"
	"github.com/G-Research/conduit/internal/common/database"
	"github.com/G-Research/conduit/internal/common/health"
	"github.com/G-Research/conduit/internal/common/listener"
	"github.com/G-Research/conduit/internal/common/pubsub"
	"github.com/G-Research/conduit/internal/common/serve"
	"github.com/G-Research/conduit/internal/common/task"
	"github.com/G-Research/conduit/internal/common/ws"
	"github.com/G-Research/conduit/internal/conduit/configuration"
)

const dbHealthTimeout = 5 * time.Second

// Dependencies are the external collaborators of a Server. Db and Transport are optional. Closers are closed
// by Server.Close.
type Dependencies struct {
	Db         *database.Client
	Transport  pubsub.Transport
	Clock      clock.Clock
	Registerer prometheus.Registerer
	Closers    []io.Closer
}

// Server pushes topic events to WebSocket clients and answers their requests.
type Server struct {
	config    configuration.Configuration
	db        *database.Client
	manager   *pubsub.SubscribeManager[Topic]
	toolbox   *ws.Toolbox
	relay     *pubsub.Relay[Topic]
	scheduler *task.Scheduler
	heartbeat *task.JobTrigger
	clock     clock.Clock
	startup   *health.StartupCompleteChecker
	health    *health.MultiChecker
	mux       *http.ServeMux
	closers   []io.Closer
}

func NewServer(ctx *conduitcontext.Context, config configuration.Configuration, deps Dependencies) (*Server, error) {
	if deps.Clock == nil {
		deps.Clock = clock.RealClock{}
	}
	if deps.Registerer == nil {
		deps.Registerer = prometheus.DefaultRegisterer
	}

	s := &Server{
		config:    config,
		db:        deps.Db,
		manager:   pubsub.NewSubscribeManager[Topic](),
		toolbox:   ws.NewToolbox(conduitcontext.WithLogField(ctx, "component", "ws")),
		scheduler: task.NewSchedulerWithClock(metricsPrefix+"job_", deps.Clock, deps.Registerer, ctx.Log),
		clock:     deps.Clock,
		startup:   health.NewStartupCompleteChecker(),
		mux:       http.NewServeMux(),
		closers:   deps.Closers,
	}
	s.manager.AddTopics(AllTopics)
	s.toolbox.OnClose(s.manager.UnsubscribeAll)
	if deps.Transport != nil {
		s.relay = pubsub.NewRelay[Topic](s.manager, s.toolbox, deps.Transport, config.Redis.Channel, AllTopics)
	}
	s.registerHandlers()

	s.health = health.NewMultiChecker(s.startup)
	if s.db != nil {
		s.health.Add(health.NewPingChecker("database", s.db, dbHealthTimeout))
	}
	health.SetupHttpMux(s.mux, s.health, ctx.Log)
	s.mux.Handle("/ws", s.toolbox)

	if err := s.addJobs(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Server) addJobs() error {
	trigger, err := s.scheduler.AddAdaptiveJob("heartbeat", s.config.Heartbeat.Interval, s.publishHeartbeat)
	if err != nil {
		return err
	}
	s.heartbeat = trigger
	heartbeatInterval.Set(s.config.Heartbeat.Interval.Seconds())

	if s.db != nil {
		if err := s.scheduler.AddJob("pool_stats", s.config.PoolStats.Interval, s.publishPoolStats); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) publishHeartbeat(ctx *conduitcontext.Context) {
	s.publish(ctx, HeartbeatTopic, &HeartbeatEvent{
		Time:       s.clock.Now().UTC(),
		IntervalMs: s.heartbeat.Duration().Milliseconds(),
	})
}

func (s *Server) publishPoolStats(ctx *conduitcontext.Context) {
	stats := s.db.Stat()
	recordPoolStats(stats)
	s.publish(ctx, PoolStatsTopic, &stats)
}

// publish sends msg to every subscriber of topic, on this instance and, when relaying, on every other.
func (s *Server) publish(ctx *conduitcontext.Context, topic Topic, msg interface{}) {
	var err error
	if s.relay != nil {
		err = s.relay.Publish(ctx, topic, msg)
	} else {
		err = s.manager.PublishToAll(s.toolbox, topic, msg)
	}
	if err != nil {
		ctx.Log.WithError(err).Warnf("Failed to publish %s event", topic)
	}
}

// Handler serves the WebSocket endpoint at /ws and health at /health.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Serve runs the scheduler, the relay and the http server on l until ctx is cancelled.
func (s *Server) Serve(ctx *conduitcontext.Context, l listener.ConnectionListener) error {
	g, ctx := conduitcontext.ErrGroup(ctx)
	if err := s.scheduler.Spawn(ctx); err != nil {
		return err
	}
	defer s.scheduler.Stop()

	if s.relay != nil {
		g.Go(func() error {
			s.relay.Run(ctx)
			return nil
		})
	}
	g.Go(func() error {
		httpServer := &http.Server{Handler: s.mux, ReadHeaderTimeout: 10 * time.Second}
		// Only Shutdown may close the listener, otherwise Serve fails before connections drain.
		netListener := listener.NewNetListener(conduitcontext.New(context.Background(), ctx.Log), l)
		return serve.Serve(ctx, httpServer, netListener)
	})

	s.startup.MarkComplete()
	ctx.Log.Infof("Serving WebSocket clients on %s", l.Addr())
	err := g.Wait()
	s.toolbox.Close()
	return err
}

// Run binds the configured listener and serves on it until ctx is cancelled.
func (s *Server) Run(ctx *conduitcontext.Context) error {
	l, certService, err := NewListener(ctx, s.config.Listen)
	if err != nil {
		return err
	}
	if certService != nil {
		go certService.Run(ctx)
	}
	return s.Serve(ctx, l)
}

// Close disconnects every client and releases the database client and the other dependencies.
func (s *Server) Close() error {
	s.toolbox.Close()
	if s.db != nil {
		s.db.Close()
	}
	var result *multierror.Error
	for _, closer := range s.closers {
		if err := closer.Close(); err != nil {
			result = multierror.Append(result, errors.WithStack(err))
		}
	}
	return result.ErrorOrNil()
}

// Package task runs periodic background jobs. Fixed jobs are handed to a cron engine and keep their period for
// the life of the process; adaptive jobs run on their own loop whose interval can be changed while running.
package task

import (
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/G-Research/conduit/internal/common/conduitcontext"
	"github.com/G-Research/conduit/internal/common/conduiterrors"
)

var ErrSchedulerStarted = errors.New("scheduler already started")

// Func is the body of a job. It receives the context passed to Spawn.
type Func func(ctx *conduitcontext.Context)

type Scheduler struct {
	mu            sync.Mutex
	cron          *cron.Cron
	pending       []*AdaptiveJob
	names         map[string]bool
	started       bool
	ctx           *conduitcontext.Context
	clock         clock.Clock
	metricsPrefix string
	registerer    prometheus.Registerer
	log           *log.Entry
}

func NewScheduler(metricsPrefix string, logger *log.Entry) *Scheduler {
	return NewSchedulerWithClock(metricsPrefix, clock.RealClock{}, prometheus.DefaultRegisterer, logger)
}

// NewSchedulerWithClock lets tests drive adaptive jobs with a fake clock. Fixed jobs always run on wall time.
func NewSchedulerWithClock(
	metricsPrefix string,
	clock clock.Clock,
	registerer prometheus.Registerer,
	logger *log.Entry,
) *Scheduler {
	cronLogger := cron.PrintfLogger(logger)
	return &Scheduler{
		cron:          cron.New(cron.WithLogger(cronLogger), cron.WithChain(cron.Recover(cronLogger))),
		names:         map[string]bool{},
		clock:         clock,
		metricsPrefix: metricsPrefix,
		registerer:    registerer,
		log:           logger,
	}
}

// AddJob registers fn to run every period. The period is fixed; periods under a second are rounded up to one
// second by the cron engine.
func (s *Scheduler) AddJob(name string, period time.Duration, fn Func) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.register(name, period); err != nil {
		return err
	}

	histogram := s.latencyHistogram(name)
	_, err := s.cron.AddFunc(fmt.Sprintf("@every %s", period), func() {
		observe(histogram, func() { fn(s.ctx) })
	})
	if err != nil {
		return errors.Wrapf(err, "failed to schedule job %s", name)
	}
	return nil
}

// AddAdaptiveJob registers fn to run after every sleep of the job's interval, starting with period. The returned
// trigger changes the interval; the change applies from the next sleep onwards.
func (s *Scheduler) AddAdaptiveJob(name string, period time.Duration, fn Func) (*JobTrigger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.register(name, period); err != nil {
		return nil, err
	}

	job := newAdaptiveJob(name, period, fn, s.latencyHistogram(name))
	s.pending = append(s.pending, job)
	return job.Trigger(), nil
}

func (s *Scheduler) register(name string, period time.Duration) error {
	if s.started {
		return errors.WithStack(ErrSchedulerStarted)
	}
	if period <= 0 {
		return errors.WithStack(&conduiterrors.ErrInvalidArgument{
			Name:    "period",
			Value:   period,
			Message: "must be positive",
		})
	}
	if s.names[name] {
		return errors.WithStack(&conduiterrors.ErrAlreadyExists{Type: "job", Value: name})
	}
	s.names[name] = true
	return nil
}

// Spawn starts every adaptive job in its own goroutine and then starts the cron engine. Adaptive jobs run until
// ctx is cancelled. Spawn may only be called once.
func (s *Scheduler) Spawn(ctx *conduitcontext.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.WithStack(ErrSchedulerStarted)
	}
	s.started = true
	s.ctx = ctx

	for _, job := range s.pending {
		go job.run(conduitcontext.WithLogField(ctx, "job", job.name), s.clock)
	}
	s.pending = nil
	s.cron.Start()
	s.log.Infof("Scheduler started with %d jobs", len(s.names))
	return nil
}

// Stop stops the cron engine and waits for running fixed jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) latencyHistogram(name string) prometheus.Observer {
	histogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    s.metricsPrefix + name + "_latency_seconds",
		Help:    "Background job " + name + " latency in seconds",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 15),
	})
	if err := s.registerer.Register(histogram); err != nil {
		var alreadyRegistered prometheus.AlreadyRegisteredError
		if errors.As(err, &alreadyRegistered) {
			return alreadyRegistered.ExistingCollector.(prometheus.Histogram)
		}
		s.log.WithError(err).Warnf("Latency of job %s will not be reported", name)
	}
	return histogram
}

func observe(histogram prometheus.Observer, fn func()) {
	start := time.Now()
	defer func() {
		histogram.Observe(time.Since(start).Seconds())
	}()
	fn()
}

package task

import (
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"k8s.io/utils/clock"

	"github.com/G-Research/conduit/internal/common/conduitcontext"
	"github.com/G-Research/conduit/internal/common/conduiterrors"
)

// AdaptiveJob sleeps for its current interval, starts its body without waiting for it, and repeats.
type AdaptiveJob struct {
	name      string
	interval  *atomic.Int64
	fn        Func
	histogram prometheus.Observer
}

// JobTrigger retunes a running AdaptiveJob.
type JobTrigger struct {
	interval *atomic.Int64
}

func newAdaptiveJob(name string, interval time.Duration, fn Func, histogram prometheus.Observer) *AdaptiveJob {
	job := &AdaptiveJob{
		name:      name,
		interval:  &atomic.Int64{},
		fn:        fn,
		histogram: histogram,
	}
	job.interval.Store(int64(interval))
	return job
}

func (j *AdaptiveJob) Trigger() *JobTrigger {
	return &JobTrigger{interval: j.interval}
}

// SetDuration changes the interval. A sleep already in progress is not shortened or extended.
func (t *JobTrigger) SetDuration(interval time.Duration) error {
	if interval <= 0 {
		return errors.WithStack(&conduiterrors.ErrInvalidArgument{
			Name:    "interval",
			Value:   interval,
			Message: "must be positive",
		})
	}
	t.interval.Store(int64(interval))
	return nil
}

func (t *JobTrigger) Duration() time.Duration {
	return time.Duration(t.interval.Load())
}

func (j *AdaptiveJob) run(ctx *conduitcontext.Context, clock clock.Clock) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-clock.After(time.Duration(j.interval.Load())):
		}
		if ctx.Err() != nil {
			return
		}
		go j.fire(ctx)
	}
}

func (j *AdaptiveJob) fire(ctx *conduitcontext.Context) {
	defer func() {
		if r := recover(); r != nil {
			ctx.Log.Errorf("Job %s panicked: %v\n%s", j.name, r, debug.Stack())
		}
	}()
	observe(j.histogram, func() { j.fn(ctx) })
}

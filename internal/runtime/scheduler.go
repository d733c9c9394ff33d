package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	configpkg "github.com/drblury/uplink/internal/runtime/config"
	errspkg "github.com/drblury/uplink/internal/runtime/errors"
	loggingpkg "github.com/drblury/uplink/internal/runtime/logging"
	"github.com/drblury/uplink/internal/runtime/payload"
)

// ErrSchedulerRunning is returned when jobs are added to, or Run is called on,
// a scheduler that is already running.
var ErrSchedulerRunning = errors.New("uplink: scheduler already running")

// EncodeFunc produces the payload for one firing of a job.
type EncodeFunc func(ctx context.Context) (payload.Payload, error)

// EncodeWith builds an EncodeFunc from an encoder and a value source.
func EncodeWith[T any](encoder payload.Encoder[T], next func() T) EncodeFunc {
	return func(context.Context) (payload.Payload, error) {
		return encoder.Encode(next())
	}
}

// PublishJob pairs a publisher with the encoder run on each firing. The
// cadence is the publisher's interval; zero means the scheduler base tick.
type PublishJob struct {
	Name      string
	Publisher *Publisher
	Encode    EncodeFunc
}

func (j PublishJob) interval() time.Duration {
	return j.Publisher.Interval()
}

// Scheduler fires publish jobs at their own cadence. Jobs with a declared
// interval each get a goroutine and ticker; jobs without one share the base
// tick and fire in the order they were added. A failing job never delays or
// stops another.
type Scheduler struct {
	logger   loggingpkg.ServiceLogger
	baseTick time.Duration
	hooks    JobHooks

	mu      sync.Mutex
	jobs    []PublishJob
	running bool
}

// SchedulerOption customises a Scheduler.
type SchedulerOption func(*Scheduler)

// WithBaseTick sets the tick shared by jobs without an interval.
func WithBaseTick(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		if d > 0 {
			s.baseTick = d
		}
	}
}

// WithJobHooks installs callbacks around every firing.
func WithJobHooks(h JobHooks) SchedulerOption {
	return func(s *Scheduler) {
		s.hooks = s.hooks.Merge(h)
	}
}

// NewScheduler builds an empty scheduler.
func NewScheduler(logger loggingpkg.ServiceLogger, opts ...SchedulerOption) *Scheduler {
	if logger == nil {
		logger = loggingpkg.Nop()
	}
	s := &Scheduler{
		logger:   logger.With(loggingpkg.LogFields{"component": "scheduler"}),
		baseTick: configpkg.DefaultBaseTick,
	}
	s.hooks = LoggingHooks(s.logger)
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// NewScheduler builds a scheduler using the node's logger and base tick.
func (n *Node) NewScheduler(opts ...SchedulerOption) *Scheduler {
	all := append([]SchedulerOption{WithBaseTick(n.Conf.BaseTick)}, opts...)
	return NewScheduler(n.Logger, all...)
}

// Add appends a job. Jobs must be added before Run.
func (s *Scheduler) Add(job PublishJob) error {
	if job.Publisher == nil {
		return errspkg.ErrTopicRequired
	}
	if job.Encode == nil {
		return errspkg.ErrEncoderRequired
	}
	if job.Name == "" {
		job.Name = job.Publisher.Topic().String()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrSchedulerRunning
	}
	s.jobs = append(s.jobs, job)
	return nil
}

// Jobs returns the registered jobs in insertion order.
func (s *Scheduler) Jobs() []PublishJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]PublishJob(nil), s.jobs...)
}

// Run fires jobs until ctx is done and returns once every job goroutine has
// exited.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrSchedulerRunning
	}
	s.running = true
	jobs := append([]PublishJob(nil), s.jobs...)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	var baseJobs []PublishJob
	var wg sync.WaitGroup
	for _, job := range jobs {
		if job.interval() <= 0 {
			baseJobs = append(baseJobs, job)
			continue
		}
		wg.Add(1)
		go func(job PublishJob) {
			defer wg.Done()
			s.loop(ctx, job.interval(), []PublishJob{job})
		}(job)
	}
	if len(baseJobs) > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.loop(ctx, s.baseTick, baseJobs)
		}()
	}

	s.logger.Info("Scheduler started", loggingpkg.LogFields{
		"jobs":      len(jobs),
		"base_tick": s.baseTick.String(),
	})
	<-ctx.Done()
	wg.Wait()
	s.logger.Info("Scheduler stopped", nil)
	return nil
}

func (s *Scheduler) loop(ctx context.Context, interval time.Duration, jobs []PublishJob) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	ticks := make([]uint64, len(jobs))
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for i, job := range jobs {
				if ctx.Err() != nil {
					return
				}
				ticks[i]++
				s.fire(ctx, job, ticks[i])
			}
		}
	}
}

func (s *Scheduler) fire(ctx context.Context, job PublishJob, tick uint64) {
	jc := JobContext{
		Job:       job.Name,
		Topic:     job.Publisher.Topic().String(),
		Tick:      tick,
		StartedAt: time.Now(),
	}
	s.hooks.start(jc)
	err := s.publish(ctx, job)
	jc.Duration = time.Since(jc.StartedAt)
	s.hooks.finish(jc, err)
}

func (s *Scheduler) publish(ctx context.Context, job PublishJob) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", job.Name, r)
		}
	}()

	data, err := job.Encode(ctx)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	return job.Publisher.Publish(ctx, data)
}

package runtime

import (
	"time"

	loggingpkg "github.com/drblury/uplink/internal/runtime/logging"
)

// JobContext describes one firing of a scheduled publish job.
type JobContext struct {
	// Job is the name of the publish job.
	Job string
	// Topic is the identity the job publishes on, in URI form.
	Topic string
	// Tick counts the firings of this job, starting at 1.
	Tick uint64
	// StartedAt is when the firing began.
	StartedAt time.Time
	// Duration is how long encode and send took (only set in OnJobDone and OnJobError).
	Duration time.Duration
}

// JobHooks defines callbacks around each job firing.
// All hooks are optional - nil hooks are simply not called.
type JobHooks struct {
	OnJobStart func(ctx JobContext)
	OnJobDone  func(ctx JobContext)
	OnJobError func(ctx JobContext, err error)
}

// Merge combines two JobHooks, creating a new JobHooks that calls both.
// The hooks from 'other' are called after the hooks from 'h'.
func (h JobHooks) Merge(other JobHooks) JobHooks {
	return JobHooks{
		OnJobStart: chainHooks(h.OnJobStart, other.OnJobStart),
		OnJobDone:  chainHooks(h.OnJobDone, other.OnJobDone),
		OnJobError: chainErrorHooks(h.OnJobError, other.OnJobError),
	}
}

func chainHooks(a, b func(JobContext)) func(JobContext) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx JobContext) {
		a(ctx)
		b(ctx)
	}
}

func chainErrorHooks(a, b func(JobContext, error)) func(JobContext, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx JobContext, err error) {
		a(ctx, err)
		b(ctx, err)
	}
}

func (h JobHooks) start(ctx JobContext) {
	if h.OnJobStart != nil {
		h.OnJobStart(ctx)
	}
}

func (h JobHooks) finish(ctx JobContext, err error) {
	if err != nil {
		if h.OnJobError != nil {
			h.OnJobError(ctx, err)
		}
		return
	}
	if h.OnJobDone != nil {
		h.OnJobDone(ctx)
	}
}

// LoggingHooks returns hooks that trace every firing and log failures.
func LoggingHooks(logger loggingpkg.ServiceLogger) JobHooks {
	return JobHooks{
		OnJobDone: func(ctx JobContext) {
			logger.Trace("Job published", loggingpkg.LogFields{
				"job":         ctx.Job,
				"topic":       ctx.Topic,
				"tick":        ctx.Tick,
				"duration_ms": ctx.Duration.Milliseconds(),
			})
		},
		OnJobError: func(ctx JobContext, err error) {
			logger.Error("Job failed", err, loggingpkg.LogFields{
				"job":         ctx.Job,
				"topic":       ctx.Topic,
				"tick":        ctx.Tick,
				"duration_ms": ctx.Duration.Milliseconds(),
			})
		},
	}
}

// CountingHooks returns hooks that report each outcome by job name.
func CountingHooks(onDone, onError func(job string)) JobHooks {
	return JobHooks{
		OnJobDone: func(ctx JobContext) {
			if onDone != nil {
				onDone(ctx.Job)
			}
		},
		OnJobError: func(ctx JobContext, err error) {
			if onError != nil {
				onError(ctx.Job)
			}
		},
	}
}

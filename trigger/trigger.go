// Package trigger feeds a scheduler with jobs on a timetable.
//
// A Trigger owns a cron runner. Every time the schedule fires it asks a
// Factory for a fresh job and hands it to the scheduler through
// SubmitThreadsafe, so the scheduler can run on any goroutine. Ticks that
// happen while the scheduler loop is stopped are logged and skipped.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/casualjim/strix"
	"github.com/casualjim/strix/pkg/slogx"
	"github.com/fogfish/opts"
	"github.com/robfig/cron/v3"
)

// Factory builds the job for one tick. Returning nil skips the tick.
type Factory func(tick time.Time) *strix.Job

type config struct {
	spec     string
	schedule cron.Schedule
	location *time.Location
	logger   *slog.Logger
	submit   []strix.SubmitOption
}

// Spec schedules ticks with a standard five-field cron expression or a
// descriptor such as "@every 1m" or "@hourly".
func Spec(spec string) opts.Option[config] {
	return opts.Type[config](func(c *config) error {
		if spec == "" {
			return errors.New("cron spec is required")
		}
		c.spec = spec
		return nil
	})
}

// Schedule uses a custom cron schedule, for example Every.
func Schedule(schedule cron.Schedule) opts.Option[config] {
	return opts.Type[config](func(c *config) error {
		if schedule == nil {
			return errors.New("schedule is required")
		}
		c.schedule = schedule
		return nil
	})
}

// Every fires at a fixed interval. Unlike cron's "@every" descriptor it keeps
// sub-second intervals.
func Every(d time.Duration) cron.Schedule {
	return every(d)
}

type every time.Duration

func (e every) Next(t time.Time) time.Time {
	return t.Add(time.Duration(e))
}

var WithLocation = opts.ForName[config, *time.Location]("location")

func WithLogger(logger *slog.Logger) opts.Option[config] {
	return opts.Type[config](func(c *config) error {
		if logger == nil {
			return errors.New("logger is required")
		}
		c.logger = logger
		return nil
	})
}

// WithSubmitOptions places every produced job, for example under a parent node.
func WithSubmitOptions(options ...strix.SubmitOption) opts.Option[config] {
	return opts.Type[config](func(c *config) error {
		c.submit = append(c.submit, options...)
		return nil
	})
}

type Trigger struct {
	scheduler *strix.Scheduler
	factory   Factory
	logger    *slog.Logger
	submit    []strix.SubmitOption
	runner    *cron.Cron
	entry     cron.EntryID

	mu      sync.Mutex
	started bool
	fired   int
	skipped int
}

// New registers factory on the scheduler. Exactly one of Spec or Schedule
// must be given.
func New(s *strix.Scheduler, factory Factory, options ...opts.Option[config]) (*Trigger, error) {
	if s == nil {
		return nil, errors.New("scheduler is required")
	}
	if factory == nil {
		return nil, errors.New("factory is required")
	}

	cfg := config{location: time.Local}
	if err := opts.Apply(&cfg, options); err != nil {
		return nil, err
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}
	if (cfg.spec == "") == (cfg.schedule == nil) {
		return nil, errors.New("exactly one of a cron spec or a schedule is required")
	}
	if cfg.location == nil {
		cfg.location = time.Local
	}

	t := &Trigger{
		scheduler: s,
		factory:   factory,
		logger:    cfg.logger.With(slogx.LoggerName("strix.trigger"), slog.String("scheduler", s.Name())),
		submit:    cfg.submit,
		runner:    cron.New(cron.WithLocation(cfg.location)),
	}

	schedule := cfg.schedule
	if schedule == nil {
		parsed, err := cron.ParseStandard(cfg.spec)
		if err != nil {
			return nil, fmt.Errorf("invalid cron spec %q: %w", cfg.spec, err)
		}
		schedule = parsed
	}
	t.entry = t.runner.Schedule(schedule, cron.FuncJob(t.fire))
	return t, nil
}

func (t *Trigger) fire() {
	job := t.factory(time.Now())
	if job == nil {
		return
	}

	err := t.scheduler.SubmitThreadsafe(job, t.submit...)

	t.mu.Lock()
	defer t.mu.Unlock()
	switch {
	case err == nil:
		t.fired++
	case errors.Is(err, strix.ErrNotRunning):
		t.skipped++
		t.logger.Debug("scheduler is not running, skipping tick")
	default:
		t.skipped++
		t.logger.Error("failed to submit job", slogx.Error(err))
	}
}

func (t *Trigger) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		return
	}
	t.started = true
	t.runner.Start()
}

// Stop halts the timetable and waits for a tick in progress, or for ctx.
func (t *Trigger) Stop(ctx context.Context) error {
	t.mu.Lock()
	if !t.started {
		t.mu.Unlock()
		return nil
	}
	t.started = false
	t.mu.Unlock()

	select {
	case <-t.runner.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Next returns the time of the next tick, zero when the trigger is stopped.
func (t *Trigger) Next() time.Time {
	return t.runner.Entry(t.entry).Next
}

// Stats returns how many ticks were submitted and how many were skipped.
func (t *Trigger) Stats() (fired, skipped int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fired, t.skipped
}

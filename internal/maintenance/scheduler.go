// ABOUTME: Time-of-day job scheduler for background maintenance
// ABOUTME: Each job sleeps until its first run, then ticks every period in its own goroutine

package maintenance

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// Job is a unit of periodic work. TimeOfDay is the offset from midnight UTC of
// the first run; the job repeats every Period after that.
type Job struct {
	Name      string
	TimeOfDay time.Duration
	Period    time.Duration
	Run       func(ctx context.Context) error
}

// PlanExecution returns how long to wait before the first run: until timeOfDay
// today, or until the first later moment on that period's grid if it already
// passed. An exact hit returns 0.
func PlanExecution(timeOfDay, period time.Duration, now time.Time) time.Duration {
	now = now.UTC()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	next := midnight.Add(timeOfDay)
	if period <= 0 {
		period = 24 * time.Hour
	}
	for next.Before(now) {
		next = next.Add(period)
	}
	return next.Sub(now)
}

// Scheduler runs registered jobs until its context is cancelled.
type Scheduler struct {
	logger  *slog.Logger
	now     func() time.Time
	observe func(job string, err error)

	mu   sync.Mutex
	jobs []Job
	wg   sync.WaitGroup
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock overrides the time source used to plan the first run.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithObserver registers a callback invoked after every run with its result.
func WithObserver(fn func(job string, err error)) Option {
	return func(s *Scheduler) { s.observe = fn }
}

// NewScheduler creates a scheduler with no jobs.
func NewScheduler(logger *slog.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		logger: logger.With("component", "maintenance"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Add registers a job. Jobs added after Run starts are ignored.
func (s *Scheduler) Add(job Job) error {
	if job.Name == "" {
		return fmt.Errorf("maintenance: job name is required")
	}
	if job.Period <= 0 {
		return fmt.Errorf("maintenance: job %s: period must be positive", job.Name)
	}
	if job.Run == nil {
		return fmt.Errorf("maintenance: job %s: run function is required", job.Name)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, job)
	return nil
}

// Run starts one loop per job and blocks until ctx is cancelled and every
// in-flight run has returned.
func (s *Scheduler) Run(ctx context.Context) {
	s.mu.Lock()
	jobs := append([]Job(nil), s.jobs...)
	s.mu.Unlock()

	var loops sync.WaitGroup
	for _, job := range jobs {
		loops.Add(1)
		go func() {
			defer loops.Done()
			s.loop(ctx, job)
		}()
	}
	loops.Wait()
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, job Job) {
	delay := PlanExecution(job.TimeOfDay, job.Period, s.now())
	s.logger.Info("scheduled job", "job", job.Name, "first_run_in", delay, "period", job.Period)

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}

	var inFlight atomic.Bool
	s.tick(ctx, job, &inFlight)

	ticker := time.NewTicker(job.Period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx, job, &inFlight)
		}
	}
}

// tick starts a run unless the previous one is still going.
func (s *Scheduler) tick(ctx context.Context, job Job, inFlight *atomic.Bool) {
	if !inFlight.CompareAndSwap(false, true) {
		s.logger.Warn("skipping job run, previous run still in progress", "job", job.Name)
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer inFlight.Store(false)

		err := s.execute(ctx, job)
		if s.observe != nil {
			s.observe(job.Name, err)
		}
	}()
}

func (s *Scheduler) execute(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("job panicked", "job", job.Name, "panic", r, "stack", string(debug.Stack()))
			err = fmt.Errorf("job %s panicked: %v", job.Name, r)
		}
	}()

	start := time.Now()
	s.logger.Info("job started", "job", job.Name)
	if err := job.Run(ctx); err != nil {
		s.logger.Error("job failed", "job", job.Name, "duration", time.Since(start), "error", err)
		return err
	}
	s.logger.Info("job finished", "job", job.Name, "duration", time.Since(start))
	return nil
}

// Package scheduler runs the recurring maintenance jobs on cron
// schedules, with overlap suppression, cooperative cancellation, crash
// isolation and a persistent job registry.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/rs/zerolog"

	"github.com/titlecardmaker/titlecardmaker/internal/library"
)

// HandlerFunc is one job's body. It must honor ctx between logical steps
// and report how many transient retries it absorbed.
type HandlerFunc func(ctx context.Context) (retries int, err error)

// Job is a named recurring job. An empty Cron leaves the job unscheduled;
// it can still be triggered manually.
type Job struct {
	Name    string
	Cron    string
	Handler HandlerFunc
}

// Scheduler wraps gocron with the at-most-one-instance rule and the
// persistent registry. Missed firings are not replayed after a restart;
// only the next scheduled firing runs.
type Scheduler struct {
	sched   gocron.Scheduler
	library *library.Service
	logger  zerolog.Logger
	baseCtx context.Context

	mu      sync.Mutex
	jobs    map[string]*Job
	handles map[string]gocron.Job
	cancels map[string]context.CancelFunc
}

// New creates a Scheduler. baseCtx bounds every job run; cancelling it
// stops all in-flight jobs.
func New(baseCtx context.Context, svc *library.Service, logger zerolog.Logger) (*Scheduler, error) {
	sched, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}
	return &Scheduler{
		sched:   sched,
		library: svc,
		logger:  logger.With().Str("component", "scheduler").Logger(),
		baseCtx: baseCtx,
		jobs:    make(map[string]*Job),
		handles: make(map[string]gocron.Job),
		cancels: make(map[string]context.CancelFunc),
	}, nil
}

// Register installs a job. Jobs with a cron expression are scheduled;
// every registered job can also be triggered manually.
func (s *Scheduler) Register(job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.Name]; exists {
		return fmt.Errorf("job %q already registered", job.Name)
	}
	s.jobs[job.Name] = job

	if job.Cron == "" {
		s.logger.Info().Str("job", job.Name).Msg("Job registered without schedule")
		return nil
	}

	handle, err := s.sched.NewJob(
		gocron.CronJob(job.Cron, false),
		gocron.NewTask(func() { s.run(job) }),
		gocron.WithName(job.Name),
	)
	if err != nil {
		return fmt.Errorf("failed to schedule job %q: %w", job.Name, err)
	}
	s.handles[job.Name] = handle
	return nil
}

// Start begins firing scheduled jobs and records each job's next run.
func (s *Scheduler) Start() {
	s.sched.Start()

	s.mu.Lock()
	defer s.mu.Unlock()
	for name, handle := range s.handles {
		if next, err := handle.NextRun(); err == nil {
			if err := s.library.RecordJobNextRun(s.baseCtx, name, next); err != nil {
				s.logger.Warn().Err(err).Str("job", name).Msg("Failed to record next run")
			}
		}
	}
	s.logger.Info().Int("jobs", len(s.handles)).Msg("Scheduler started")
}

// Shutdown cancels running jobs and stops the scheduler.
func (s *Scheduler) Shutdown() error {
	s.mu.Lock()
	for _, cancel := range s.cancels {
		cancel()
	}
	s.mu.Unlock()
	return s.sched.Shutdown()
}

// Trigger runs a job out-of-band. It shares the scheduled path's
// at-most-one-instance lock.
func (s *Scheduler) Trigger(name string) error {
	s.mu.Lock()
	job, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown job %q", name)
	}
	go s.run(job)
	return nil
}

// Cancel signals a running job to stop at its next checkpoint.
func (s *Scheduler) Cancel(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cancel, ok := s.cancels[name]; ok {
		cancel()
	}
}

// Running reports whether a job instance is currently executing.
func (s *Scheduler) Running(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, running := s.cancels[name]
	return running
}

// run executes one job firing. A firing that finds the previous run still
// active is recorded as overlap and skipped.
func (s *Scheduler) run(job *Job) {
	s.mu.Lock()
	if _, running := s.cancels[job.Name]; running {
		s.mu.Unlock()
		s.logger.Warn().Str("job", job.Name).Msg("Previous run still active, skipping firing")
		if err := s.library.RecordJobOutcome(s.baseCtx, job.Name, library.OutcomeOverlap); err != nil {
			s.logger.Warn().Err(err).Str("job", job.Name).Msg("Failed to record overlap")
		}
		return
	}
	ctx, cancel := context.WithCancel(s.baseCtx)
	s.cancels[job.Name] = cancel
	s.mu.Unlock()

	defer func() {
		cancel()
		s.mu.Lock()
		delete(s.cancels, job.Name)
		handle := s.handles[job.Name]
		s.mu.Unlock()
		if handle != nil {
			if next, err := handle.NextRun(); err == nil {
				if err := s.library.RecordJobNextRun(s.baseCtx, job.Name, next); err != nil {
					s.logger.Warn().Err(err).Str("job", job.Name).Msg("Failed to record next run")
				}
			}
		}
	}()

	start := time.Now()
	if err := s.library.RecordJobStart(s.baseCtx, job.Name, start); err != nil {
		s.logger.Warn().Err(err).Str("job", job.Name).Msg("Failed to record job start")
	}
	s.logger.Info().Str("job", job.Name).Msg("Job started")

	retries, err := s.invoke(ctx, job)

	outcome := library.OutcomeOK
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled):
		outcome = library.OutcomeCancelled
		s.logger.Info().Str("job", job.Name).Msg("Job cancelled")
	default:
		outcome = library.OutcomeError
		s.logger.Error().Err(err).Str("job", job.Name).Msg("Job failed")
	}

	if recErr := s.library.RecordJobEnd(s.baseCtx, job.Name, time.Now(), outcome, retries); recErr != nil {
		s.logger.Warn().Err(recErr).Str("job", job.Name).Msg("Failed to record job end")
	}
	if err == nil {
		s.logger.Info().Str("job", job.Name).Dur("elapsed", time.Since(start)).
			Int("retries", retries).Msg("Job finished")
	}
}

// invoke calls the handler with panic isolation: a panicking job is
// recorded as an error and does not take the process down.
func (s *Scheduler) invoke(ctx context.Context, job *Job) (retries int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return job.Handler(ctx)
}

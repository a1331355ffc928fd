// Package scheduler implements the Scheduler: a named cron-job registry
// built on robfig/cron, plus the Pulse Job — the single built-in scheduled
// job that periodically gives an agent a chance to speak unprompted.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"alfred-ai/internal/domain"
)

var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Scheduler runs named domain.Job instances on cron schedules. Safe for
// concurrent use.
type Scheduler struct {
	mu      sync.Mutex
	cron    *cron.Cron
	entries map[string]cron.EntryID
	jobs    map[string]domain.ScheduledJob
	started bool
	ctx     context.Context
	cancel  context.CancelFunc
	logger  *slog.Logger
}

// New creates a Scheduler.
func New(logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		entries: make(map[string]cron.EntryID),
		jobs:    make(map[string]domain.ScheduledJob),
		logger:  logger,
	}
}

// Register installs a named job on a cron expression. Duplicate names are
// rejected. If the scheduler is already running, the job's cron entry
// starts immediately; otherwise it starts on Start.
func (s *Scheduler) Register(job domain.Job, expression string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	name := job.Name()
	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("scheduler: job %q already registered", name)
	}

	sched, err := cronParser.Parse(expression)
	if err != nil {
		return fmt.Errorf("scheduler: invalid schedule %q for job %q: %w", expression, name, err)
	}

	s.jobs[name] = domain.ScheduledJob{Name: name, Expression: expression, Job: job}

	entryID := s.cron.Schedule(sched, cron.FuncJob(func() {
		s.tick(name, job)
	}))
	s.entries[name] = entryID

	return nil
}

func (s *Scheduler) tick(name string, job domain.Job) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	if ctx == nil {
		s.logger.Debug("scheduler: tick skipped, not started", "job", name)
		return
	}

	start := time.Now()
	if err := job.Execute(ctx); err != nil {
		s.logger.Warn("scheduler: job tick failed", "job", name, "error", err, "duration", time.Since(start))
		return
	}
	s.logger.Debug("scheduler: job tick completed", "job", name, "duration", time.Since(start))
}

// Start resumes all registered cron entries.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron.Start()
	s.started = true
	return nil
}

// Stop halts the scheduler; no further ticks fire after it returns.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}
	if s.cancel != nil {
		s.cancel()
	}
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	s.started = false
	return nil
}

// GetNextRun returns the next scheduled instant for name, or nil if the
// name is unregistered.
func (s *Scheduler) GetNextRun(name string) *time.Time {
	s.mu.Lock()
	entryID, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	entry := s.cron.Entry(entryID)
	if entry.ID == 0 {
		return nil
	}
	t := entry.Next
	return &t
}

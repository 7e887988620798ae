// Package scheduler runs background jobs on cron schedules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Job is a task run on a cron schedule.
type Job struct {
	ID       string                          // Unique identifier for the job
	Name     string                          // Human-readable name (optional)
	CronExpr string                          // Cron expression (e.g. "0 * * * *")
	Run      func(ctx context.Context) error // Called each time the schedule fires
}

// CronEngine abstracts the cron scheduler for testability.
// The real implementation wraps robfig/cron/v3.
type CronEngine interface {
	AddFunc(spec string, cmd func()) (int, error)
	Remove(id int)
	Start()
	Stop()
}

// Option is a functional option for configuring a Scheduler.
type Option func(*Scheduler)

// WithLogger sets a structured logger for the Scheduler. If l is nil it is
// ignored and the default slog logger is used.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// Sentinel errors for validation.
var (
	ErrEmptyJobID   = errors.New("scheduler: job ID must not be empty")
	ErrEmptyCron    = errors.New("scheduler: cron expression must not be empty")
	ErrNilRun       = errors.New("scheduler: job must have a Run func")
	ErrDuplicateJob = errors.New("scheduler: job with this ID already exists")
	ErrUnknownJob   = errors.New("scheduler: job not found")
)

type jobEntry struct {
	job     Job
	entryID int
}

// Scheduler manages cron-based jobs. A job that is still running when its
// schedule fires again is skipped for that tick.
type Scheduler struct {
	engine CronEngine
	logger *slog.Logger

	mu      sync.RWMutex
	ctx     context.Context
	jobs    map[string]jobEntry
	running map[string]bool
}

// NewScheduler creates a new Scheduler. engine must not be nil.
func NewScheduler(engine CronEngine, opts ...Option) *Scheduler {
	if engine == nil {
		panic("scheduler: engine must not be nil")
	}
	s := &Scheduler{
		engine:  engine,
		ctx:     context.Background(),
		jobs:    make(map[string]jobEntry),
		running: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Scheduler) log() *slog.Logger {
	if s.logger != nil {
		return s.logger
	}
	return slog.Default()
}

// AddJob registers a job. It fails validation errors, a duplicate ID or a
// cron expression the engine rejects.
func (s *Scheduler) AddJob(job Job) error {
	if job.ID == "" {
		return ErrEmptyJobID
	}
	if job.CronExpr == "" {
		return ErrEmptyCron
	}
	if job.Run == nil {
		return ErrNilRun
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateJob, job.ID)
	}

	id := job.ID
	entryID, err := s.engine.AddFunc(job.CronExpr, func() { s.fire(id) })
	if err != nil {
		return fmt.Errorf("scheduler: failed to register cron job %q: %w", job.ID, err)
	}

	s.jobs[job.ID] = jobEntry{job: job, entryID: entryID}
	s.log().Info("job registered", "job_id", job.ID, "job_name", job.Name, "cron_expr", job.CronExpr)
	return nil
}

// RunNow runs a registered job immediately, outside its schedule.
func (s *Scheduler) RunNow(ctx context.Context, id string) error {
	s.mu.RLock()
	entry, ok := s.jobs[id]
	s.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, id)
	}
	return entry.job.Run(ctx)
}

func (s *Scheduler) fire(id string) {
	s.mu.Lock()
	entry, ok := s.jobs[id]
	if !ok || s.running[id] {
		s.mu.Unlock()
		if ok {
			s.log().Warn("job still running, skipping tick", "job_id", id)
		}
		return
	}
	s.running[id] = true
	ctx := s.ctx
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.running, id)
		s.mu.Unlock()
	}()

	s.log().Info("job fired", "job_id", id, "job_name", entry.job.Name)
	if err := entry.job.Run(ctx); err != nil {
		s.log().Warn("job failed", "job_id", id, "error", err)
	}
}

// Start begins the cron scheduler. Jobs run with ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
	s.engine.Start()
}

// Stop halts the cron scheduler.
func (s *Scheduler) Stop() {
	s.engine.Stop()
}

// RemoveJob unregisters a job by ID.
func (s *Scheduler) RemoveJob(id string) error {
	if id == "" {
		return ErrEmptyJobID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.jobs[id]
	if !exists {
		return fmt.Errorf("%w: %s", ErrUnknownJob, id)
	}

	s.engine.Remove(entry.entryID)
	delete(s.jobs, id)
	s.log().Info("job removed", "job_id", id)
	return nil
}

// ListJobs returns the registered jobs sorted by ID. The returned slice is
// never nil.
func (s *Scheduler) ListJobs() []Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]Job, 0, len(s.jobs))
	for _, entry := range s.jobs {
		jobs = append(jobs, entry.job)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].ID < jobs[j].ID })
	return jobs
}

// GetJob returns the job with the given ID, or false if not found.
func (s *Scheduler) GetJob(id string) (Job, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.jobs[id]
	if !ok {
		return Job{}, false
	}
	return entry.job, true
}

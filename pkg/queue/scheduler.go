package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Scheduler turns periodic job definitions into queue items at runtime.
// It is a producer like the Enqueuer; execution still happens through the
// processor and the handler registered for the job type.
type Scheduler struct {
	repo     SchedulerRepository
	jobs     map[string]*periodicJob
	mu       sync.RWMutex
	interval time.Duration
	logger   *slog.Logger
}

type periodicJob struct {
	jobType         string
	schedule        Schedule
	payload         json.RawMessage
	priority        Priority
	maxRetries      int8
	lastScheduledAt *time.Time
}

// NewScheduler creates a periodic job scheduler.
func NewScheduler(repo SchedulerRepository, opts ...SchedulerOption) (*Scheduler, error) {
	if repo == nil {
		return nil, ErrStorageNil
	}

	options := &schedulerOptions{
		checkInterval: 30 * time.Second,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(options)
	}

	return &Scheduler{
		repo:     repo,
		jobs:     make(map[string]*periodicJob),
		interval: options.checkInterval,
		logger:   options.logger,
	}, nil
}

// AddJob registers a periodic job for the given job type.
func (s *Scheduler) AddJob(jobType string, schedule Schedule, opts ...PeriodicJobOption) error {
	if jobType == "" {
		return ErrJobTypeEmpty
	}
	if schedule == nil {
		return ErrInvalidSchedule
	}

	jobOpts := &periodicJobOptions{
		priority:   PriorityDefault,
		maxRetries: 3,
	}
	for _, opt := range opts {
		opt(jobOpts)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[jobType]; exists {
		return fmt.Errorf("%w: %s", ErrJobAlreadyRegistered, jobType)
	}

	s.jobs[jobType] = &periodicJob{
		jobType:    jobType,
		schedule:   schedule,
		payload:    jobOpts.payload,
		priority:   jobOpts.priority,
		maxRetries: jobOpts.maxRetries,
	}

	s.logger.Info("registered periodic job",
		slog.String("job_type", jobType),
		slog.String("schedule", schedule.String()))
	return nil
}

// Start runs the scheduling loop until the context is cancelled. Due jobs
// are checked immediately and then on every interval.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.RLock()
	jobCount := len(s.jobs)
	s.mu.RUnlock()

	if jobCount == 0 {
		return ErrNoHandlers
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.checkJobs(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler shutting down")
			return ctx.Err()
		case <-ticker.C:
			s.checkJobs(ctx)
		}
	}
}

func (s *Scheduler) checkJobs(ctx context.Context) {
	s.mu.RLock()
	jobs := make([]*periodicJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, job)
	}
	s.mu.RUnlock()

	now := time.Now()
	for _, job := range jobs {
		if err := s.scheduleIfDue(ctx, job, now); err != nil {
			s.logger.Error("failed to schedule periodic job",
				slog.String("job_type", job.jobType),
				slog.Any("error", err))
		}
	}
}

// scheduleIfDue creates one queue item for a due job unless an undone
// instance is still queued, so a slow handler never piles up duplicates.
func (s *Scheduler) scheduleIfDue(ctx context.Context, job *periodicJob, now time.Time) error {
	nextRun := s.nextRun(job, now)
	if job.lastScheduledAt != nil && nextRun.After(now) {
		return nil
	}

	existing, err := s.repo.GetPendingItemByType(ctx, job.jobType)
	if err != nil {
		return fmt.Errorf("failed to check pending instance: %w", err)
	}
	if existing != nil {
		s.setLastScheduled(job.jobType, existing.ScheduledAt)
		return nil
	}

	item := &Item{
		ID:          uuid.New(),
		Type:        job.jobType,
		Payload:     job.payload,
		Status:      StatusPending,
		Priority:    job.priority,
		ScheduledAt: nextRun,
		MaxRetries:  job.maxRetries,
		CreatedAt:   now,
	}
	if err := s.repo.CreateItem(ctx, item); err != nil {
		return fmt.Errorf("failed to create periodic item: %w", err)
	}

	s.setLastScheduled(job.jobType, nextRun)
	s.logger.Info("created periodic item",
		slog.String("job_type", job.jobType),
		slog.Time("scheduled_for", nextRun))
	return nil
}

func (s *Scheduler) nextRun(job *periodicJob, now time.Time) time.Time {
	if job.lastScheduledAt == nil {
		return job.schedule.Next(now)
	}
	return job.schedule.Next(*job.lastScheduledAt)
}

func (s *Scheduler) setLastScheduled(jobType string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job, ok := s.jobs[jobType]; ok {
		job.lastScheduledAt = &at
	}
}

package warming

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/o-tero/cachekit/pkg/utils"
)

// Scheduler manages scheduled warming jobs on top of robfig/cron, replacing
// the teacher's Encore cron registration (cron.NewJob + encore:api
// endpoints) with an embeddable cron.Cron instance the caller starts and
// stops alongside the rest of the service.
type Scheduler struct {
	service *Service
	cron    *cron.Cron
	jobs    map[string]*ScheduledJob
	mu      sync.RWMutex
}

// ScheduledJob represents a recurring warming job.
type ScheduledJob struct {
	ID         string
	Name       string
	Schedule   string // standard 5-field cron expression
	Strategy   string
	KeyPattern string
	Limit      int
	Priority   int
	Enabled    bool
	LastRun    *time.Time
	RunCount   int64
	FailCount  int64

	entryID cron.EntryID
}

// NewScheduler creates a job scheduler bound to service. Callers register
// jobs with RegisterJob, then call Start once all jobs are registered.
func NewScheduler(service *Service) *Scheduler {
	return &Scheduler{
		service: service,
		cron:    cron.New(),
		jobs:    make(map[string]*ScheduledJob),
	}
}

// RegisterJob adds a recurring job to the scheduler's cron table.
func (s *Scheduler) RegisterJob(job *ScheduledJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("warming: job %q already exists", job.ID)
	}

	entryID, err := s.cron.AddFunc(job.Schedule, func() {
		if err := s.executeJob(context.Background(), job); err != nil {
			job.FailCount++
		}
	})
	if err != nil {
		return fmt.Errorf("warming: invalid schedule %q: %w", job.Schedule, err)
	}

	job.entryID = entryID
	s.jobs[job.ID] = job
	return nil
}

// UnregisterJob removes a scheduled job.
func (s *Scheduler) UnregisterJob(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, exists := s.jobs[jobID]
	if !exists {
		return fmt.Errorf("warming: job %q not found", jobID)
	}
	s.cron.Remove(job.entryID)
	delete(s.jobs, jobID)
	return nil
}

// ListJobs returns all registered jobs.
func (s *Scheduler) ListJobs() []*ScheduledJob {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]*ScheduledJob, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, job)
	}
	return jobs
}

// Start runs the cron loop in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the cron loop, waiting for any in-flight job to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// executeJob runs a single scheduled warming job.
func (s *Scheduler) executeJob(ctx context.Context, job *ScheduledJob) error {
	if !job.Enabled {
		return nil
	}

	now := time.Now()
	job.LastRun = &now

	strategy, exists := s.service.strategies[job.Strategy]
	if !exists {
		return fmt.Errorf("warming: unknown strategy %q", job.Strategy)
	}

	var keys []string
	if job.KeyPattern != "" {
		predicted, err := s.service.predictor.PredictHotKeys(ctx, time.Hour, job.Limit)
		if err != nil {
			return fmt.Errorf("warming: prediction failed: %w", err)
		}
		keys, err = utils.FilterKeys(job.KeyPattern, predicted)
		if err != nil {
			return fmt.Errorf("warming: pattern filter failed: %w", err)
		}
	}
	if len(keys) == 0 {
		return nil
	}

	tasks, err := strategy.Plan(ctx, PlanOptions{Keys: keys, Priority: job.Priority, Limit: job.Limit})
	if err != nil {
		return fmt.Errorf("warming: planning failed: %w", err)
	}

	queued := s.service.workerPool.QueueTasks(tasks)
	if queued > 0 {
		job.RunCount++
		s.service.metrics.JobsTotal.Add(int64(queued))
	}
	return nil
}

// DailyWarmup, HourlyRefresh, and PeakHoursWarmup are the teacher's
// pre-defined warming schedules, expressed as ScheduledJobs a caller
// registers instead of Encore cron.NewJob declarations.
func DailyWarmup(strategy string) *ScheduledJob {
	return &ScheduledJob{ID: "daily-warmup", Name: "Daily Cache Warmup", Schedule: "0 2 * * *", Strategy: strategy, KeyPattern: "*", Priority: 80, Enabled: true}
}

func HourlyRefresh(strategy string) *ScheduledJob {
	return &ScheduledJob{ID: "hourly-refresh", Name: "Hourly Cache Refresh", Schedule: "0 * * * *", Strategy: strategy, KeyPattern: "*", Limit: 50, Priority: 70, Enabled: true}
}

func PeakHoursWarmup(strategy string) *ScheduledJob {
	return &ScheduledJob{ID: "peak-hours-warmup", Name: "Peak Hours Cache Warmup", Schedule: "0 7,11,17 * * *", Strategy: strategy, KeyPattern: "*", Limit: 100, Priority: 90, Enabled: true}
}

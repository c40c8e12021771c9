// Package schedule triggers one-shot tasks from cron expressions.
package schedule

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// RunFunc runs one scheduled job
type RunFunc func(ctx context.Context, job Job) error

type entry struct {
	job      Job
	schedule cron.Schedule
}

// Scheduler runs due jobs one at a time. Jobs share the test server port, so
// a job that comes due while another runs waits for the next tick.
type Scheduler struct {
	entries  map[string]entry
	log      zerolog.Logger
	interval time.Duration
	now      func() time.Time

	mu      sync.RWMutex
	lastRun map[string]time.Time
}

// New creates a scheduler. Jobs first become due after the time of creation.
func New(jobs []Job, logger zerolog.Logger) (*Scheduler, error) {
	s := &Scheduler{
		entries:  make(map[string]entry),
		log:      logger.With().Str("component", "schedule").Logger(),
		interval: 30 * time.Second,
		now:      time.Now,
		lastRun:  make(map[string]time.Time),
	}

	start := s.now()
	for _, job := range jobs {
		if err := job.Validate(); err != nil {
			return nil, err
		}
		if _, dup := s.entries[job.Name]; dup {
			return nil, fmt.Errorf("duplicate schedule %q", job.Name)
		}
		sched, _ := ParseCron(job.Cron) // validated above
		s.entries[job.Name] = entry{job: job, schedule: sched}
		s.lastRun[job.Name] = start
	}

	return s, nil
}

// Jobs returns all jobs sorted by name
func (s *Scheduler) Jobs() []Job {
	jobs := make([]Job, 0, len(s.entries))
	for _, e := range s.entries {
		jobs = append(jobs, e.job)
	}
	sort.Slice(jobs, func(i, j int) bool { return jobs[i].Name < jobs[j].Name })
	return jobs
}

// NextRun returns the next scheduled run time for a job
func (s *Scheduler) NextRun(name string) time.Time {
	e, ok := s.entries[name]
	if !ok {
		return time.Time{}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return e.schedule.Next(s.lastRun[name])
}

// Due returns the jobs whose next run time is not after now, sorted by name
func (s *Scheduler) Due(now time.Time) []Job {
	var due []Job
	for _, job := range s.Jobs() {
		if next := s.NextRun(job.Name); !next.IsZero() && !next.After(now) {
			due = append(due, job)
		}
	}
	return due
}

func (s *Scheduler) markRun(name string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRun[name] = at
}

// Run checks for due jobs every interval and runs them in turn until ctx is
// done. Job errors are logged, never returned.
func (s *Scheduler) Run(ctx context.Context, run RunFunc) error {
	for _, job := range s.Jobs() {
		s.log.Info().Str("schedule", job.Name).Str("task", job.Task).Time("next", s.NextRun(job.Name)).Msg("Scheduled")
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			for _, job := range s.Due(s.now()) {
				if ctx.Err() != nil {
					return nil
				}
				s.markRun(job.Name, s.now())
				s.runJob(ctx, run, job)
			}
		}
	}
}

func (s *Scheduler) runJob(ctx context.Context, run RunFunc, job Job) {
	log := s.log.With().Str("schedule", job.Name).Str("task", job.Task).Logger()
	log.Info().Msg("Running scheduled task")

	defer func() {
		if r := recover(); r != nil {
			log.Error().Msgf("scheduled task panicked: %v", r)
		}
	}()

	start := time.Now()
	if err := run(ctx, job); err != nil {
		log.Error().Err(err).Dur("took", time.Since(start)).Msg("Scheduled task failed")
		return
	}
	log.Info().Dur("took", time.Since(start)).Msg("Scheduled task finished")
}

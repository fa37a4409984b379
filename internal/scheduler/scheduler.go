// Package scheduler starts workflow instances on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// WorkflowStarter is the interface the scheduler uses to launch instances.
// Satisfied by the engine (avoids import cycle).
type WorkflowStarter interface {
	StartScheduled(ctx context.Context, definitionID, version string, variables map[string]any) (string, error)
}

// Job binds a cron expression to a workflow definition.
type Job struct {
	ID           string
	CronExpr     string
	DefinitionID string
	Version      string
	Variables    map[string]any
	Enabled      bool
}

type jobState struct {
	job       Job
	nextRunAt time.Time
	lastRunAt time.Time
	lastError string
}

// Scheduler ticks once a minute and launches instances for due jobs.
type Scheduler struct {
	starter WorkflowStarter
	parser  cron.Parser
	logger  *slog.Logger
	cancel  context.CancelFunc
	done    chan struct{}
	mu      sync.Mutex

	jobsMu sync.Mutex
	jobs   map[string]*jobState

	inflightMu sync.Mutex
	inflight   map[string]struct{} // job IDs currently executing (dedup)
}

// New creates a Scheduler with a standard 5-field cron parser.
func New(starter WorkflowStarter, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		starter:  starter,
		parser:   cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		logger:   logger,
		jobs:     make(map[string]*jobState),
		inflight: make(map[string]struct{}),
	}
}

// Add registers or replaces a job and computes its first run time.
func (s *Scheduler) Add(job Job) error {
	if job.ID == "" {
		return fmt.Errorf("job has no id")
	}
	next, err := s.nextRun(job.CronExpr, time.Now().UTC())
	if err != nil {
		return err
	}

	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	s.jobs[job.ID] = &jobState{job: job, nextRunAt: next}
	return nil
}

// Remove deletes a job. Removing an unknown job is a no-op.
func (s *Scheduler) Remove(jobID string) {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	delete(s.jobs, jobID)
}

// Start launches the background scheduling loop with a 60s ticker.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}

	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(schedCtx)
	s.logger.Info("scheduler started")
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	// Run an initial tick immediately.
	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs every enabled job whose next run time has passed.
func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now().UTC()

	s.jobsMu.Lock()
	var due []*jobState
	for _, st := range s.jobs {
		if st.job.Enabled && !st.nextRunAt.After(now) {
			due = append(due, st)
		}
	}
	s.jobsMu.Unlock()

	for _, st := range due {
		if !s.tryAcquire(st.job.ID) {
			continue // previous run still executing (dedup)
		}
		s.runJob(ctx, st, now)
		s.release(st.job.ID)
	}
}

// runJob launches one instance and advances the job's next run time.
func (s *Scheduler) runJob(ctx context.Context, st *jobState, now time.Time) {
	s.logger.Info("running scheduled job",
		slog.String("job_id", st.job.ID),
		slog.String("definition_id", st.job.DefinitionID),
	)

	instanceID, err := s.starter.StartScheduled(ctx, st.job.DefinitionID, st.job.Version, st.job.Variables)
	if err != nil {
		s.logger.Error("scheduled job failed to start",
			slog.String("job_id", st.job.ID),
			slog.String("error", err.Error()),
		)
	} else {
		s.logger.Info("scheduled instance started",
			slog.String("job_id", st.job.ID),
			slog.String("instance_id", instanceID),
		)
	}

	next, nerr := s.nextRun(st.job.CronExpr, now)

	s.jobsMu.Lock()
	st.lastRunAt = now
	if err != nil {
		st.lastError = err.Error()
	} else {
		st.lastError = ""
	}
	if nerr == nil {
		st.nextRunAt = next
	}
	s.jobsMu.Unlock()
}

// tryAcquire returns true and marks the job as in-flight if it is not already running.
func (s *Scheduler) tryAcquire(jobID string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[jobID]; ok {
		return false
	}
	s.inflight[jobID] = struct{}{}
	return true
}

func (s *Scheduler) release(jobID string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, jobID)
}

// nextRun computes the next run time for a cron expression.
func (s *Scheduler) nextRun(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return schedule.Next(from), nil
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}

	s.cancel()
	<-s.done
	s.cancel = nil
	s.done = nil

	s.logger.Info("scheduler stopped")
	return nil
}

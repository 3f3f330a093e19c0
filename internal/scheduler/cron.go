// Package scheduler re-runs import jobs that carry a cron expression.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/mkalinski-dev/materio/internal/core"
	"github.com/mkalinski-dev/materio/internal/models"
)

// Runner executes one import job; satisfied by the import service.
type Runner interface {
	Run(ctx context.Context, jobID string) error
}

type Scheduler struct {
	db     core.DbClient
	runner Runner
	cron   *cron.Cron
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]cron.EntryID
}

func New(db core.DbClient, runner Runner, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		db:      db,
		runner:  runner,
		cron:    cron.New(),
		logger:  logger,
		entries: make(map[string]cron.EntryID),
	}
}

// Start loads every scheduled import job and registers its cron entry.
func (s *Scheduler) Start(ctx context.Context) error {
	jobs, err := s.db.ListScheduledImportJobs(ctx)
	if err != nil {
		return err
	}
	for i := range jobs {
		if err := s.Register(&jobs[i]); err != nil {
			s.logger.Error("skipping import job with bad schedule", "import_job_id", jobs[i].ID, "schedule", jobs[i].CronSchedule, "error", err)
		}
	}

	s.cron.Start()

	s.mu.Lock()
	count := len(s.entries)
	s.mu.Unlock()
	s.logger.Info("scheduler started", "entries", count)
	return nil
}

// Register adds or replaces the cron entry for one import job. Safe to call
// after Start; newly created scheduled jobs register through here.
func (s *Scheduler) Register(job *models.ImportJob) error {
	if job.CronSchedule == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if id, ok := s.entries[job.ID]; ok {
		s.cron.Remove(id)
	}

	jobID := job.ID
	entryID, err := s.cron.AddFunc(job.CronSchedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()

		s.logger.Info("scheduled import run", "import_job_id", jobID)
		if err := s.runner.Run(ctx, jobID); err != nil {
			s.logger.Error("scheduled import run failed", "import_job_id", jobID, "error", err)
		}
	})
	if err != nil {
		return err
	}
	s.entries[job.ID] = entryID
	return nil
}

// Stop halts the cron loop and waits for in-flight runs.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("scheduler stopped")
}

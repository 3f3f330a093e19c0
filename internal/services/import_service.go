package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/mkalinski-dev/materio/internal/core"
	"github.com/mkalinski-dev/materio/internal/events"
	"github.com/mkalinski-dev/materio/internal/models"
	"github.com/mkalinski-dev/materio/internal/workflow"
)

var ErrImportJobNotFound = errors.New("import job not found")

// ImportService manages persisted import jobs: the durable, user-visible
// record of catalog ingestion runs. Each run extracts the source through the
// gateway, hands it to the orchestrator, and settles the import job plus its
// knowledge entry when the workflow finishes.
type ImportService struct {
	db           core.DbClient
	gateway      core.ExtractionClient
	orchestrator *workflow.Orchestrator
	titler       core.LLMProvider
	logger       *slog.Logger

	mu      sync.Mutex
	pending map[string]string // workflow request ID -> import job ID
}

func NewImportService(db core.DbClient, gateway core.ExtractionClient, orch *workflow.Orchestrator, titler core.LLMProvider, logger *slog.Logger) *ImportService {
	if logger == nil {
		logger = slog.Default()
	}
	s := &ImportService{
		db:           db,
		gateway:      gateway,
		orchestrator: orch,
		titler:       titler,
		logger:       logger,
		pending:      make(map[string]string),
	}

	orch.Events().Subscribe(events.JobCompleted, s.onWorkflowDone)
	orch.Events().Subscribe(events.JobFailed, s.onWorkflowDone)

	return s
}

// Create persists a new import job in pending state.
func (s *ImportService) Create(ctx context.Context, job *models.ImportJob) error {
	if job == nil {
		return errors.New("nil import job")
	}
	if job.WorkspaceID == "" || job.SourceURL == "" {
		return errors.New("import job needs workspace_id and source_url")
	}
	if job.CronSchedule != "" {
		if _, err := cron.ParseStandard(job.CronSchedule); err != nil {
			return fmt.Errorf("invalid cron schedule %q: %w", job.CronSchedule, err)
		}
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	job.Status = "pending"
	job.CreatedAt = time.Now()
	job.UpdatedAt = job.CreatedAt
	return s.db.CreateImportJob(ctx, job)
}

func (s *ImportService) Get(ctx context.Context, id string) (*models.ImportJob, error) {
	job, err := s.db.GetImportJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, fmt.Errorf("%w: %s", ErrImportJobNotFound, id)
	}
	return job, nil
}

func (s *ImportService) List(ctx context.Context, workspaceID string) ([]models.ImportJob, error) {
	return s.db.ListImportJobs(ctx, workspaceID)
}

// Run extracts the job's source through the gateway and enqueues a workflow
// for it. The import job settles asynchronously when the workflow finishes.
func (s *ImportService) Run(ctx context.Context, jobID string) error {
	job, err := s.Get(ctx, jobID)
	if err != nil {
		return err
	}

	now := time.Now()
	job.Status = "running"
	job.Error = ""
	job.LastRunAt = &now
	if err := s.db.UpdateImportJob(ctx, job); err != nil {
		return fmt.Errorf("mark import job running: %w", err)
	}

	extraction, err := s.gateway.ProcessDocument(ctx, job.SourceURL)
	if err != nil {
		s.settle(ctx, job, 0, 1, fmt.Errorf("extract %s: %w", job.SourceURL, err))
		return fmt.Errorf("extract %s: %w", job.SourceURL, err)
	}

	entry := &models.KnowledgeEntry{
		ID:          uuid.NewString(),
		WorkspaceID: job.WorkspaceID,
		DocumentID:  extraction.DocumentID,
		Title:       s.title(ctx, job, extraction),
		Status:      "pending",
	}
	if err := s.db.CreateKnowledgeEntry(ctx, entry); err != nil {
		s.settle(ctx, job, 0, 1, fmt.Errorf("create knowledge entry: %w", err))
		return fmt.Errorf("create knowledge entry: %w", err)
	}
	job.KnowledgeEntryID = entry.ID
	if err := s.db.UpdateImportJob(ctx, job); err != nil {
		s.settle(ctx, job, 0, 1, fmt.Errorf("record knowledge entry: %w", err))
		return fmt.Errorf("record knowledge entry: %w", err)
	}

	// track by request ID before enqueueing; the workflow can finish before
	// ProcessDocument returns
	requestID := uuid.NewString()
	s.mu.Lock()
	s.pending[requestID] = job.ID
	s.mu.Unlock()

	wjob, err := s.orchestrator.ProcessDocument(&workflow.ProcessRequest{
		RequestID:   requestID,
		WorkspaceID: job.WorkspaceID,
		UserID:      job.UserID,
		Document:    extraction,
	})
	if err != nil {
		s.mu.Lock()
		delete(s.pending, requestID)
		s.mu.Unlock()
		s.settle(ctx, job, 0, 1, fmt.Errorf("start workflow: %w", err))
		return fmt.Errorf("start workflow: %w", err)
	}

	s.logger.Info("import job running", "import_job_id", job.ID, "workflow_job_id", wjob.ID)
	return nil
}

// onWorkflowDone settles the import job a finished workflow belongs to.
func (s *ImportService) onWorkflowDone(ev events.Event) {
	wjob, ok := ev.Job.(*models.WorkflowJob)
	if !ok {
		return
	}

	s.mu.Lock()
	importID, tracked := s.pending[wjob.RequestID]
	if tracked {
		delete(s.pending, wjob.RequestID)
	}
	s.mu.Unlock()
	if !tracked {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	job, err := s.db.GetImportJob(ctx, importID)
	if err != nil || job == nil {
		s.logger.Error("settle import job: load failed", "import_job_id", importID, "error", err)
		return
	}

	if ev.Type == events.JobCompleted {
		s.settle(ctx, job, wjob.Metrics.ChunksStored, wjob.Metrics.ChunksFailed, nil)
	} else {
		s.settle(ctx, job, 0, 1, errors.New(wjob.Error))
	}
}

// settle records the terminal state of a run on the import job and its
// knowledge entry.
func (s *ImportService) settle(ctx context.Context, job *models.ImportJob, processed, failed int, runErr error) {
	job.ProcessedCount = processed
	job.FailedCount = failed
	if runErr != nil {
		job.Status = "failed"
		job.Error = runErr.Error()
	} else {
		job.Status = "completed"
		job.Error = ""
	}
	if err := s.db.UpdateImportJob(ctx, job); err != nil {
		s.logger.Error("settle import job: update failed", "import_job_id", job.ID, "error", err)
	}

	if job.KnowledgeEntryID != "" {
		entryStatus := "indexed"
		if runErr != nil {
			entryStatus = "failed"
		}
		if err := s.db.UpdateKnowledgeEntryStatus(ctx, job.KnowledgeEntryID, entryStatus, processed); err != nil {
			s.logger.Error("settle import job: knowledge entry update failed", "import_job_id", job.ID, "error", err)
		}
	}

	s.logger.Info("import job settled", "import_job_id", job.ID, "status", job.Status, "processed", processed, "failed", failed)
}

// title asks the LLM for a short entry title, falling back to the job name
// or source filename.
func (s *ImportService) title(ctx context.Context, job *models.ImportJob, extraction *models.ExtractionResult) string {
	if s.titler != nil {
		t, err := s.titler.Generate(ctx,
			"You name catalog documents. Reply with a short title only.",
			firstChars(extraction.Markdown, 2000))
		if err == nil {
			if t = strings.TrimSpace(t); t != "" {
				return firstChars(t, 120)
			}
		} else {
			s.logger.Warn("title generation failed", "import_job_id", job.ID, "error", err)
		}
	}
	if job.Name != "" {
		return job.Name
	}
	return extraction.Filename
}

func firstChars(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

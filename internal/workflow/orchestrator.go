// Package workflow coordinates the staged document ingestion pipeline:
// validation, chunking, embedding, transformation and rag-integration run
// strictly in order for each job, with per-stage checkpoints and a small
// rollback mechanism layered on top.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mkalinski-dev/materio/internal/core"
	"github.com/mkalinski-dev/materio/internal/events"
	"github.com/mkalinski-dev/materio/internal/models"
	"github.com/mkalinski-dev/materio/internal/queue"
)

var (
	ErrJobNotFound      = errors.New("workflow job not found")
	ErrStageNotFound    = errors.New("stage not found")
	ErrStageNotFailed   = errors.New("stage is not in failed state")
	ErrNoRollbackPoints = errors.New("no rollback points available")
	ErrJobRunning       = errors.New("job has a stage currently processing")
)

const (
	jobProcessDocument = "process-document"
	jobRetryStage      = "retry-stage"
)

// Config tunes one orchestrator instance.
type Config struct {
	Chunking     core.ChunkStrategy
	Transform    core.TransformConfig
	StageTimeout time.Duration
}

// ProcessRequest asks for one document to be run through the pipeline.
type ProcessRequest struct {
	RequestID   string
	WorkspaceID string
	UserID      string
	Document    *models.ExtractionResult
}

// Orchestrator executes workflow jobs over the injected collaborators.
// Jobs and their private workflow state live in in-process stores for the
// orchestrator's lifetime; nothing here survives a restart.
type Orchestrator struct {
	cfg      Config
	queue    *queue.SimpleQueue
	emitter  *events.Emitter
	chunker  core.ChunkingService
	embedder core.EmbeddingProvider
	mivaa    core.ExtractionClient
	xform    core.TransformerService
	vectors  core.VectorStore
	jobs     JobStore
	logger   *slog.Logger

	mu      sync.Mutex
	states  map[string]*WorkflowState
	running map[string]bool // single-flight guard keyed by job ID
}

func NewOrchestrator(
	cfg Config,
	q *queue.SimpleQueue,
	emitter *events.Emitter,
	chunker core.ChunkingService,
	embedder core.EmbeddingProvider,
	mivaa core.ExtractionClient,
	xform core.TransformerService,
	vectors core.VectorStore,
	jobs JobStore,
	logger *slog.Logger,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if jobs == nil {
		jobs = NewMemoryJobStore()
	}
	if cfg.StageTimeout <= 0 {
		cfg.StageTimeout = 2 * time.Minute
	}

	o := &Orchestrator{
		cfg:      cfg,
		queue:    q,
		emitter:  emitter,
		chunker:  chunker,
		embedder: embedder,
		mivaa:    mivaa,
		xform:    xform,
		vectors:  vectors,
		jobs:     jobs,
		logger:   logger,
		states:   make(map[string]*WorkflowState),
		running:  make(map[string]bool),
	}

	q.Process(jobProcessDocument, o.processJob)
	q.Process(jobRetryStage, o.retryJob)

	return o
}

// Events exposes the emitter; subscribing to it is the only externally
// observable contract of the orchestrator.
func (o *Orchestrator) Events() *events.Emitter {
	return o.emitter
}

// queuedWork ties a queued job back to its workflow job.
type queuedWork struct {
	jobID     string
	request   *ProcessRequest
	fromStage int
}

// ProcessDocument builds a workflow job with every stage pending, tracks
// it, and enqueues the run. The job record stays around after completion or
// failure so it can be inspected and retried. The returned record is a
// snapshot; poll Job for progress.
func (o *Orchestrator) ProcessDocument(req *ProcessRequest) (*models.WorkflowJob, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	job := models.NewWorkflowJob(req.RequestID, req.WorkspaceID)
	job.Status = models.JobProcessing
	o.jobs.Put(job)

	state := newWorkflowState()
	state.Request = req
	o.mu.Lock()
	o.states[job.ID] = state
	o.mu.Unlock()

	o.logger.Info("workflow job created", "job_id", job.ID, "request_id", req.RequestID, "workspace_id", req.WorkspaceID)

	// started must be observable before the worker goroutine exists, so it
	// cannot race the run or land after completion
	o.emitter.Emit(events.Event{Type: events.JobStarted, Job: job})

	if _, err := o.queue.Add(jobProcessDocument, &queuedWork{jobID: job.ID, request: req}); err != nil {
		o.mu.Lock()
		job.Status = models.JobFailed
		job.Error = err.Error()
		job.UpdatedAt = time.Now()
		o.mu.Unlock()
		o.emitter.Emit(events.Event{Type: events.JobFailed, Job: job, Err: err})
		return nil, fmt.Errorf("enqueue workflow job %s: %w", job.ID, err)
	}

	return o.snapshot(job), nil
}

// processJob is the queue processor for fresh workflow runs.
func (o *Orchestrator) processJob(ctx context.Context, qj *queue.Job) (any, error) {
	work, ok := qj.Data.(*queuedWork)
	if !ok {
		return nil, fmt.Errorf("unexpected queue payload %T", qj.Data)
	}
	return nil, o.executeWorkflow(ctx, work.jobID, work.request, 0)
}

// retryJob is the queue processor for single-stage retries; it resumes the
// workflow from the reset stage.
func (o *Orchestrator) retryJob(ctx context.Context, qj *queue.Job) (any, error) {
	work, ok := qj.Data.(*queuedWork)
	if !ok {
		return nil, fmt.Errorf("unexpected queue payload %T", qj.Data)
	}
	return nil, o.executeWorkflow(ctx, work.jobID, work.request, work.fromStage)
}

// executeWorkflow runs stages [from..] strictly in order. The first stage
// failure records the job as failed and propagates the error to the queue,
// so both event listeners and the queue's failed listeners observe it.
func (o *Orchestrator) executeWorkflow(ctx context.Context, jobID string, req *ProcessRequest, from int) error {
	job, ok := o.jobs.Get(jobID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}

	if !o.acquire(jobID) {
		return fmt.Errorf("%w: %s", ErrJobRunning, jobID)
	}
	defer o.release(jobID)

	for i := from; i < len(job.Stages); i++ {
		stage := &job.Stages[i]
		o.mu.Lock()
		done := stage.Status == models.StageCompleted || stage.Status == models.StageSkipped
		o.mu.Unlock()
		if done {
			continue
		}
		if err := o.executeStage(ctx, job, req, stage); err != nil {
			o.mu.Lock()
			job.Status = models.JobFailed
			job.Error = err.Error()
			now := time.Now()
			job.CompletedAt = &now
			job.UpdatedAt = now
			o.mu.Unlock()
			o.emitter.Emit(events.Event{Type: events.JobFailed, Job: job, Err: err})
			return err
		}
		o.advanceStatus(job, stage.Name)
		o.emitter.Emit(events.Event{Type: events.JobProgress, Job: job, Stage: stage.Name})
	}

	o.complete(job)
	return nil
}

// executeStage is the uniform wrapper around one stage body: mark
// processing, run with the configured deadline, record metrics and a
// checkpoint on success, or mark failed and wrap the error with job and
// stage context.
func (o *Orchestrator) executeStage(ctx context.Context, job *models.WorkflowJob, req *ProcessRequest, stage *models.WorkflowStage) error {
	start := time.Now()

	o.mu.Lock()
	stage.Status = models.StageProcessing
	stage.StartedAt = &start
	job.UpdatedAt = start
	state := o.states[job.ID]
	if state == nil {
		state = newWorkflowState()
		o.states[job.ID] = state
	}
	state.CurrentStage = stage.Name
	o.mu.Unlock()

	o.logger.Info("stage started", "job_id", job.ID, "stage", stage.Name)

	stageCtx, cancel := context.WithTimeout(ctx, o.cfg.StageTimeout)
	defer cancel()

	result, err := o.runStage(stageCtx, job, req, state, stage.Name)

	end := time.Now()
	o.mu.Lock()
	stage.CompletedAt = &end
	job.UpdatedAt = end

	if err != nil {
		stage.Status = models.StageFailed
		stage.Error = err.Error()
		o.mu.Unlock()
		o.emitter.Emit(events.Event{Type: events.StageFailed, Job: job, Stage: stage.Name, Err: err})
		return fmt.Errorf("job %s stage %s (workspace %s): %w", job.ID, stage.Name, job.WorkspaceID, err)
	}

	stage.Status = models.StageCompleted
	stage.Result = result
	stage.Metrics = sampleMetrics(end.Sub(start))
	job.Metrics.StagesCompleted++
	o.mu.Unlock()

	o.checkpoint(state, stage.Name, result)
	o.emitter.Emit(events.Event{Type: events.StageCompleted, Job: job, Stage: stage.Name, Data: result})

	o.logger.Info("stage completed", "job_id", job.ID, "stage", stage.Name, "duration", end.Sub(start))
	return nil
}

// checkpoint appends a checkpoint; every second checkpoint also snapshots
// the stage data as a rollback point.
func (o *Orchestrator) checkpoint(state *WorkflowState, stageName string, result any) {
	o.mu.Lock()
	defer o.mu.Unlock()

	state.Checkpoints = append(state.Checkpoints, Checkpoint{
		Stage:     stageName,
		Timestamp: time.Now(),
		Result:    result,
	})
	if len(state.Checkpoints)%2 == 0 {
		state.RollbackPoints = append(state.RollbackPoints, RollbackPoint{
			Stage:     stageName,
			Timestamp: time.Now(),
			StageData: cloneStageData(state.StageData),
		})
	}
}

// advanceStatus mirrors the just-finished stage onto the job's coarse status.
func (o *Orchestrator) advanceStatus(job *models.WorkflowJob, stageName string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	switch stageName {
	case models.StageValidation:
		job.Status = models.JobChunking
	case models.StageChunking:
		job.Status = models.JobEmbedding
	case models.StageEmbedding:
		job.Status = models.JobTransforming
	case models.StageTransformation:
		job.Status = models.JobRAGIntegrating
	}
	job.UpdatedAt = time.Now()
}

func (o *Orchestrator) complete(job *models.WorkflowJob) {
	now := time.Now()
	o.mu.Lock()
	job.Status = models.JobCompleted
	job.CompletedAt = &now
	job.UpdatedAt = now

	var total time.Duration
	for _, s := range job.Stages {
		if s.Metrics != nil {
			total += s.Metrics.Duration
		}
	}
	job.Metrics.TotalDuration = total

	// workflow state is bookkeeping for the run; the job record stays
	delete(o.states, job.ID)
	o.mu.Unlock()

	o.emitter.Emit(events.Event{Type: events.JobCompleted, Job: job})
	o.logger.Info("workflow job completed", "job_id", job.ID, "duration", total)
}

// snapshot clones a job under the orchestrator's lock so callers never
// hold a record a worker goroutine is still mutating.
func (o *Orchestrator) snapshot(job *models.WorkflowJob) *models.WorkflowJob {
	o.mu.Lock()
	defer o.mu.Unlock()
	return job.Clone()
}

// Status returns the job's coarse status.
func (o *Orchestrator) Status(jobID string) (models.JobStatus, error) {
	job, ok := o.jobs.Get(jobID)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return job.Status, nil
}

// Job returns a snapshot of the tracked job record.
func (o *Orchestrator) Job(jobID string) (*models.WorkflowJob, error) {
	job, ok := o.jobs.Get(jobID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return o.snapshot(job), nil
}

// Jobs lists snapshots of every tracked job.
func (o *Orchestrator) Jobs() []*models.WorkflowJob {
	live := o.jobs.List()
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]*models.WorkflowJob, 0, len(live))
	for _, j := range live {
		out = append(out, j.Clone())
	}
	return out
}

// Cancel flags a job cancelled. Advisory only: the queue dispatches
// immediately, so an in-flight stage is not aborted, and the best-effort
// queue removal usually no-ops.
func (o *Orchestrator) Cancel(jobID string) error {
	job, ok := o.jobs.Get(jobID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}

	for _, qj := range o.queue.Jobs(queue.StateQueued) {
		if work, ok := qj.Data.(*queuedWork); ok && work.jobID == jobID {
			o.queue.Remove(qj.ID)
		}
	}

	o.mu.Lock()
	job.Status = models.JobCancelled
	job.UpdatedAt = time.Now()
	o.mu.Unlock()
	o.emitter.Emit(events.Event{Type: events.JobCancelled, Job: job})
	o.logger.Info("workflow job cancelled", "job_id", jobID)
	return nil
}

// RetryFailedStage resets exactly one failed stage back to pending and
// re-enqueues the workflow from that stage, replaying the originally
// submitted request. Rejected while the job is mid-flight.
func (o *Orchestrator) RetryFailedStage(jobID, stageName string) error {
	job, ok := o.jobs.Get(jobID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}

	o.mu.Lock()
	if o.running[jobID] {
		o.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrJobRunning, jobID)
	}
	state := o.states[jobID]

	idx := job.StageIndex(stageName)
	if idx < 0 {
		o.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrStageNotFound, stageName)
	}
	stage := &job.Stages[idx]
	if stage.Status != models.StageFailed {
		status := stage.Status
		o.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrStageNotFailed, stageName, status)
	}

	// a failed job keeps its state, so the original request is still here
	if state == nil || state.Request == nil {
		o.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	req := state.Request

	resetStage(stage)
	job.Status = models.JobProcessing
	job.Error = ""
	job.CompletedAt = nil
	job.UpdatedAt = time.Now()
	o.mu.Unlock()

	// emitted before the worker goroutine exists, same as jobStarted
	o.emitter.Emit(events.Event{Type: events.StageRetried, Job: job, Stage: stageName})

	if _, err := o.queue.Add(jobRetryStage, &queuedWork{jobID: jobID, request: req, fromStage: idx}); err != nil {
		return fmt.Errorf("enqueue retry for job %s: %w", jobID, err)
	}

	o.logger.Info("stage retry enqueued", "job_id", jobID, "stage", stageName)
	return nil
}

// Rollback pops the most recent rollback point, restores the stage data
// snapshot, and resets every stage after that point to pending. Rejected
// while the job is mid-flight.
func (o *Orchestrator) Rollback(jobID string) error {
	job, ok := o.jobs.Get(jobID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}

	o.mu.Lock()
	if o.running[jobID] {
		o.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrJobRunning, jobID)
	}
	state := o.states[jobID]
	if state == nil || len(state.RollbackPoints) == 0 {
		o.mu.Unlock()
		return fmt.Errorf("%w: job %s", ErrNoRollbackPoints, jobID)
	}

	point := state.RollbackPoints[len(state.RollbackPoints)-1]
	state.RollbackPoints = state.RollbackPoints[:len(state.RollbackPoints)-1]
	state.CurrentStage = point.Stage
	state.StageData = cloneStageData(point.StageData)

	idx := job.StageIndex(point.Stage)
	for i := idx + 1; i < len(job.Stages); i++ {
		resetStage(&job.Stages[i])
	}

	job.Status = models.JobRollback
	job.Error = ""
	job.CompletedAt = nil
	job.UpdatedAt = time.Now()
	o.mu.Unlock()

	o.emitter.Emit(events.Event{Type: events.WorkflowRolledBack, Job: job, Stage: point.Stage})
	o.logger.Info("workflow rolled back", "job_id", jobID, "to_stage", point.Stage)
	return nil
}

// Shutdown tears down the process-wide orchestrator state, including the
// tracked job records.
func (o *Orchestrator) Shutdown() {
	o.queue.Close()

	o.mu.Lock()
	o.states = make(map[string]*WorkflowState)
	o.running = make(map[string]bool)
	o.mu.Unlock()
	o.jobs.Clear()

	o.emitter.RemoveAllListeners()
	o.logger.Info("workflow orchestrator shut down")
}

func (o *Orchestrator) acquire(jobID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.running[jobID] {
		return false
	}
	o.running[jobID] = true
	return true
}

func (o *Orchestrator) release(jobID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.running, jobID)
}

func resetStage(s *models.WorkflowStage) {
	s.Status = models.StagePending
	s.StartedAt = nil
	s.CompletedAt = nil
	s.Error = ""
	s.Result = nil
	s.Metrics = nil
}

func sampleMetrics(d time.Duration) *models.StageMetrics {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return &models.StageMetrics{
		Duration:    d,
		MemoryBytes: ms.Alloc,
		Goroutines:  runtime.NumGoroutine(),
	}
}

// Package upload runs the browser-facing PDF ingestion workflow: a fixed
// list of ten steps executed strictly in order, from auth check through
// storage and a final quality score. Unlike the staged orchestrator it calls
// its collaborators directly and reports progress to subscribers after every
// step transition.
package upload

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/mkalinski-dev/materio/internal/core"
	"github.com/mkalinski-dev/materio/internal/models"
	"github.com/mkalinski-dev/materio/internal/pipeline"
	"github.com/mkalinski-dev/materio/internal/services"
)

const (
	StepAuthCheck       = "auth-check"
	StepUpload          = "upload"
	StepValidate        = "validate"
	StepExtractMarkdown = "extract-markdown"
	StepExtractTables   = "extract-tables"
	StepExtractImages   = "extract-images"
	StepChunk           = "chunk"
	StepEmbed           = "embed"
	StepStore           = "store"
	StepQualityScore    = "quality-score"
)

// StepOrder is the fixed execution order.
var StepOrder = []string{
	StepAuthCheck,
	StepUpload,
	StepValidate,
	StepExtractMarkdown,
	StepExtractTables,
	StepExtractImages,
	StepChunk,
	StepEmbed,
	StepStore,
	StepQualityScore,
}

type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

type JobStatus string

const (
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

var (
	ErrJobNotFound = errors.New("upload job not found")
	ErrJobRunning  = errors.New("upload job is still running")
)

// Step is one ledger entry in a job.
type Step struct {
	Name        string         `json:"name"`
	Status      StepStatus     `json:"status"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Duration    time.Duration  `json:"duration"`
	Details     map[string]any `json:"details,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// Job tracks one upload workflow run end to end.
type Job struct {
	ID           string    `json:"id"`
	UserEmail    string    `json:"user_email"`
	WorkspaceID  string    `json:"workspace_id"`
	Filename     string    `json:"filename"`
	Status       JobStatus `json:"status"`
	Steps        []Step    `json:"steps"`
	QualityScore float64   `json:"quality_score"`
	Error        string    `json:"error,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (j *Job) Step(name string) *Step {
	for i := range j.Steps {
		if j.Steps[i].Name == name {
			return &j.Steps[i]
		}
	}
	return nil
}

// clone returns a copy safe to read or marshal while the original is still
// being mutated by a running workflow.
func (j *Job) clone() *Job {
	out := *j
	out.Steps = make([]Step, len(j.Steps))
	copy(out.Steps, j.Steps)
	for i := range out.Steps {
		out.Steps[i].StartedAt = copyTime(j.Steps[i].StartedAt)
		out.Steps[i].CompletedAt = copyTime(j.Steps[i].CompletedAt)
		if j.Steps[i].Details != nil {
			details := make(map[string]any, len(j.Steps[i].Details))
			for k, v := range j.Steps[i].Details {
				details[k] = v
			}
			out.Steps[i].Details = details
		}
	}
	return &out
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

// Request carries one file to ingest.
type Request struct {
	UserEmail   string
	WorkspaceID string
	Filename    string
	ContentType string
	Data        []byte
}

// Config tunes the service.
type Config struct {
	ChunkConfig    pipeline.ChunkConfig
	EmbedBatchSize int
	StoreBatchSize int
}

type Subscriber func(job *Job)

// Service executes upload workflows. Jobs and their original requests are
// kept in memory so RetryJob can re-run a failed workflow from scratch.
type Service struct {
	cfg       Config
	db        core.DbClient
	documents *services.DocumentService
	gateway   core.ExtractionClient
	fallback  core.TextExtractor // optional local extraction when the gateway fails
	embedder  core.EmbeddingProvider
	vectors   core.VectorStore
	processor *pipeline.Processor
	logger    *slog.Logger

	mu          sync.Mutex
	jobs        map[string]*Job
	requests    map[string]*Request
	subscribers map[int]Subscriber
	nextSub     int
}

func NewService(
	cfg Config,
	db core.DbClient,
	documents *services.DocumentService,
	gateway core.ExtractionClient,
	fallback core.TextExtractor,
	embedder core.EmbeddingProvider,
	vectors core.VectorStore,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.EmbedBatchSize <= 0 {
		cfg.EmbedBatchSize = 32
	}
	if cfg.StoreBatchSize <= 0 {
		cfg.StoreBatchSize = 100
	}
	return &Service{
		cfg:         cfg,
		db:          db,
		documents:   documents,
		gateway:     gateway,
		fallback:    fallback,
		embedder:    embedder,
		vectors:     vectors,
		processor:   pipeline.NewProcessor(cfg.ChunkConfig, logger),
		logger:      logger,
		jobs:        make(map[string]*Job),
		requests:    make(map[string]*Request),
		subscribers: make(map[int]Subscriber),
	}
}

// Subscribe registers a progress callback invoked after every step
// transition. The returned func removes the subscription.
func (s *Service) Subscribe(fn Subscriber) func() {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subscribers[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subscribers, id)
		s.mu.Unlock()
	}
}

// notify hands subscribers a point-in-time snapshot; the live record keeps
// changing underneath them otherwise.
func (s *Service) notify(job *Job) {
	s.mu.Lock()
	subs := make([]Subscriber, 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		subs = append(subs, fn)
	}
	snap := job.clone()
	s.mu.Unlock()

	for _, fn := range subs {
		fn(snap)
	}
}

// Run executes the whole workflow for one request and returns a snapshot of
// the finished job. The job record is retained for status queries and
// retries.
func (s *Service) Run(ctx context.Context, req *Request) (*Job, error) {
	job := s.newJob(req)

	s.mu.Lock()
	s.jobs[job.ID] = job
	s.requests[job.ID] = req
	s.mu.Unlock()

	s.logger.Info("upload workflow started", "job_id", job.ID, "filename", req.Filename, "workspace_id", req.WorkspaceID)

	err := s.execute(ctx, job, req)
	return s.snapshot(job), err
}

// Start launches the workflow in the background and returns a snapshot of
// the job record immediately; poll Job or subscribe for progress.
func (s *Service) Start(ctx context.Context, req *Request) *Job {
	job := s.newJob(req)

	s.mu.Lock()
	s.jobs[job.ID] = job
	s.requests[job.ID] = req
	s.mu.Unlock()

	s.logger.Info("upload workflow started", "job_id", job.ID, "filename", req.Filename, "workspace_id", req.WorkspaceID)

	go func() {
		_ = s.execute(context.WithoutCancel(ctx), job, req)
	}()
	return s.snapshot(job)
}

// RetryJob resets every step back to pending and re-runs the workflow with
// the originally submitted request. Rejected while a run is still in flight,
// so two runs never mutate the same step records.
func (s *Service) RetryJob(ctx context.Context, jobID string) (*Job, error) {
	s.mu.Lock()
	job, ok := s.jobs[jobID]
	req := s.requests[jobID]
	if !ok || req == nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if job.Status == JobRunning {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrJobRunning, jobID)
	}

	for i := range job.Steps {
		job.Steps[i] = Step{Name: job.Steps[i].Name, Status: StepPending}
	}
	job.Status = JobRunning
	job.Error = ""
	job.QualityScore = 0
	job.UpdatedAt = time.Now()
	s.mu.Unlock()
	s.notify(job)

	s.logger.Info("upload workflow retry", "job_id", jobID)

	err := s.execute(ctx, job, req)
	return s.snapshot(job), err
}

func (s *Service) snapshot(job *Job) *Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return job.clone()
}

// Job returns a snapshot of a tracked job.
func (s *Service) Job(jobID string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return job.clone(), nil
}

// Jobs lists snapshots of every tracked job.
func (s *Service) Jobs() []*Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j.clone())
	}
	return out
}

func (s *Service) newJob(req *Request) *Job {
	now := time.Now()
	steps := make([]Step, len(StepOrder))
	for i, name := range StepOrder {
		steps[i] = Step{Name: name, Status: StepPending}
	}
	return &Job{
		ID:          uuid.NewString(),
		UserEmail:   req.UserEmail,
		WorkspaceID: req.WorkspaceID,
		Filename:    req.Filename,
		Status:      JobRunning,
		Steps:       steps,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// runState carries intermediate results between steps of one run.
type runState struct {
	userID     string
	document   *models.Document
	degraded   bool // markdown came from the local extractor, gateway is down
	markdown   string
	tables     []models.TableData
	images     []models.ImageData
	chunks     []models.RAGChunk
	embeddings [][]float32
	stored     int
	failed     int
	score      float64
}

func (s *Service) execute(ctx context.Context, job *Job, req *Request) error {
	state := &runState{}

	type stepFn func(ctx context.Context, req *Request, state *runState) (map[string]any, error)
	bodies := map[string]stepFn{
		StepAuthCheck:       s.stepAuthCheck,
		StepUpload:          s.stepUpload,
		StepValidate:        s.stepValidate,
		StepExtractMarkdown: s.stepExtractMarkdown,
		StepExtractTables:   s.stepExtractTables,
		StepExtractImages:   s.stepExtractImages,
		StepChunk:           s.stepChunk,
		StepEmbed:           s.stepEmbed,
		StepStore:           s.stepStore,
		StepQualityScore:    s.stepQualityScore,
	}

	for i := range job.Steps {
		step := &job.Steps[i]
		if err := s.executeStep(ctx, job, step, req, state, bodies[step.Name]); err != nil {
			s.mu.Lock()
			job.Status = JobFailed
			job.Error = err.Error()
			job.UpdatedAt = time.Now()
			s.mu.Unlock()
			s.setDocumentStatus(ctx, state, "failed")
			s.notify(job)
			s.logger.Error("upload workflow failed", "job_id", job.ID, "step", step.Name, "error", err)
			return err
		}
	}

	s.mu.Lock()
	job.Status = JobCompleted
	job.QualityScore = state.score
	job.UpdatedAt = time.Now()
	s.mu.Unlock()
	s.setDocumentStatus(ctx, state, "indexed")
	s.notify(job)
	s.logger.Info("upload workflow completed", "job_id", job.ID, "quality_score", job.QualityScore)
	return nil
}

func (s *Service) setDocumentStatus(ctx context.Context, state *runState, status string) {
	if state.document == nil {
		return
	}
	if err := s.documents.SetStatus(ctx, state.document.ID, status); err != nil {
		s.logger.Error("update document status", "document_id", state.document.ID, "status", status, "error", err)
	}
}

// executeStep is the uniform wrapper: mark running, run the body, record
// duration and details, notify subscribers on every transition.
func (s *Service) executeStep(ctx context.Context, job *Job, step *Step, req *Request, state *runState, fn func(context.Context, *Request, *runState) (map[string]any, error)) error {
	start := time.Now()
	s.mu.Lock()
	step.Status = StepRunning
	step.StartedAt = &start
	job.UpdatedAt = start
	s.mu.Unlock()
	s.notify(job)

	details, err := fn(ctx, req, state)

	end := time.Now()
	s.mu.Lock()
	step.CompletedAt = &end
	step.Duration = end.Sub(start)
	step.Details = details
	job.UpdatedAt = end

	if err != nil {
		step.Status = StepFailed
		step.Error = err.Error()
		s.mu.Unlock()
		s.notify(job)
		return fmt.Errorf("step %s: %w", step.Name, err)
	}

	step.Status = StepCompleted
	s.mu.Unlock()
	s.notify(job)
	return nil
}

func (s *Service) stepAuthCheck(ctx context.Context, req *Request, state *runState) (map[string]any, error) {
	if req.UserEmail == "" {
		return nil, errors.New("missing user email")
	}
	user, err := s.db.GetUserByEmail(ctx, req.UserEmail)
	if err != nil {
		return nil, fmt.Errorf("look up user: %w", err)
	}
	if user == nil {
		return nil, fmt.Errorf("unknown user %s", req.UserEmail)
	}
	state.userID = user.ID
	return map[string]any{"user_id": user.ID}, nil
}

func (s *Service) stepUpload(ctx context.Context, req *Request, state *runState) (map[string]any, error) {
	doc, err := s.documents.UploadAndCreate(ctx, req.WorkspaceID, state.userID, req.Filename, req.ContentType, req.Data, "upload")
	if err != nil {
		return nil, fmt.Errorf("upload document: %w", err)
	}
	state.document = doc
	return map[string]any{"url": doc.StorageURL, "document_id": doc.ID, "bytes": len(req.Data)}, nil
}

func (s *Service) stepValidate(_ context.Context, req *Request, _ *runState) (map[string]any, error) {
	if req.Filename == "" {
		return nil, errors.New("missing filename")
	}
	if len(req.Data) == 0 {
		return nil, errors.New("empty file")
	}
	return map[string]any{"filename": req.Filename, "content_type": req.ContentType}, nil
}

func (s *Service) stepExtractMarkdown(ctx context.Context, req *Request, state *runState) (map[string]any, error) {
	md, err := s.gateway.ExtractMarkdown(ctx, state.document.StorageURL)
	usedFallback := false
	if err != nil {
		if s.fallback == nil {
			return nil, err
		}
		s.logger.Warn("gateway extraction failed, using local extractor", "error", err)
		md, _, err = s.fallback.ExtractText(ctx, req.Data, req.ContentType)
		if err != nil {
			return nil, fmt.Errorf("local extraction: %w", err)
		}
		usedFallback = true
	}
	if md == "" {
		return nil, errors.New("extraction returned empty text")
	}
	state.markdown = md
	state.degraded = usedFallback
	return map[string]any{"characters": len(md), "fallback": usedFallback}, nil
}

func (s *Service) stepExtractTables(ctx context.Context, _ *Request, state *runState) (map[string]any, error) {
	if state.degraded {
		return map[string]any{"tables": 0, "skipped": true}, nil
	}
	tables, err := s.gateway.ExtractTables(ctx, state.document.StorageURL)
	if err != nil {
		return nil, err
	}
	state.tables = tables
	return map[string]any{"tables": len(tables)}, nil
}

func (s *Service) stepExtractImages(ctx context.Context, _ *Request, state *runState) (map[string]any, error) {
	if state.degraded {
		return map[string]any{"images": 0, "skipped": true}, nil
	}
	images, err := s.gateway.ExtractImages(ctx, state.document.StorageURL)
	if err != nil {
		return nil, err
	}
	state.images = images
	return map[string]any{"images": len(images)}, nil
}

func (s *Service) stepChunk(_ context.Context, req *Request, state *runState) (map[string]any, error) {
	extraction := &models.ExtractionResult{
		DocumentID: state.document.ID,
		Filename:   req.Filename,
		Markdown:   state.markdown,
		Tables:     state.tables,
		Images:     state.images,
		Metadata:   models.Metadata{ExtractedAt: time.Now()},
	}
	res := s.processor.ProcessForRAG(extraction, &pipeline.WorkspaceContext{
		WorkspaceID: req.WorkspaceID,
	})
	if len(res.RAGDocuments) == 0 {
		return nil, fmt.Errorf("pipeline produced no chunks: %v", res.Errors)
	}
	state.chunks = res.RAGDocuments
	return map[string]any{
		"chunks":       res.Summary.TotalChunks,
		"text_chunks":  res.Summary.TextChunks,
		"table_chunks": res.Summary.TableChunks,
		"image_chunks": res.Summary.ImageChunks,
	}, nil
}

// stepEmbed fans the chunk texts out over batches; each batch result lands
// back at its own offset so chunk order is preserved.
func (s *Service) stepEmbed(ctx context.Context, _ *Request, state *runState) (map[string]any, error) {
	texts := make([]string, len(state.chunks))
	for i, c := range state.chunks {
		texts[i] = c.Content
	}

	embeddings := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	for start := 0; start < len(texts); start += s.cfg.EmbedBatchSize {
		start := start
		end := start + s.cfg.EmbedBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		g.Go(func() error {
			vecs, err := s.embedder.EmbedTexts(gctx, texts[start:end])
			if err != nil {
				return fmt.Errorf("embed batch at %d: %w", start, err)
			}
			if len(vecs) != end-start {
				return fmt.Errorf("embed batch at %d: got %d vectors for %d texts", start, len(vecs), end-start)
			}
			copy(embeddings[start:], vecs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	state.embeddings = embeddings
	return map[string]any{"embeddings": len(embeddings)}, nil
}

func (s *Service) stepStore(ctx context.Context, req *Request, state *runState) (map[string]any, error) {
	records := make([]models.VectorRecord, len(state.chunks))
	for i, c := range state.chunks {
		records[i] = models.VectorRecord{
			ID:          c.ID,
			DocumentID:  c.Metadata.DocumentID,
			WorkspaceID: req.WorkspaceID,
			Content:     c.Content,
			ChunkIndex:  i,
			Metadata: map[string]string{
				"content_type": c.Metadata.ContentType,
				"page":         strconv.Itoa(c.Metadata.Page),
				"filename":     req.Filename,
			},
			Embedding: state.embeddings[i],
		}
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	for start := 0; start < len(records); start += s.cfg.StoreBatchSize {
		start := start
		end := start + s.cfg.StoreBatchSize
		if end > len(records) {
			end = len(records)
		}
		g.Go(func() error {
			res, err := s.vectors.StoreBatch(gctx, records[start:end])
			if err != nil {
				return fmt.Errorf("store batch at %d: %w", start, err)
			}
			mu.Lock()
			state.stored += res.Stored
			state.failed += res.Failed
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return map[string]any{"stored": state.stored, "failed": state.failed}, nil
}

// stepQualityScore computes a coarse 0..1 score from chunk coverage of the
// source markdown and how close the average chunk is to the configured size.
func (s *Service) stepQualityScore(_ context.Context, _ *Request, state *runState) (map[string]any, error) {
	state.score = qualityScore(state.markdown, state.chunks, s.processor.Config().MaxChunkSize)
	return map[string]any{"score": state.score, "chunks": len(state.chunks)}, nil
}

func qualityScore(markdown string, chunks []models.RAGChunk, maxChunkSize int) float64 {
	if len(chunks) == 0 || len(markdown) == 0 {
		return 0
	}

	var textChars int
	for _, c := range chunks {
		textChars += len(c.Content)
	}

	coverage := float64(textChars) / float64(len(markdown))
	if coverage > 1 {
		coverage = 1
	}

	avg := float64(textChars) / float64(len(chunks))
	sizeFit := avg / float64(maxChunkSize)
	if sizeFit > 1 {
		sizeFit = 1
	}

	return 0.7*coverage + 0.3*sizeFit
}

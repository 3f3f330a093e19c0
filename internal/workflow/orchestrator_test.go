package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkalinski-dev/materio/internal/core"
	"github.com/mkalinski-dev/materio/internal/events"
	"github.com/mkalinski-dev/materio/internal/models"
	"github.com/mkalinski-dev/materio/internal/queue"
)

type fakeChunker struct {
	err error
}

func (f *fakeChunker) Chunk(ctx context.Context, content string, meta models.ChunkMetadata, strategy core.ChunkStrategy) ([]models.RAGChunk, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []models.RAGChunk{
		{ID: meta.DocumentID + "_text_0_0", Content: content, Metadata: meta},
	}, nil
}

type fakeEmbedder struct {
	err error
}

func (f *fakeEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1, 0.2, 0.3}
	}
	return out, nil
}

type fakeGateway struct {
	healthErr error
}

func (f *fakeGateway) ExtractMarkdown(ctx context.Context, p string) (string, error) {
	return "", nil
}
func (f *fakeGateway) ExtractTables(ctx context.Context, p string) ([]models.TableData, error) {
	return nil, nil
}
func (f *fakeGateway) ExtractImages(ctx context.Context, p string) ([]models.ImageData, error) {
	return nil, nil
}
func (f *fakeGateway) ProcessDocument(ctx context.Context, p string) (*models.ExtractionResult, error) {
	return nil, nil
}
func (f *fakeGateway) HealthCheck(ctx context.Context) error { return f.healthErr }

type fakeTransformer struct {
	err error
}

func (f *fakeTransformer) Transform(ctx context.Context, extraction *models.ExtractionResult, workspaceID string, cfg core.TransformConfig) (*models.RAGDocument, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &models.RAGDocument{
		ID:     extraction.DocumentID,
		Chunks: []models.RAGChunk{{ID: extraction.DocumentID + "_text_0_0", Content: extraction.Markdown}},
	}, nil
}

type fakeVectorStore struct {
	mu      sync.Mutex
	stored  []models.VectorRecord
	err     error
	failPer int
}

func (f *fakeVectorStore) StoreBatch(ctx context.Context, records []models.VectorRecord) (*models.VectorBatchResult, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.mu.Lock()
	f.stored = append(f.stored, records...)
	f.mu.Unlock()
	return &models.VectorBatchResult{Stored: len(records) - f.failPer, Failed: f.failPer}, nil
}

func (f *fakeVectorStore) GetChunksByDocument(ctx context.Context, documentID string) ([]models.DocumentChunk, error) {
	return nil, nil
}

type deps struct {
	chunker  *fakeChunker
	embedder *fakeEmbedder
	gateway  *fakeGateway
	xform    *fakeTransformer
	vectors  *fakeVectorStore
	queue    *queue.SimpleQueue
	emitter  *events.Emitter
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *deps) {
	t.Helper()
	d := &deps{
		chunker:  &fakeChunker{},
		embedder: &fakeEmbedder{},
		gateway:  &fakeGateway{},
		xform:    &fakeTransformer{},
		vectors:  &fakeVectorStore{},
		queue:    queue.NewSimpleQueue(nil),
		emitter:  events.NewEmitter(nil),
	}
	o := NewOrchestrator(
		Config{StageTimeout: 5 * time.Second},
		d.queue, d.emitter,
		d.chunker, d.embedder, d.gateway, d.xform, d.vectors,
		nil, nil,
	)
	return o, d
}

func fetchJob(t *testing.T, o *Orchestrator, id string) *models.WorkflowJob {
	t.Helper()
	job, err := o.Job(id)
	require.NoError(t, err)
	return job
}

func request(docID string) *ProcessRequest {
	return &ProcessRequest{
		WorkspaceID: "ws1",
		UserID:      "u1",
		Document: &models.ExtractionResult{
			DocumentID: docID,
			Filename:   docID + ".pdf",
			Markdown:   "# Catalog\nTerrazzo in three finishes.",
			Metadata:   models.Metadata{PageCount: 4, ExtractedAt: time.Now()},
		},
	}
}

func TestProcessDocumentCompletes(t *testing.T) {
	o, d := newTestOrchestrator(t)

	var mu sync.Mutex
	var seen []events.Type
	for _, et := range []events.Type{events.JobStarted, events.StageCompleted, events.JobCompleted, events.JobFailed} {
		et := et
		d.emitter.Subscribe(et, func(ev events.Event) {
			mu.Lock()
			seen = append(seen, ev.Type)
			mu.Unlock()
		})
	}

	job, err := o.ProcessDocument(request("doc1"))
	require.NoError(t, err)
	d.queue.Wait()
	job = fetchJob(t, o, job.ID)

	assert.Equal(t, models.JobCompleted, job.Status)
	require.NotNil(t, job.CompletedAt)
	for _, s := range job.Stages {
		assert.Equal(t, models.StageCompleted, s.Status, "stage %s", s.Name)
		assert.NotNil(t, s.Metrics, "stage %s", s.Name)
	}
	assert.Equal(t, len(models.StageOrder), job.Metrics.StagesCompleted)
	assert.Equal(t, 1, job.Metrics.ChunksStored)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, seen, events.JobStarted)
	assert.Contains(t, seen, events.JobCompleted)
	assert.NotContains(t, seen, events.JobFailed)

	// workflow state is dropped on success, so there is nothing to roll back
	err = o.Rollback(job.ID)
	require.ErrorIs(t, err, ErrNoRollbackPoints)
}

func TestStageFailureFailsJob(t *testing.T) {
	o, d := newTestOrchestrator(t)
	d.gateway.healthErr = errors.New("gateway unreachable")

	var failedStage string
	d.emitter.Subscribe(events.StageFailed, func(ev events.Event) {
		failedStage = ev.Stage
	})

	job, err := o.ProcessDocument(request("doc2"))
	require.NoError(t, err)
	d.queue.Wait()
	job = fetchJob(t, o, job.ID)

	assert.Equal(t, models.JobFailed, job.Status)
	assert.Contains(t, job.Error, "gateway unreachable")
	assert.Equal(t, models.StageEmbedding, failedStage)

	// earlier stages keep their results for inspection
	assert.Equal(t, models.StageCompleted, job.Stage(models.StageValidation).Status)
	assert.Equal(t, models.StageCompleted, job.Stage(models.StageChunking).Status)
	assert.Equal(t, models.StageFailed, job.Stage(models.StageEmbedding).Status)
	assert.Equal(t, models.StagePending, job.Stage(models.StageTransformation).Status)

	// the queue's failed listeners observe the same failure
	failed := d.queue.Jobs(queue.StateFailed)
	assert.Len(t, failed, 1)
}

func TestRetryFailedStage(t *testing.T) {
	o, d := newTestOrchestrator(t)
	d.gateway.healthErr = errors.New("flaky")

	job, err := o.ProcessDocument(request("doc3"))
	require.NoError(t, err)
	d.queue.Wait()
	require.Equal(t, models.JobFailed, fetchJob(t, o, job.ID).Status)

	d.gateway.healthErr = nil
	require.NoError(t, o.RetryFailedStage(job.ID, models.StageEmbedding))
	d.queue.Wait()
	job = fetchJob(t, o, job.ID)

	assert.Equal(t, models.JobCompleted, job.Status)
	for _, s := range job.Stages {
		assert.Equal(t, models.StageCompleted, s.Status, "stage %s", s.Name)
	}
}

func TestRetryRejectsNonFailedStage(t *testing.T) {
	o, d := newTestOrchestrator(t)

	job, err := o.ProcessDocument(request("doc4"))
	require.NoError(t, err)
	d.queue.Wait()

	err = o.RetryFailedStage(job.ID, models.StageChunking)
	require.ErrorIs(t, err, ErrStageNotFailed)
	assert.Contains(t, err.Error(), "stage is not in failed state")
}

func TestCancelUnknownJob(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	err := o.Cancel("nope")
	require.ErrorIs(t, err, ErrJobNotFound)
	assert.Contains(t, err.Error(), "workflow job not found")
}

func TestCancelSetsStatus(t *testing.T) {
	o, d := newTestOrchestrator(t)

	job, err := o.ProcessDocument(request("doc5"))
	require.NoError(t, err)
	d.queue.Wait()

	require.NoError(t, o.Cancel(job.ID))
	assert.Equal(t, models.JobCancelled, fetchJob(t, o, job.ID).Status)
}

func TestRollbackResetsLaterStages(t *testing.T) {
	o, d := newTestOrchestrator(t)
	d.vectors.err = errors.New("store down")

	job, err := o.ProcessDocument(request("doc6"))
	require.NoError(t, err)
	d.queue.Wait()
	require.Equal(t, models.JobFailed, fetchJob(t, o, job.ID).Status)

	// four checkpoints were taken, so rollback points exist at the second
	// and fourth completed stages; the latest one restores transformation
	require.NoError(t, o.Rollback(job.ID))
	job = fetchJob(t, o, job.ID)

	assert.Equal(t, models.JobRollback, job.Status)
	assert.Empty(t, job.Error)
	assert.Equal(t, models.StageCompleted, job.Stage(models.StageTransformation).Status)

	ri := job.Stage(models.StageRAGIntegration)
	assert.Equal(t, models.StagePending, ri.Status)
	assert.Nil(t, ri.StartedAt)
	assert.Nil(t, ri.CompletedAt)
	assert.Empty(t, ri.Error)
	assert.Nil(t, ri.Result)

	// a second rollback pops the earlier point at chunking
	require.NoError(t, o.Rollback(job.ID))
	job = fetchJob(t, o, job.ID)
	assert.Equal(t, models.StagePending, job.Stage(models.StageEmbedding).Status)
	assert.Equal(t, models.StagePending, job.Stage(models.StageTransformation).Status)

	// and then the points are exhausted
	err = o.Rollback(job.ID)
	require.ErrorIs(t, err, ErrNoRollbackPoints)
}

func TestConcurrentJobsAreIsolated(t *testing.T) {
	o, d := newTestOrchestrator(t)

	var jobs []*models.WorkflowJob
	for i := 0; i < 2; i++ {
		req := request(fmt.Sprintf("doc-conc-%d", i))
		req.WorkspaceID = fmt.Sprintf("ws-%d", i)
		job, err := o.ProcessDocument(req)
		require.NoError(t, err)
		jobs = append(jobs, job)
	}
	d.queue.Wait()

	require.NotEqual(t, jobs[0].ID, jobs[1].ID)
	for _, queued := range jobs {
		job := fetchJob(t, o, queued.ID)
		assert.Equal(t, models.JobCompleted, job.Status)
		assert.Len(t, job.Stages, len(models.StageOrder))
		assert.Equal(t, len(models.StageOrder), job.Metrics.StagesCompleted)
	}
}

func TestValidationRejectsMissingFields(t *testing.T) {
	o, d := newTestOrchestrator(t)

	req := request("doc7")
	req.Document.Markdown = ""

	job, err := o.ProcessDocument(req)
	require.NoError(t, err)
	d.queue.Wait()
	job = fetchJob(t, o, job.ID)

	assert.Equal(t, models.JobFailed, job.Status)
	assert.Equal(t, models.StageFailed, job.Stage(models.StageValidation).Status)
	assert.Contains(t, job.Error, "validation")
}

func TestStatusUnknownJob(t *testing.T) {
	o, _ := newTestOrchestrator(t)

	_, err := o.Status("missing")
	require.ErrorIs(t, err, ErrJobNotFound)
}

func TestShutdownClearsState(t *testing.T) {
	o, d := newTestOrchestrator(t)

	job, err := o.ProcessDocument(request("doc8"))
	require.NoError(t, err)
	d.queue.Wait()

	o.Shutdown()
	assert.Empty(t, d.queue.Jobs())
	assert.Empty(t, o.Jobs())

	_, err = o.Status(job.ID)
	require.ErrorIs(t, err, ErrJobNotFound)
}

func TestJobStartedEmittedBeforeRun(t *testing.T) {
	o, d := newTestOrchestrator(t)

	var mu sync.Mutex
	var order []events.Type
	for _, et := range []events.Type{events.JobStarted, events.JobCompleted} {
		et := et
		d.emitter.Subscribe(et, func(ev events.Event) {
			mu.Lock()
			order = append(order, ev.Type)
			mu.Unlock()
		})
	}

	_, err := o.ProcessDocument(request("doc9"))
	require.NoError(t, err)
	d.queue.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, 2)
	assert.Equal(t, events.JobStarted, order[0])
	assert.Equal(t, events.JobCompleted, order[1])
}

func TestJobReturnsDetachedCopy(t *testing.T) {
	o, d := newTestOrchestrator(t)

	queued, err := o.ProcessDocument(request("doc10"))
	require.NoError(t, err)
	d.queue.Wait()

	job := fetchJob(t, o, queued.ID)
	job.Status = models.JobCancelled
	job.Stages[0].Status = models.StageFailed

	fresh := fetchJob(t, o, queued.ID)
	assert.Equal(t, models.JobCompleted, fresh.Status)
	assert.Equal(t, models.StageCompleted, fresh.Stages[0].Status)
}

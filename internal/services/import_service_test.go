package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkalinski-dev/materio/internal/core"
	"github.com/mkalinski-dev/materio/internal/events"
	"github.com/mkalinski-dev/materio/internal/models"
	"github.com/mkalinski-dev/materio/internal/queue"
	"github.com/mkalinski-dev/materio/internal/workflow"
)

type fakeImportDB struct {
	mu      sync.Mutex
	jobs    map[string]*models.ImportJob
	entries map[string]*models.KnowledgeEntry
}

func newFakeImportDB() *fakeImportDB {
	return &fakeImportDB{
		jobs:    make(map[string]*models.ImportJob),
		entries: make(map[string]*models.KnowledgeEntry),
	}
}

func (f *fakeImportDB) CreateUser(context.Context, *models.User) error { return nil }
func (f *fakeImportDB) GetUserByEmail(context.Context, string) (*models.User, error) {
	return nil, nil
}
func (f *fakeImportDB) CreateDocument(context.Context, *models.Document) error { return nil }
func (f *fakeImportDB) GetDocumentByID(context.Context, string) (*models.Document, error) {
	return nil, nil
}
func (f *fakeImportDB) ListDocumentsByWorkspace(context.Context, string) ([]models.Document, error) {
	return nil, nil
}
func (f *fakeImportDB) UpdateDocumentStatus(context.Context, string, string) error { return nil }

func (f *fakeImportDB) CreateImportJob(_ context.Context, job *models.ImportJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *job
	f.jobs[job.ID] = &cp
	return nil
}

func (f *fakeImportDB) GetImportJob(_ context.Context, id string) (*models.ImportJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[id]
	if !ok {
		return nil, nil
	}
	cp := *job
	return &cp, nil
}

func (f *fakeImportDB) ListImportJobs(_ context.Context, workspaceID string) ([]models.ImportJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.ImportJob
	for _, job := range f.jobs {
		if job.WorkspaceID == workspaceID {
			out = append(out, *job)
		}
	}
	return out, nil
}

func (f *fakeImportDB) ListScheduledImportJobs(context.Context) ([]models.ImportJob, error) {
	return nil, nil
}

func (f *fakeImportDB) UpdateImportJob(_ context.Context, job *models.ImportJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *job
	f.jobs[job.ID] = &cp
	return nil
}

func (f *fakeImportDB) CreateKnowledgeEntry(_ context.Context, entry *models.KnowledgeEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *entry
	f.entries[entry.ID] = &cp
	return nil
}

func (f *fakeImportDB) GetKnowledgeEntry(_ context.Context, id string) (*models.KnowledgeEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.entries[id]
	if !ok {
		return nil, nil
	}
	cp := *entry
	return &cp, nil
}

func (f *fakeImportDB) UpdateKnowledgeEntryStatus(_ context.Context, id, status string, chunkCount int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if entry, ok := f.entries[id]; ok {
		entry.Status = status
		entry.ChunkCount = chunkCount
	}
	return nil
}

var _ core.DbClient = (*fakeImportDB)(nil)

type fakeImportGateway struct {
	processErr error
}

func (f *fakeImportGateway) ExtractMarkdown(context.Context, string) (string, error) {
	return "", nil
}
func (f *fakeImportGateway) ExtractTables(context.Context, string) ([]models.TableData, error) {
	return nil, nil
}
func (f *fakeImportGateway) ExtractImages(context.Context, string) ([]models.ImageData, error) {
	return nil, nil
}
func (f *fakeImportGateway) HealthCheck(context.Context) error { return nil }

func (f *fakeImportGateway) ProcessDocument(_ context.Context, path string) (*models.ExtractionResult, error) {
	if f.processErr != nil {
		return nil, f.processErr
	}
	return &models.ExtractionResult{
		DocumentID: "doc-1",
		Filename:   "catalog.pdf",
		Markdown:   "Oak veneer panels in three finishes. Fire rating B-s1. Sold per square meter.",
		Metadata:   models.Metadata{PageCount: 2, ExtractedAt: time.Now()},
	}, nil
}

type fakeImportEmbedder struct {
	err error
}

func (f *fakeImportEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{0.1, 0.2, 0.3}
	}
	return out, nil
}

type fakeImportVectors struct{}

func (f *fakeImportVectors) StoreBatch(_ context.Context, records []models.VectorRecord) (*models.VectorBatchResult, error) {
	return &models.VectorBatchResult{Stored: len(records)}, nil
}

func (f *fakeImportVectors) GetChunksByDocument(context.Context, string) ([]models.DocumentChunk, error) {
	return nil, nil
}

type fakeTitler struct{}

func (f *fakeTitler) Generate(context.Context, string, string) (string, error) {
	return "Oak Veneer Catalog", nil
}

type importFixture struct {
	db      *fakeImportDB
	gateway *fakeImportGateway
	embed   *fakeImportEmbedder
	queue   *queue.SimpleQueue
	orch    *workflow.Orchestrator
	svc     *ImportService
}

func newImportFixture(t *testing.T) *importFixture {
	t.Helper()

	f := &importFixture{
		db:      newFakeImportDB(),
		gateway: &fakeImportGateway{},
		embed:   &fakeImportEmbedder{},
		queue:   queue.NewSimpleQueue(nil),
	}
	t.Cleanup(f.queue.Close)

	f.orch = workflow.NewOrchestrator(
		workflow.Config{
			Chunking:     core.ChunkStrategy{Type: "hybrid", MaxChunkSize: 500, OverlapSize: 50},
			Transform:    core.TransformConfig{MaxChunkSize: 500, OverlapSize: 50},
			StageTimeout: 5 * time.Second,
		},
		f.queue,
		events.NewEmitter(nil),
		NewChunkingService(nil),
		f.embed,
		f.gateway,
		NewTransformerService(nil),
		&fakeImportVectors{},
		nil,
		nil,
	)
	f.svc = NewImportService(f.db, f.gateway, f.orch, &fakeTitler{}, nil)
	return f
}

func (f *importFixture) createJob(t *testing.T) *models.ImportJob {
	t.Helper()
	job := &models.ImportJob{
		WorkspaceID: "ws1",
		UserID:      "u1",
		Name:        "supplier feed",
		SourceURL:   "https://supplier.example/catalog.pdf",
	}
	require.NoError(t, f.svc.Create(context.Background(), job))
	return job
}

func TestImportRunSettlesCompleted(t *testing.T) {
	f := newImportFixture(t)
	job := f.createJob(t)

	require.NoError(t, f.svc.Run(context.Background(), job.ID))
	f.queue.Wait()

	settled, err := f.svc.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, "completed", settled.Status)
	assert.Empty(t, settled.Error)
	assert.Greater(t, settled.ProcessedCount, 0)
	assert.Zero(t, settled.FailedCount)
	require.NotEmpty(t, settled.KnowledgeEntryID)

	entry, err := f.db.GetKnowledgeEntry(context.Background(), settled.KnowledgeEntryID)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "indexed", entry.Status)
	assert.Equal(t, "Oak Veneer Catalog", entry.Title)
	assert.Equal(t, settled.ProcessedCount, entry.ChunkCount)
}

func TestImportRunSettlesFailedWorkflow(t *testing.T) {
	f := newImportFixture(t)
	f.embed.err = errors.New("quota exhausted")
	job := f.createJob(t)

	require.NoError(t, f.svc.Run(context.Background(), job.ID))
	f.queue.Wait()

	settled, err := f.svc.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, "failed", settled.Status)
	assert.Contains(t, settled.Error, "quota exhausted")
	assert.Equal(t, 1, settled.FailedCount)

	entry, err := f.db.GetKnowledgeEntry(context.Background(), settled.KnowledgeEntryID)
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, "failed", entry.Status)
}

func TestImportRunFailsWhenExtractionFails(t *testing.T) {
	f := newImportFixture(t)
	f.gateway.processErr = errors.New("gateway down")
	job := f.createJob(t)

	err := f.svc.Run(context.Background(), job.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gateway down")

	settled, getErr := f.svc.Get(context.Background(), job.ID)
	require.NoError(t, getErr)
	assert.Equal(t, "failed", settled.Status)
	assert.Empty(t, settled.KnowledgeEntryID)
}

func TestImportCreateValidates(t *testing.T) {
	f := newImportFixture(t)

	err := f.svc.Create(context.Background(), &models.ImportJob{WorkspaceID: "ws1"})
	assert.Error(t, err)

	err = f.svc.Create(context.Background(), nil)
	assert.Error(t, err)

	err = f.svc.Create(context.Background(), &models.ImportJob{
		WorkspaceID:  "ws1",
		SourceURL:    "https://supplier.example/catalog.pdf",
		CronSchedule: "not a schedule",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid cron schedule")
}

func TestImportGetUnknownJob(t *testing.T) {
	f := newImportFixture(t)

	_, err := f.svc.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrImportJobNotFound)
}

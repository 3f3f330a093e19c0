package core

import (
	"context"
	"io"

	"github.com/mkalinski-dev/materio/internal/models"
)

// DbClient defines all persistence operations your services will need.
// It abstracts Postgres/pgvector so higher layers never depend on a specific DB.
type DbClient interface {
	CreateUser(ctx context.Context, user *models.User) (err error)
	GetUserByEmail(ctx context.Context, email string) (user *models.User, err error)

	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocumentByID(ctx context.Context, id string) (*models.Document, error)
	ListDocumentsByWorkspace(ctx context.Context, workspaceID string) ([]models.Document, error)
	UpdateDocumentStatus(ctx context.Context, id string, status string) error

	CreateImportJob(ctx context.Context, job *models.ImportJob) error
	GetImportJob(ctx context.Context, id string) (*models.ImportJob, error)
	ListImportJobs(ctx context.Context, workspaceID string) ([]models.ImportJob, error)
	ListScheduledImportJobs(ctx context.Context) ([]models.ImportJob, error)
	UpdateImportJob(ctx context.Context, job *models.ImportJob) error

	CreateKnowledgeEntry(ctx context.Context, entry *models.KnowledgeEntry) error
	GetKnowledgeEntry(ctx context.Context, id string) (*models.KnowledgeEntry, error)
	UpdateKnowledgeEntryStatus(ctx context.Context, id, status string, chunkCount int) error
}

// VectorStore is the persistence collaborator for embedded chunks. The
// orchestrator only needs batch insert with per-item outcome counts plus an
// existence check on the knowledge entry a batch belongs to.
type VectorStore interface {
	StoreBatch(ctx context.Context, records []models.VectorRecord) (*models.VectorBatchResult, error)
	GetChunksByDocument(ctx context.Context, documentID string) ([]models.DocumentChunk, error)
}

// ObjectClient defines interactions with S3 or any object storage.
// It's abstract so you can replace AWS with MinIO, GCP, etc. easily.
type ObjectClient interface {
	UploadFile(ctx context.Context, bucket, key string, data io.Reader, contentType string) (url string, err error)
	DeleteFile(ctx context.Context, bucket, key string) error
	GetFile(ctx context.Context, bucket, key string) ([]byte, error)

	GetObjectReader(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}

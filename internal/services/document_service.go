package services

import (
	"bytes"
	"context"
	"path"
	"strings"

	"github.com/google/uuid"

	"github.com/mkalinski-dev/materio/internal/core"
	"github.com/mkalinski-dev/materio/internal/models"
)

type DocumentService struct {
	db      core.DbClient
	storage core.ObjectClient
	bucket  string
}

func NewDocumentService(db core.DbClient, storage core.ObjectClient, bucket string) *DocumentService {
	return &DocumentService{db: db, storage: storage, bucket: bucket}
}

func (s *DocumentService) UploadAndCreate(ctx context.Context, workspaceID, userID, filename, contentType string, data []byte, sourceType string) (*models.Document, error) {
	docID := uuid.NewString()
	key := s.objectKey(workspaceID, docID, filename)

	url, err := s.storage.UploadFile(ctx, s.bucket, key, bytes.NewReader(data), contentType)
	if err != nil {
		return nil, err
	}

	doc := &models.Document{
		ID:          docID,
		WorkspaceID: workspaceID,
		UserID:      userID,
		FileName:    filename,
		StorageURL:  url,
		SourceType:  sourceType, // "upload" or "url"
		ContentType: contentType,
		Status:      "uploaded",
	}
	if err := s.db.CreateDocument(ctx, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *DocumentService) Get(ctx context.Context, id string) (*models.Document, error) {
	return s.db.GetDocumentByID(ctx, id)
}

func (s *DocumentService) ListByWorkspace(ctx context.Context, workspaceID string) ([]models.Document, error) {
	return s.db.ListDocumentsByWorkspace(ctx, workspaceID)
}

func (s *DocumentService) SetStatus(ctx context.Context, docID string, status string) error {
	return s.db.UpdateDocumentStatus(ctx, docID, status)
}

// objectKey creates a consistent S3 key layout.
func (s *DocumentService) objectKey(workspaceID, docID, filename string) string {
	filename = strings.TrimSpace(filename)
	filename = strings.ReplaceAll(filename, " ", "_")
	return path.Join("workspaces", workspaceID, "documents", docID, filename)
}

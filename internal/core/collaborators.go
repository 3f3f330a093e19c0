package core

import (
	"context"

	"github.com/mkalinski-dev/materio/internal/models"
)

// ChunkStrategy configures the chunking collaborator.
type ChunkStrategy struct {
	Type              string // "hybrid", "sentence", "paragraph"
	MaxChunkSize      int
	OverlapSize       int
	PreserveStructure bool
}

// ChunkingService is the external chunking collaborator the workflow's
// chunking stage delegates to. The default implementation wraps the local
// processing pipeline; a remote service can be swapped in behind this.
type ChunkingService interface {
	Chunk(ctx context.Context, content string, meta models.ChunkMetadata, strategy ChunkStrategy) ([]models.RAGChunk, error)
}

// TransformConfig tunes the extracted-document-to-RAG transformation.
type TransformConfig struct {
	IncludeTables bool
	IncludeImages bool
	MaxChunkSize  int
	OverlapSize   int
}

// TransformerService turns a raw extraction result into a structured RAG
// document with an ordered chunk list.
type TransformerService interface {
	Transform(ctx context.Context, extraction *models.ExtractionResult, workspaceID string, cfg TransformConfig) (*models.RAGDocument, error)
}

// ExtractionClient fronts the external PDF extraction gateway.
type ExtractionClient interface {
	ExtractMarkdown(ctx context.Context, documentPath string) (string, error)
	ExtractTables(ctx context.Context, documentPath string) ([]models.TableData, error)
	ExtractImages(ctx context.Context, documentPath string) ([]models.ImageData, error)
	ProcessDocument(ctx context.Context, documentPath string) (*models.ExtractionResult, error)
	HealthCheck(ctx context.Context) error
}

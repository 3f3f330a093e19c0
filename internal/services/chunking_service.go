package services

import (
	"context"
	"log/slog"

	"github.com/mkalinski-dev/materio/internal/core"
	"github.com/mkalinski-dev/materio/internal/models"
	"github.com/mkalinski-dev/materio/internal/pipeline"
)

// ChunkingService is the in-process implementation of the chunking
// collaborator. It delegates to the document processing pipeline's text
// chunker; a remote chunking service can replace it behind the same
// interface.
type ChunkingService struct {
	logger *slog.Logger
}

func NewChunkingService(logger *slog.Logger) *ChunkingService {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChunkingService{logger: logger}
}

func (s *ChunkingService) Chunk(ctx context.Context, content string, meta models.ChunkMetadata, strategy core.ChunkStrategy) ([]models.RAGChunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cfg := pipeline.ChunkConfig{
		MaxChunkSize:   strategy.MaxChunkSize,
		OverlapSize:    strategy.OverlapSize,
		SplitSentences: strategy.Type != "paragraph",
	}
	p := pipeline.NewProcessor(cfg, s.logger)

	chunks := p.ChunkText(meta.DocumentID, content)
	for i := range chunks {
		chunks[i].Metadata = meta
	}

	s.logger.Debug("chunked document", "document_id", meta.DocumentID, "chunks", len(chunks), "strategy", strategy.Type)
	return chunks, nil
}

var _ core.ChunkingService = (*ChunkingService)(nil)

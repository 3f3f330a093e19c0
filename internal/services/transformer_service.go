package services

import (
	"context"
	"log/slog"
	"strings"

	"github.com/mkalinski-dev/materio/internal/core"
	"github.com/mkalinski-dev/materio/internal/models"
	"github.com/mkalinski-dev/materio/internal/pipeline"
)

// TransformerService is the in-process implementation of the transformer
// collaborator: it turns one extraction result into a structured RAG
// document by running the processing pipeline. Deterministic over the same
// input and config, so its text chunks line up one-to-one with what the
// chunking collaborator produced for the same strategy.
type TransformerService struct {
	logger *slog.Logger
}

func NewTransformerService(logger *slog.Logger) *TransformerService {
	if logger == nil {
		logger = slog.Default()
	}
	return &TransformerService{logger: logger}
}

func (s *TransformerService) Transform(ctx context.Context, extraction *models.ExtractionResult, workspaceID string, cfg core.TransformConfig) (*models.RAGDocument, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p := pipeline.NewProcessor(pipeline.ChunkConfig{
		MaxChunkSize:   cfg.MaxChunkSize,
		OverlapSize:    cfg.OverlapSize,
		SplitSentences: true,
	}, s.logger)

	trimmed := *extraction
	if !cfg.IncludeTables {
		trimmed.Tables = nil
	}
	if !cfg.IncludeImages {
		trimmed.Images = nil
	}

	res := p.ProcessForRAG(&trimmed, &pipeline.WorkspaceContext{WorkspaceID: workspaceID})
	if len(res.Errors) > 0 {
		s.logger.Warn("transform finished with errors", "document_id", extraction.DocumentID, "errors", strings.Join(res.Errors, "; "))
	}

	return &models.RAGDocument{
		ID:     extraction.DocumentID,
		Chunks: res.RAGDocuments,
	}, nil
}

var _ core.TransformerService = (*TransformerService)(nil)

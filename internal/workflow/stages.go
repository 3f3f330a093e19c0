package workflow

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/mkalinski-dev/materio/internal/models"
)

// Stage-data keys shared between consecutive stages.
const (
	dataChunks     = "chunks"
	dataEmbeddings = "embeddings"
	dataRAGDoc     = "ragdoc"
)

const embedBatchSize = 32

var validate = validator.New()

// validatedDocument is the shape the validation stage checks. Only
// presence-level checks; no external calls.
type validatedDocument struct {
	Filename  string `validate:"required"`
	Markdown  string `validate:"required"`
	PageCount int    `validate:"gte=1"`
}

// runStage dispatches to the named stage body.
func (o *Orchestrator) runStage(ctx context.Context, job *models.WorkflowJob, req *ProcessRequest, state *WorkflowState, stageName string) (any, error) {
	switch stageName {
	case models.StageValidation:
		return o.stageValidation(req)
	case models.StageChunking:
		return o.stageChunking(ctx, req, state)
	case models.StageEmbedding:
		return o.stageEmbedding(ctx, state)
	case models.StageTransformation:
		return o.stageTransformation(ctx, req, state)
	case models.StageRAGIntegration:
		return o.stageRAGIntegration(ctx, job, req, state)
	default:
		return nil, fmt.Errorf("unknown stage %s", stageName)
	}
}

func (o *Orchestrator) stageValidation(req *ProcessRequest) (any, error) {
	if req == nil || req.Document == nil {
		return nil, fmt.Errorf("no document in request")
	}
	doc := validatedDocument{
		Filename:  req.Document.Filename,
		Markdown:  req.Document.Markdown,
		PageCount: req.Document.Metadata.PageCount,
	}
	if err := validate.Struct(doc); err != nil {
		return nil, fmt.Errorf("document validation: %w", err)
	}
	return map[string]any{"filename": doc.Filename, "pages": doc.PageCount}, nil
}

func (o *Orchestrator) stageChunking(ctx context.Context, req *ProcessRequest, state *WorkflowState) (any, error) {
	meta := models.ChunkMetadata{
		DocumentID:  req.Document.DocumentID,
		ContentType: "text",
		ExtractedAt: req.Document.Metadata.ExtractedAt,
		WorkspaceID: req.WorkspaceID,
		UserID:      req.UserID,
	}

	chunks, err := o.chunker.Chunk(ctx, req.Document.Markdown, meta, o.cfg.Chunking)
	if err != nil {
		return nil, fmt.Errorf("chunking service: %w", err)
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("chunking produced no chunks")
	}

	o.mu.Lock()
	state.StageData[dataChunks] = chunks
	o.mu.Unlock()

	return map[string]any{"chunk_count": len(chunks)}, nil
}

// stageEmbedding requires a healthy extraction gateway before spending
// money on embeddings, then embeds the chunking output in batches.
func (o *Orchestrator) stageEmbedding(ctx context.Context, state *WorkflowState) (any, error) {
	if err := o.mivaa.HealthCheck(ctx); err != nil {
		return nil, fmt.Errorf("extraction gateway unhealthy: %w", err)
	}

	o.mu.Lock()
	chunks, _ := state.StageData[dataChunks].([]models.RAGChunk)
	o.mu.Unlock()
	if len(chunks) == 0 {
		return nil, fmt.Errorf("no chunks available for embedding")
	}

	embeddings := make([][]float32, 0, len(chunks))
	for start := 0; start < len(chunks); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		texts := make([]string, 0, end-start)
		for _, c := range chunks[start:end] {
			texts = append(texts, c.Content)
		}
		vecs, err := o.embedder.EmbedTexts(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("embed batch %d..%d: %w", start, end, err)
		}
		if len(vecs) != len(texts) {
			return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(texts))
		}
		embeddings = append(embeddings, vecs...)
	}

	o.mu.Lock()
	state.StageData[dataEmbeddings] = embeddings
	o.mu.Unlock()

	return map[string]any{"embedded": len(embeddings)}, nil
}

func (o *Orchestrator) stageTransformation(ctx context.Context, req *ProcessRequest, state *WorkflowState) (any, error) {
	ragDoc, err := o.xform.Transform(ctx, req.Document, req.WorkspaceID, o.cfg.Transform)
	if err != nil {
		return nil, fmt.Errorf("transformer service: %w", err)
	}
	if ragDoc == nil || len(ragDoc.Chunks) == 0 {
		return nil, fmt.Errorf("transformer produced an empty document")
	}

	o.mu.Lock()
	state.StageData[dataRAGDoc] = ragDoc
	o.mu.Unlock()

	return map[string]any{"rag_document_id": ragDoc.ID, "chunk_count": len(ragDoc.Chunks)}, nil
}

// stageRAGIntegration pairs transformed chunks with their embeddings and
// ships the batch to the vector store, recording per-item outcome counts.
func (o *Orchestrator) stageRAGIntegration(ctx context.Context, job *models.WorkflowJob, req *ProcessRequest, state *WorkflowState) (any, error) {
	o.mu.Lock()
	ragDoc, _ := state.StageData[dataRAGDoc].(*models.RAGDocument)
	embeddings, _ := state.StageData[dataEmbeddings].([][]float32)
	o.mu.Unlock()

	if ragDoc == nil {
		return nil, fmt.Errorf("no transformed document available")
	}
	if len(embeddings) < len(ragDoc.Chunks) {
		return nil, fmt.Errorf("have %d embeddings for %d chunks", len(embeddings), len(ragDoc.Chunks))
	}

	records := make([]models.VectorRecord, 0, len(ragDoc.Chunks))
	for i, c := range ragDoc.Chunks {
		records = append(records, models.VectorRecord{
			ID:          c.ID,
			DocumentID:  req.Document.DocumentID,
			WorkspaceID: req.WorkspaceID,
			Content:     c.Content,
			ChunkIndex:  i,
			Metadata: map[string]string{
				"content_type": c.Metadata.ContentType,
				"request_id":   req.RequestID,
			},
			Embedding: embeddings[i],
		})
	}

	res, err := o.vectors.StoreBatch(ctx, records)
	if err != nil {
		return nil, fmt.Errorf("vector store batch: %w", err)
	}

	job.Metrics.ChunksProduced = len(records)
	job.Metrics.ChunksStored = res.Stored
	job.Metrics.ChunksFailed = res.Failed

	return map[string]any{"stored": res.Stored, "failed": res.Failed}, nil
}

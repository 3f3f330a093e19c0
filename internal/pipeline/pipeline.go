// Package pipeline converts one extraction result into normalized RAG
// chunks: markdown is section-split and size-chunked, tables and images are
// stringified into text blocks. The transform is pure and best-effort; it
// never fails hard, it annotates the result with error strings instead.
package pipeline

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/mkalinski-dev/materio/internal/models"
)

// WorkspaceContext scopes produced chunks to a tenant when the caller is
// workspace-aware.
type WorkspaceContext struct {
	WorkspaceID string
	Project     string
	UserID      string
	Tags        []string
}

// Summary counts what one ProcessForRAG call produced.
type Summary struct {
	TotalChunks int `json:"total_chunks"`
	TextChunks  int `json:"text_chunks"`
	TableChunks int `json:"table_chunks"`
	ImageChunks int `json:"image_chunks"`
}

// Result is the flat chunk list for one document.
type Result struct {
	DocumentID   string            `json:"document_id"`
	RAGDocuments []models.RAGChunk `json:"rag_documents"`
	Summary      Summary           `json:"summary"`
	Errors       []string          `json:"errors,omitempty"`
}

// Processor is the document processing pipeline.
type Processor struct {
	cfg    ChunkConfig
	logger *slog.Logger
}

func NewProcessor(cfg ChunkConfig, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{cfg: cfg.normalized(), logger: logger}
}

// Config returns the normalized chunk configuration in effect.
func (p *Processor) Config() ChunkConfig {
	return p.cfg
}

// ProcessForRAG turns an extraction result into normalized text chunks
// suitable for embedding and storage. Panics in any sub-transform are
// recovered into error strings; the call always returns a result.
func (p *Processor) ProcessForRAG(extraction *models.ExtractionResult, ws *WorkspaceContext) *Result {
	res := &Result{DocumentID: extraction.DocumentID}

	extractedAt := extraction.Metadata.ExtractedAt
	if extractedAt.IsZero() {
		extractedAt = time.Now()
	}

	meta := func(contentType string, page int) models.ChunkMetadata {
		m := models.ChunkMetadata{
			DocumentID:  extraction.DocumentID,
			ContentType: contentType,
			Page:        page,
			ExtractedAt: extractedAt,
		}
		if ws != nil {
			m.WorkspaceID = ws.WorkspaceID
			m.Project = ws.Project
			m.UserID = ws.UserID
			m.Tags = ws.Tags
		}
		return m
	}

	p.capture(res, "markdown", func() {
		for _, c := range p.chunkMarkdown(extraction.DocumentID, extraction.Markdown) {
			c.Metadata = meta("text", 0)
			res.RAGDocuments = append(res.RAGDocuments, c)
			res.Summary.TextChunks++
		}
	})

	p.capture(res, "tables", func() {
		for _, t := range extraction.Tables {
			res.RAGDocuments = append(res.RAGDocuments, models.RAGChunk{
				ID:       fmt.Sprintf("%s_table_%s", extraction.DocumentID, t.ID),
				Content:  renderTable(t),
				Metadata: meta("table", t.Page),
			})
			res.Summary.TableChunks++
		}
	})

	p.capture(res, "images", func() {
		for _, img := range extraction.Images {
			res.RAGDocuments = append(res.RAGDocuments, models.RAGChunk{
				ID:       fmt.Sprintf("%s_image_%s", extraction.DocumentID, img.ID),
				Content:  renderImage(img),
				Metadata: meta("image", img.Page),
			})
			res.Summary.ImageChunks++
		}
	})

	res.Summary.TotalChunks = len(res.RAGDocuments)
	return res
}

// ChunkText exposes the markdown chunker on its own, for collaborators
// that only need text chunking without the table/image transforms.
func (p *Processor) ChunkText(documentID, markdown string) []models.RAGChunk {
	return p.chunkMarkdown(documentID, markdown)
}

// chunkMarkdown splits markdown into sections, then size-bounds each
// section. Short documents pass through as a single chunk so nothing is
// ever dropped.
func (p *Processor) chunkMarkdown(documentID, markdown string) []models.RAGChunk {
	if len(markdown) <= p.cfg.MaxChunkSize {
		return []models.RAGChunk{{
			ID:      fmt.Sprintf("%s_text_0_0", documentID),
			Content: markdown,
		}}
	}

	var chunks []models.RAGChunk
	for si, section := range splitSections(markdown) {
		for ci, text := range chunkSection(section, p.cfg) {
			chunks = append(chunks, models.RAGChunk{
				ID:      fmt.Sprintf("%s_text_%d_%d", documentID, si, ci),
				Content: text,
			})
		}
	}
	return chunks
}

// capture runs fn and converts a panic into a recorded error string.
func (p *Processor) capture(res *Result, what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("pipeline transform panicked", "part", what, "document_id", res.DocumentID, "panic", r)
			res.Errors = append(res.Errors, fmt.Sprintf("%s processing failed: %v", what, r))
		}
	}()
	fn()
}

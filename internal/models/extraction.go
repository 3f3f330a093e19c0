package models

import "time"

// ExtractionResult is the normalized output of the PDF extraction gateway
// for one source document: page markdown plus any tables and images found.
type ExtractionResult struct {
	DocumentID string      `json:"document_id"`
	Filename   string      `json:"filename"`
	Markdown   string      `json:"markdown"`
	Tables     []TableData `json:"tables,omitempty"`
	Images     []ImageData `json:"images,omitempty"`
	Metadata   Metadata    `json:"metadata"`
}

// Metadata carries document-level facts reported by the extraction gateway.
type Metadata struct {
	PageCount   int       `json:"page_count"`
	Language    string    `json:"language,omitempty"`
	ExtractedAt time.Time `json:"extracted_at"`
}

// TableData is one extracted table, row-major.
type TableData struct {
	ID       string     `json:"id"`
	Page     int        `json:"page"`
	Headers  []string   `json:"headers,omitempty"`
	Rows     [][]string `json:"rows"`
	RowCount int        `json:"row_count"`
	ColCount int        `json:"col_count"`
}

// ImageData is one extracted image. Data holds the decoded bytes; the
// gateway ships them base64-encoded.
type ImageData struct {
	ID       string            `json:"id"`
	Page     int               `json:"page"`
	Width    int               `json:"width"`
	Height   int               `json:"height"`
	Format   string            `json:"format,omitempty"`
	Data     []byte            `json:"-"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// RAGChunk is one normalized chunk produced by the processing pipeline,
// ready for embedding and vector storage.
type RAGChunk struct {
	ID       string        `json:"id"`
	Content  string        `json:"content"`
	Metadata ChunkMetadata `json:"metadata"`
}

// ChunkMetadata tags a chunk with its provenance.
type ChunkMetadata struct {
	DocumentID  string    `json:"document_id"`
	ContentType string    `json:"content_type"` // text | table | image
	Page        int       `json:"page,omitempty"`
	ExtractedAt time.Time `json:"extracted_at"`
	WorkspaceID string    `json:"workspace_id,omitempty"`
	Project     string    `json:"project,omitempty"`
	UserID      string    `json:"user_id,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
}

// RAGDocument is the transformer collaborator's output: an ordered chunk
// list under one document ID.
type RAGDocument struct {
	ID     string     `json:"id"`
	Chunks []RAGChunk `json:"chunks"`
}

// VectorRecord is one row of a vector-store batch insert.
type VectorRecord struct {
	ID          string            `json:"id"`
	DocumentID  string            `json:"document_id"`
	WorkspaceID string            `json:"workspace_id"`
	Content     string            `json:"content"`
	ChunkIndex  int               `json:"chunk_index"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	Embedding   []float32         `json:"embedding"`
}

// VectorBatchResult reports per-item outcomes of a batch insert.
type VectorBatchResult struct {
	Stored int      `json:"stored"`
	Failed int      `json:"failed"`
	Errors []string `json:"errors,omitempty"`
}

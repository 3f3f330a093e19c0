package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkalinski-dev/materio/internal/core"
	"github.com/mkalinski-dev/materio/internal/models"
)

func sampleExtraction() *models.ExtractionResult {
	paragraphs := []string{
		"Engineered oak flooring, 14mm with a 3mm wear layer. Brushed and oiled surface.",
		"Acoustic wall panels in recycled PET felt. Nine standard colors, class A fire rating.",
		"Terrazzo tiles with marble aggregate. Suitable for heavy commercial foot traffic.",
	}
	return &models.ExtractionResult{
		DocumentID: "doc-align",
		Filename:   "materials.pdf",
		Markdown:   strings.Join(paragraphs, "\n\n"),
		Metadata:   models.Metadata{PageCount: 3, ExtractedAt: time.Now()},
	}
}

// The chunking and transformer collaborators must produce the same chunk
// sequence for the same document and sizing, because embeddings computed
// from one are zipped with chunks from the other.
func TestChunkerAndTransformerAlign(t *testing.T) {
	extraction := sampleExtraction()
	ctx := context.Background()

	chunker := NewChunkingService(nil)
	chunks, err := chunker.Chunk(ctx, extraction.Markdown, models.ChunkMetadata{
		DocumentID:  extraction.DocumentID,
		ContentType: "text",
		WorkspaceID: "ws1",
	}, core.ChunkStrategy{Type: "hybrid", MaxChunkSize: 120, OverlapSize: 20})
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	xform := NewTransformerService(nil)
	ragDoc, err := xform.Transform(ctx, extraction, "ws1", core.TransformConfig{
		MaxChunkSize: 120,
		OverlapSize:  20,
	})
	require.NoError(t, err)

	require.Len(t, ragDoc.Chunks, len(chunks))
	for i := range chunks {
		assert.Equal(t, chunks[i].Content, ragDoc.Chunks[i].Content, "chunk %d", i)
	}
}

func TestTransformDropsTablesAndImagesByDefault(t *testing.T) {
	extraction := sampleExtraction()
	extraction.Tables = []models.TableData{{
		ID:       "t1",
		Page:     1,
		Headers:  []string{"sku", "price"},
		Rows:     [][]string{{"OAK-14", "42.50"}},
		RowCount: 1,
		ColCount: 2,
	}}
	extraction.Images = []models.ImageData{{ID: "i1", Page: 2}}

	xform := NewTransformerService(nil)

	ragDoc, err := xform.Transform(context.Background(), extraction, "ws1", core.TransformConfig{
		MaxChunkSize: 500,
		OverlapSize:  50,
	})
	require.NoError(t, err)
	for _, c := range ragDoc.Chunks {
		assert.Equal(t, "text", c.Metadata.ContentType)
	}

	withTables, err := xform.Transform(context.Background(), extraction, "ws1", core.TransformConfig{
		IncludeTables: true,
		MaxChunkSize:  500,
		OverlapSize:   50,
	})
	require.NoError(t, err)
	assert.Greater(t, len(withTables.Chunks), len(ragDoc.Chunks))
}

func TestChunkRejectsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewChunkingService(nil).Chunk(ctx, "some text", models.ChunkMetadata{}, core.ChunkStrategy{MaxChunkSize: 100, OverlapSize: 10})
	assert.ErrorIs(t, err, context.Canceled)
}

package pipeline

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mkalinski-dev/materio/internal/models"
)

func extraction(markdown string) *models.ExtractionResult {
	return &models.ExtractionResult{
		DocumentID: "doc1",
		Filename:   "catalog.pdf",
		Markdown:   markdown,
	}
}

func TestShortMarkdownIsIdentity(t *testing.T) {
	p := NewProcessor(DefaultChunkConfig(), nil)

	inputs := []string{
		"# Title\nHello world.",
		"",
		"   \n\t ",
		strings.Repeat("x", 1000),
	}
	for _, in := range inputs {
		res := p.ProcessForRAG(extraction(in), nil)
		require.Len(t, res.RAGDocuments, 1, "input %q", in)
		assert.Equal(t, in, res.RAGDocuments[0].Content)
		assert.Equal(t, 1, res.Summary.TotalChunks)
		assert.Equal(t, 1, res.Summary.TextChunks)
		assert.Empty(t, res.Errors)
	}
}

func TestSimpleDocumentScenario(t *testing.T) {
	p := NewProcessor(DefaultChunkConfig(), nil)

	res := p.ProcessForRAG(extraction("# Title\nHello world."), nil)

	assert.Len(t, res.RAGDocuments, 1)
	assert.Equal(t, 1, res.Summary.TotalChunks)
	assert.Equal(t, 1, res.Summary.TextChunks)
	assert.Empty(t, res.Errors)
	assert.Equal(t, "doc1_text_0_0", res.RAGDocuments[0].ID)
	assert.Equal(t, "text", res.RAGDocuments[0].Metadata.ContentType)
}

func TestLongMarkdownChunkBounds(t *testing.T) {
	cfg := DefaultChunkConfig()
	p := NewProcessor(cfg, nil)

	var b strings.Builder
	for i := 0; i < 200; i++ {
		fmt.Fprintf(&b, "Sentence number %d talks about terrazzo surface finishes. ", i)
	}
	res := p.ProcessForRAG(extraction(b.String()), nil)

	require.Greater(t, len(res.RAGDocuments), 1)
	for _, c := range res.RAGDocuments {
		assert.LessOrEqual(t, len(c.Content), cfg.MaxChunkSize+cfg.OverlapSize)
	}

	// every sentence appears, in order, across the concatenated chunks
	var all strings.Builder
	for _, c := range res.RAGDocuments {
		all.WriteString(c.Content)
	}
	pos := 0
	for i := 0; i < 200; i++ {
		s := fmt.Sprintf("Sentence number %d ", i)
		idx := strings.Index(all.String()[pos:], s)
		require.GreaterOrEqual(t, idx, 0, "sentence %d missing or out of order", i)
		pos += idx
	}
}

func TestSectionSplitOnHeadingsAndPages(t *testing.T) {
	md := "# A\n" + strings.Repeat("Alpha section text. ", 40) +
		"\n---PAGE---\n# B\n" + strings.Repeat("Beta section text. ", 40)
	sections := splitSections(md)
	require.Len(t, sections, 2)
	assert.Contains(t, sections[0], "# A")
	assert.Contains(t, sections[1], "# B")
	assert.NotContains(t, sections[1], "---PAGE---")
}

func TestNoHeadingsSingleSection(t *testing.T) {
	md := strings.Repeat("Plain prose without any structure. ", 10)
	sections := splitSections(md)
	require.Len(t, sections, 1)
}

func TestTableRendering(t *testing.T) {
	rows := make([][]string, 15)
	for i := range rows {
		rows[i] = []string{fmt.Sprintf("a%d", i), fmt.Sprintf("b%d", i)}
	}
	table := models.TableData{
		ID:       "t1",
		Page:     3,
		Headers:  []string{"A", "B"},
		Rows:     rows,
		RowCount: 15,
		ColCount: 2,
	}

	content := renderTable(table)

	assert.Contains(t, content, "Dimensions: 15 rows")
	assert.Contains(t, content, "Headers: A | B")
	assert.Contains(t, content, "... and 5 more rows")
	assert.Equal(t, 10, strings.Count(content, "Row "))
}

func TestTableWithinRowLimit(t *testing.T) {
	table := models.TableData{
		ID:       "t2",
		Rows:     [][]string{{"x", "y"}, {"p", "q"}},
		RowCount: 2,
		ColCount: 2,
	}

	content := renderTable(table)

	assert.Equal(t, 2, strings.Count(content, "Row "))
	assert.NotContains(t, content, "more rows")
}

func TestTableChunkScenario(t *testing.T) {
	p := NewProcessor(DefaultChunkConfig(), nil)

	rows := make([][]string, 15)
	for i := range rows {
		rows[i] = []string{"v", "w"}
	}
	ext := extraction("# Catalog")
	ext.Tables = []models.TableData{{ID: "t1", Page: 1, Headers: []string{"A", "B"}, Rows: rows, RowCount: 15, ColCount: 2}}

	res := p.ProcessForRAG(ext, nil)

	require.Equal(t, 1, res.Summary.TableChunks)
	var tableChunk models.RAGChunk
	for _, c := range res.RAGDocuments {
		if c.Metadata.ContentType == "table" {
			tableChunk = c
		}
	}
	assert.Equal(t, "doc1_table_t1", tableChunk.ID)
	assert.Contains(t, tableChunk.Content, "Dimensions: 15 rows")
}

func TestImageOrientation(t *testing.T) {
	tests := []struct {
		w, h int
		want string
	}{
		{200, 100, "wide"},
		{100, 300, "tall"},
		{100, 100, "square"},
		{150, 100, "square"},
		{100, 0, "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, orientation(tt.w, tt.h), "%dx%d", tt.w, tt.h)
	}
}

func TestImagePlaceholder(t *testing.T) {
	img := models.ImageData{
		ID:       "img1",
		Page:     2,
		Width:    400,
		Height:   120,
		Format:   "png",
		Metadata: map[string]string{"caption": "swatch board"},
	}

	content := renderImage(img)

	assert.Contains(t, content, "Image on page 2")
	assert.Contains(t, content, "400x120 px")
	assert.Contains(t, content, "layout: wide")
	assert.Contains(t, content, `"caption":"swatch board"`)
}

func TestWorkspaceMetadataApplied(t *testing.T) {
	p := NewProcessor(DefaultChunkConfig(), nil)

	ws := &WorkspaceContext{WorkspaceID: "ws1", Project: "showroom", UserID: "u1", Tags: []string{"tiles"}}
	res := p.ProcessForRAG(extraction("# Tiles\nCeramic."), ws)

	require.Len(t, res.RAGDocuments, 1)
	m := res.RAGDocuments[0].Metadata
	assert.Equal(t, "ws1", m.WorkspaceID)
	assert.Equal(t, "showroom", m.Project)
	assert.Equal(t, "u1", m.UserID)
	assert.Equal(t, []string{"tiles"}, m.Tags)
}

package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/mkalinski-dev/materio/internal/core"
	"github.com/mkalinski-dev/materio/internal/models"
)

// ChunkSearcher is the similarity search half of the chunk store.
type ChunkSearcher interface {
	SearchChunks(ctx context.Context, workspaceID string, queryVec []float32, limit int) ([]models.DocumentChunk, error)
}

type SearchHandler struct {
	searcher ChunkSearcher
	embedder core.EmbeddingProvider
}

func NewSearchHandler(searcher ChunkSearcher, emb core.EmbeddingProvider) *SearchHandler {
	return &SearchHandler{searcher: searcher, embedder: emb}
}

type searchRequest struct {
	WorkspaceID string `json:"workspace_id"`
	Query       string `json:"query"`
	Limit       int    `json:"limit"`
}

// Search embeds the query and returns the closest chunks in the workspace.
func (h *SearchHandler) Search(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request", 400)
		return
	}
	if req.WorkspaceID == "" || req.Query == "" {
		http.Error(w, "workspace_id and query are required", 400)
		return
	}
	if req.Limit <= 0 || req.Limit > 50 {
		req.Limit = 5
	}

	vecs, err := h.embedder.EmbedTexts(ctx, []string{req.Query})
	if err != nil || len(vecs) == 0 {
		http.Error(w, fmt.Sprintf("embedding failed: %v", err), 500)
		return
	}

	chunks, err := h.searcher.SearchChunks(ctx, req.WorkspaceID, vecs[0], req.Limit)
	if err != nil {
		http.Error(w, fmt.Sprintf("search failed: %v", err), 500)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"workspace_id": req.WorkspaceID,
		"chunks":       chunks,
	})
}

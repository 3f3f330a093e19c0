package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	"github.com/mkalinski-dev/materio/internal/services"
	"github.com/mkalinski-dev/materio/internal/upload"
)

type DocumentHandler struct {
	documents *services.DocumentService
	uploads   *upload.Service
}

func NewDocumentHandler(documents *services.DocumentService, uploads *upload.Service) *DocumentHandler {
	return &DocumentHandler{documents: documents, uploads: uploads}
}

// UploadDocument accepts a multipart upload and starts the upload workflow
// in the background. The response carries the live job so the client can
// poll it.
func (h *DocumentHandler) UploadDocument(w http.ResponseWriter, r *http.Request) {
	r.ParseMultipartForm(52 << 20)

	userEmail, ok := r.Context().Value("user_email").(string)
	if !ok {
		http.Error(w, "user_email not found in context", http.StatusUnauthorized)
		return
	}

	workspaceID := r.FormValue("workspace_id")
	if workspaceID == "" {
		http.Error(w, "workspace_id is required", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "invalid file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, fmt.Sprintf("read file: %v", err), http.StatusBadRequest)
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	job := h.uploads.Start(r.Context(), &upload.Request{
		UserEmail:   userEmail,
		WorkspaceID: workspaceID,
		Filename:    filepath.Base(header.Filename),
		ContentType: contentType,
		Data:        data,
	})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(job)
}

func (h *DocumentHandler) GetDocuments(w http.ResponseWriter, r *http.Request) {
	workspaceID := r.URL.Query().Get("workspace_id")
	if workspaceID == "" {
		http.Error(w, "workspace_id is required", http.StatusBadRequest)
		return
	}

	documents, err := h.documents.ListByWorkspace(r.Context(), workspaceID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(documents)
}

func (h *DocumentHandler) GetDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := h.documents.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if doc == nil {
		http.Error(w, "document not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(doc)
}

func (h *DocumentHandler) GetUploadJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.uploads.Job(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(job)
}

func (h *DocumentHandler) RetryUploadJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.uploads.RetryJob(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, upload.ErrJobRunning) {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	if err != nil && job == nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(job)
}

package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/mkalinski-dev/materio/internal/models"
	"github.com/mkalinski-dev/materio/internal/workflow"
)

var validate = validator.New()

type WorkflowHandler struct {
	orchestrator *workflow.Orchestrator
}

func NewWorkflowHandler(orch *workflow.Orchestrator) *WorkflowHandler {
	return &WorkflowHandler{orchestrator: orch}
}

type processRequest struct {
	WorkspaceID string             `json:"workspace_id" validate:"required"`
	DocumentID  string             `json:"document_id" validate:"required"`
	Filename    string             `json:"filename" validate:"required"`
	Markdown    string             `json:"markdown" validate:"required"`
	PageCount   int                `json:"page_count" validate:"gte=1"`
	Tables      []models.TableData `json:"tables,omitempty"`
	Images      []models.ImageData `json:"images,omitempty"`
}

// Process starts a workflow for an already-extracted document.
func (h *WorkflowHandler) Process(w http.ResponseWriter, r *http.Request) {
	userID, _ := r.Context().Value("user_id").(string)

	var req processRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if err := validate.Struct(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	job, err := h.orchestrator.ProcessDocument(&workflow.ProcessRequest{
		WorkspaceID: req.WorkspaceID,
		UserID:      userID,
		Document: &models.ExtractionResult{
			DocumentID: req.DocumentID,
			Filename:   req.Filename,
			Markdown:   req.Markdown,
			Tables:     req.Tables,
			Images:     req.Images,
			Metadata:   models.Metadata{PageCount: req.PageCount, ExtractedAt: time.Now()},
		},
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(job)
}

func (h *WorkflowHandler) List(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.orchestrator.Jobs())
}

func (h *WorkflowHandler) Get(w http.ResponseWriter, r *http.Request) {
	job, err := h.orchestrator.Job(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(job)
}

func (h *WorkflowHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if err := h.orchestrator.Cancel(chi.URLParam(r, "id")); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type retryRequest struct {
	Stage string `json:"stage" validate:"required"`
}

func (h *WorkflowHandler) Retry(w http.ResponseWriter, r *http.Request) {
	var req retryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if err := validate.Struct(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.orchestrator.RetryFailedStage(chi.URLParam(r, "id"), req.Stage); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *WorkflowHandler) Rollback(w http.ResponseWriter, r *http.Request) {
	if err := h.orchestrator.Rollback(chi.URLParam(r, "id")); err != nil {
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *WorkflowHandler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, workflow.ErrJobNotFound), errors.Is(err, workflow.ErrStageNotFound):
		status = http.StatusNotFound
	case errors.Is(err, workflow.ErrStageNotFailed), errors.Is(err, workflow.ErrNoRollbackPoints):
		status = http.StatusConflict
	case errors.Is(err, workflow.ErrJobRunning):
		status = http.StatusConflict
	}
	http.Error(w, err.Error(), status)
}

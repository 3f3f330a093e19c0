package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mkalinski-dev/materio/internal/models"
	"github.com/mkalinski-dev/materio/internal/services"
)

// ScheduleRegistrar picks up cron schedules on newly created import jobs;
// satisfied by the scheduler.
type ScheduleRegistrar interface {
	Register(job *models.ImportJob) error
}

type ImportHandler struct {
	imports   *services.ImportService
	schedules ScheduleRegistrar
}

func NewImportHandler(imports *services.ImportService, schedules ScheduleRegistrar) *ImportHandler {
	return &ImportHandler{imports: imports, schedules: schedules}
}

type createImportRequest struct {
	WorkspaceID  string `json:"workspace_id" validate:"required"`
	Name         string `json:"name"`
	SourceURL    string `json:"source_url" validate:"required,url"`
	CronSchedule string `json:"cron_schedule"`
}

func (h *ImportHandler) Create(w http.ResponseWriter, r *http.Request) {
	userID, _ := r.Context().Value("user_id").(string)

	var req createImportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	if err := validate.Struct(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	job := &models.ImportJob{
		WorkspaceID:  req.WorkspaceID,
		UserID:       userID,
		Name:         req.Name,
		SourceURL:    req.SourceURL,
		CronSchedule: req.CronSchedule,
	}
	if err := h.imports.Create(r.Context(), job); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if job.CronSchedule != "" && h.schedules != nil {
		if err := h.schedules.Register(job); err != nil {
			http.Error(w, "invalid cron_schedule: "+err.Error(), http.StatusBadRequest)
			return
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(job)
}

func (h *ImportHandler) List(w http.ResponseWriter, r *http.Request) {
	workspaceID := r.URL.Query().Get("workspace_id")
	if workspaceID == "" {
		http.Error(w, "workspace_id is required", http.StatusBadRequest)
		return
	}

	jobs, err := h.imports.List(r.Context(), workspaceID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(jobs)
}

func (h *ImportHandler) Get(w http.ResponseWriter, r *http.Request) {
	job, err := h.imports.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, services.ErrImportJobNotFound) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(job)
}

// Run triggers one import run in the background.
func (h *ImportHandler) Run(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if _, err := h.imports.Get(r.Context(), id); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, services.ErrImportJobNotFound) {
			status = http.StatusNotFound
		}
		http.Error(w, err.Error(), status)
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		_ = h.imports.Run(ctx, id)
	}()

	w.WriteHeader(http.StatusAccepted)
}

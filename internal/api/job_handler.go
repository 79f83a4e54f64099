package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dik654/k3s-console/internal/model"
)

// ListJobs handles GET /api/jobs
func (h *Handler) ListJobs(w http.ResponseWriter, _ *http.Request) {
	h.respondJSON(w, http.StatusOK, h.jobs.List())
}

// GetJob handles GET /api/jobs/{id}
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		h.respondError(w, http.StatusBadRequest, "job id is required")
		return
	}

	record, ok := h.jobs.Get(id)
	if !ok {
		h.respondError(w, http.StatusNotFound, "job not found")
		return
	}

	h.respondJSON(w, http.StatusOK, record)
}

// SubmitJob handles POST /api/jobs
func (h *Handler) SubmitJob(w http.ResponseWriter, r *http.Request) {
	var spec model.JobSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	record, err := h.jobs.Submit(r.Context(), spec)
	if err != nil {
		h.logger.Warn("job submission failed",
			slog.String("kind", string(spec.Kind)),
			slog.String("error", err.Error()),
		)
		if record != nil {
			h.respondJSON(w, http.StatusBadGateway, record)
			return
		}
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.respondJSON(w, http.StatusAccepted, record)
}

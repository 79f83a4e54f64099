package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dik654/k3s-console/internal/model"
)

// ListWorkloads handles GET /api/workloads
func (h *Handler) ListWorkloads(w http.ResponseWriter, _ *http.Request) {
	h.respondJSON(w, http.StatusOK, h.registry.Snapshot())
}

// GetWorkload handles GET /api/workloads/{id}
func (h *Handler) GetWorkload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		h.respondError(w, http.StatusBadRequest, "workload id is required")
		return
	}

	state, ok := h.registry.Get(id)
	if !ok {
		h.respondError(w, http.StatusNotFound, model.ErrUnknownWorkload.Error())
		return
	}

	h.respondJSON(w, http.StatusOK, state)
}

// actionRequest is the body of POST /api/workloads/{id}/actions
type actionRequest struct {
	Action    model.Action `json:"action"`
	Replicas  int          `json:"replicas,omitempty"`
	SizeBytes int64        `json:"size_bytes,omitempty"`
}

// DispatchAction handles POST /api/workloads/{id}/actions
func (h *Handler) DispatchAction(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		h.respondError(w, http.StatusBadRequest, "workload id is required")
		return
	}

	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	params := model.ActionParams{
		TargetReplicas:  req.Replicas,
		TargetSizeBytes: req.SizeBytes,
	}

	session, err := h.dispatcher.Dispatch(r.Context(), id, req.Action, params)
	if err != nil {
		h.logger.Warn("action dispatch rejected",
			slog.String("workload", id),
			slog.String("action", string(req.Action)),
			slog.String("error", err.Error()),
		)

		switch {
		case errors.Is(err, model.ErrInvalidTransition), errors.Is(err, model.ErrBusy):
			h.respondError(w, http.StatusConflict, err.Error())
		default:
			// Remote call failure; the session carries the details
			if session != nil {
				h.respondJSON(w, http.StatusBadGateway, session)
				return
			}
			h.respondError(w, http.StatusBadGateway, err.Error())
		}
		return
	}

	h.respondJSON(w, http.StatusAccepted, session)
}

// ListSessions handles GET /api/sessions
func (h *Handler) ListSessions(w http.ResponseWriter, _ *http.Request) {
	h.respondJSON(w, http.StatusOK, h.dispatcher.ActiveSessions())
}

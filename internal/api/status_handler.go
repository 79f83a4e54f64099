package api

import (
	"net/http"
	"time"
)

// controllerStatus is the body of GET /api/status
type controllerStatus struct {
	Workloads      int   `json:"workloads"`
	ActiveSessions int   `json:"active_sessions"`
	LastReconcile  int64 `json:"last_reconcile_ms"` // ms since the last successful fleet merge
	EtcdEnabled    bool  `json:"etcd_enabled"`
}

// GetStatus handles GET /api/status
func (h *Handler) GetStatus(w http.ResponseWriter, _ *http.Request) {
	status := controllerStatus{
		Workloads:      len(h.registry.Snapshot()),
		ActiveSessions: len(h.dispatcher.ActiveSessions()),
		EtcdEnabled:    h.etcdOn,
	}

	if lastTick := h.reconciler.LastTick(); !lastTick.IsZero() {
		status.LastReconcile = time.Since(lastTick).Milliseconds()
	}

	h.respondJSON(w, http.StatusOK, status)
}

// ListNotifications handles GET /api/notifications
func (h *Handler) ListNotifications(w http.ResponseWriter, _ *http.Request) {
	h.respondJSON(w, http.StatusOK, h.feed.Recent())
}

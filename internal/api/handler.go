package api

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dik654/k3s-console/internal/dispatch"
	"github.com/dik654/k3s-console/internal/genjob"
	"github.com/dik654/k3s-console/internal/notify"
	"github.com/dik654/k3s-console/internal/reconcile"
	"github.com/dik654/k3s-console/internal/registry"
)

// Handler holds the HTTP handlers and dependencies
type Handler struct {
	registry   *registry.Registry
	dispatcher *dispatch.Dispatcher
	jobs       *genjob.Manager
	reconciler *reconcile.Reconciler
	feed       *notify.Feed
	logger     *slog.Logger
	basePath   string
	etcdOn     bool
}

// NewHandler creates a new HTTP handler
func NewHandler(
	reg *registry.Registry,
	dispatcher *dispatch.Dispatcher,
	jobs *genjob.Manager,
	reconciler *reconcile.Reconciler,
	feed *notify.Feed,
	basePath string,
	etcdOn bool,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		registry:   reg,
		dispatcher: dispatcher,
		jobs:       jobs,
		reconciler: reconciler,
		feed:       feed,
		logger:     logger,
		basePath:   basePath,
		etcdOn:     etcdOn,
	}
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Create routes handler
	routesHandler := h.createRoutes()

	// If base path is configured, mount routes on that path
	if h.basePath != "" {
		r.Mount(h.basePath, routesHandler)
	} else {
		r.Mount("/", routesHandler)
	}

	return r
}

// createRoutes creates the API routes
func (h *Handler) createRoutes() http.Handler {
	r := chi.NewRouter()

	r.Route("/api", func(r chi.Router) {
		// Workload routes
		r.Get("/workloads", h.ListWorkloads)
		r.Get("/workloads/{id}", h.GetWorkload)
		r.Post("/workloads/{id}/actions", h.DispatchAction)
		r.Get("/sessions", h.ListSessions)

		// Generative job routes
		r.Get("/jobs", h.ListJobs)
		r.Post("/jobs", h.SubmitJob)
		r.Get("/jobs/{id}", h.GetJob)

		// Feed and status
		r.Get("/notifications", h.ListNotifications)
		r.Get("/status", h.GetStatus)
	})

	return r
}

// loggingMiddleware logs HTTP requests
func (h *Handler) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.logger.Info("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("remote_addr", r.RemoteAddr),
		)
		next.ServeHTTP(w, r)
	})
}

// errorResponse represents an error response
type errorResponse struct {
	Error string `json:"error"`
}

// respondJSON writes a JSON response
func (h *Handler) respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response",
			slog.String("error", err.Error()),
		)
	}
}

// respondError writes an error response
func (h *Handler) respondError(w http.ResponseWriter, statusCode int, message string) {
	h.respondJSON(w, statusCode, errorResponse{Error: message})
}

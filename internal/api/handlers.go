// Package api exposes the runtime's operational HTTP surface: task
// submission, status queries and per-domain worker introspection. Business
// routes live with the application embedding this runtime, not here.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/phrazzld/cadenza/internal/state"
	"github.com/phrazzld/cadenza/internal/task"
)

// Pinger is the slice of the state manager the health endpoint needs.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SubmitTaskRequest is the body of POST /tasks.
type SubmitTaskRequest struct {
	TaskID   string          `json:"task_id,omitempty"`
	Domain   string          `json:"domain" validate:"required"`
	Payload  json.RawMessage `json:"payload"`
	Priority int             `json:"priority" validate:"gte=0"`
}

// Handler serves the operational API.
type Handler struct {
	runtime   *task.Runtime
	store     Pinger
	validator *validator.Validate
	logger    *slog.Logger
}

// NewHandler creates the API handler.
func NewHandler(runtime *task.Runtime, store Pinger, logger *slog.Logger) *Handler {
	return &Handler{
		runtime:   runtime,
		store:     store,
		validator: validator.New(),
		logger:    logger.With("component", "api"),
	}
}

// Router builds the chi router for the operational API.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(requestLogger(h.logger))

	r.Post("/tasks", h.SubmitTask)
	r.Get("/tasks/{taskID}", h.GetTaskStatus)
	r.Get("/domains/{domain}/workers", h.GetWorkerStatus)
	r.Get("/healthz", h.Health)
	return r
}

// SubmitTask handles POST /tasks.
func (h *Handler) SubmitTask(w http.ResponseWriter, r *http.Request) {
	var req SubmitTaskRequest
	if err := DecodeJSON(r, &req); err != nil {
		RespondWithError(w, http.StatusBadRequest, "Invalid request format")
		return
	}
	if err := h.validator.Struct(&req); err != nil {
		RespondWithError(w, http.StatusBadRequest, "Validation failed: domain is required")
		return
	}

	rec, err := h.runtime.Submit(r.Context(), task.SubmitRequest{
		TaskID:   req.TaskID,
		Domain:   req.Domain,
		Payload:  req.Payload,
		Priority: req.Priority,
	})
	if err != nil {
		switch {
		case errors.Is(err, task.ErrUnknownDomain):
			RespondWithError(w, http.StatusNotFound, "Unknown worker domain")
		case errors.Is(err, task.ErrNoHandler):
			RespondWithError(w, http.StatusConflict, "Domain has no registered handler")
		default:
			h.logger.Error("task submission failed", "error", err)
			RespondWithError(w, http.StatusInternalServerError, "Failed to submit task")
		}
		return
	}

	RespondWithJSON(w, http.StatusAccepted, rec)
}

// GetTaskStatus handles GET /tasks/{taskID}.
func (h *Handler) GetTaskStatus(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")

	rec, found, err := h.runtime.GetStatus(r.Context(), taskID)
	if err != nil {
		h.logger.Error("status lookup failed", "task_id", taskID, "error", err)
		RespondWithError(w, http.StatusInternalServerError, "Failed to read task status")
		return
	}
	if !found {
		RespondWithError(w, http.StatusNotFound, "Task not found")
		return
	}
	RespondWithJSON(w, http.StatusOK, rec)
}

// GetWorkerStatus handles GET /domains/{domain}/workers.
func (h *Handler) GetWorkerStatus(w http.ResponseWriter, r *http.Request) {
	domain := chi.URLParam(r, "domain")

	snap, err := h.runtime.WorkerStatus(domain)
	if err != nil {
		RespondWithError(w, http.StatusNotFound, "Unknown worker domain")
		return
	}
	RespondWithJSON(w, http.StatusOK, snap)
}

// Health handles GET /healthz. Unreachable shared state is a hard failure:
// this process cannot safely own work it cannot coordinate.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		h.logger.Error("health check failed", "error", err)
		RespondWithError(w, http.StatusServiceUnavailable, "State store unreachable")
		return
	}
	RespondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// requestLogger is a minimal structured-access-log middleware.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r)
			logger.Debug("request handled", "method", r.Method, "path", r.URL.Path)
		})
	}
}

// Ensure state.Manager satisfies Pinger.
var _ Pinger = (*state.Manager)(nil)

// Package api provides HTTP handlers for the API.
package api

import (
	"log/slog"
	"net/http"

	"github.com/driftq/driftq/internal/api/shared"
	"github.com/driftq/driftq/internal/domain"
	"github.com/driftq/driftq/internal/store"
)

// TaskHandler handles task-related HTTP requests.
type TaskHandler struct {
	tasks  *store.TaskStore
	logger *slog.Logger
}

// NewTaskHandler creates a new TaskHandler.
func NewTaskHandler(tasks *store.TaskStore, logger *slog.Logger) *TaskHandler {
	if logger == nil {
		// ALLOW-PANIC: Constructor enforcing required dependency
		panic("logger cannot be nil for TaskHandler")
	}

	return &TaskHandler{
		tasks:  tasks,
		logger: logger.With(slog.String("component", "task_handler")),
	}
}

// CreateTask handles POST /tasks requests.
func (h *TaskHandler) CreateTask(w http.ResponseWriter, r *http.Request) {
	var req CreateTaskRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := shared.ValidateRequest(&req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Validation failed: "+err.Error())
		return
	}

	priority := domain.PriorityMedium
	if req.Priority != "" {
		priority, _ = domain.ParsePriority(req.Priority)
	}

	task, err := h.tasks.Create(r.Context(), store.CreateParams{
		Title:       req.Title,
		Description: req.Description,
		Priority:    priority,
		DueDate:     req.DueDate,
	})
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	h.logger.Debug("task created",
		slog.String("task_id", task.ID.String()),
		slog.String("priority", string(task.Priority)))
	shared.RespondWithJSON(w, r, http.StatusCreated, taskToResponse(task))
}

// ListTasks handles GET /tasks requests. Results can be narrowed with the
// status, priority and q query parameters.
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	var filter store.Filter

	if raw := r.URL.Query().Get("status"); raw != "" {
		status, err := domain.ParseStatus(raw)
		if err != nil {
			shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid status filter")
			return
		}
		filter.Status = &status
	}
	if raw := r.URL.Query().Get("priority"); raw != "" {
		priority, err := domain.ParsePriority(raw)
		if err != nil {
			shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid priority filter")
			return
		}
		filter.Priority = &priority
	}
	filter.Search = r.URL.Query().Get("q")

	tasks, err := h.tasks.List(r.Context(), filter)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	responses := make([]TaskResponse, 0, len(tasks))
	for _, task := range tasks {
		responses = append(responses, taskToResponse(task))
	}
	shared.RespondWithJSON(w, r, http.StatusOK, responses)
}

// GetTask handles GET /tasks/{id} requests.
func (h *TaskHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	id, err := getPathUUID(r, "id")
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, GetSafeErrorMessage(err))
		return
	}

	task, err := h.tasks.Get(r.Context(), id)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, taskToResponse(task))
}

// UpdateTask handles PUT /tasks/{id} requests.
func (h *TaskHandler) UpdateTask(w http.ResponseWriter, r *http.Request) {
	id, err := getPathUUID(r, "id")
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, GetSafeErrorMessage(err))
		return
	}

	var req UpdateTaskRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid request body")
		return
	}
	if err := shared.ValidateRequest(&req); err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, "Validation failed: "+err.Error())
		return
	}

	patch := domain.TaskPatch{
		Title:       req.Title,
		Description: req.Description,
		DueDate:     req.DueDate,
		ClearDue:    req.ClearDueDate,
	}
	if req.Priority != nil {
		priority, _ := domain.ParsePriority(*req.Priority)
		patch.Priority = &priority
	}
	if req.Status != nil {
		status, _ := domain.ParseStatus(*req.Status)
		patch.Status = &status
	}

	task, err := h.tasks.Update(r.Context(), id, patch)
	if err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	h.logger.Debug("task updated",
		slog.String("task_id", task.ID.String()),
		slog.Int64("version", task.Version))
	shared.RespondWithJSON(w, r, http.StatusOK, taskToResponse(task))
}

// DeleteTask handles DELETE /tasks/{id} requests.
func (h *TaskHandler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	id, err := getPathUUID(r, "id")
	if err != nil {
		shared.RespondWithError(w, r, http.StatusBadRequest, GetSafeErrorMessage(err))
		return
	}

	if _, err := h.tasks.Delete(r.Context(), id); err != nil {
		shared.RespondWithErrorAndLog(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err), err)
		return
	}

	h.logger.Debug("task deleted", slog.String("task_id", id.String()))
	w.WriteHeader(http.StatusNoContent)
}

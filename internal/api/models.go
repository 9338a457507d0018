package api

import (
	"time"

	"github.com/driftq/driftq/internal/domain"
	"github.com/driftq/driftq/internal/syncer"
)

// Common request/response structures

// CreateTaskRequest defines the payload for the task creation endpoint.
type CreateTaskRequest struct {
	Title       string     `json:"title"       validate:"required,max=500"`
	Description string     `json:"description" validate:"max=4000"`
	Priority    string     `json:"priority"    validate:"omitempty,oneof=low medium high"`
	DueDate     *time.Time `json:"due_date"`
}

// UpdateTaskRequest defines the payload for the task update endpoint.
// Nil fields are left untouched; ClearDueDate removes an existing due date.
type UpdateTaskRequest struct {
	Title        *string    `json:"title"          validate:"omitempty,max=500"`
	Description  *string    `json:"description"    validate:"omitempty,max=4000"`
	Priority     *string    `json:"priority"       validate:"omitempty,oneof=low medium high"`
	Status       *string    `json:"status"         validate:"omitempty,oneof=pending in-progress completed"`
	DueDate      *time.Time `json:"due_date"`
	ClearDueDate bool       `json:"clear_due_date"`
}

// TaskResponse defines the task representation returned by the API.
type TaskResponse struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Priority    string     `json:"priority"`
	Status      string     `json:"status"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	Version     int64      `json:"version"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// OperationResponse defines the sync operation representation returned by
// the API. The payload is omitted; callers inspect operations for their
// status and error, not for the task snapshot.
type OperationResponse struct {
	Seq           int64      `json:"seq"`
	ID            string     `json:"id"`
	Kind          string     `json:"kind"`
	TaskID        string     `json:"task_id"`
	Attempts      int        `json:"attempts"`
	Status        string     `json:"status"`
	LastError     string     `json:"last_error,omitempty"`
	NextAttemptAt *time.Time `json:"next_attempt_at,omitempty"`
	Superseded    bool       `json:"superseded,omitempty"`
	EnqueuedAt    time.Time  `json:"enqueued_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func taskToResponse(t *domain.Task) TaskResponse {
	return TaskResponse{
		ID:          t.ID.String(),
		Title:       t.Title,
		Description: t.Description,
		Priority:    string(t.Priority),
		Status:      string(t.Status),
		DueDate:     t.DueDate,
		Version:     t.Version,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

func operationToResponse(op *syncer.Operation) OperationResponse {
	return OperationResponse{
		Seq:           op.Seq,
		ID:            op.ID.String(),
		Kind:          string(op.Kind),
		TaskID:        op.TaskID.String(),
		Attempts:      op.Attempts,
		Status:        string(op.Status),
		LastError:     op.LastError,
		NextAttemptAt: op.NextAttemptAt,
		Superseded:    op.Superseded,
		EnqueuedAt:    op.EnqueuedAt,
		UpdatedAt:     op.UpdatedAt,
	}
}

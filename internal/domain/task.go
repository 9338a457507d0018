package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Task-specific validation errors
var (
	// ErrTaskIDEmpty is returned when a task ID is empty or nil.
	ErrTaskIDEmpty = fmt.Errorf("%w: task ID cannot be empty", ErrValidation)

	// ErrTaskTitleEmpty is returned when a task's title is empty.
	ErrTaskTitleEmpty = fmt.Errorf("%w: task title cannot be empty", ErrValidation)

	// ErrInvalidPriority is returned when a priority value is not recognized.
	ErrInvalidPriority = fmt.Errorf("%w: invalid priority", ErrValidation)

	// ErrInvalidStatus is returned when a status value is not recognized.
	ErrInvalidStatus = fmt.Errorf("%w: invalid status", ErrValidation)
)

// Priority represents the urgency of a task.
type Priority string

// Possible priority values
const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Valid reports whether p is a recognized priority value.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	}
	return false
}

// Status represents the completion state of a task.
type Status string

// Possible status values
const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
)

// Valid reports whether s is a recognized status value.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted:
		return true
	}
	return false
}

// Task is the authoritative local representation of a task entity.
// Version strictly increases on every mutation, local or remote-applied,
// and is the basis for optimistic concurrency against the remote endpoint.
type Task struct {
	ID          uuid.UUID  `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Priority    Priority   `json:"priority"`
	Status      Status     `json:"status"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	Version     int64      `json:"version"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// NewTask creates a Task with a fresh ID, version 1 and UTC timestamps.
// Priority and status default to medium/pending when left empty.
// Returns an error if validation fails.
func NewTask(title, description string, priority Priority, dueDate *time.Time) (*Task, error) {
	if priority == "" {
		priority = PriorityMedium
	}

	now := time.Now().UTC()
	task := &Task{
		ID:          uuid.New(),
		Title:       title,
		Description: description,
		Priority:    priority,
		Status:      StatusPending,
		DueDate:     dueDate,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := task.Validate(); err != nil {
		return nil, err
	}

	return task, nil
}

// Validate checks if the Task has valid data.
// Returns an error if any field fails validation.
func (t *Task) Validate() error {
	if t.ID == uuid.Nil {
		return ErrTaskIDEmpty
	}

	if t.Title == "" {
		return ErrTaskTitleEmpty
	}

	if !t.Priority.Valid() {
		return ErrInvalidPriority
	}

	if !t.Status.Valid() {
		return ErrInvalidStatus
	}

	return nil
}

// Clone returns a deep copy of the task. Stores hand out clones so callers
// can never mutate the authoritative record in place.
func (t *Task) Clone() *Task {
	clone := *t
	if t.DueDate != nil {
		due := *t.DueDate
		clone.DueDate = &due
	}
	return &clone
}

// TaskPatch describes a partial update to a task. Nil fields are left
// unchanged by the store.
type TaskPatch struct {
	Title       *string
	Description *string
	Priority    *Priority
	Status      *Status
	DueDate     *time.Time
	ClearDue    bool
}

// Apply merges the patch into the task, bumping nothing: version and
// timestamp bookkeeping belongs to the store's critical section.
// Returns an error if the patched task would be invalid.
func (p TaskPatch) Apply(t *Task) error {
	if p.Title != nil {
		t.Title = *p.Title
	}
	if p.Description != nil {
		t.Description = *p.Description
	}
	if p.Priority != nil {
		t.Priority = *p.Priority
	}
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.ClearDue {
		t.DueDate = nil
	} else if p.DueDate != nil {
		due := *p.DueDate
		t.DueDate = &due
	}
	return t.Validate()
}

// Empty reports whether the patch changes nothing.
func (p TaskPatch) Empty() bool {
	return p.Title == nil && p.Description == nil && p.Priority == nil &&
		p.Status == nil && p.DueDate == nil && !p.ClearDue
}

// ParsePriority converts a string into a Priority value.
func ParsePriority(s string) (Priority, error) {
	p := Priority(s)
	if !p.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidPriority, s)
	}
	return p, nil
}

// ParseStatus converts a string into a Status value.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !st.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
	return st, nil
}

// IsValidationError reports whether err is any kind of validation failure.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrValidation)
}

// Package store holds the authoritative local replica of task entities.
// All mutations pass through a single critical section so a remote-applied
// update and a concurrent local edit can never interleave inconsistently.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/driftq/driftq/internal/domain"
	"github.com/driftq/driftq/internal/events"
)

// CreateParams carries the caller-supplied fields for a new task.
type CreateParams struct {
	Title       string
	Description string
	Priority    domain.Priority
	DueDate     *time.Time
}

// Filter narrows List results. Zero-value fields match everything.
type Filter struct {
	// Status restricts results to tasks with this status.
	Status *domain.Status

	// Priority restricts results to tasks with this priority.
	Priority *domain.Priority

	// Search is a case-insensitive substring match over title and
	// description.
	Search string
}

// TaskStore owns the task records. Every successful mutation emits a change
// event; that event is the store's only side effect and is how the sync
// layer learns about local edits.
type TaskStore struct {
	mu      sync.Mutex
	tasks   map[uuid.UUID]*domain.Task
	emitter events.Emitter
	logger  *slog.Logger

	// emitMu is acquired before mu is released so events leave in the same
	// order as the mutations that produced them. Subscribers run outside mu
	// and may call back into the store, but must not mutate it from inside
	// a handler.
	emitMu sync.Mutex
}

// NewTaskStore creates an empty TaskStore publishing changes to emitter.
func NewTaskStore(emitter events.Emitter, logger *slog.Logger) *TaskStore {
	return &TaskStore{
		tasks:   make(map[uuid.UUID]*domain.Task),
		emitter: emitter,
		logger:  logger.With("component", "task_store"),
	}
}

// Create validates and stores a new task at version 1.
// Returns a validation error synchronously; no sync operation is produced
// for rejected input.
func (s *TaskStore) Create(ctx context.Context, params CreateParams) (*domain.Task, error) {
	task, err := domain.NewTask(params.Title, params.Description, params.Priority, params.DueDate)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.tasks[task.ID] = task
	snapshot := task.Clone()
	s.emitMu.Lock()
	s.mu.Unlock()

	s.logger.Debug("task created", "task_id", task.ID, "title", task.Title)
	s.emit(ctx, events.ChangeCreated, snapshot, false)
	s.emitMu.Unlock()
	return snapshot, nil
}

// Update applies a partial update, bumps the version and refreshes
// UpdatedAt. Returns domain.ErrNotFound if the id is absent.
func (s *TaskStore) Update(ctx context.Context, id uuid.UUID, patch domain.TaskPatch) (*domain.Task, error) {
	s.mu.Lock()
	task, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}

	updated := task.Clone()
	if err := patch.Apply(updated); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	updated.Version++
	updated.UpdatedAt = time.Now().UTC()

	s.tasks[id] = updated
	snapshot := updated.Clone()
	s.emitMu.Lock()
	s.mu.Unlock()

	s.logger.Debug("task updated", "task_id", id, "version", snapshot.Version)
	s.emit(ctx, events.ChangeUpdated, snapshot, false)
	s.emitMu.Unlock()
	return snapshot, nil
}

// Delete removes a task, returning its final state with the version bumped.
// Returns domain.ErrNotFound if the id is absent.
func (s *TaskStore) Delete(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	s.mu.Lock()
	task, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}

	final := task.Clone()
	final.Version++
	final.UpdatedAt = time.Now().UTC()
	delete(s.tasks, id)
	s.emitMu.Lock()
	s.mu.Unlock()

	s.logger.Debug("task deleted", "task_id", id)
	s.emit(ctx, events.ChangeDeleted, final, false)
	s.emitMu.Unlock()
	return final, nil
}

// Get returns a copy of the task or domain.ErrNotFound.
func (s *TaskStore) Get(_ context.Context, id uuid.UUID) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrNotFound, id)
	}
	return task.Clone(), nil
}

// List returns tasks matching the filter, ordered by UpdatedAt descending
// with ties broken by id.
func (s *TaskStore) List(_ context.Context, filter Filter) ([]*domain.Task, error) {
	s.mu.Lock()
	matched := make([]*domain.Task, 0, len(s.tasks))
	for _, task := range s.tasks {
		if filter.matches(task) {
			matched = append(matched, task.Clone())
		}
	}
	s.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].UpdatedAt.Equal(matched[j].UpdatedAt) {
			return matched[i].UpdatedAt.After(matched[j].UpdatedAt)
		}
		return matched[i].ID.String() < matched[j].ID.String()
	})
	return matched, nil
}

// ApplyRemote installs server-confirmed state for a task. It is the sync
// layer's write-back path and the only mutation that does not originate
// from a local caller. The version must not move backwards.
func (s *TaskStore) ApplyRemote(ctx context.Context, task *domain.Task) error {
	if err := task.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	existing, ok := s.tasks[task.ID]
	if ok && task.Version < existing.Version {
		s.mu.Unlock()
		return fmt.Errorf("%w: remote version %d behind local %d for task %s",
			domain.ErrConflict, task.Version, existing.Version, task.ID)
	}
	s.tasks[task.ID] = task.Clone()
	snapshot := task.Clone()
	s.emitMu.Lock()
	s.mu.Unlock()

	kind := events.ChangeUpdated
	if !ok {
		kind = events.ChangeCreated
	}
	s.logger.Debug("remote state applied", "task_id", task.ID, "version", task.Version)
	s.emit(ctx, kind, snapshot, true)
	s.emitMu.Unlock()
	return nil
}

// RemoveRemote deletes a task confirmed gone on the server. Missing ids are
// a no-op: the deletion already took effect locally.
func (s *TaskStore) RemoveRemote(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	task, ok := s.tasks[id]
	if !ok {
		s.mu.Unlock()
		return nil
	}
	final := task.Clone()
	delete(s.tasks, id)
	s.emitMu.Lock()
	s.mu.Unlock()

	s.logger.Debug("remote deletion applied", "task_id", id)
	s.emit(ctx, events.ChangeDeleted, final, true)
	s.emitMu.Unlock()
	return nil
}

// Len returns the number of stored tasks.
func (s *TaskStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// emit publishes a change event. Called with emitMu held and mu released,
// so subscribers may read from the store but events for one task can never
// overtake each other.
func (s *TaskStore) emit(ctx context.Context, kind events.ChangeKind, task *domain.Task, remote bool) {
	if s.emitter == nil {
		return
	}
	if err := s.emitter.Emit(ctx, events.NewChangeEvent(kind, task, remote)); err != nil {
		s.logger.Error("change event delivery failed",
			"task_id", task.ID,
			"kind", kind,
			"error", err)
	}
}

func (f Filter) matches(task *domain.Task) bool {
	if f.Status != nil && task.Status != *f.Status {
		return false
	}
	if f.Priority != nil && task.Priority != *f.Priority {
		return false
	}
	if f.Search != "" {
		needle := strings.ToLower(f.Search)
		if !strings.Contains(strings.ToLower(task.Title), needle) &&
			!strings.Contains(strings.ToLower(task.Description), needle) {
			return false
		}
	}
	return true
}

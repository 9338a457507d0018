package events

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/driftq/driftq/internal/domain"
)

// ChangeKind identifies the mutation a ChangeEvent describes.
type ChangeKind string

// Possible change kinds
const (
	ChangeCreated ChangeKind = "created"
	ChangeUpdated ChangeKind = "updated"
	ChangeDeleted ChangeKind = "deleted"
)

// ChangeEvent describes one committed mutation of the task store. It carries
// a snapshot of the task at commit time so handlers never race with later
// mutations.
type ChangeEvent struct {
	// ID is a unique identifier for this event
	ID uuid.UUID `json:"id"`

	// Kind indicates which mutation produced the event
	Kind ChangeKind `json:"kind"`

	// Task is the entity snapshot after the mutation. For deletions it is
	// the last state the task had before removal.
	Task *domain.Task `json:"task"`

	// RemoteOrigin is true when the change was applied by the sync layer
	// from a server response rather than by a local caller. The sync layer
	// ignores such events to avoid echo loops; UI subscribers usually
	// render them the same way.
	RemoteOrigin bool `json:"remote_origin"`

	// OccurredAt is the timestamp when the event was created
	OccurredAt time.Time `json:"occurred_at"`
}

// NewChangeEvent creates a ChangeEvent for the given mutation, snapshotting
// the task so the emitting store can keep mutating its own copy.
func NewChangeEvent(kind ChangeKind, task *domain.Task, remoteOrigin bool) *ChangeEvent {
	return &ChangeEvent{
		ID:           uuid.New(),
		Kind:         kind,
		Task:         task.Clone(),
		RemoteOrigin: remoteOrigin,
		OccurredAt:   time.Now().UTC(),
	}
}

// Handler defines an interface for components that consume change events.
type Handler interface {
	// HandleChange processes the given event within the provided context.
	// Returns an error if the event cannot be handled successfully.
	HandleChange(ctx context.Context, event *ChangeEvent) error
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx context.Context, event *ChangeEvent) error

// HandleChange calls f(ctx, event).
func (f HandlerFunc) HandleChange(ctx context.Context, event *ChangeEvent) error {
	return f(ctx, event)
}

// Emitter defines an interface for components that publish change events.
// This lets the store notify subscribers without direct knowledge of them.
type Emitter interface {
	// Emit publishes the given event to all registered handlers.
	// Returns an error if the event cannot be emitted.
	Emit(ctx context.Context, event *ChangeEvent) error
}

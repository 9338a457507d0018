package syncer

import (
	"time"

	"github.com/google/uuid"

	"github.com/driftq/driftq/internal/domain"
	"github.com/driftq/driftq/internal/events"
)

// Kind identifies the remote-side effect an operation intends.
type Kind string

// Possible operation kinds
const (
	KindCreate Kind = "create"
	KindUpdate Kind = "update"
	KindDelete Kind = "delete"
)

// OpStatus represents the current state of a sync operation.
type OpStatus string

// Possible operation status values
const (
	OpStatusQueued         OpStatus = "queued"
	OpStatusInFlight       OpStatus = "in-flight"
	OpStatusRetryScheduled OpStatus = "retry-scheduled"
	OpStatusSucceeded      OpStatus = "succeeded"
	OpStatusAbandoned      OpStatus = "abandoned"
)

// Terminal reports whether s is a terminal state. Terminal operations are
// never re-submitted by recovery.
func (s OpStatus) Terminal() bool {
	return s == OpStatusSucceeded || s == OpStatusAbandoned
}

// Operation is one durable, at-least-once-deliverable intent derived from a
// local mutation. The payload is the task snapshot at enqueue time; it is
// what gets pushed to the remote endpoint, whatever the task looks like by
// the time a worker picks the operation up.
type Operation struct {
	// Seq is the monotonic sequence number assigned by the log on append.
	Seq int64 `json:"seq"`

	// ID is a unique identifier for this operation, also used as the
	// deterministic conflict tiebreak.
	ID uuid.UUID `json:"id"`

	Kind   Kind      `json:"kind"`
	TaskID uuid.UUID `json:"task_id"`

	// Payload is the task snapshot at enqueue time.
	Payload *domain.Task `json:"payload"`

	// Attempts counts execution attempts so far.
	Attempts int `json:"attempts"`

	Status OpStatus `json:"status"`

	// LastError preserves the most recent failure, kept even after the
	// operation is abandoned so it stays inspectable.
	LastError string `json:"last_error,omitempty"`

	// NextAttemptAt gates re-execution after a retryable failure.
	NextAttemptAt *time.Time `json:"next_attempt_at,omitempty"`

	// Superseded marks an operation whose change lost last-writer-wins
	// resolution. The operation still counts as succeeded.
	Superseded bool `json:"superseded"`

	EnqueuedAt time.Time `json:"enqueued_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// NewOperation builds a queued operation from a store change event.
func NewOperation(event *events.ChangeEvent) *Operation {
	now := time.Now().UTC()
	return &Operation{
		ID:         uuid.New(),
		Kind:       kindFor(event.Kind),
		TaskID:     event.Task.ID,
		Payload:    event.Task.Clone(),
		Status:     OpStatusQueued,
		EnqueuedAt: now,
		UpdatedAt:  now,
	}
}

// Clone returns a deep copy of the operation.
func (o *Operation) Clone() *Operation {
	clone := *o
	if o.Payload != nil {
		clone.Payload = o.Payload.Clone()
	}
	if o.NextAttemptAt != nil {
		next := *o.NextAttemptAt
		clone.NextAttemptAt = &next
	}
	return &clone
}

func kindFor(change events.ChangeKind) Kind {
	switch change {
	case events.ChangeCreated:
		return KindCreate
	case events.ChangeDeleted:
		return KindDelete
	default:
		return KindUpdate
	}
}

// basePriority orders operation kinds when the scheduler has a choice:
// creates must land before updates or deletes that may reference them on
// the remote side, deletes beat plain edits.
func (o *Operation) basePriority() int {
	switch o.Kind {
	case KindCreate:
		return 3
	case KindDelete:
		return 2
	default:
		return 1
	}
}

// SchedulingPriority derives the scheduler priority from kind and age.
// Operations waiting longer than agePromotion get bumped one level so old
// edits cannot starve behind a stream of fresh creates.
func (o *Operation) SchedulingPriority(now time.Time, agePromotion time.Duration) int {
	p := o.basePriority()
	if agePromotion > 0 && now.Sub(o.EnqueuedAt) > agePromotion {
		p++
	}
	return p
}

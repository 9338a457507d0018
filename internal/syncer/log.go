package syncer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/driftq/driftq/internal/domain"
)

// Log errors
var (
	// ErrOperationNotFound is returned when a sequence number is absent
	// from the log.
	ErrOperationNotFound = fmt.Errorf("%w: sync operation", domain.ErrNotFound)

	// ErrNotAbandoned is returned when dismissal is attempted on an
	// operation that is not in the abandoned state.
	ErrNotAbandoned = errors.New("operation is not abandoned")
)

// LogFilter narrows List results. The zero value matches everything.
type LogFilter struct {
	Status OpStatus
}

// OperationLog is the durable, append-only record of sync operations. The
// manager is its only writer. Implementations must assign monotonically
// increasing sequence numbers on append and preserve entries until they
// are explicitly dismissed.
type OperationLog interface {
	// Append persists a new operation and returns its sequence number.
	Append(ctx context.Context, op *Operation) (int64, error)

	// Update rewrites the stored state of an operation identified by Seq.
	Update(ctx context.Context, op *Operation) error

	// Get returns the operation with the given sequence number.
	Get(ctx context.Context, seq int64) (*Operation, error)

	// Unfinished returns every non-terminal operation in sequence order.
	// Used on startup to resume interrupted work.
	Unfinished(ctx context.Context) ([]*Operation, error)

	// List returns operations matching the filter in sequence order.
	List(ctx context.Context, filter LogFilter) ([]*Operation, error)

	// Dismiss removes an abandoned operation after explicit user or
	// administrative review. Returns ErrNotAbandoned for any other state.
	Dismiss(ctx context.Context, seq int64) error
}

// MemoryLog is an in-memory OperationLog for tests and ephemeral mode
// (no database configured). Mutations made through it do not survive a
// restart.
type MemoryLog struct {
	mu   sync.Mutex
	next int64
	ops  map[int64]*Operation
}

// NewMemoryLog creates an empty MemoryLog.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{ops: make(map[int64]*Operation)}
}

// Append persists a new operation and returns its sequence number.
func (l *MemoryLog) Append(_ context.Context, op *Operation) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.next++
	stored := op.Clone()
	stored.Seq = l.next
	l.ops[stored.Seq] = stored
	op.Seq = stored.Seq
	return stored.Seq, nil
}

// Update rewrites the stored state of an operation.
func (l *MemoryLog) Update(_ context.Context, op *Operation) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.ops[op.Seq]; !ok {
		return fmt.Errorf("%w: seq %d", ErrOperationNotFound, op.Seq)
	}
	l.ops[op.Seq] = op.Clone()
	return nil
}

// Get returns the operation with the given sequence number.
func (l *MemoryLog) Get(_ context.Context, seq int64) (*Operation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	op, ok := l.ops[seq]
	if !ok {
		return nil, fmt.Errorf("%w: seq %d", ErrOperationNotFound, seq)
	}
	return op.Clone(), nil
}

// Unfinished returns every non-terminal operation in sequence order.
func (l *MemoryLog) Unfinished(ctx context.Context) ([]*Operation, error) {
	return l.collect(func(op *Operation) bool { return !op.Status.Terminal() })
}

// List returns operations matching the filter in sequence order.
func (l *MemoryLog) List(_ context.Context, filter LogFilter) ([]*Operation, error) {
	return l.collect(func(op *Operation) bool {
		return filter.Status == "" || op.Status == filter.Status
	})
}

// Dismiss removes an abandoned operation.
func (l *MemoryLog) Dismiss(_ context.Context, seq int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	op, ok := l.ops[seq]
	if !ok {
		return fmt.Errorf("%w: seq %d", ErrOperationNotFound, seq)
	}
	if op.Status != OpStatusAbandoned {
		return fmt.Errorf("%w: seq %d is %s", ErrNotAbandoned, seq, op.Status)
	}
	delete(l.ops, seq)
	return nil
}

func (l *MemoryLog) collect(keep func(*Operation) bool) ([]*Operation, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]*Operation, 0, len(l.ops))
	for _, op := range l.ops {
		if keep(op) {
			out = append(out, op.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/driftq/driftq/internal/domain"
	"github.com/driftq/driftq/internal/syncer"
)

// OperationLog implements syncer.OperationLog on PostgreSQL. Sequence
// numbers come from a BIGSERIAL column, so they are monotonic across
// process restarts.
type OperationLog struct {
	db DBTX
}

// NewOperationLog creates an OperationLog over db.
func NewOperationLog(db DBTX) *OperationLog {
	return &OperationLog{db: db}
}

const operationColumns = `seq, id, kind, task_id, payload, attempts, status,
	last_error, next_attempt_at, superseded, enqueued_at, updated_at`

// Append persists a new operation and returns its sequence number.
func (l *OperationLog) Append(ctx context.Context, op *syncer.Operation) (int64, error) {
	payload, err := json.Marshal(op.Payload)
	if err != nil {
		return 0, fmt.Errorf("encoding operation payload: %w", err)
	}

	query := `
		INSERT INTO sync_operations
			(id, kind, task_id, payload, attempts, status, last_error,
			 next_attempt_at, superseded, enqueued_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING seq
	`

	var seq int64
	err = l.db.QueryRowContext(ctx, query,
		op.ID,
		op.Kind,
		op.TaskID,
		payload,
		op.Attempts,
		op.Status,
		op.LastError,
		op.NextAttemptAt,
		op.Superseded,
		op.EnqueuedAt,
		op.UpdatedAt,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("appending sync operation: %w", err)
	}

	op.Seq = seq
	return seq, nil
}

// Update rewrites the stored state of an operation identified by Seq.
func (l *OperationLog) Update(ctx context.Context, op *syncer.Operation) error {
	payload, err := json.Marshal(op.Payload)
	if err != nil {
		return fmt.Errorf("encoding operation payload: %w", err)
	}

	query := `
		UPDATE sync_operations
		SET payload = $1, attempts = $2, status = $3, last_error = $4,
		    next_attempt_at = $5, superseded = $6, updated_at = $7
		WHERE seq = $8
	`

	result, err := l.db.ExecContext(ctx, query,
		payload,
		op.Attempts,
		op.Status,
		op.LastError,
		op.NextAttemptAt,
		op.Superseded,
		op.UpdatedAt,
		op.Seq,
	)
	if err != nil {
		return fmt.Errorf("updating sync operation: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: seq %d", syncer.ErrOperationNotFound, op.Seq)
	}
	return nil
}

// Get returns the operation with the given sequence number.
func (l *OperationLog) Get(ctx context.Context, seq int64) (*syncer.Operation, error) {
	query := `SELECT ` + operationColumns + ` FROM sync_operations WHERE seq = $1`

	op, err := scanOperation(l.db.QueryRowContext(ctx, query, seq))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: seq %d", syncer.ErrOperationNotFound, seq)
		}
		return nil, fmt.Errorf("loading sync operation: %w", err)
	}
	return op, nil
}

// Unfinished returns every non-terminal operation in sequence order.
func (l *OperationLog) Unfinished(ctx context.Context) ([]*syncer.Operation, error) {
	query := `
		SELECT ` + operationColumns + `
		FROM sync_operations
		WHERE status NOT IN ($1, $2)
		ORDER BY seq
	`
	return l.queryOperations(ctx, query, syncer.OpStatusSucceeded, syncer.OpStatusAbandoned)
}

// List returns operations matching the filter in sequence order.
func (l *OperationLog) List(ctx context.Context, filter syncer.LogFilter) ([]*syncer.Operation, error) {
	if filter.Status == "" {
		query := `SELECT ` + operationColumns + ` FROM sync_operations ORDER BY seq`
		return l.queryOperations(ctx, query)
	}
	query := `SELECT ` + operationColumns + ` FROM sync_operations WHERE status = $1 ORDER BY seq`
	return l.queryOperations(ctx, query, filter.Status)
}

// Dismiss removes an abandoned operation after explicit review.
func (l *OperationLog) Dismiss(ctx context.Context, seq int64) error {
	op, err := l.Get(ctx, seq)
	if err != nil {
		return err
	}
	if op.Status != syncer.OpStatusAbandoned {
		return fmt.Errorf("%w: seq %d is %s", syncer.ErrNotAbandoned, seq, op.Status)
	}

	_, err = l.db.ExecContext(ctx,
		`DELETE FROM sync_operations WHERE seq = $1 AND status = $2`,
		seq, syncer.OpStatusAbandoned)
	if err != nil {
		return fmt.Errorf("dismissing sync operation: %w", err)
	}
	return nil
}

func (l *OperationLog) queryOperations(ctx context.Context, query string, args ...any) ([]*syncer.Operation, error) {
	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying sync operations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ops []*syncer.Operation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning sync operation: %w", err)
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sync operations: %w", err)
	}
	return ops, nil
}

// rowScanner covers both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanOperation(row rowScanner) (*syncer.Operation, error) {
	var (
		op      syncer.Operation
		payload []byte
	)
	err := row.Scan(
		&op.Seq,
		&op.ID,
		&op.Kind,
		&op.TaskID,
		&payload,
		&op.Attempts,
		&op.Status,
		&op.LastError,
		&op.NextAttemptAt,
		&op.Superseded,
		&op.EnqueuedAt,
		&op.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(payload) > 0 && string(payload) != "null" {
		var task domain.Task
		if err := json.Unmarshal(payload, &task); err != nil {
			return nil, fmt.Errorf("decoding operation payload: %w", err)
		}
		op.Payload = &task
	}
	return &op, nil
}

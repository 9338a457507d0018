// Package syncer reconciles local task mutations with the remote source of
// truth: it owns the durable operation log, drains it through the scheduler
// under rate limiting and retry, and applies conflict resolutions back into
// the task store.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/driftq/driftq/internal/domain"
	"github.com/driftq/driftq/internal/events"
	"github.com/driftq/driftq/internal/ratelimit"
	"github.com/driftq/driftq/internal/retry"
	"github.com/driftq/driftq/internal/scheduler"
	"github.com/driftq/driftq/internal/store"
)

// Config holds manager tuning knobs.
type Config struct {
	// CallTimeout bounds each individual remote call. Expiry counts as a
	// transient failure.
	CallTimeout time.Duration

	// AgePromotion bumps an operation's scheduling priority once it has
	// waited this long. Zero disables promotion.
	AgePromotion time.Duration

	// RebaseLimit caps how many times a winning local change is rebased
	// onto a moving server version before the operation is abandoned.
	RebaseLimit int

	// NotificationBuffer sizes the async notification channel.
	NotificationBuffer int
}

// DefaultConfig returns a Config with reasonable defaults.
func DefaultConfig() Config {
	return Config{
		CallTimeout:        10 * time.Second,
		AgePromotion:       time.Minute,
		RebaseLimit:        3,
		NotificationBuffer: 64,
	}
}

// Notification surfaces a pipeline outcome that needs user attention.
// Abandoned operations are the main case; they stay in the log until
// explicitly dismissed.
type Notification struct {
	Op  *Operation
	Err error
}

// Manager drives sync operations through their lifecycle:
//
//	queued → in-flight → succeeded
//	                   → retry-scheduled → queued (after the backoff gate)
//	                   → abandoned
//
// It is the only writer to the operation log and the only component that
// applies remote-originated state into the task store.
type Manager struct {
	tasks   *store.TaskStore
	log     OperationLog
	sched   *scheduler.Scheduler
	limiter *ratelimit.Limiter
	policy  *retry.Policy
	remote  RemoteClient
	logger  *slog.Logger
	cfg     Config

	// mu guards the per-task serialization state. Operations on the same
	// task run in enqueue order: a second operation for a task is parked
	// until the first reaches a terminal state.
	mu     sync.Mutex
	active map[uuid.UUID]bool
	parked map[uuid.UUID][]*Operation

	notifications chan Notification
}

// NewManager wires a manager from its collaborators.
func NewManager(
	tasks *store.TaskStore,
	log OperationLog,
	sched *scheduler.Scheduler,
	limiter *ratelimit.Limiter,
	policy *retry.Policy,
	remote RemoteClient,
	cfg Config,
	logger *slog.Logger,
) *Manager {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultConfig().CallTimeout
	}
	if cfg.RebaseLimit <= 0 {
		cfg.RebaseLimit = DefaultConfig().RebaseLimit
	}
	if cfg.NotificationBuffer <= 0 {
		cfg.NotificationBuffer = DefaultConfig().NotificationBuffer
	}

	return &Manager{
		tasks:         tasks,
		log:           log,
		sched:         sched,
		limiter:       limiter,
		policy:        policy,
		remote:        remote,
		logger:        logger.With("component", "sync_manager"),
		cfg:           cfg,
		active:        make(map[uuid.UUID]bool),
		parked:        make(map[uuid.UUID][]*Operation),
		notifications: make(chan Notification, cfg.NotificationBuffer),
	}
}

// Notifications exposes asynchronous pipeline outcomes. The channel is
// never closed; when the buffer is full, overflow notifications are
// logged and discarded rather than blocking the pipeline.
func (m *Manager) Notifications() <-chan Notification {
	return m.notifications
}

// HandleChange turns a committed local mutation into a durable sync
// operation. Remote-originated changes are ignored to avoid echo loops.
// Implements events.Handler.
func (m *Manager) HandleChange(ctx context.Context, event *events.ChangeEvent) error {
	if event.RemoteOrigin {
		return nil
	}

	op := NewOperation(event)
	if _, err := m.log.Append(ctx, op); err != nil {
		m.logger.Error("failed to append operation to log",
			"task_id", op.TaskID,
			"kind", op.Kind,
			"error", err)
		return fmt.Errorf("appending sync operation: %w", err)
	}

	m.logger.Debug("operation enqueued",
		"seq", op.Seq,
		"op_id", op.ID,
		"kind", op.Kind,
		"task_id", op.TaskID)

	m.enqueue(op)
	return nil
}

// Start re-reads the durable log and re-submits every unfinished entry,
// in sequence order. Operations interrupted mid-flight by a crash revert
// to queued before resubmission. This is what makes the design
// offline-first: mutations made while disconnected drain automatically
// once connectivity and rate budget allow.
func (m *Manager) Start(ctx context.Context) error {
	ops, err := m.log.Unfinished(ctx)
	if err != nil {
		return fmt.Errorf("reading unfinished operations: %w", err)
	}

	m.logger.Info("recovering unfinished operations", "count", len(ops))

	for _, op := range ops {
		if op.Status == OpStatusInFlight {
			op.Status = OpStatusQueued
			op.UpdatedAt = time.Now().UTC()
			if err := m.log.Update(ctx, op); err != nil {
				m.logger.Error("failed to reset in-flight operation",
					"seq", op.Seq,
					"error", err)
				continue
			}
		}
		m.enqueue(op)
	}
	return nil
}

// Drain waits until every submitted operation has settled. Retry gates are
// honored, so draining with a failing remote can take the full backoff
// schedule.
func (m *Manager) Drain(ctx context.Context) error {
	return m.sched.Drain(ctx)
}

// enqueue submits the operation unless another operation for the same
// task is still unfinished, in which case it is parked to preserve
// per-task ordering.
func (m *Manager) enqueue(op *Operation) {
	m.mu.Lock()
	if m.active[op.TaskID] {
		m.parked[op.TaskID] = append(m.parked[op.TaskID], op)
		m.mu.Unlock()
		m.logger.Debug("operation parked behind in-flight sibling",
			"seq", op.Seq,
			"task_id", op.TaskID)
		return
	}
	m.active[op.TaskID] = true
	m.mu.Unlock()

	m.submit(op)
}

// submit hands the operation to the scheduler, honoring its backoff gate.
func (m *Manager) submit(op *Operation) {
	var runAt time.Time
	if op.NextAttemptAt != nil {
		runAt = *op.NextAttemptAt
	}
	priority := op.SchedulingPriority(time.Now().UTC(), m.cfg.AgePromotion)

	m.sched.Submit(priority, runAt, func(ctx context.Context) (any, error) {
		return nil, m.execute(ctx, op)
	})
}

// release marks the task free and lets the next parked operation through.
func (m *Manager) release(taskID uuid.UUID) {
	m.mu.Lock()
	queue := m.parked[taskID]
	if len(queue) == 0 {
		delete(m.active, taskID)
		m.mu.Unlock()
		return
	}
	next := queue[0]
	if len(queue) == 1 {
		delete(m.parked, taskID)
	} else {
		m.parked[taskID] = queue[1:]
	}
	m.mu.Unlock()

	m.submit(next)
}

// execute performs one scheduled attempt of an operation, including any
// conflict rebase rounds. Cancellation is observed at the checkpoints:
// before the remote call and before scheduling a retry.
func (m *Manager) execute(ctx context.Context, op *Operation) error {
	if err := ctx.Err(); err != nil {
		// Shutdown before the attempt started: the log entry stays
		// non-terminal and recovery will pick it up.
		return err
	}

	op.Status = OpStatusInFlight
	op.Attempts++
	op.UpdatedAt = time.Now().UTC()
	if err := m.log.Update(context.Background(), op); err != nil {
		m.logger.Error("failed to persist in-flight transition", "seq", op.Seq, "error", err)
	}

	logger := m.logger.With("seq", op.Seq, "op_id", op.ID, "kind", op.Kind,
		"task_id", op.TaskID, "attempt", op.Attempts)
	logger.Debug("executing operation")

	for rebase := 0; ; rebase++ {
		callCtx, cancel := callTimeoutContext(ctx, m.cfg.CallTimeout)

		if err := m.limiter.Acquire(callCtx); err != nil {
			cancel()
			if errors.Is(err, context.Canceled) {
				// Shutdown while waiting for rate budget: no call was
				// made, so the attempt does not count. The entry stays
				// in-flight in the log and recovery resubmits it.
				op.Attempts--
				op.UpdatedAt = time.Now().UTC()
				if uerr := m.log.Update(context.Background(), op); uerr != nil {
					logger.Error("failed to persist interrupted attempt", "error", uerr)
				}
				return err
			}
			return m.fail(op, err, logger)
		}

		remoteTask, err := m.remote.Push(callCtx, op)
		cancel()

		if err == nil {
			if remoteTask == nil && op.Kind != KindDelete {
				return m.fail(op, fmt.Errorf("%w: empty response for %s", domain.ErrRemoteServer, op.Kind), logger)
			}
			res := Resolve(op, remoteTask)
			if res.Outcome == OutcomeLocalWins {
				if rebase >= m.cfg.RebaseLimit {
					return m.abandon(op, fmt.Errorf("%w: rebase limit %d exceeded",
						domain.ErrConflict, m.cfg.RebaseLimit), logger)
				}
				op.Payload.Version = remoteTask.Version
				logger.Debug("local change won resolution, rebasing", "server_version", remoteTask.Version)
				continue
			}
			return m.accept(ctx, op, res, logger)
		}

		var conflict *ConflictError
		switch {
		case errors.As(err, &conflict):
			res := Resolve(op, conflict.Server)
			if res.Outcome == OutcomeLocalWins {
				if rebase >= m.cfg.RebaseLimit {
					return m.abandon(op, fmt.Errorf("%w: rebase limit %d exceeded",
						domain.ErrConflict, m.cfg.RebaseLimit), logger)
				}
				op.Payload.Version = conflict.Server.Version
				logger.Debug("conflict: local change wins, rebasing", "server_version", conflict.Server.Version)
				continue
			}
			return m.accept(ctx, op, res, logger)

		case errors.Is(err, ErrRemoteGone):
			if op.Kind == KindDelete {
				// Already gone remotely: the intended effect holds.
				return m.accept(ctx, op, Resolution{Outcome: OutcomeAcceptRemote}, logger)
			}
			return m.abandon(op, err, logger)

		default:
			return m.fail(op, err, logger)
		}
	}
}

// accept installs the resolved state locally and marks the operation
// succeeded, flagged superseded when the local change lost.
func (m *Manager) accept(ctx context.Context, op *Operation, res Resolution, logger *slog.Logger) error {
	if res.Winner == nil {
		if err := m.tasks.RemoveRemote(ctx, op.TaskID); err != nil {
			logger.Error("failed to apply remote deletion", "error", err)
		}
	} else {
		if err := m.tasks.ApplyRemote(ctx, res.Winner); err != nil {
			logger.Error("failed to apply remote state", "error", err)
		}
	}

	op.Status = OpStatusSucceeded
	op.Superseded = res.Superseded
	op.NextAttemptAt = nil
	op.LastError = ""
	op.UpdatedAt = time.Now().UTC()
	if err := m.log.Update(context.Background(), op); err != nil {
		logger.Error("failed to persist terminal state", "error", err)
	}

	if res.Superseded {
		logger.Info("operation superseded by remote write")
	} else {
		logger.Debug("operation succeeded")
	}
	m.release(op.TaskID)
	return nil
}

// fail consults the retry policy: transient errors within budget get a
// backoff gate and a re-submission, anything else is abandoned.
func (m *Manager) fail(op *Operation, cause error, logger *slog.Logger) error {
	op.LastError = cause.Error()

	if !m.policy.ShouldRetry(cause, op.Attempts) {
		return m.abandon(op, cause, logger)
	}

	delay := m.policy.NextDelay(op.Attempts)
	next := time.Now().UTC().Add(delay)
	op.Status = OpStatusRetryScheduled
	op.NextAttemptAt = &next
	op.UpdatedAt = time.Now().UTC()
	if err := m.log.Update(context.Background(), op); err != nil {
		logger.Error("failed to persist retry schedule", "error", err)
	}

	logger.Warn("operation failed, retry scheduled",
		"error", cause,
		"delay", delay,
		"next_attempt_at", next)

	// Same operation, same per-task slot: resubmit without releasing.
	m.submit(op)
	return cause
}

// abandon is the terminal failure path. The operation stays in the log
// with its error preserved until a user dismisses it.
func (m *Manager) abandon(op *Operation, cause error, logger *slog.Logger) error {
	op.Status = OpStatusAbandoned
	op.LastError = cause.Error()
	op.NextAttemptAt = nil
	op.UpdatedAt = time.Now().UTC()
	if err := m.log.Update(context.Background(), op); err != nil {
		logger.Error("failed to persist abandoned state", "error", err)
	}

	logger.Error("operation abandoned", "error", cause, "attempts", op.Attempts)

	m.release(op.TaskID)
	m.notify(Notification{Op: op.Clone(), Err: fmt.Errorf("%w: %v", domain.ErrAbandoned, cause)})
	return fmt.Errorf("%w: %v", domain.ErrAbandoned, cause)
}

func (m *Manager) notify(n Notification) {
	select {
	case m.notifications <- n:
	default:
		m.logger.Warn("notification channel full, dropping",
			"seq", n.Op.Seq,
			"error", n.Err)
	}
}

// Package scheduler provides a bounded-concurrency work queue: an unbounded
// priority queue drained by a fixed pool of workers, with a not-ready-before
// gate per item for backoff scheduling.
package scheduler

import (
	"container/heap"
	"context"
	"log/slog"
	"sync"
	"time"
)

// ExecuteFunc is one executable unit of work. It must honor ctx
// cancellation at its checkpoints; arbitrary preemption is not supported.
type ExecuteFunc func(ctx context.Context) (any, error)

// Config holds scheduler configuration.
type Config struct {
	// Workers is the fixed number of concurrent execution slots.
	// If zero or negative, defaults to 3.
	Workers int
}

// DefaultConfig returns a Config with reasonable defaults.
func DefaultConfig() Config {
	return Config{Workers: 3}
}

// Scheduler executes submitted items with at most Workers running at once.
// Workers always pull the highest-priority due item, ties broken by
// enqueue order.
type Scheduler struct {
	mu      sync.Mutex
	ready   readyQueue
	waiting waitingQueue
	seq     uint64
	running int
	stopped bool

	// signal wakes one idle worker after a submit, a gate expiry
	// re-check, or a completion.
	signal chan struct{}

	// waiters are Drain callers parked until the queue goes idle.
	waiters []chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *slog.Logger

	// now is the clock source, replaceable in tests.
	now func() time.Time
}

// New creates a scheduler and starts its worker pool.
func New(cfg Config, logger *slog.Logger) *Scheduler {
	workers := cfg.Workers
	if workers <= 0 {
		workers = DefaultConfig().Workers
		logger.Warn("invalid worker count specified, using default",
			"specified_count", cfg.Workers,
			"default_count", workers)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		signal: make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
		logger: logger.With("component", "scheduler"),
		now:    time.Now,
	}

	for i := 0; i < workers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
	return s
}

// Submit enqueues a work item and returns immediately with its handle.
// Priority orders execution (higher first); runAt, when non-zero, gates the
// item until that instant. Submitting to a stopped scheduler completes the
// handle with ErrCanceled.
func (s *Scheduler) Submit(priority int, runAt time.Time, execute ExecuteFunc) *Handle {
	handle := newHandle()

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		handle.complete(nil, ErrCanceled)
		return handle
	}
	s.seq++
	it := &item{
		priority: priority,
		runAt:    runAt,
		seq:      s.seq,
		execute:  execute,
		handle:   handle,
	}
	if runAt.IsZero() || !runAt.After(s.now()) {
		heap.Push(&s.ready, it)
	} else {
		heap.Push(&s.waiting, it)
	}
	s.mu.Unlock()

	s.wake()
	return handle
}

// Drain blocks until no items are queued, gated or running, or until ctx
// expires. Used for deterministic shutdown and testing.
func (s *Scheduler) Drain(ctx context.Context) error {
	for {
		s.mu.Lock()
		if len(s.ready) == 0 && len(s.waiting) == 0 && s.running == 0 {
			s.mu.Unlock()
			return nil
		}
		waiter := make(chan struct{}, 1)
		s.waiters = append(s.waiters, waiter)
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-waiter:
		}
	}
}

// Stop shuts the pool down. Queued items complete with ErrCanceled;
// in-flight items see their context canceled and finish cooperatively.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	pending := make([]*item, 0, len(s.ready)+len(s.waiting))
	for s.ready.Len() > 0 {
		pending = append(pending, heap.Pop(&s.ready).(*item))
	}
	for s.waiting.Len() > 0 {
		pending = append(pending, heap.Pop(&s.waiting).(*item))
	}
	s.mu.Unlock()

	for _, it := range pending {
		it.handle.complete(nil, ErrCanceled)
	}

	s.cancel()
	s.wg.Wait()
	s.notifyWaiters()
	s.logger.Info("scheduler stopped", "canceled_items", len(pending))
}

// Running returns the number of currently executing items.
func (s *Scheduler) Running() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Queued returns the number of items waiting for a worker or a gate.
func (s *Scheduler) Queued() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ready) + len(s.waiting)
}

func (s *Scheduler) wake() {
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *Scheduler) notifyWaiters() {
	s.mu.Lock()
	waiters := s.waiters
	s.waiters = nil
	s.mu.Unlock()
	for _, w := range waiters {
		select {
		case w <- struct{}{}:
		default:
		}
	}
}

// worker pulls and executes items until the scheduler stops.
func (s *Scheduler) worker(id int) {
	defer s.wg.Done()

	s.logger.Debug("starting worker", "worker_id", id)

	for {
		it, nextGate := s.next()
		if it != nil {
			// Coalesced submit signals: let an idle peer re-check for
			// more ready work before this slot goes busy.
			s.wake()
			s.run(it, id)
			s.wake()
			continue
		}

		var gateTimer *time.Timer
		var gateC <-chan time.Time
		if !nextGate.IsZero() {
			wait := nextGate.Sub(s.now())
			if wait < 0 {
				wait = 0
			}
			gateTimer = time.NewTimer(wait)
			gateC = gateTimer.C
		}

		select {
		case <-s.ctx.Done():
			if gateTimer != nil {
				gateTimer.Stop()
			}
			s.logger.Debug("stopping worker", "worker_id", id)
			return
		case <-s.signal:
		case <-gateC:
		}
		if gateTimer != nil {
			gateTimer.Stop()
		}
	}
}

// next pops the highest-priority due item, first promoting gated items
// whose RunAt has passed. When nothing is due it returns the earliest gate
// time, zero if the queue is empty.
func (s *Scheduler) next() (*item, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for s.waiting.Len() > 0 && !s.waiting[0].runAt.After(now) {
		heap.Push(&s.ready, heap.Pop(&s.waiting).(*item))
	}

	for s.ready.Len() > 0 {
		it := heap.Pop(&s.ready).(*item)
		if it.handle.Canceled() {
			// Lazily dropped; completion happens outside the lock.
			s.mu.Unlock()
			it.handle.complete(nil, ErrCanceled)
			s.mu.Lock()
			continue
		}
		s.running++
		return it, time.Time{}
	}

	if s.waiting.Len() > 0 {
		return nil, s.waiting[0].runAt
	}
	return nil, time.Time{}
}

// run executes one item to completion and settles its handle exactly once.
func (s *Scheduler) run(it *item, workerID int) {
	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	defer func() {
		s.mu.Lock()
		s.running--
		idle := len(s.ready) == 0 && len(s.waiting) == 0 && s.running == 0
		s.mu.Unlock()
		if idle {
			s.notifyWaiters()
		}
	}()

	if !it.handle.beginRun(cancel) {
		it.handle.complete(nil, ErrCanceled)
		return
	}

	s.logger.Debug("executing item",
		"worker_id", workerID,
		"priority", it.priority,
		"seq", it.seq)

	value, err := it.execute(ctx)
	it.handle.complete(value, err)
}

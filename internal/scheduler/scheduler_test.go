package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSchedulerExecutesSubmittedWork(t *testing.T) {
	t.Parallel()

	s := New(Config{Workers: 2}, testLogger())
	defer s.Stop()

	handle := s.Submit(0, time.Time{}, func(ctx context.Context) (any, error) {
		return "done", nil
	})

	value, err := handle.Result(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "done", value)
}

func TestSchedulerPropagatesExecutionError(t *testing.T) {
	t.Parallel()

	s := New(Config{Workers: 1}, testLogger())
	defer s.Stop()

	wantErr := errors.New("remote call failed")
	handle := s.Submit(0, time.Time{}, func(ctx context.Context) (any, error) {
		return nil, wantErr
	})

	_, err := handle.Result(context.Background())
	assert.ErrorIs(t, err, wantErr)
}

func TestSchedulerConcurrencyBound(t *testing.T) {
	t.Parallel()

	const workers = 2
	s := New(Config{Workers: workers}, testLogger())
	defer s.Stop()

	var current, peak atomic.Int32

	handles := make([]*Handle, 0, 10)
	for i := 0; i < 10; i++ {
		handles = append(handles, s.Submit(0, time.Time{}, func(ctx context.Context) (any, error) {
			n := current.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(20 * time.Millisecond)
			current.Add(-1)
			return nil, nil
		}))
	}

	for _, h := range handles {
		_, err := h.Result(context.Background())
		require.NoError(t, err)
	}

	assert.LessOrEqual(t, peak.Load(), int32(workers),
		"more than %d units ran concurrently", workers)
}

func TestSchedulerConcurrencyBoundRandomized(t *testing.T) {
	t.Parallel()

	const workers = 3
	s := New(Config{Workers: workers}, testLogger())
	defer s.Stop()

	var current, peak atomic.Int32
	rng := rand.New(rand.NewSource(7))

	var wg sync.WaitGroup
	for g := 0; g < 5; g++ {
		wg.Add(1)
		sleep := time.Duration(rng.Intn(3)) * time.Millisecond
		go func(sleep time.Duration) {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				time.Sleep(sleep)
				s.Submit(i%3, time.Time{}, func(ctx context.Context) (any, error) {
					n := current.Add(1)
					for {
						p := peak.Load()
						if n <= p || peak.CompareAndSwap(p, n) {
							break
						}
					}
					time.Sleep(time.Millisecond)
					current.Add(-1)
					return nil, nil
				})
			}
		}(sleep)
	}
	wg.Wait()

	require.NoError(t, s.Drain(context.Background()))
	assert.LessOrEqual(t, peak.Load(), int32(workers))
}

func TestSchedulerPriorityOrdering(t *testing.T) {
	t.Parallel()

	s := New(Config{Workers: 1}, testLogger())
	defer s.Stop()

	// Park the single worker so queued items pile up and get reordered.
	release := make(chan struct{})
	blocker := s.Submit(0, time.Time{}, func(ctx context.Context) (any, error) {
		<-release
		return nil, nil
	})

	var (
		mu    sync.Mutex
		order []string
	)
	record := func(name string) ExecuteFunc {
		return func(ctx context.Context) (any, error) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil, nil
		}
	}

	// Wait for the blocker to occupy the worker slot.
	require.Eventually(t, func() bool { return s.Running() == 1 },
		time.Second, time.Millisecond)

	s.Submit(1, time.Time{}, record("low-a"))
	s.Submit(5, time.Time{}, record("high"))
	s.Submit(1, time.Time{}, record("low-b"))
	s.Submit(3, time.Time{}, record("mid"))

	close(release)
	_, err := blocker.Result(context.Background())
	require.NoError(t, err)
	require.NoError(t, s.Drain(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"high", "mid", "low-a", "low-b"}, order,
		"expected priority order with FIFO within equal priority")
}

func TestSchedulerRunAtGate(t *testing.T) {
	t.Parallel()

	s := New(Config{Workers: 2}, testLogger())
	defer s.Stop()

	gate := 60 * time.Millisecond
	start := time.Now()
	var gatedRan time.Time

	gated := s.Submit(10, start.Add(gate), func(ctx context.Context) (any, error) {
		gatedRan = time.Now()
		return nil, nil
	})
	immediate := s.Submit(0, time.Time{}, func(ctx context.Context) (any, error) {
		return "first", nil
	})

	value, err := immediate.Result(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "first", value, "low-priority but due item runs before a gated one")

	_, err = gated.Result(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, gatedRan.Sub(start), gate-5*time.Millisecond,
		"gated item must not start before its RunAt")
}

func TestSchedulerCancelQueued(t *testing.T) {
	t.Parallel()

	s := New(Config{Workers: 1}, testLogger())
	defer s.Stop()

	release := make(chan struct{})
	blocker := s.Submit(0, time.Time{}, func(ctx context.Context) (any, error) {
		<-release
		return nil, nil
	})
	require.Eventually(t, func() bool { return s.Running() == 1 },
		time.Second, time.Millisecond)

	executed := false
	queued := s.Submit(0, time.Time{}, func(ctx context.Context) (any, error) {
		executed = true
		return nil, nil
	})

	assert.True(t, queued.Cancel())

	_, err := queued.Result(context.Background())
	assert.ErrorIs(t, err, ErrCanceled)

	close(release)
	_, err = blocker.Result(context.Background())
	require.NoError(t, err)
	require.NoError(t, s.Drain(context.Background()))
	assert.False(t, executed, "canceled item must never execute")
}

func TestSchedulerCancelInFlight(t *testing.T) {
	t.Parallel()

	s := New(Config{Workers: 1}, testLogger())
	defer s.Stop()

	started := make(chan struct{})
	handle := s.Submit(0, time.Time{}, func(ctx context.Context) (any, error) {
		close(started)
		// Cooperative checkpoint: wait for cancellation.
		<-ctx.Done()
		return nil, ctx.Err()
	})

	<-started
	assert.True(t, handle.Cancel())

	_, err := handle.Result(context.Background())
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, handle.Cancel(), "second cancel reports already finished")
}

func TestSchedulerDrainWaitsForEverything(t *testing.T) {
	t.Parallel()

	s := New(Config{Workers: 2}, testLogger())
	defer s.Stop()

	var completed atomic.Int32
	for i := 0; i < 6; i++ {
		s.Submit(0, time.Time{}, func(ctx context.Context) (any, error) {
			time.Sleep(5 * time.Millisecond)
			completed.Add(1)
			return nil, nil
		})
	}
	// One gated item to prove Drain honors the gate too.
	s.Submit(0, time.Now().Add(30*time.Millisecond), func(ctx context.Context) (any, error) {
		completed.Add(1)
		return nil, nil
	})

	require.NoError(t, s.Drain(context.Background()))
	assert.Equal(t, int32(7), completed.Load())
	assert.Equal(t, 0, s.Running())
	assert.Equal(t, 0, s.Queued())
}

func TestSchedulerDrainHonorsContext(t *testing.T) {
	t.Parallel()

	s := New(Config{Workers: 1}, testLogger())
	defer s.Stop()

	release := make(chan struct{})
	defer close(release)
	s.Submit(0, time.Time{}, func(ctx context.Context) (any, error) {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil, nil
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Drain(ctx), context.DeadlineExceeded)
}

func TestSchedulerStopCancelsQueuedWork(t *testing.T) {
	t.Parallel()

	s := New(Config{Workers: 1}, testLogger())

	release := make(chan struct{})
	blocker := s.Submit(0, time.Time{}, func(ctx context.Context) (any, error) {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil, ctx.Err()
	})
	require.Eventually(t, func() bool { return s.Running() == 1 },
		time.Second, time.Millisecond)

	queued := s.Submit(0, time.Time{}, func(ctx context.Context) (any, error) {
		return nil, nil
	})

	s.Stop()

	_, err := queued.Result(context.Background())
	assert.ErrorIs(t, err, ErrCanceled)

	_, err = blocker.Result(context.Background())
	assert.ErrorIs(t, err, context.Canceled)

	// Submissions after Stop settle immediately.
	late := s.Submit(0, time.Time{}, func(ctx context.Context) (any, error) {
		return nil, nil
	})
	_, err = late.Result(context.Background())
	assert.ErrorIs(t, err, ErrCanceled)
}

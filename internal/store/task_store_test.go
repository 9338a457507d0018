package store

import (
	"context"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftq/driftq/internal/domain"
	"github.com/driftq/driftq/internal/events"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// recordingHandler captures every event it receives.
type recordingHandler struct {
	received []*events.ChangeEvent
}

func (h *recordingHandler) HandleChange(_ context.Context, event *events.ChangeEvent) error {
	h.received = append(h.received, event)
	return nil
}

func newStoreWithRecorder(t *testing.T) (*TaskStore, *recordingHandler) {
	t.Helper()
	emitter := events.NewInMemoryEmitter(testLogger())
	handler := &recordingHandler{}
	emitter.Subscribe(handler)
	return NewTaskStore(emitter, testLogger()), handler
}

func TestTaskStoreCreate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("assigns id and version 1", func(t *testing.T) {
		t.Parallel()

		taskStore, handler := newStoreWithRecorder(t)
		task, err := taskStore.Create(ctx, CreateParams{Title: "Buy milk"})
		require.NoError(t, err)

		assert.NotEqual(t, uuid.Nil, task.ID)
		assert.Equal(t, int64(1), task.Version)

		require.Len(t, handler.received, 1)
		assert.Equal(t, events.ChangeCreated, handler.received[0].Kind)
		assert.False(t, handler.received[0].RemoteOrigin)
	})

	t.Run("empty title fails synchronously with no event", func(t *testing.T) {
		t.Parallel()

		taskStore, handler := newStoreWithRecorder(t)
		task, err := taskStore.Create(ctx, CreateParams{Title: ""})

		assert.Nil(t, task)
		assert.ErrorIs(t, err, domain.ErrValidation)
		assert.Empty(t, handler.received, "rejected input must not produce an event")
	})
}

func TestTaskStoreUpdate(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("bumps version and refreshes timestamp", func(t *testing.T) {
		t.Parallel()

		taskStore, handler := newStoreWithRecorder(t)
		created, err := taskStore.Create(ctx, CreateParams{Title: "Buy milk"})
		require.NoError(t, err)

		newTitle := "Buy oat milk"
		updated, err := taskStore.Update(ctx, created.ID, domain.TaskPatch{Title: &newTitle})
		require.NoError(t, err)

		assert.Equal(t, int64(2), updated.Version)
		assert.Equal(t, "Buy oat milk", updated.Title)
		assert.False(t, updated.UpdatedAt.Before(created.UpdatedAt))

		require.Len(t, handler.received, 2)
		assert.Equal(t, events.ChangeUpdated, handler.received[1].Kind)
	})

	t.Run("unknown id", func(t *testing.T) {
		t.Parallel()

		taskStore, _ := newStoreWithRecorder(t)
		newTitle := "x"
		_, err := taskStore.Update(ctx, uuid.New(), domain.TaskPatch{Title: &newTitle})
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("invalid patch leaves task untouched", func(t *testing.T) {
		t.Parallel()

		taskStore, _ := newStoreWithRecorder(t)
		created, err := taskStore.Create(ctx, CreateParams{Title: "Buy milk"})
		require.NoError(t, err)

		empty := ""
		_, err = taskStore.Update(ctx, created.ID, domain.TaskPatch{Title: &empty})
		assert.ErrorIs(t, err, domain.ErrValidation)

		current, err := taskStore.Get(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, "Buy milk", current.Title)
		assert.Equal(t, int64(1), current.Version)
	})
}

// versionOrderHandler records the version carried by each event for one task.
type versionOrderHandler struct {
	mu       sync.Mutex
	versions []int64
}

func (h *versionOrderHandler) HandleChange(_ context.Context, event *events.ChangeEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.versions = append(h.versions, event.Task.Version)
	return nil
}

func TestTaskStoreConcurrentUpdatesEmitInVersionOrder(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	emitter := events.NewInMemoryEmitter(testLogger())
	handler := &versionOrderHandler{}
	emitter.Subscribe(handler)
	taskStore := NewTaskStore(emitter, testLogger())

	created, err := taskStore.Create(ctx, CreateParams{Title: "Buy milk"})
	require.NoError(t, err)

	const goroutines = 8
	const updatesPer = 50

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for i := 0; i < updatesPer; i++ {
				title := "Buy milk " + strconv.Itoa(n)
				_, err := taskStore.Update(ctx, created.ID, domain.TaskPatch{Title: &title})
				assert.NoError(t, err)
			}
		}(g)
	}
	wg.Wait()

	require.Len(t, handler.versions, 1+goroutines*updatesPer)
	for i := 1; i < len(handler.versions); i++ {
		require.Equal(t, handler.versions[i-1]+1, handler.versions[i],
			"event %d out of version order", i)
	}
}

func TestTaskStoreDelete(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	taskStore, handler := newStoreWithRecorder(t)
	created, err := taskStore.Create(ctx, CreateParams{Title: "Buy milk"})
	require.NoError(t, err)

	final, err := taskStore.Delete(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), final.Version)

	_, err = taskStore.Get(ctx, created.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = taskStore.Delete(ctx, created.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	require.Len(t, handler.received, 2)
	assert.Equal(t, events.ChangeDeleted, handler.received[1].Kind)
}

func TestTaskStoreList(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	taskStore, _ := newStoreWithRecorder(t)

	milk, err := taskStore.Create(ctx, CreateParams{Title: "Buy milk", Priority: domain.PriorityHigh})
	require.NoError(t, err)
	_, err = taskStore.Create(ctx, CreateParams{Title: "Walk dog", Description: "around the park"})
	require.NoError(t, err)
	done, err := taskStore.Create(ctx, CreateParams{Title: "File taxes"})
	require.NoError(t, err)
	completed := domain.StatusCompleted
	_, err = taskStore.Update(ctx, done.ID, domain.TaskPatch{Status: &completed})
	require.NoError(t, err)

	t.Run("no filter returns all, most recently updated first", func(t *testing.T) {
		all, err := taskStore.List(ctx, Filter{})
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, "File taxes", all[0].Title, "updated task sorts first")
	})

	t.Run("status filter", func(t *testing.T) {
		status := domain.StatusCompleted
		got, err := taskStore.List(ctx, Filter{Status: &status})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "File taxes", got[0].Title)
	})

	t.Run("priority filter", func(t *testing.T) {
		priority := domain.PriorityHigh
		got, err := taskStore.List(ctx, Filter{Priority: &priority})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, milk.ID, got[0].ID)
	})

	t.Run("substring search over title and description", func(t *testing.T) {
		got, err := taskStore.List(ctx, Filter{Search: "PARK"})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "Walk dog", got[0].Title)
	})
}

func TestTaskStoreApplyRemote(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("installs newer remote state with remote-origin event", func(t *testing.T) {
		t.Parallel()

		taskStore, handler := newStoreWithRecorder(t)
		created, err := taskStore.Create(ctx, CreateParams{Title: "Buy milk"})
		require.NoError(t, err)

		remote := created.Clone()
		remote.Title = "Buy almond milk"
		remote.Version = 3
		remote.UpdatedAt = time.Now().UTC().Add(time.Second)

		require.NoError(t, taskStore.ApplyRemote(ctx, remote))

		current, err := taskStore.Get(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, "Buy almond milk", current.Title)
		assert.Equal(t, int64(3), current.Version)

		last := handler.received[len(handler.received)-1]
		assert.True(t, last.RemoteOrigin)
	})

	t.Run("rejects version moving backwards", func(t *testing.T) {
		t.Parallel()

		taskStore, _ := newStoreWithRecorder(t)
		created, err := taskStore.Create(ctx, CreateParams{Title: "Buy milk"})
		require.NoError(t, err)

		newTitle := "Buy oat milk"
		_, err = taskStore.Update(ctx, created.ID, domain.TaskPatch{Title: &newTitle})
		require.NoError(t, err)

		stale := created.Clone()
		stale.Version = 0
		err = taskStore.ApplyRemote(ctx, stale)
		assert.ErrorIs(t, err, domain.ErrConflict)
	})

	t.Run("creates unknown tasks from remote", func(t *testing.T) {
		t.Parallel()

		taskStore, handler := newStoreWithRecorder(t)
		remote, err := domain.NewTask("Imported", "", domain.PriorityLow, nil)
		require.NoError(t, err)

		require.NoError(t, taskStore.ApplyRemote(ctx, remote))
		assert.Equal(t, 1, taskStore.Len())
		assert.Equal(t, events.ChangeCreated, handler.received[0].Kind)
	})
}

func TestTaskStoreRemoveRemote(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	taskStore, handler := newStoreWithRecorder(t)
	created, err := taskStore.Create(ctx, CreateParams{Title: "Buy milk"})
	require.NoError(t, err)

	require.NoError(t, taskStore.RemoveRemote(ctx, created.ID))
	assert.Equal(t, 0, taskStore.Len())

	// Idempotent: already-gone ids are a no-op.
	require.NoError(t, taskStore.RemoveRemote(ctx, created.ID))

	require.Len(t, handler.received, 2)
	assert.Equal(t, events.ChangeDeleted, handler.received[1].Kind)
	assert.True(t, handler.received[1].RemoteOrigin)
}

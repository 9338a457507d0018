package postgres

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/driftq/driftq/internal/domain"
	"github.com/driftq/driftq/internal/syncer"
)

// testDB connects to the database named by DRIFTQ_TEST_DB_URL, skipping
// the test when the variable is unset so the suite stays runnable without
// infrastructure.
func testDB(t *testing.T) *sql.DB {
	t.Helper()

	url := os.Getenv("DRIFTQ_TEST_DB_URL")
	if url == "" {
		t.Skip("DRIFTQ_TEST_DB_URL not set, skipping database test")
	}

	db, err := Connect(context.Background(), url)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, Migrate(db))

	// Each test starts from an empty log.
	_, err = db.ExecContext(context.Background(), `TRUNCATE sync_operations RESTART IDENTITY`)
	require.NoError(t, err)

	return db
}

func sampleOperation(t *testing.T) *syncer.Operation {
	t.Helper()
	task, err := domain.NewTask("Buy milk", "2%", domain.PriorityHigh, nil)
	require.NoError(t, err)

	now := time.Now().UTC().Truncate(time.Microsecond)
	return &syncer.Operation{
		ID:         uuid.New(),
		Kind:       syncer.KindCreate,
		TaskID:     task.ID,
		Payload:    task,
		Status:     syncer.OpStatusQueued,
		EnqueuedAt: now,
		UpdatedAt:  now,
	}
}

func TestOperationLogRoundTrip(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	log := NewOperationLog(db)

	op := sampleOperation(t)
	seq, err := log.Append(ctx, op)
	require.NoError(t, err)
	assert.Equal(t, seq, op.Seq)

	got, err := log.Get(ctx, seq)
	require.NoError(t, err)
	assert.Equal(t, op.ID, got.ID)
	assert.Equal(t, syncer.KindCreate, got.Kind)
	assert.Equal(t, op.TaskID, got.TaskID)
	require.NotNil(t, got.Payload)
	assert.Equal(t, "Buy milk", got.Payload.Title)
	assert.Equal(t, syncer.OpStatusQueued, got.Status)
	assert.Nil(t, got.NextAttemptAt)

	_, err = log.Get(ctx, seq+1000)
	assert.ErrorIs(t, err, syncer.ErrOperationNotFound)
}

func TestOperationLogSequenceMonotonic(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	log := NewOperationLog(db)

	var prev int64
	for i := 0; i < 5; i++ {
		seq, err := log.Append(ctx, sampleOperation(t))
		require.NoError(t, err)
		assert.Greater(t, seq, prev)
		prev = seq
	}
}

func TestOperationLogUpdate(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	log := NewOperationLog(db)

	op := sampleOperation(t)
	_, err := log.Append(ctx, op)
	require.NoError(t, err)

	next := time.Now().UTC().Add(time.Minute).Truncate(time.Microsecond)
	op.Status = syncer.OpStatusRetryScheduled
	op.Attempts = 2
	op.LastError = "transient network failure"
	op.NextAttemptAt = &next
	op.UpdatedAt = time.Now().UTC().Truncate(time.Microsecond)
	require.NoError(t, log.Update(ctx, op))

	got, err := log.Get(ctx, op.Seq)
	require.NoError(t, err)
	assert.Equal(t, syncer.OpStatusRetryScheduled, got.Status)
	assert.Equal(t, 2, got.Attempts)
	assert.Equal(t, "transient network failure", got.LastError)
	require.NotNil(t, got.NextAttemptAt)
	assert.True(t, got.NextAttemptAt.Equal(next))

	assert.ErrorIs(t, log.Update(ctx, &syncer.Operation{Seq: 99999}),
		syncer.ErrOperationNotFound)
}

func TestOperationLogUnfinishedAndList(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	log := NewOperationLog(db)

	statuses := []syncer.OpStatus{
		syncer.OpStatusQueued,
		syncer.OpStatusInFlight,
		syncer.OpStatusRetryScheduled,
		syncer.OpStatusSucceeded,
		syncer.OpStatusAbandoned,
	}
	for _, status := range statuses {
		op := sampleOperation(t)
		op.Status = status
		_, err := log.Append(ctx, op)
		require.NoError(t, err)
	}

	unfinished, err := log.Unfinished(ctx)
	require.NoError(t, err)
	require.Len(t, unfinished, 3)
	for i := 1; i < len(unfinished); i++ {
		assert.Greater(t, unfinished[i].Seq, unfinished[i-1].Seq)
	}

	abandoned, err := log.List(ctx, syncer.LogFilter{Status: syncer.OpStatusAbandoned})
	require.NoError(t, err)
	assert.Len(t, abandoned, 1)

	all, err := log.List(ctx, syncer.LogFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 5)
}

func TestOperationLogDismiss(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	log := NewOperationLog(db)

	queued := sampleOperation(t)
	_, err := log.Append(ctx, queued)
	require.NoError(t, err)

	abandoned := sampleOperation(t)
	abandoned.Status = syncer.OpStatusAbandoned
	abandoned.LastError = "gave up"
	_, err = log.Append(ctx, abandoned)
	require.NoError(t, err)

	assert.ErrorIs(t, log.Dismiss(ctx, queued.Seq), syncer.ErrNotAbandoned)

	require.NoError(t, log.Dismiss(ctx, abandoned.Seq))
	_, err = log.Get(ctx, abandoned.Seq)
	assert.ErrorIs(t, err, syncer.ErrOperationNotFound)
}

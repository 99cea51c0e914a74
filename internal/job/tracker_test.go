package job

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/ave/internal/model"
	"github.com/sells-group/ave/internal/store"
)

func newTracker(t *testing.T) (*Tracker, store.Store) {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "jobs_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return NewTracker(s), s
}

func TestTracker_Lifecycle(t *testing.T) {
	tr, s := newTracker(t)
	ctx := context.Background()

	j, err := tr.Start(ctx, "roster.pdf")
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusRunning, j.Status)

	stopped, err := tr.Stopped(ctx, j.ID)
	require.NoError(t, err)
	assert.False(t, stopped)

	require.NoError(t, tr.Advance(ctx, j.ID, model.StepExtraction))
	require.NoError(t, tr.Progress(ctx, j.ID, model.StepEnrichment, 0, 4))
	require.NoError(t, tr.Progress(ctx, j.ID, model.StepQA, 2, -1))

	got, err := s.GetJob(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StepQA, got.CurrentStep)
	assert.Equal(t, 2, got.ProcessedProviders)
	assert.Equal(t, 4, got.TotalProviders)

	require.NoError(t, tr.Complete(ctx, j.ID))

	stopped, err = tr.Stopped(ctx, j.ID)
	require.NoError(t, err)
	assert.True(t, stopped)
}

func TestTracker_CancelObservedByPoll(t *testing.T) {
	tr, _ := newTracker(t)
	ctx := context.Background()

	j, err := tr.Start(ctx, "roster.pdf")
	require.NoError(t, err)

	require.NoError(t, tr.Cancel(ctx, j.ID))

	stopped, err := tr.Stopped(ctx, j.ID)
	require.NoError(t, err)
	assert.True(t, stopped)
}

func TestTracker_CompleteAfterCancelKeepsCancelled(t *testing.T) {
	tr, s := newTracker(t)
	ctx := context.Background()

	j, err := tr.Start(ctx, "roster.pdf")
	require.NoError(t, err)

	require.NoError(t, tr.Cancel(ctx, j.ID))
	// Pipeline finishing its last candidate calls Complete; the terminal
	// guard keeps the cancelled status.
	require.NoError(t, tr.Complete(ctx, j.ID))

	got, err := s.GetJob(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCancelled, got.Status)
	assert.Equal(t, model.StepCancelled, got.CurrentStep)
}

func TestTracker_FailMarksError(t *testing.T) {
	tr, s := newTracker(t)
	ctx := context.Background()

	j, err := tr.Start(ctx, "bad.pdf")
	require.NoError(t, err)
	require.NoError(t, tr.Fail(ctx, j.ID))

	got, err := s.GetJob(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusError, got.Status)
	assert.Equal(t, model.StepFailed, got.CurrentStep)
}

func TestTracker_StoppedUnknownJob(t *testing.T) {
	tr, _ := newTracker(t)

	_, err := tr.Stopped(context.Background(), "no-such-job")
	require.Error(t, err)
}

// Package job tracks validation job lifecycle: creation, step advancement,
// terminal transitions, and the cooperative cancellation poll.
package job

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/ave/internal/model"
	"github.com/sells-group/ave/internal/store"
)

// Tracker manages job state through the store. All writes inherit the
// store's terminal-status guard: once a job is cancelled, completed, or
// failed, later writes are silently dropped.
type Tracker struct {
	store store.Store
}

// NewTracker creates a Tracker over the given store.
func NewTracker(s store.Store) *Tracker {
	return &Tracker{store: s}
}

// Start creates a new running job for the given document.
func (t *Tracker) Start(ctx context.Context, filename string) (*model.Job, error) {
	j, err := t.store.CreateJob(ctx, filename)
	if err != nil {
		return nil, eris.Wrap(err, "job: create")
	}
	return j, nil
}

// Advance moves the job to the given step without touching the counters.
func (t *Tracker) Advance(ctx context.Context, jobID string, step model.JobStep) error {
	return eris.Wrap(t.store.UpdateJobProgress(ctx, jobID, step, -1, -1), "job: advance")
}

// Progress records the step together with the processed and total counters.
// A negative counter leaves the stored value unchanged.
func (t *Tracker) Progress(ctx context.Context, jobID string, step model.JobStep, processed, total int) error {
	return eris.Wrap(t.store.UpdateJobProgress(ctx, jobID, step, processed, total), "job: progress")
}

// Stopped reports whether the job has left the running state. The pipeline
// polls this between candidates; the read goes to the store every time so a
// cancellation written by another process is observed.
func (t *Tracker) Stopped(ctx context.Context, jobID string) (bool, error) {
	j, err := t.store.GetJob(ctx, jobID)
	if err != nil {
		return false, eris.Wrap(err, "job: poll status")
	}
	return j.Status.Terminal(), nil
}

// Complete marks the job successfully finished.
func (t *Tracker) Complete(ctx context.Context, jobID string) error {
	return eris.Wrap(t.store.FinishJob(ctx, jobID, model.JobStatusCompleted, model.StepComplete), "job: complete")
}

// Fail marks the job failed.
func (t *Tracker) Fail(ctx context.Context, jobID string) error {
	return eris.Wrap(t.store.FinishJob(ctx, jobID, model.JobStatusError, model.StepFailed), "job: fail")
}

// Cancel requests cancellation. The pipeline notices on its next poll; work
// on the current candidate is allowed to finish.
func (t *Tracker) Cancel(ctx context.Context, jobID string) error {
	return eris.Wrap(t.store.FinishJob(ctx, jobID, model.JobStatusCancelled, model.StepCancelled), "job: cancel")
}

// Package store holds analysis job records. It is the only place a job's
// state, result or error is changed after creation.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/designanalyzer/api/internal/model"
)

// Store is a concurrency-safe container of jobs. Every read returns a snapshot,
// every mutation on one id is atomic with respect to other mutations on that id.
type Store interface {
	// Create inserts a new Pending job with a fresh id
	Create(ctx context.Context, spec model.JobSpec) (model.Job, error)
	Get(ctx context.Context, id string) (model.Job, error)
	MarkRunning(ctx context.Context, id string) (model.Job, error)
	// SetProgress records the stage being executed. Only valid while Running.
	SetProgress(ctx context.Context, id, stage string, progress int) error
	Complete(ctx context.Context, id string, result json.RawMessage) (model.Job, error)
	Fail(ctx context.Context, id, message string) (model.Job, error)
	Stats(ctx context.Context) (model.JobStats, error)
}

func newJob(id string, spec model.JobSpec, now time.Time) model.Job {
	return model.Job{
		ID:          id,
		Input:       spec.Input,
		CallbackURL: spec.CallbackURL,
		State:       model.JobStatePending,
		CreatedAt:   now,
	}
}

func transition(j *model.Job, next model.JobState) error {
	if !j.State.CanTransition(next) {
		return fmt.Errorf("%w: job %s %s -> %s", model.ErrInvalidTransition, j.ID, j.State, next)
	}
	j.State = next
	return nil
}

func applyRunning(j *model.Job, now time.Time) error {
	if err := transition(j, model.JobStateRunning); err != nil {
		return err
	}
	j.StartedAt = &now
	return nil
}

func applyProgress(j *model.Job, stage string, progress int) error {
	if j.State != model.JobStateRunning {
		return fmt.Errorf("%w: job %s is %s, progress requires %s",
			model.ErrInvalidTransition, j.ID, j.State, model.JobStateRunning)
	}
	j.CurrentStage = stage
	if progress > 100 {
		progress = 100
	}
	if progress > j.Progress {
		j.Progress = progress
	}
	return nil
}

func applyComplete(j *model.Job, result json.RawMessage, now time.Time) error {
	if len(result) == 0 {
		return fmt.Errorf("job %s: completed without a result", j.ID)
	}
	if err := transition(j, model.JobStateCompleted); err != nil {
		return err
	}
	j.Result = append(json.RawMessage(nil), result...)
	j.Error = nil
	j.CurrentStage = ""
	j.Progress = 100
	j.CompletedAt = &now
	return nil
}

func applyFail(j *model.Job, message string, now time.Time) error {
	if err := transition(j, model.JobStateFailed); err != nil {
		return err
	}
	msg := message
	j.Error = &msg
	j.Result = nil
	j.CompletedAt = &now
	return nil
}

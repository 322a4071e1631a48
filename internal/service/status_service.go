package service

import (
	"context"

	"github.com/designanalyzer/api/internal/model"
	"github.com/designanalyzer/api/internal/store"
)

// StatusService is the read-only view of jobs for polling clients
type StatusService struct {
	store store.Store
}

func NewStatusService(st store.Store) *StatusService {
	return &StatusService{store: st}
}

// Status returns the public status of a job, or model.ErrJobNotFound
func (s *StatusService) Status(ctx context.Context, id string) (*model.StatusResponse, error) {
	job, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return model.NewStatusResponse(job), nil
}

// Result returns the report of a Completed job. Other states give
// model.ErrJobNotCompleted along with the state the job is in.
func (s *StatusService) Result(ctx context.Context, id string) ([]byte, model.JobState, error) {
	job, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if job.State != model.JobStateCompleted {
		return nil, job.State, model.ErrJobNotCompleted
	}
	return job.Result, job.State, nil
}

// Stats returns job counts per state
func (s *StatusService) Stats(ctx context.Context) (model.JobStats, error) {
	return s.store.Stats(ctx)
}

package scheduler

import "github.com/designanalyzer/api/internal/model"

// Observer receives job lifecycle events. Calls happen on the job's goroutine,
// so implementations must not block.
type Observer interface {
	JobSubmitted(job model.Job)
	JobStarted(job model.Job)
	StageStarted(jobID, stage string, progress int)
	// JobFinished is called once with the terminal snapshot (Completed or Failed)
	JobFinished(job model.Job)
}

// Observers fans events out to every member
type Observers []Observer

func (o Observers) JobSubmitted(job model.Job) {
	for _, obs := range o {
		obs.JobSubmitted(job)
	}
}

func (o Observers) JobStarted(job model.Job) {
	for _, obs := range o {
		obs.JobStarted(job)
	}
}

func (o Observers) StageStarted(jobID, stage string, progress int) {
	for _, obs := range o {
		obs.StageStarted(jobID, stage, progress)
	}
}

func (o Observers) JobFinished(job model.Job) {
	for _, obs := range o {
		obs.JobFinished(job)
	}
}

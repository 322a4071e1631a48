package model

import (
	"encoding/json"
	"time"
)

// Message types pushed on /ws/jobs/:jobId
const (
	WSMessageTypeProgress = "progress"
	WSMessageTypeComplete = "complete"
	WSMessageTypeError    = "error"
	WSMessageTypePing     = "ping"
	WSMessageTypePong     = "pong"
)

// WSErrorCodeJobFailed tags the error message sent when a job ends Failed
const WSErrorCodeJobFailed = "JOB_FAILED"

// WSMessage is the envelope every client message is decoded into
type WSMessage struct {
	Type string `json:"type"`
}

// WSProgressMessage reports the stage a job is in
type WSProgressMessage struct {
	Type         string    `json:"type"`
	JobID        string    `json:"jobId"`
	State        JobState  `json:"state"`
	Progress     int       `json:"progress"`
	CurrentStage string    `json:"currentStage,omitempty"`
	SentAt       time.Time `json:"sentAt"`
}

// WSCompleteMessage carries the report of a Completed job
type WSCompleteMessage struct {
	Type        string          `json:"type"`
	JobID       string          `json:"jobId"`
	Result      json.RawMessage `json:"result"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
	SentAt      time.Time       `json:"sentAt"`
}

// WSErrorMessage carries the failure of a Failed job
type WSErrorMessage struct {
	Type   string    `json:"type"`
	JobID  string    `json:"jobId"`
	Error  WSError   `json:"error"`
	SentAt time.Time `json:"sentAt"`
}

// WSError mirrors the HTTP error envelope
type WSError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// NewProgressEvent describes a Running or Pending job at the given stage
func NewProgressEvent(jobID string, state JobState, stage string, progress int, now time.Time) WSProgressMessage {
	return WSProgressMessage{
		Type:         WSMessageTypeProgress,
		JobID:        jobID,
		State:        state,
		Progress:     progress,
		CurrentStage: stage,
		SentAt:       now,
	}
}

// NewJobEvent picks the message matching job's state: complete, error, or
// progress for jobs that are not terminal yet.
func NewJobEvent(job Job, now time.Time) interface{} {
	switch job.State {
	case JobStateCompleted:
		return WSCompleteMessage{
			Type:        WSMessageTypeComplete,
			JobID:       job.ID,
			Result:      job.Result,
			CompletedAt: job.CompletedAt,
			SentAt:      now,
		}
	case JobStateFailed:
		var msg string
		if job.Error != nil {
			msg = *job.Error
		}
		return WSErrorMessage{
			Type:   WSMessageTypeError,
			JobID:  job.ID,
			Error:  WSError{Code: WSErrorCodeJobFailed, Message: msg},
			SentAt: now,
		}
	default:
		return NewProgressEvent(job.ID, job.State, job.CurrentStage, job.Progress, now)
	}
}

package model

import (
	"encoding/json"
	"time"
)

// JobState is the lifecycle state of an analysis job
type JobState string

const (
	JobStatePending   JobState = "Pending"
	JobStateRunning   JobState = "Running"
	JobStateCompleted JobState = "Completed"
	JobStateFailed    JobState = "Failed"
)

// IsTerminal reports whether no further transition can happen from s
func (s JobState) IsTerminal() bool {
	return s == JobStateCompleted || s == JobStateFailed
}

// CanTransition reports whether the state machine allows moving from s to next.
// Pending -> Failed covers jobs whose dispatch failed before execution began.
func (s JobState) CanTransition(next JobState) bool {
	switch s {
	case JobStatePending:
		return next == JobStateRunning || next == JobStateFailed
	case JobStateRunning:
		return next == JobStateCompleted || next == JobStateFailed
	default:
		return false
	}
}

// Job represents one submitted analysis request and its tracked lifecycle.
// Result is present only when State is Completed, Error only when State is Failed.
type Job struct {
	ID           string          `json:"id"`
	Input        string          `json:"input"`
	CallbackURL  string          `json:"callbackUrl,omitempty"`
	State        JobState        `json:"state"`
	CurrentStage string          `json:"currentStage,omitempty"`
	Progress     int             `json:"progress"`
	Result       json.RawMessage `json:"result,omitempty"`
	Error        *string         `json:"error,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	StartedAt    *time.Time      `json:"startedAt,omitempty"`
	CompletedAt  *time.Time      `json:"completedAt,omitempty"`
}

// Clone returns a deep copy that shares no memory with j
func (j *Job) Clone() Job {
	c := *j
	if j.Result != nil {
		c.Result = append(json.RawMessage(nil), j.Result...)
	}
	if j.Error != nil {
		msg := *j.Error
		c.Error = &msg
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		c.CompletedAt = &t
	}
	return c
}

// JobSpec is what a caller provides to create a job
type JobSpec struct {
	Input       string
	CallbackURL string
}

// JobStats holds job counts per state
type JobStats struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Add counts one job in state s
func (st *JobStats) Add(s JobState) {
	st.Total++
	switch s {
	case JobStatePending:
		st.Pending++
	case JobStateRunning:
		st.Running++
	case JobStateCompleted:
		st.Completed++
	case JobStateFailed:
		st.Failed++
	}
}

// AnalyzeRequest represents the request to start an analysis job
type AnalyzeRequest struct {
	Input       string `json:"input" validate:"required,max=2048,http_url"`
	URL         string `json:"url,omitempty" validate:"-"`
	CallbackURL string `json:"callbackUrl,omitempty" validate:"omitempty,max=2048,http_url"`
}

// Normalize folds the legacy "url" field into Input
func (r *AnalyzeRequest) Normalize() {
	if r.Input == "" && r.URL != "" {
		r.Input = r.URL
	}
	r.URL = ""
}

// AnalyzeResponse represents the response when a job was accepted
type AnalyzeResponse struct {
	ID        string    `json:"id"`
	State     JobState  `json:"state"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

// StatusResponse represents the polled status of a job
type StatusResponse struct {
	ID           string          `json:"id"`
	Input        string          `json:"input"`
	State        JobState        `json:"state"`
	CurrentStage string          `json:"currentStage,omitempty"`
	Progress     int             `json:"progress"`
	Result       json.RawMessage `json:"result,omitempty"`
	Error        *string         `json:"error,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	StartedAt    *time.Time      `json:"startedAt,omitempty"`
	CompletedAt  *time.Time      `json:"completedAt,omitempty"`
}

// NewStatusResponse builds the public view of a job snapshot
func NewStatusResponse(j Job) *StatusResponse {
	return &StatusResponse{
		ID:           j.ID,
		Input:        j.Input,
		State:        j.State,
		CurrentStage: j.CurrentStage,
		Progress:     j.Progress,
		Result:       j.Result,
		Error:        j.Error,
		CreatedAt:    j.CreatedAt,
		StartedAt:    j.StartedAt,
		CompletedAt:  j.CompletedAt,
	}
}

package service

import (
	"context"
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/designanalyzer/api/internal/model"
)

// ValidationError is a rejected submission. No job is created for it.
type ValidationError struct {
	Message string
	Fields  map[string]string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Submitter is the scheduling side of a submission
type Submitter interface {
	Submit(ctx context.Context, spec model.JobSpec) (model.Job, error)
}

// NewValidator returns a validator that reports fields by their JSON names
func NewValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// SubmissionService validates analysis requests and hands them to the scheduler
type SubmissionService struct {
	scheduler Submitter
	validator *validator.Validate
}

func NewSubmissionService(scheduler Submitter, v *validator.Validate) *SubmissionService {
	return &SubmissionService{
		scheduler: scheduler,
		validator: v,
	}
}

// Submit validates req and schedules a job for it
func (s *SubmissionService) Submit(ctx context.Context, req *model.AnalyzeRequest) (*model.AnalyzeResponse, error) {
	req.Normalize()
	req.Input = strings.TrimSpace(req.Input)
	req.CallbackURL = strings.TrimSpace(req.CallbackURL)

	if err := s.validator.Struct(req); err != nil {
		return nil, &ValidationError{
			Message: "Validation failed",
			Fields:  formatValidationErrors(err),
		}
	}

	job, err := s.scheduler.Submit(ctx, model.JobSpec{
		Input:       req.Input,
		CallbackURL: req.CallbackURL,
	})
	if err != nil {
		return nil, err
	}

	return &model.AnalyzeResponse{
		ID:        job.ID,
		State:     job.State,
		Message:   "Analysis started",
		CreatedAt: job.CreatedAt,
	}, nil
}

func formatValidationErrors(err error) map[string]string {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		fields := make(map[string]string)
		for _, e := range validationErrors {
			fields[e.Field()] = e.Tag()
		}
		return fields
	}
	return nil
}

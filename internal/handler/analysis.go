package handler

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/designanalyzer/api/internal/model"
	"github.com/designanalyzer/api/internal/scheduler"
	"github.com/designanalyzer/api/internal/service"
	"github.com/designanalyzer/api/pkg/response"
)

type AnalysisHandler struct {
	submissions *service.SubmissionService
	status      *service.StatusService
}

func NewAnalysisHandler(submissions *service.SubmissionService, status *service.StatusService) *AnalysisHandler {
	return &AnalysisHandler{
		submissions: submissions,
		status:      status,
	}
}

// Submit handles POST /api/analyze
func (h *AnalysisHandler) Submit(c *fiber.Ctx) error {
	var req model.AnalyzeRequest
	if err := c.BodyParser(&req); err != nil {
		return response.ValidationError(c, "Invalid request body", nil)
	}

	result, err := h.submissions.Submit(c.UserContext(), &req)
	if err != nil {
		var validationErr *service.ValidationError
		switch {
		case errors.As(err, &validationErr):
			return response.ValidationError(c, validationErr.Message, validationErr.Fields)
		case errors.Is(err, scheduler.ErrShuttingDown):
			return response.Unavailable(c, "Service is shutting down")
		case errors.Is(err, scheduler.ErrDispatch):
			return response.Unavailable(c, "Failed to dispatch analysis job")
		default:
			return response.ServiceError(c, "Failed to start analysis")
		}
	}

	return response.Accepted(c, result)
}

// Status handles GET /api/status/:id
func (h *AnalysisHandler) Status(c *fiber.Ctx) error {
	jobID := c.Params("id")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	result, err := h.status.Status(c.UserContext(), jobID)
	if err != nil {
		if errors.Is(err, model.ErrJobNotFound) {
			return response.NotFound(c, "Job not found")
		}
		return response.ServiceError(c, "Failed to load job status")
	}

	return response.OK(c, result)
}

// Result handles GET /api/result/:id
func (h *AnalysisHandler) Result(c *fiber.Ctx) error {
	jobID := c.Params("id")
	if jobID == "" {
		return response.ValidationError(c, "Job ID is required", nil)
	}

	result, state, err := h.status.Result(c.UserContext(), jobID)
	if err != nil {
		switch {
		case errors.Is(err, model.ErrJobNotFound):
			return response.NotFound(c, "Job not found")
		case errors.Is(err, model.ErrJobNotCompleted):
			return response.JobNotCompleted(c, string(state))
		default:
			return response.ServiceError(c, "Failed to load job result")
		}
	}

	return response.RawJSON(c, result)
}

// Stats handles GET /api/stats
func (h *AnalysisHandler) Stats(c *fiber.Ctx) error {
	stats, err := h.status.Stats(c.UserContext())
	if err != nil {
		return response.ServiceError(c, "Failed to load job stats")
	}
	return response.OK(c, stats)
}

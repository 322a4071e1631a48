package middleware

import (
	"context"
	"errors"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/designanalyzer/api/internal/model"
	"github.com/designanalyzer/api/pkg/response"
)

// JobLookup finds a job snapshot by id
type JobLookup func(ctx context.Context, id string) (model.Job, error)

// WebSocketUpgrade rejects plain HTTP requests on websocket routes
func WebSocketUpgrade() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return response.Error(c, fiber.StatusUpgradeRequired, response.CodeUpgradeRequired, "WebSocket upgrade required", nil)
	}
}

// RequireJob answers 404 before the upgrade when the :jobId param names no job
func RequireJob(lookup JobLookup) fiber.Handler {
	return func(c *fiber.Ctx) error {
		jobID := c.Params("jobId")
		if jobID == "" {
			return response.ValidationError(c, "Job ID is required", nil)
		}

		if _, err := lookup(c.UserContext(), jobID); err != nil {
			if errors.Is(err, model.ErrJobNotFound) {
				return response.NotFound(c, "Job not found")
			}
			return response.ServiceError(c, "Failed to load job")
		}

		return c.Next()
	}
}

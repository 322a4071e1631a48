package handler

import (
	"context"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/designanalyzer/api/internal/middleware"
	"github.com/designanalyzer/api/internal/model"
	ws "github.com/designanalyzer/api/internal/websocket"
)

// NewJobStream serves GET /ws/jobs/:jobId. The job is read again once the hub
// has registered the connection, so the first message reflects the latest
// state and no event is lost in between.
func NewJobStream(hub *ws.Hub, lookup middleware.JobLookup) fiber.Handler {
	return websocket.New(func(c *websocket.Conn) {
		jobID := c.Params("jobId")

		hub.HandleConnection(c, jobID, func() (model.Job, error) {
			return lookup(context.Background(), jobID)
		})
	})
}

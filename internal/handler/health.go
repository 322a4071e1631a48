package handler

import (
	"time"

	"github.com/gofiber/fiber/v2"
)

const serviceName = "Design Analyzer API"

// HealthHandler answers liveness and discovery requests. It never touches job
// state, so it stays responsive while jobs run.
type HealthHandler struct {
	version  string
	services fiber.Map
}

// NewHealthHandler creates a health handler. services reports which external
// collaborators are configured.
func NewHealthHandler(version string, services fiber.Map) *HealthHandler {
	return &HealthHandler{
		version:  version,
		services: services,
	}
}

// Health handles GET /health
func (h *HealthHandler) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "ok",
		"version":   h.version,
		"timestamp": time.Now().Unix(),
		"services":  h.services,
	})
}

// Index handles GET /
func (h *HealthHandler) Index(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"name":    serviceName,
		"version": h.version,
		"endpoints": fiber.Map{
			"analyze": "POST /api/analyze",
			"status":  "GET /api/status/:id",
			"result":  "GET /api/result/:id",
			"stats":   "GET /api/stats",
			"health":  "GET /health",
			"metrics": "GET /metrics",
			"stream":  "GET /ws/jobs/:jobId",
		},
	})
}

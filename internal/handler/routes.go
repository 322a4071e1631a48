package handler

import (
	"github.com/gofiber/fiber/v2"

	"github.com/designanalyzer/api/internal/middleware"
)

// Routes groups everything the HTTP surface is built from
type Routes struct {
	Analysis *AnalysisHandler
	Health   *HealthHandler

	// Stream and JobLookup enable the websocket route when both are set
	Stream    fiber.Handler
	JobLookup middleware.JobLookup

	// Metrics is mounted on /metrics when set
	Metrics fiber.Handler
}

// Register mounts every route on app
func Register(app fiber.Router, r Routes) {
	app.Get("/", r.Health.Index)
	app.Get("/health", r.Health.Health)

	if r.Metrics != nil {
		app.Get("/metrics", r.Metrics)
	}

	api := app.Group("/api")
	api.Post("/analyze", r.Analysis.Submit)
	api.Get("/status/:id", r.Analysis.Status)
	api.Get("/result/:id", r.Analysis.Result)
	api.Get("/stats", r.Analysis.Stats)

	if r.Stream != nil && r.JobLookup != nil {
		app.Use("/ws", middleware.WebSocketUpgrade())
		app.Get("/ws/jobs/:jobId", middleware.RequireJob(r.JobLookup), r.Stream)
	}
}

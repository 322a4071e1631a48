// Package stage adapts the external services to the pipeline's stage functions.
// Stages whose service is not configured fall back to deterministic mock output.
package stage

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/designanalyzer/api/internal/client"
	"github.com/designanalyzer/api/internal/model"
	"github.com/designanalyzer/api/internal/pipeline"
)

// Capturer takes a screenshot of a page
type Capturer interface {
	Capture(ctx context.Context, pageURL string) (*model.Screenshot, error)
	IsConfigured() bool
}

// Detector finds UI elements on a screenshot
type Detector interface {
	Detect(ctx context.Context, shot *model.Screenshot) ([]model.Element, error)
	IsConfigured() bool
}

// Reviewer asks a vision model for a design review
type Reviewer interface {
	Review(ctx context.Context, shot *model.Screenshot, elements []model.EnrichedElement) (*model.VisionReview, error)
	IsConfigured() bool
}

// Config wires the adapters. Nil or unconfigured collaborators select the mock.
type Config struct {
	Capturer  Capturer
	Detector  Detector
	Reviewer  Reviewer
	Storage   client.StorageClient
	MockDelay time.Duration
	Logger    zerolog.Logger
}

// Adapters implements every pipeline stage
type Adapters struct {
	capturer  Capturer
	detector  Detector
	reviewer  Reviewer
	storage   client.StorageClient
	mockDelay time.Duration
	logger    zerolog.Logger
	now       func() time.Time
}

// New creates the stage adapters
func New(cfg Config) *Adapters {
	return &Adapters{
		capturer:  cfg.Capturer,
		detector:  cfg.Detector,
		reviewer:  cfg.Reviewer,
		storage:   cfg.Storage,
		mockDelay: cfg.MockDelay,
		logger:    cfg.Logger,
		now:       time.Now,
	}
}

// Stages returns the adapters in the shape the runner expects
func (a *Adapters) Stages() pipeline.Stages {
	return pipeline.Stages{
		Capture:         a.Capture,
		Detect:          a.Detect,
		ExtractColors:   a.ExtractColors,
		Review:          a.Review,
		ObjectiveRules:  a.ObjectiveRules,
		SubjectiveRules: a.SubjectiveRules,
		Render:          a.Render,
	}
}

// Mocked lists the stages that run on mock output
func (a *Adapters) Mocked() []string {
	var mocked []string
	if !configured(a.capturer) {
		mocked = append(mocked, pipeline.StageCapture)
	}
	if !configured(a.detector) {
		mocked = append(mocked, pipeline.StageDetect)
	}
	if !configured(a.reviewer) {
		mocked = append(mocked, pipeline.StageVisionReview)
	}
	return mocked
}

type configurable interface {
	IsConfigured() bool
}

func configured(c configurable) bool {
	return c != nil && c.IsConfigured()
}

// wait simulates service latency for mocked stages
func (a *Adapters) wait(ctx context.Context) error {
	if a.mockDelay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(a.mockDelay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

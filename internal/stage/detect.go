package stage

import (
	"context"

	"github.com/designanalyzer/api/internal/model"
)

// Detect finds the UI elements on shot. The mock returns the synthetic page's
// layout.
func (a *Adapters) Detect(ctx context.Context, shot *model.Screenshot) ([]model.Element, error) {
	if configured(a.detector) {
		return a.detector.Detect(ctx, shot)
	}

	if err := a.wait(ctx); err != nil {
		return nil, err
	}
	return mockElements(), nil
}

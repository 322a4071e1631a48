package stage

import (
	"context"
	"fmt"

	"github.com/designanalyzer/api/internal/model"
)

const mockModel = "mock"

// Review asks the vision model for a design review. Without a configured model
// the review is derived from the element list.
func (a *Adapters) Review(ctx context.Context, shot *model.Screenshot, elements []model.EnrichedElement) (*model.VisionReview, error) {
	if configured(a.reviewer) {
		return a.reviewer.Review(ctx, shot, elements)
	}

	if err := a.wait(ctx); err != nil {
		return nil, err
	}

	counts := make(map[model.ElementKind]int)
	for _, el := range elements {
		counts[el.Kind]++
	}

	review := &model.VisionReview{
		Model:   mockModel,
		Summary: fmt.Sprintf("Layout with %d elements reviewed without a vision model", len(elements)),
	}
	if counts[model.ElementButton] > 1 {
		review.Findings = append(review.Findings, model.Finding{
			Area:    "calls to action",
			Comment: fmt.Sprintf("%d buttons compete for attention; make one action primary", counts[model.ElementButton]),
		})
	}
	return review, nil
}

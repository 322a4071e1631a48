package stage

import (
	"context"
	"fmt"

	"github.com/designanalyzer/api/internal/model"
)

const (
	RuleContrast          = "contrast-minimum"
	RuleTouchTarget       = "touch-target-size"
	RulePaletteSprawl     = "palette-sprawl"
	RuleButtonConsistency = "button-height-consistency"
	RuleVisualReview      = "visual-review"
)

const (
	// WCAG 1.4.3 AA for normal text; large text gets 3:1
	minContrast      = 4.5
	criticalContrast = 3.0

	// WCAG 2.5.8 minimum and 2.5.5 enhanced target sizes
	minTargetSize         = 24
	recommendedTargetSize = 44

	maxPaletteColors   = 8
	buttonHeightSpread = 8
)

func interactive(kind model.ElementKind) bool {
	switch kind {
	case model.ElementButton, model.ElementLink, model.ElementInput:
		return true
	}
	return false
}

func carriesText(el model.EnrichedElement) bool {
	return el.Kind == model.ElementText || (interactive(el.Kind) && el.Label != "")
}

// ObjectiveRules checks measurable accessibility rules: text contrast and the
// size of interactive targets
func (a *Adapters) ObjectiveRules(ctx context.Context, elements []model.EnrichedElement) ([]model.Violation, error) {
	violations := []model.Violation{}

	for _, el := range elements {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if el.Sampled && carriesText(el) {
			ratio := contrastRatio(el.Foreground, el.Background)
			if ratio < minContrast {
				severity := model.SeverityMajor
				if ratio < criticalContrast {
					severity = model.SeverityCritical
				}
				violations = append(violations, model.Violation{
					Rule:      RuleContrast,
					Kind:      model.RuleObjective,
					Severity:  severity,
					ElementID: el.ID,
					Message: fmt.Sprintf("contrast %.2f:1 between %s and %s is below %.1f:1",
						ratio, el.Foreground.Hex(), el.Background.Hex(), minContrast),
				})
			}
		}

		if interactive(el.Kind) {
			side := min(el.Box.Width, el.Box.Height)
			if side < recommendedTargetSize {
				severity := model.SeverityMinor
				if side < minTargetSize {
					severity = model.SeverityMajor
				}
				violations = append(violations, model.Violation{
					Rule:      RuleTouchTarget,
					Kind:      model.RuleObjective,
					Severity:  severity,
					ElementID: el.ID,
					Message: fmt.Sprintf("%s target is %dx%d px, smaller than %dx%d px",
						el.Kind, el.Box.Width, el.Box.Height, recommendedTargetSize, recommendedTargetSize),
				})
			}
		}
	}

	return violations, nil
}

// SubjectiveRules checks judgement-based rules: palette discipline, consistency
// between controls, and the vision reviewer's findings
func (a *Adapters) SubjectiveRules(ctx context.Context, elements []model.EnrichedElement, review *model.VisionReview) ([]model.Violation, error) {
	violations := []model.Violation{}

	if palette := paletteOf(elements); len(palette) > maxPaletteColors {
		violations = append(violations, model.Violation{
			Rule:     RulePaletteSprawl,
			Kind:     model.RuleSubjective,
			Severity: model.SeverityMinor,
			Message:  fmt.Sprintf("%d distinct colors in use; keep the palette to %d or fewer", len(palette), maxPaletteColors),
		})
	}

	lowest, highest := 0, 0
	buttons := 0
	for _, el := range elements {
		if el.Kind != model.ElementButton {
			continue
		}
		if buttons == 0 || el.Box.Height < lowest {
			lowest = el.Box.Height
		}
		if buttons == 0 || el.Box.Height > highest {
			highest = el.Box.Height
		}
		buttons++
	}
	if buttons > 1 && highest-lowest > buttonHeightSpread {
		violations = append(violations, model.Violation{
			Rule:     RuleButtonConsistency,
			Kind:     model.RuleSubjective,
			Severity: model.SeverityMinor,
			Message:  fmt.Sprintf("button heights range from %d to %d px", lowest, highest),
		})
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if review != nil {
		for _, f := range review.Findings {
			violations = append(violations, model.Violation{
				Rule:     RuleVisualReview,
				Kind:     model.RuleSubjective,
				Severity: model.SeverityMinor,
				Message:  fmt.Sprintf("%s: %s", f.Area, f.Comment),
			})
		}
	}

	return violations, nil
}

// paletteOf lists the distinct sampled colors in first-seen order
func paletteOf(elements []model.EnrichedElement) []string {
	seen := make(map[string]bool)
	var palette []string
	for _, el := range elements {
		if !el.Sampled {
			continue
		}
		for _, c := range []model.Color{el.Background, el.Foreground} {
			hex := c.Hex()
			if !seen[hex] {
				seen[hex] = true
				palette = append(palette, hex)
			}
		}
	}
	return palette
}

package stage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/designanalyzer/api/internal/model"
	"github.com/designanalyzer/api/internal/pipeline"
)

const ReportStatusSuccess = "success"

// maxPalette bounds the palette listed in a report
const maxPalette = 12

// Render assembles the final report. When object storage is configured the
// screenshot and the report JSON are uploaded and linked from the report; an
// upload failure only drops the link.
func (a *Adapters) Render(ctx context.Context, in pipeline.RenderInput) (*model.Report, error) {
	report := &model.Report{
		Input:         in.Input,
		Status:        ReportStatusSuccess,
		ElementsCount: len(in.Elements),
		Violations:    in.Violations,
		VisionReview:  in.Review,
		GeneratedAt:   a.now().UTC(),
	}
	if report.Violations == nil {
		report.Violations = []model.Violation{}
	}

	for _, v := range report.Violations {
		report.IssuesCount++
		if v.Severity == model.SeverityCritical {
			report.CriticalIssues++
		}
	}

	report.Palette = paletteOf(in.Elements)
	if len(report.Palette) > maxPalette {
		report.Palette = report.Palette[:maxPalette]
	}

	if report.IssuesCount == 0 {
		report.Summary = fmt.Sprintf("No issues found across %d elements", report.ElementsCount)
	} else {
		report.Summary = fmt.Sprintf("Found %d issues (%d critical) across %d elements",
			report.IssuesCount, report.CriticalIssues, report.ElementsCount)
	}

	if in.Screenshot != nil {
		report.ScreenshotURL = in.Screenshot.ImageURL
	}

	if a.storage != nil && a.storage.IsConfigured() {
		a.upload(ctx, report, in.Screenshot)
	}

	return report, nil
}

func (a *Adapters) upload(ctx context.Context, report *model.Report, shot *model.Screenshot) {
	id := uuid.New().String()

	if report.ScreenshotURL == "" && shot != nil && len(shot.Image) > 0 {
		url, err := a.storage.Upload(ctx, "screenshots/"+id+".png", bytes.NewReader(shot.Image), "image/png")
		if err != nil {
			a.logger.Warn().Err(err).Str("input", report.Input).Msg("Failed to upload screenshot")
		} else {
			report.ScreenshotURL = url
		}
	}

	key := "reports/" + id + ".json"
	report.ReportURL = a.storage.GetPublicURL(key)

	data, err := json.Marshal(report)
	if err != nil {
		a.logger.Warn().Err(err).Msg("Failed to marshal report for upload")
		report.ReportURL = ""
		return
	}

	if _, err := a.storage.Upload(ctx, key, bytes.NewReader(data), "application/json"); err != nil {
		a.logger.Warn().Err(err).Str("input", report.Input).Msg("Failed to upload report")
		report.ReportURL = ""
	}
}

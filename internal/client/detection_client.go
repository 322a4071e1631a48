package client

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/designanalyzer/api/internal/config"
	"github.com/designanalyzer/api/internal/model"
)

// DetectRequest is the body sent to the element detection service
type DetectRequest struct {
	ImageURL    string `json:"imageUrl,omitempty"`
	ImageBase64 string `json:"imageBase64,omitempty"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
}

// DetectResponse lists the elements found on a screenshot
type DetectResponse struct {
	Elements []model.Element `json:"elements"`
}

// DetectionClient finds UI elements on a screenshot
type DetectionClient struct {
	serviceClient
}

// NewDetectionClient creates a new detection service client
func NewDetectionClient(cfg *config.ServiceConfig) *DetectionClient {
	return &DetectionClient{serviceClient: newServiceClient("detection", cfg)}
}

// Detect returns the UI elements visible on shot
func (c *DetectionClient) Detect(ctx context.Context, shot *model.Screenshot) ([]model.Element, error) {
	req := DetectRequest{
		ImageURL: shot.ImageURL,
		Width:    shot.Width,
		Height:   shot.Height,
	}
	if len(shot.Image) > 0 {
		req.ImageBase64 = base64.StdEncoding.EncodeToString(shot.Image)
	}
	if req.ImageURL == "" && req.ImageBase64 == "" {
		return nil, fmt.Errorf("screenshot has no image to detect on")
	}

	var resp DetectResponse
	if err := c.postJSON(ctx, "/detect", req, &resp); err != nil {
		return nil, err
	}

	for i := range resp.Elements {
		if resp.Elements[i].ID == "" {
			resp.Elements[i].ID = fmt.Sprintf("el-%d", i+1)
		}
	}

	return resp.Elements, nil
}

package client

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/designanalyzer/api/internal/config"
	"github.com/designanalyzer/api/internal/model"
)

const maxScreenshotBytes = 32 << 20

// CaptureRequest is the body sent to the screenshot service
type CaptureRequest struct {
	URL      string `json:"url"`
	FullPage bool   `json:"fullPage"`
	Width    int    `json:"width,omitempty"`
}

// CaptureResponse is returned by the screenshot service. The image comes back
// inline as base64 PNG, as a URL, or both.
type CaptureResponse struct {
	ImageURL    string `json:"imageUrl"`
	ImageBase64 string `json:"imageBase64"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
}

// ScreenshotClient renders a page through the screenshot service
type ScreenshotClient struct {
	serviceClient

	maxImage int64
}

// NewScreenshotClient creates a new screenshot service client
func NewScreenshotClient(cfg *config.ServiceConfig) *ScreenshotClient {
	return &ScreenshotClient{
		serviceClient: newServiceClient("screenshot", cfg),
		maxImage:      maxScreenshotBytes,
	}
}

// Capture screenshots pageURL
func (c *ScreenshotClient) Capture(ctx context.Context, pageURL string) (*model.Screenshot, error) {
	var resp CaptureResponse
	if err := c.postJSON(ctx, "/capture", CaptureRequest{URL: pageURL, FullPage: true, Width: 1440}, &resp); err != nil {
		return nil, err
	}

	if resp.ImageURL == "" && resp.ImageBase64 == "" {
		return nil, fmt.Errorf("screenshot service returned no image")
	}

	shot := &model.Screenshot{
		PageURL:    pageURL,
		ImageURL:   resp.ImageURL,
		Width:      resp.Width,
		Height:     resp.Height,
		CapturedAt: time.Now().UTC(),
	}
	if resp.ImageBase64 != "" {
		if int64(base64.StdEncoding.DecodedLen(len(resp.ImageBase64))) > c.maxImage+2 {
			return nil, c.tooLarge()
		}
		data, err := base64.StdEncoding.DecodeString(resp.ImageBase64)
		if err != nil {
			return nil, fmt.Errorf("failed to decode screenshot: %w", err)
		}
		if int64(len(data)) > c.maxImage {
			return nil, c.tooLarge()
		}
		shot.Image = data
	} else {
		data, err := c.download(ctx, resp.ImageURL)
		if err != nil {
			return nil, err
		}
		shot.Image = data
	}

	return shot, nil
}

// download fetches an image the service only returned by URL
func (c *ScreenshotClient) download(ctx context.Context, imageURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download screenshot: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("screenshot download error (status %d)", resp.StatusCode)
	}

	data, err := readLimited(resp.Body, c.maxImage)
	if errors.Is(err, ErrTooLarge) {
		return nil, c.tooLarge()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read screenshot: %w", err)
	}
	return data, nil
}

func (c *ScreenshotClient) tooLarge() error {
	return fmt.Errorf("screenshot exceeds %d MiB: %w", c.maxImage>>20, ErrTooLarge)
}

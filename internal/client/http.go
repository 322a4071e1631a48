// Package client talks to the external services behind the analysis stages.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/designanalyzer/api/internal/config"
)

const (
	defaultServiceTimeout = 60 * time.Second

	// inline base64 screenshots make service responses large
	maxResponseBytes = 48 << 20
)

// ErrTooLarge is returned when a service sends more data than allowed
var ErrTooLarge = errors.New("response too large")

// serviceClient is the shared JSON-over-HTTP plumbing of the stage services
type serviceClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	name       string

	maxResponse int64
}

func newServiceClient(name string, cfg *config.ServiceConfig) serviceClient {
	timeout := defaultServiceTimeout
	if cfg.Timeout > 0 {
		timeout = time.Duration(cfg.Timeout) * time.Second
	}
	return serviceClient{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimRight(cfg.ServiceURL, "/"),
		apiKey:     cfg.APIKey,
		name:       name,

		maxResponse: maxResponseBytes,
	}
}

func (c *serviceClient) postJSON(ctx context.Context, path string, in, out interface{}) error {
	bodyBytes, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := readLimited(resp.Body, c.maxResponse)
	if errors.Is(err, ErrTooLarge) {
		return fmt.Errorf("%s service %w: more than %d bytes", c.name, err, c.maxResponse)
	}
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s service error (status %d): %s", c.name, resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}

	return nil
}

// readLimited reads r to the end, failing with ErrTooLarge past limit bytes
func readLimited(r io.Reader, limit int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, ErrTooLarge
	}
	return data, nil
}

// IsConfigured returns true if the service URL is set
func (c *serviceClient) IsConfigured() bool {
	return c.baseURL != ""
}

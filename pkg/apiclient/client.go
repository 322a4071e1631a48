// Package apiclient is a Go client for the Design Analyzer HTTP API.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// Job states as reported by the API
const (
	StatePending   = "Pending"
	StateRunning   = "Running"
	StateCompleted = "Completed"
	StateFailed    = "Failed"
)

// Config contains configuration for the client
type Config struct {
	BaseURL  string
	Timeout  time.Duration
	RetryMax int
	// Logger is handed to retryablehttp; nil silences it
	Logger interface{}
}

// Client calls the analysis API. Transport errors and 5xx answers are retried
// with backoff.
type Client struct {
	http    *retryablehttp.Client
	baseURL string
}

// Submission is the answer to an accepted analysis request
type Submission struct {
	ID        string    `json:"id"`
	State     string    `json:"state"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

// Status is the polled state of a job
type Status struct {
	ID           string          `json:"id"`
	Input        string          `json:"input"`
	State        string          `json:"state"`
	CurrentStage string          `json:"currentStage,omitempty"`
	Progress     int             `json:"progress"`
	Result       json.RawMessage `json:"result,omitempty"`
	Error        string          `json:"error,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
	StartedAt    *time.Time      `json:"startedAt,omitempty"`
	CompletedAt  *time.Time      `json:"completedAt,omitempty"`
}

// Terminal reports whether the job has finished
func (s *Status) Terminal() bool {
	return s.State == StateCompleted || s.State == StateFailed
}

// APIError is a non-2xx answer carrying the service's error envelope
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Details    json.RawMessage
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("api error (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("api error %s (status %d): %s", e.Code, e.StatusCode, e.Message)
}

// IsNotFound reports whether err is a 404 from the API
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// New creates a client
func New(cfg Config) *Client {
	c := retryablehttp.NewClient()
	c.RetryMax = cfg.RetryMax
	if cfg.Timeout > 0 {
		c.HTTPClient.Timeout = cfg.Timeout
	}
	c.Logger = cfg.Logger
	// hand the final response back so the error envelope can be read
	c.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Client{
		http:    c,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
	}
}

// Submit starts an analysis of input. callbackURL may be empty.
func (c *Client) Submit(ctx context.Context, input, callbackURL string) (*Submission, error) {
	body, err := json.Marshal(map[string]string{
		"input":       input,
		"callbackUrl": callbackURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var out Submission
	if err := c.do(ctx, http.MethodPost, "/api/analyze", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Status fetches the current status of a job
func (c *Client) Status(ctx context.Context, id string) (*Status, error) {
	var out Status
	if err := c.do(ctx, http.MethodGet, "/api/status/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Result fetches the report of a completed job
func (c *Client) Result(ctx context.Context, id string) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.do(ctx, http.MethodGet, "/api/result/"+url.PathEscape(id), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Wait polls until the job is terminal or ctx ends. onProgress, if set, sees
// every status read.
func (c *Client) Wait(ctx context.Context, id string, interval time.Duration, onProgress func(*Status)) (*Status, error) {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		status, err := c.Status(ctx, id)
		if err != nil {
			return nil, err
		}
		if onProgress != nil {
			onProgress(status)
		}
		if status.Terminal() {
			return status, nil
		}

		select {
		case <-ctx.Done():
			return status, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) do(ctx context.Context, method, path string, body []byte, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decodeError(resp.StatusCode, respBody)
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}

func decodeError(status int, body []byte) error {
	var envelope struct {
		Error struct {
			Code    string          `json:"code"`
			Message string          `json:"message"`
			Details json.RawMessage `json:"details"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Error.Message == "" {
		return &APIError{StatusCode: status, Message: strings.TrimSpace(string(body))}
	}
	return &APIError{
		StatusCode: status,
		Code:       envelope.Error.Code,
		Message:    envelope.Error.Message,
		Details:    envelope.Error.Details,
	}
}

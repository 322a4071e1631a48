// Package notify delivers finished jobs to the callback URL given at submission.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"

	"github.com/designanalyzer/api/internal/logging"
	"github.com/designanalyzer/api/internal/model"
)

// CallbackConfig contains configuration for callback delivery
type CallbackConfig struct {
	MaxRetries int
	Timeout    time.Duration
	// RetryWaitMin and RetryWaitMax bound the backoff; zero keeps the library defaults
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	Logger       zerolog.Logger
}

// CallbackNotifier POSTs the final status document of a job to its callback URL.
// Delivery is best effort: failures are logged, never reflected on the job.
type CallbackNotifier struct {
	client *retryablehttp.Client
	logger zerolog.Logger
	wg     sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// NewCallbackNotifier creates a notifier
func NewCallbackNotifier(config CallbackConfig) *CallbackNotifier {
	client := retryablehttp.NewClient()
	client.RetryMax = config.MaxRetries
	if config.RetryWaitMin > 0 {
		client.RetryWaitMin = config.RetryWaitMin
	}
	if config.RetryWaitMax > 0 {
		client.RetryWaitMax = config.RetryWaitMax
	}
	if config.Timeout > 0 {
		client.HTTPClient.Timeout = config.Timeout
	}
	client.Logger = logging.NewLeveledLogger(config.Logger)

	ctx, cancel := context.WithCancel(context.Background())

	return &CallbackNotifier{
		client: client,
		logger: config.Logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

func (n *CallbackNotifier) JobSubmitted(job model.Job)                     {}
func (n *CallbackNotifier) JobStarted(job model.Job)                       {}
func (n *CallbackNotifier) StageStarted(jobID, stage string, progress int) {}

// JobFinished starts delivery in the background when the job has a callback URL
func (n *CallbackNotifier) JobFinished(job model.Job) {
	if job.CallbackURL == "" {
		return
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := n.Deliver(n.ctx, job); err != nil {
			n.logger.Warn().
				Err(err).
				Str("job_id", job.ID).
				Str("callback_url", job.CallbackURL).
				Msg("Callback delivery failed")
			return
		}
		n.logger.Debug().Str("job_id", job.ID).Msg("Callback delivered")
	}()
}

// Deliver sends the status document for job and waits for the outcome
func (n *CallbackNotifier) Deliver(ctx context.Context, job model.Job) error {
	body, err := json.Marshal(model.NewStatusResponse(job))
	if err != nil {
		return fmt.Errorf("failed to marshal callback body: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, job.CallbackURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create callback request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Job-ID", job.ID)

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("callback request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("callback returned status %d", resp.StatusCode)
	}
	return nil
}

// Close waits for pending deliveries. When ctx ends first they are cancelled.
func (n *CallbackNotifier) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		n.cancel()
		return nil
	case <-ctx.Done():
		n.cancel()
		<-done
		return ctx.Err()
	}
}

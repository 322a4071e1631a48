package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

const (
	// TaskTypeAnalyze is the asynq task type carrying one job id
	TaskTypeAnalyze = "analysis:run"

	// QueueAnalysis is the asynq queue analysis tasks are placed on
	QueueAnalysis = "analysis"
)

type taskPayload struct {
	JobID string `json:"jobId"`
}

// newAnalyzeTask builds the task for jobID
func newAnalyzeTask(jobID string) (*asynq.Task, error) {
	data, err := json.Marshal(taskPayload{JobID: jobID})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal task payload: %w", err)
	}
	return asynq.NewTask(TaskTypeAnalyze, data), nil
}

// TaskEnqueuer is the part of *asynq.Client the enqueuer needs
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// AsynqEnqueuer dispatches jobs to the asynq worker fleet
type AsynqEnqueuer struct {
	client TaskEnqueuer
}

// NewAsynqEnqueuer creates an enqueuer over an asynq client
func NewAsynqEnqueuer(client TaskEnqueuer) *AsynqEnqueuer {
	return &AsynqEnqueuer{client: client}
}

// Enqueue places a single-attempt task for jobID. Retries are disabled: a job
// that fails is Failed, never re-run.
func (e *AsynqEnqueuer) Enqueue(ctx context.Context, jobID string) error {
	task, err := newAnalyzeTask(jobID)
	if err != nil {
		return err
	}

	_, err = e.client.EnqueueContext(ctx, task,
		asynq.Queue(QueueAnalysis),
		asynq.MaxRetry(0),
		asynq.Retention(24*time.Hour),
		asynq.TaskID(jobID),
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}
	return nil
}

// Executor runs a job that has already been created
type Executor interface {
	Execute(ctx context.Context, jobID string) error
}

// AnalysisWorker processes analysis tasks
type AnalysisWorker struct {
	executor Executor
	logger   zerolog.Logger
}

// NewAnalysisWorker creates a new analysis worker
func NewAnalysisWorker(executor Executor, logger zerolog.Logger) *AnalysisWorker {
	return &AnalysisWorker{
		executor: executor,
		logger:   logger,
	}
}

// ProcessTask handles analysis task processing
func (w *AnalysisWorker) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload taskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal task payload: %w: %w", err, asynq.SkipRetry)
	}
	if payload.JobID == "" {
		return fmt.Errorf("task payload has no job id: %w", asynq.SkipRetry)
	}

	w.logger.Debug().Str("job_id", payload.JobID).Msg("Processing analysis task")

	if err := w.executor.Execute(ctx, payload.JobID); err != nil {
		return fmt.Errorf("job %s: %w: %w", payload.JobID, err, asynq.SkipRetry)
	}
	return nil
}

// NewServeMux registers the analysis handler on a fresh asynq mux
func NewServeMux(w *AnalysisWorker) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TaskTypeAnalyze, w.ProcessTask)
	return mux
}

// ServerConfig tunes the asynq worker server
type ServerConfig struct {
	Redis       asynq.RedisClientOpt
	Concurrency int
	LogLevel    string
	Logger      zerolog.Logger
}

// NewServer creates the asynq server consuming the analysis queue
func NewServer(cfg ServerConfig) *asynq.Server {
	return asynq.NewServer(cfg.Redis, asynq.Config{
		Concurrency: cfg.Concurrency,
		Queues: map[string]int{
			QueueAnalysis: 1,
		},
		Logger:   NewLogger(cfg.Logger),
		LogLevel: LogLevel(cfg.LogLevel),
	})
}

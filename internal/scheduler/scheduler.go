// Package scheduler dispatches analysis jobs without blocking the submitter and
// writes each job's outcome back to the store.
package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/designanalyzer/api/internal/model"
	"github.com/designanalyzer/api/internal/pipeline"
	"github.com/designanalyzer/api/internal/store"
)

// InternalErrorMessage is stored on jobs that failed because of an unexpected fault
const InternalErrorMessage = "internal error during analysis"

var (
	// ErrShuttingDown is returned by Submit once Shutdown has begun
	ErrShuttingDown = errors.New("scheduler is shutting down")

	// ErrDispatch is returned when a created job could not be handed to a worker
	ErrDispatch = errors.New("failed to dispatch job")
)

// Runner runs the analysis pipeline for one input
type Runner interface {
	Run(ctx context.Context, input string, obs pipeline.Observer) (*model.Report, error)
}

// Enqueuer hands a job id to an external worker queue
type Enqueuer interface {
	Enqueue(ctx context.Context, jobID string) error
}

// Config contains configuration for the scheduler
type Config struct {
	// MaxWorkers bounds concurrently running local jobs; 0 means unbounded
	MaxWorkers int

	// Enqueuer switches dispatch from local goroutines to a queue. The queue's
	// consumer must call Execute.
	Enqueuer Enqueuer

	// WriteRetries bounds attempts to record a job's outcome; 0 means 3.
	// RetryBackoff grows linearly per attempt; 0 means 100ms.
	WriteRetries int
	RetryBackoff time.Duration

	Observers []Observer
	Logger    zerolog.Logger
}

// Scheduler accepts jobs and runs them in the background
type Scheduler struct {
	store     store.Store
	runner    Runner
	enqueuer  Enqueuer
	observers Observers
	logger    zerolog.Logger

	writeRetries int
	retryBackoff time.Duration

	// Worker pool
	slots chan struct{}
	wg    sync.WaitGroup

	baseCtx context.Context
	cancel  context.CancelFunc

	mu     sync.Mutex
	closed bool
}

// New creates a scheduler
func New(st store.Store, runner Runner, config Config) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Scheduler{
		store:     st,
		runner:    runner,
		enqueuer:  config.Enqueuer,
		observers: Observers(config.Observers),
		logger:    config.Logger,
		baseCtx:   ctx,
		cancel:    cancel,

		writeRetries: config.WriteRetries,
		retryBackoff: config.RetryBackoff,
	}
	if s.writeRetries <= 0 {
		s.writeRetries = 3
	}
	if s.retryBackoff <= 0 {
		s.retryBackoff = 100 * time.Millisecond
	}
	if config.MaxWorkers > 0 {
		s.slots = make(chan struct{}, config.MaxWorkers)
	}

	return s
}

// Submit creates a Pending job and dispatches it. It never waits for the job to
// run, so the returned snapshot is always Pending.
func (s *Scheduler) Submit(ctx context.Context, spec model.JobSpec) (model.Job, error) {
	if !s.acquire() {
		return model.Job{}, ErrShuttingDown
	}
	launched := false
	defer func() {
		if !launched {
			s.wg.Done()
		}
	}()

	job, err := s.store.Create(ctx, spec)
	if err != nil {
		return model.Job{}, fmt.Errorf("failed to create job: %w", err)
	}

	s.logger.Info().
		Str("job_id", job.ID).
		Str("input", job.Input).
		Msg("Job submitted")
	s.observers.JobSubmitted(job)

	if s.enqueuer != nil {
		if err := s.enqueuer.Enqueue(ctx, job.ID); err != nil {
			s.logger.Error().Err(err).Str("job_id", job.ID).Msg("Failed to enqueue job")
			s.finish(context.WithoutCancel(ctx), job.ID, nil, fmt.Errorf("%w: %v", ErrDispatch, err))
			return job, fmt.Errorf("%w: %v", ErrDispatch, err)
		}
		return job, nil
	}

	launched = true
	go s.runLocal(job.ID)

	return job, nil
}

// acquire registers one in-flight submission unless shutdown has begun
func (s *Scheduler) acquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.wg.Add(1)
	return true
}

func (s *Scheduler) runLocal(jobID string) {
	defer s.wg.Done()
	defer func() {
		if p := recover(); p != nil {
			s.logger.Error().Interface("panic", p).Str("job_id", jobID).Msg("Recovered panic in job goroutine")
			s.finish(context.Background(), jobID, nil, &pipeline.PanicError{Value: p})
		}
	}()

	if s.slots != nil {
		select {
		case s.slots <- struct{}{}:
			defer func() { <-s.slots }()
		case <-s.baseCtx.Done():
			s.finish(context.Background(), jobID, nil, fmt.Errorf("%w: %v", ErrShuttingDown, s.baseCtx.Err()))
			return
		}
	}

	if err := s.Execute(s.baseCtx, jobID); err != nil {
		s.logger.Error().Err(err).Str("job_id", jobID).Msg("Job execution error")
	}
}

// Execute runs one Pending job to a terminal state. A job that is no longer
// Pending was already claimed by another execution and is skipped, which keeps
// execution exactly-once even if a queue delivers the same id twice.
func (s *Scheduler) Execute(ctx context.Context, jobID string) error {
	job, err := s.store.MarkRunning(ctx, jobID)
	if errors.Is(err, model.ErrInvalidTransition) {
		s.logger.Warn().Err(err).Str("job_id", jobID).Msg("Job already claimed, skipping")
		return nil
	}
	if err != nil {
		err = fmt.Errorf("failed to mark job running: %w", err)
		// MarkRunning is not retried: a write that landed but reported an
		// error would make the retry skip the job. Failing is valid from both
		// Pending and Running.
		if !errors.Is(err, model.ErrJobNotFound) {
			s.finish(context.WithoutCancel(ctx), jobID, nil, err)
		}
		return err
	}

	s.logger.Info().Str("job_id", jobID).Msg("Job started")
	s.observers.JobStarted(job)

	var (
		report *model.Report
		runErr error
	)
	func() {
		defer func() {
			if p := recover(); p != nil {
				runErr = &pipeline.PanicError{Value: p}
			}
		}()
		report, runErr = s.runner.Run(ctx, job.Input, s.progressObserver(ctx, jobID))
	}()

	// outcome must be recorded even when ctx was cancelled by shutdown
	s.finish(context.WithoutCancel(ctx), jobID, report, runErr)
	return nil
}

func (s *Scheduler) progressObserver(ctx context.Context, jobID string) pipeline.Observer {
	return pipeline.ObserverFunc(func(stage string, index, total int) {
		progress := 0
		if total > 0 {
			progress = index * 100 / total
		}
		if err := s.store.SetProgress(ctx, jobID, stage, progress); err != nil {
			s.logger.Warn().Err(err).Str("job_id", jobID).Str("stage", stage).Msg("Failed to record progress")
		}
		s.logger.Debug().Str("job_id", jobID).Str("stage", stage).Int("progress", progress).Msg("Stage started")
		s.observers.StageStarted(jobID, stage, progress)
	})
}

// finish writes the terminal state. Store errors are retried; a result that
// still cannot be stored fails the job instead, so it never stays Running.
// Invalid transitions are logged and ignored.
func (s *Scheduler) finish(ctx context.Context, jobID string, report *model.Report, runErr error) {
	var (
		job model.Job
		err error
	)

	if runErr == nil {
		var result []byte
		result, err = json.Marshal(report)
		if err != nil {
			runErr = fmt.Errorf("failed to marshal report: %w", err)
		} else {
			job, err = s.write(ctx, jobID, func() (model.Job, error) {
				return s.store.Complete(ctx, jobID, result)
			})
			if err != nil && !errors.Is(err, model.ErrInvalidTransition) && !errors.Is(err, model.ErrJobNotFound) {
				s.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to record result, failing job")
				runErr = fmt.Errorf("failed to record result: %w", err)
			}
		}
	}

	if runErr != nil {
		msg := failureMessage(runErr)
		event := s.logger.Warn().Err(runErr).Str("job_id", jobID)
		if stage, ok := pipeline.FailedStage(runErr); ok {
			event = event.Str("stage", stage)
		}
		event.Msg("Job failed")

		job, err = s.write(ctx, jobID, func() (model.Job, error) {
			return s.store.Fail(ctx, jobID, msg)
		})
	}

	if err != nil {
		if errors.Is(err, model.ErrInvalidTransition) {
			s.logger.Warn().Err(err).Str("job_id", jobID).Msg("Ignoring invalid state transition")
		} else {
			s.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to record job outcome")
		}
		return
	}

	if job.State == model.JobStateCompleted {
		s.logger.Info().Str("job_id", jobID).Msg("Job completed")
	}
	s.observers.JobFinished(job)
}

// write retries a terminal store write with linear backoff. Transition and
// not-found errors are final and returned at once.
func (s *Scheduler) write(ctx context.Context, jobID string, fn func() (model.Job, error)) (model.Job, error) {
	var (
		job model.Job
		err error
	)
	for attempt := 1; attempt <= s.writeRetries; attempt++ {
		job, err = fn()
		if err == nil || errors.Is(err, model.ErrInvalidTransition) || errors.Is(err, model.ErrJobNotFound) {
			return job, err
		}
		if attempt == s.writeRetries {
			break
		}

		s.logger.Warn().Err(err).Str("job_id", jobID).Int("attempt", attempt).Msg("Store write failed, retrying")
		timer := time.NewTimer(time.Duration(attempt) * s.retryBackoff)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return job, err
		}
	}
	return job, err
}

// failureMessage is what callers see on a Failed job. Faults that are not
// attributable stage failures get a generic message.
func failureMessage(err error) string {
	if pipeline.IsPanic(err) {
		return InternalErrorMessage
	}
	if _, ok := pipeline.FailedStage(err); ok {
		return err.Error()
	}
	if errors.Is(err, ErrDispatch) || errors.Is(err, ErrShuttingDown) {
		return err.Error()
	}
	return InternalErrorMessage
}

// Shutdown stops accepting jobs and waits for local jobs to finish. When ctx ends
// first, running jobs are cancelled and recorded as Failed before it returns.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.logger.Warn().Msg("Shutdown grace period over, cancelling running jobs")
		s.cancel()
		<-done
		return ctx.Err()
	}
}

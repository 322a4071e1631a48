// Package pipeline runs the analysis stages for a single job.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/designanalyzer/api/internal/model"
)

// Stage names, in execution order
const (
	StageCapture         = "capture"
	StageDetect          = "detect-elements"
	StageExtractColors   = "extract-colors"
	StageVisionReview    = "vision-review"
	StageObjectiveRules  = "objective-rules"
	StageSubjectiveRules = "subjective-rules"
	StageRender          = "render-report"
)

// StageNames lists every stage in order
var StageNames = []string{
	StageCapture,
	StageDetect,
	StageExtractColors,
	StageVisionReview,
	StageObjectiveRules,
	StageSubjectiveRules,
	StageRender,
}

// RenderInput is everything the report stage receives
type RenderInput struct {
	Input      string
	Screenshot *model.Screenshot
	Elements   []model.EnrichedElement
	Review     *model.VisionReview
	Violations []model.Violation
}

// Stages are the external collaborators of the runner. Each must be safe for
// concurrent use by many jobs.
type Stages struct {
	Capture         func(ctx context.Context, input string) (*model.Screenshot, error)
	Detect          func(ctx context.Context, shot *model.Screenshot) ([]model.Element, error)
	ExtractColors   func(ctx context.Context, shot *model.Screenshot, elements []model.Element) ([]model.EnrichedElement, error)
	Review          func(ctx context.Context, shot *model.Screenshot, elements []model.EnrichedElement) (*model.VisionReview, error)
	ObjectiveRules  func(ctx context.Context, elements []model.EnrichedElement) ([]model.Violation, error)
	SubjectiveRules func(ctx context.Context, elements []model.EnrichedElement, review *model.VisionReview) ([]model.Violation, error)
	Render          func(ctx context.Context, in RenderInput) (*model.Report, error)
}

// Observer is told when each stage begins
type Observer interface {
	StageStarted(stage string, index, total int)
}

// ObserverFunc adapts a function to Observer
type ObserverFunc func(stage string, index, total int)

func (f ObserverFunc) StageStarted(stage string, index, total int) {
	f(stage, index, total)
}

// Options tune the runner. Zero timeouts disable the corresponding deadline.
type Options struct {
	StageTimeout  time.Duration
	JobTimeout    time.Duration
	ParallelRules bool

	// OnStageDone is called once per finished stage, successful or not
	OnStageDone func(stage string, elapsed time.Duration, err error)

	Logger zerolog.Logger
}

// Runner executes the stage sequence. It keeps no per-job state, so one Runner
// serves any number of concurrent jobs.
type Runner struct {
	stages Stages
	opts   Options
}

// NewRunner creates a runner over the given stages
func NewRunner(stages Stages, opts Options) *Runner {
	return &Runner{stages: stages, opts: opts}
}

// Run executes every stage for input. The first failing stage aborts the run and
// is returned as a *StageError; no partial report is produced.
func (r *Runner) Run(ctx context.Context, input string, obs Observer) (*model.Report, error) {
	if r.opts.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.JobTimeout)
		defer cancel()
	}

	total := len(StageNames)
	started := func(stage string, index int) {
		if obs != nil {
			obs.StageStarted(stage, index, total)
		}
	}

	started(StageCapture, 0)
	shot, err := invoke(ctx, r, StageCapture, r.stages.Capture == nil, func(ctx context.Context) (*model.Screenshot, error) {
		return r.stages.Capture(ctx, input)
	})
	if err != nil {
		return nil, err
	}
	if shot == nil {
		return nil, &StageError{Stage: StageCapture, Err: errors.New("no screenshot produced")}
	}

	started(StageDetect, 1)
	elements, err := invoke(ctx, r, StageDetect, r.stages.Detect == nil, func(ctx context.Context) ([]model.Element, error) {
		return r.stages.Detect(ctx, shot)
	})
	if err != nil {
		return nil, err
	}

	started(StageExtractColors, 2)
	enriched, err := invoke(ctx, r, StageExtractColors, r.stages.ExtractColors == nil, func(ctx context.Context) ([]model.EnrichedElement, error) {
		return r.stages.ExtractColors(ctx, shot, elements)
	})
	if err != nil {
		return nil, err
	}

	started(StageVisionReview, 3)
	review, err := invoke(ctx, r, StageVisionReview, r.stages.Review == nil, func(ctx context.Context) (*model.VisionReview, error) {
		return r.stages.Review(ctx, shot, enriched)
	})
	if err != nil {
		return nil, err
	}

	violations, err := r.checkRules(ctx, enriched, review, started)
	if err != nil {
		return nil, err
	}

	started(StageRender, 6)
	report, err := invoke(ctx, r, StageRender, r.stages.Render == nil, func(ctx context.Context) (*model.Report, error) {
		return r.stages.Render(ctx, RenderInput{
			Input:      input,
			Screenshot: shot,
			Elements:   enriched,
			Review:     review,
			Violations: violations,
		})
	})
	if err != nil {
		return nil, err
	}
	if report == nil {
		return nil, &StageError{Stage: StageRender, Err: errors.New("no report produced")}
	}
	if report.Input == "" {
		report.Input = input
	}

	return report, nil
}

// checkRules runs both rule evaluators. They only depend on the enriched elements,
// so they may run concurrently; the merged list is always objective then subjective
// and an objective failure wins over a subjective one.
func (r *Runner) checkRules(ctx context.Context, elements []model.EnrichedElement, review *model.VisionReview, started func(string, int)) ([]model.Violation, error) {
	objective := func(ctx context.Context) ([]model.Violation, error) {
		return invoke(ctx, r, StageObjectiveRules, r.stages.ObjectiveRules == nil, func(ctx context.Context) ([]model.Violation, error) {
			return r.stages.ObjectiveRules(ctx, elements)
		})
	}
	subjective := func(ctx context.Context) ([]model.Violation, error) {
		return invoke(ctx, r, StageSubjectiveRules, r.stages.SubjectiveRules == nil, func(ctx context.Context) ([]model.Violation, error) {
			return r.stages.SubjectiveRules(ctx, elements, review)
		})
	}

	if !r.opts.ParallelRules {
		started(StageObjectiveRules, 4)
		obj, err := objective(ctx)
		if err != nil {
			return nil, err
		}
		started(StageSubjectiveRules, 5)
		subj, err := subjective(ctx)
		if err != nil {
			return nil, err
		}
		return merge(obj, subj), nil
	}

	started(StageObjectiveRules, 4)
	started(StageSubjectiveRules, 5)

	var obj, subj []model.Violation
	var objErr, subjErr error

	// Both checks always run to the end so the reported failure does not depend on timing
	var g errgroup.Group
	g.Go(func() error {
		obj, objErr = objective(ctx)
		return objErr
	})
	g.Go(func() error {
		subj, subjErr = subjective(ctx)
		return subjErr
	})
	_ = g.Wait()

	if objErr != nil {
		return nil, objErr
	}
	if subjErr != nil {
		return nil, subjErr
	}
	return merge(obj, subj), nil
}

func merge(a, b []model.Violation) []model.Violation {
	out := make([]model.Violation, 0, len(a)+len(b))
	out = append(out, a...)
	return append(out, b...)
}

type outcome[T any] struct {
	value T
	err   error
}

// invoke runs one stage under its deadline. A panic is recovered into a
// *PanicError; a stage that ignores its context is abandoned once the deadline
// passes. Every error returned is a *StageError.
func invoke[T any](ctx context.Context, r *Runner, stage string, missing bool, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if missing {
		return zero, &StageError{Stage: stage, Err: ErrStageNotConfigured}
	}
	if err := ctx.Err(); err != nil {
		return zero, &StageError{Stage: stage, Err: err}
	}

	if r.opts.StageTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.opts.StageTimeout)
		defer cancel()
	}

	start := time.Now()
	done := make(chan outcome[T], 1)

	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome[T]{err: &PanicError{Value: p, Stack: debug.Stack()}}
			}
		}()
		v, err := fn(ctx)
		done <- outcome[T]{value: v, err: err}
	}()

	var res outcome[T]
	select {
	case res = <-done:
	case <-ctx.Done():
		res = outcome[T]{err: fmt.Errorf("abandoned: %w", ctx.Err())}
	}

	elapsed := time.Since(start)
	if r.opts.OnStageDone != nil {
		r.opts.OnStageDone(stage, elapsed, res.err)
	}

	if res.err != nil {
		r.opts.Logger.Debug().
			Str("stage", stage).
			Dur("elapsed", elapsed).
			Err(res.err).
			Msg("Stage failed")
		return zero, &StageError{Stage: stage, Err: res.err}
	}

	r.opts.Logger.Debug().
		Str("stage", stage).
		Dur("elapsed", elapsed).
		Msg("Stage finished")
	return res.value, nil
}

package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/designanalyzer/api/internal/model"
	"github.com/designanalyzer/api/internal/pipeline"
	"github.com/designanalyzer/api/internal/store"
)

type fakeRunner struct {
	run func(ctx context.Context, input string, obs pipeline.Observer) (*model.Report, error)
}

func (f *fakeRunner) Run(ctx context.Context, input string, obs pipeline.Observer) (*model.Report, error) {
	return f.run(ctx, input, obs)
}

func okRunner() *fakeRunner {
	return &fakeRunner{run: func(ctx context.Context, input string, obs pipeline.Observer) (*model.Report, error) {
		if obs != nil {
			for i, stage := range pipeline.StageNames {
				obs.StageStarted(stage, i, len(pipeline.StageNames))
			}
		}
		return &model.Report{Input: input, Status: "completed"}, nil
	}}
}

// recorder captures observer events
type recorder struct {
	mu        sync.Mutex
	submitted []string
	started   []string
	stages    []string
	finished  []model.Job
}

func (r *recorder) JobSubmitted(job model.Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.submitted = append(r.submitted, job.ID)
}

func (r *recorder) JobStarted(job model.Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, job.ID)
}

func (r *recorder) StageStarted(jobID, stage string, progress int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages = append(r.stages, stage)
}

func (r *recorder) JobFinished(job model.Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finished = append(r.finished, job)
}

func (r *recorder) finishedJobs() []model.Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.Job(nil), r.finished...)
}

type fakeEnqueuer struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (f *fakeEnqueuer) Enqueue(ctx context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.ids = append(f.ids, jobID)
	return nil
}

func newTestStore(t *testing.T) *store.MemoryStore {
	t.Helper()
	st := store.NewMemoryStore(store.MemoryStoreConfig{Logger: zerolog.Nop()})
	t.Cleanup(func() { st.Close() })
	return st
}

func newTestScheduler(t *testing.T, st store.Store, runner Runner, config Config) *Scheduler {
	t.Helper()
	config.Logger = zerolog.Nop()
	s := New(st, runner, config)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(ctx)
	})
	return s
}

// waitTerminal polls until the job is Completed or Failed
func waitTerminal(t *testing.T, st store.Store, id string) model.Job {
	t.Helper()
	var job model.Job
	require.Eventually(t, func() bool {
		var err error
		job, err = st.Get(context.Background(), id)
		return err == nil && job.State.IsTerminal()
	}, 5*time.Second, 5*time.Millisecond)
	return job
}

func TestSubmit_ReturnsBeforeExecution(t *testing.T) {
	st := newTestStore(t)
	release := make(chan struct{})
	runner := &fakeRunner{run: func(ctx context.Context, input string, obs pipeline.Observer) (*model.Report, error) {
		<-release
		return &model.Report{Input: input}, nil
	}}
	s := newTestScheduler(t, st, runner, Config{MaxWorkers: 2})

	job, err := s.Submit(context.Background(), model.JobSpec{Input: "https://example.com"})
	require.NoError(t, err)
	assert.Equal(t, model.JobStatePending, job.State)

	got, err := st.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Contains(t, []model.JobState{model.JobStatePending, model.JobStateRunning}, got.State)

	close(release)
	done := waitTerminal(t, st, job.ID)
	assert.Equal(t, model.JobStateCompleted, done.State)
}

func TestSubmit_CompletesWithResult(t *testing.T) {
	st := newTestStore(t)
	rec := &recorder{}
	s := newTestScheduler(t, st, okRunner(), Config{Observers: []Observer{rec}})

	job, err := s.Submit(context.Background(), model.JobSpec{Input: "https://example.com"})
	require.NoError(t, err)

	done := waitTerminal(t, st, job.ID)
	assert.Equal(t, model.JobStateCompleted, done.State)
	assert.Nil(t, done.Error)
	require.NotEmpty(t, done.Result)

	var report model.Report
	require.NoError(t, json.Unmarshal(done.Result, &report))
	assert.Equal(t, "https://example.com", report.Input)

	require.Eventually(t, func() bool { return len(rec.finishedJobs()) == 1 }, time.Second, 5*time.Millisecond)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Equal(t, []string{job.ID}, rec.submitted)
	assert.Equal(t, []string{job.ID}, rec.started)
	assert.Equal(t, pipeline.StageNames, rec.stages)
	assert.Equal(t, model.JobStateCompleted, rec.finished[0].State)
}

func TestSubmit_StageFailureIsRecorded(t *testing.T) {
	st := newTestStore(t)
	runner := &fakeRunner{run: func(ctx context.Context, input string, obs pipeline.Observer) (*model.Report, error) {
		return nil, &pipeline.StageError{Stage: pipeline.StageDetect, Err: errors.New("connection refused")}
	}}
	s := newTestScheduler(t, st, runner, Config{})

	job, err := s.Submit(context.Background(), model.JobSpec{Input: "https://example.com"})
	require.NoError(t, err)

	done := waitTerminal(t, st, job.ID)
	assert.Equal(t, model.JobStateFailed, done.State)
	assert.Nil(t, done.Result)
	require.NotNil(t, done.Error)
	assert.Contains(t, *done.Error, "detect")
	assert.Equal(t, `stage "detect-elements" failed: connection refused`, *done.Error)
}

func TestSubmit_PanicBecomesGenericFailure(t *testing.T) {
	st := newTestStore(t)
	runner := &fakeRunner{run: func(ctx context.Context, input string, obs pipeline.Observer) (*model.Report, error) {
		panic("unexpected nil")
	}}
	s := newTestScheduler(t, st, runner, Config{})

	job, err := s.Submit(context.Background(), model.JobSpec{Input: "https://example.com"})
	require.NoError(t, err)

	done := waitTerminal(t, st, job.ID)
	assert.Equal(t, model.JobStateFailed, done.State)
	require.NotNil(t, done.Error)
	assert.Equal(t, InternalErrorMessage, *done.Error)
}

func TestSubmit_StagePanicBecomesGenericFailure(t *testing.T) {
	st := newTestStore(t)
	runner := &fakeRunner{run: func(ctx context.Context, input string, obs pipeline.Observer) (*model.Report, error) {
		return nil, &pipeline.StageError{Stage: pipeline.StageRender, Err: &pipeline.PanicError{Value: "boom"}}
	}}
	s := newTestScheduler(t, st, runner, Config{})

	job, _ := s.Submit(context.Background(), model.JobSpec{Input: "https://example.com"})

	done := waitTerminal(t, st, job.ID)
	require.NotNil(t, done.Error)
	assert.Equal(t, InternalErrorMessage, *done.Error)
}

func TestSubmit_ConcurrentJobsStayIsolated(t *testing.T) {
	st := newTestStore(t)
	s := newTestScheduler(t, st, okRunner(), Config{MaxWorkers: 4})

	const n = 50
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			job, err := s.Submit(context.Background(), model.JobSpec{Input: fmt.Sprintf("https://site-%d.test", i)})
			if assert.NoError(t, err) {
				ids[i] = job.ID
			}
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool)
	for i, id := range ids {
		require.NotEmpty(t, id)
		assert.False(t, seen[id])
		seen[id] = true

		done := waitTerminal(t, st, id)
		require.Equal(t, model.JobStateCompleted, done.State)

		var report model.Report
		require.NoError(t, json.Unmarshal(done.Result, &report))
		assert.Equal(t, fmt.Sprintf("https://site-%d.test", i), report.Input)
	}
}

func TestSubmit_WorkerPoolBoundsConcurrency(t *testing.T) {
	st := newTestStore(t)

	var running, peak int32
	runner := &fakeRunner{run: func(ctx context.Context, input string, obs pipeline.Observer) (*model.Report, error) {
		cur := atomic.AddInt32(&running, 1)
		for {
			old := atomic.LoadInt32(&peak)
			if cur <= old || atomic.CompareAndSwapInt32(&peak, old, cur) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		return &model.Report{Input: input}, nil
	}}
	s := newTestScheduler(t, st, runner, Config{MaxWorkers: 2})

	var ids []string
	for i := 0; i < 10; i++ {
		job, err := s.Submit(context.Background(), model.JobSpec{Input: "https://example.com"})
		require.NoError(t, err)
		ids = append(ids, job.ID)
	}
	for _, id := range ids {
		waitTerminal(t, st, id)
	}

	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestSubmit_StatesAreMonotonic(t *testing.T) {
	st := newTestStore(t)
	release := make(chan struct{})
	runner := &fakeRunner{run: func(ctx context.Context, input string, obs pipeline.Observer) (*model.Report, error) {
		<-release
		return &model.Report{Input: input}, nil
	}}
	s := newTestScheduler(t, st, runner, Config{})

	job, _ := s.Submit(context.Background(), model.JobSpec{Input: "https://example.com"})

	rank := map[model.JobState]int{
		model.JobStatePending:   0,
		model.JobStateRunning:   1,
		model.JobStateCompleted: 2,
		model.JobStateFailed:    2,
	}
	last := 0
	go func() {
		time.Sleep(20 * time.Millisecond)
		close(release)
	}()
	for i := 0; i < 500; i++ {
		got, err := st.Get(context.Background(), job.ID)
		require.NoError(t, err)
		require.GreaterOrEqual(t, rank[got.State], last)
		last = rank[got.State]
		if got.State.IsTerminal() {
			break
		}
		time.Sleep(time.Millisecond)
	}
}

func TestExecute_SkipsAlreadyClaimedJob(t *testing.T) {
	st := newTestStore(t)
	var calls int32
	runner := &fakeRunner{run: func(ctx context.Context, input string, obs pipeline.Observer) (*model.Report, error) {
		atomic.AddInt32(&calls, 1)
		return &model.Report{Input: input}, nil
	}}
	enq := &fakeEnqueuer{}
	s := newTestScheduler(t, st, runner, Config{Enqueuer: enq})

	job, err := s.Submit(context.Background(), model.JobSpec{Input: "https://example.com"})
	require.NoError(t, err)
	assert.Equal(t, []string{job.ID}, enq.ids)

	require.NoError(t, s.Execute(context.Background(), job.ID))
	require.NoError(t, s.Execute(context.Background(), job.ID))

	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
	got, _ := st.Get(context.Background(), job.ID)
	assert.Equal(t, model.JobStateCompleted, got.State)
}

func TestExecute_UnknownJob(t *testing.T) {
	st := newTestStore(t)
	s := newTestScheduler(t, st, okRunner(), Config{Enqueuer: &fakeEnqueuer{}})

	err := s.Execute(context.Background(), "missing")
	assert.ErrorIs(t, err, model.ErrJobNotFound)
}

func TestSubmit_EnqueueFailureFailsJob(t *testing.T) {
	st := newTestStore(t)
	enq := &fakeEnqueuer{err: errors.New("redis down")}
	s := newTestScheduler(t, st, okRunner(), Config{Enqueuer: enq})

	job, err := s.Submit(context.Background(), model.JobSpec{Input: "https://example.com"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDispatch)

	got, err := st.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStateFailed, got.State)
	require.NotNil(t, got.Error)
	assert.Contains(t, *got.Error, "redis down")
}

func TestShutdown_WaitsForRunningJobs(t *testing.T) {
	st := newTestStore(t)
	runner := &fakeRunner{run: func(ctx context.Context, input string, obs pipeline.Observer) (*model.Report, error) {
		time.Sleep(30 * time.Millisecond)
		return &model.Report{Input: input}, nil
	}}
	s := New(st, runner, Config{Logger: zerolog.Nop()})

	job, err := s.Submit(context.Background(), model.JobSpec{Input: "https://example.com"})
	require.NoError(t, err)

	require.NoError(t, s.Shutdown(context.Background()))

	got, _ := st.Get(context.Background(), job.ID)
	assert.Equal(t, model.JobStateCompleted, got.State)

	_, err = s.Submit(context.Background(), model.JobSpec{Input: "https://example.com"})
	assert.ErrorIs(t, err, ErrShuttingDown)
}

func TestShutdown_GraceExpiredCancelsJobs(t *testing.T) {
	st := newTestStore(t)
	runner := &fakeRunner{run: func(ctx context.Context, input string, obs pipeline.Observer) (*model.Report, error) {
		<-ctx.Done()
		return nil, &pipeline.StageError{Stage: pipeline.StageCapture, Err: ctx.Err()}
	}}
	s := New(st, runner, Config{Logger: zerolog.Nop()})

	job, err := s.Submit(context.Background(), model.JobSpec{Input: "https://example.com"})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, s.Shutdown(ctx), context.DeadlineExceeded)

	got, _ := st.Get(context.Background(), job.ID)
	assert.Equal(t, model.JobStateFailed, got.State)
	require.NotNil(t, got.Error)
	assert.Contains(t, *got.Error, "capture")
}

// flakyStore fails the first n calls of selected operations
type flakyStore struct {
	store.Store

	mu              sync.Mutex
	completeErrs    int
	markRunningErrs int
}

var errConnReset = errors.New("dial tcp 127.0.0.1:6379: connection reset by peer")

func (f *flakyStore) take(n *int) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if *n == 0 {
		return false
	}
	if *n > 0 {
		*n--
	}
	return true
}

func (f *flakyStore) Complete(ctx context.Context, id string, result json.RawMessage) (model.Job, error) {
	if f.take(&f.completeErrs) {
		return model.Job{}, errConnReset
	}
	return f.Store.Complete(ctx, id, result)
}

func (f *flakyStore) MarkRunning(ctx context.Context, id string) (model.Job, error) {
	if f.take(&f.markRunningErrs) {
		return model.Job{}, errConnReset
	}
	return f.Store.MarkRunning(ctx, id)
}

func TestFinish_RetriesTransientStoreError(t *testing.T) {
	st := &flakyStore{Store: newTestStore(t), completeErrs: 1}
	s := New(st, okRunner(), Config{RetryBackoff: time.Millisecond, Logger: zerolog.Nop()})

	job, err := s.Submit(context.Background(), model.JobSpec{Input: "https://example.com"})
	require.NoError(t, err)
	require.NoError(t, s.Shutdown(context.Background()))

	got, err := st.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStateCompleted, got.State)
	assert.NotEmpty(t, got.Result)
}

func TestFinish_UnstorableResultFailsJob(t *testing.T) {
	st := &flakyStore{Store: newTestStore(t), completeErrs: -1}
	rec := &recorder{}
	s := New(st, okRunner(), Config{RetryBackoff: time.Millisecond, Observers: []Observer{rec}, Logger: zerolog.Nop()})

	job, err := s.Submit(context.Background(), model.JobSpec{Input: "https://example.com"})
	require.NoError(t, err)
	require.NoError(t, s.Shutdown(context.Background()))

	got, err := st.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStateFailed, got.State)
	require.NotNil(t, got.Error)
	assert.Equal(t, InternalErrorMessage, *got.Error)
	assert.Nil(t, got.Result)

	finished := rec.finishedJobs()
	require.Len(t, finished, 1)
	assert.Equal(t, model.JobStateFailed, finished[0].State)
}

func TestExecute_MarkRunningStoreErrorFailsJob(t *testing.T) {
	st := &flakyStore{Store: newTestStore(t), markRunningErrs: 1}
	var calls int32
	runner := &fakeRunner{run: func(ctx context.Context, input string, obs pipeline.Observer) (*model.Report, error) {
		atomic.AddInt32(&calls, 1)
		return &model.Report{Input: input}, nil
	}}
	s := New(st, runner, Config{RetryBackoff: time.Millisecond, Logger: zerolog.Nop()})

	job, err := s.Submit(context.Background(), model.JobSpec{Input: "https://example.com"})
	require.NoError(t, err)
	require.NoError(t, s.Shutdown(context.Background()))

	got, err := st.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStateFailed, got.State)
	require.NotNil(t, got.Error)
	assert.Equal(t, InternalErrorMessage, *got.Error)
	assert.Zero(t, atomic.LoadInt32(&calls))
}

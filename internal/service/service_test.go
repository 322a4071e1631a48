package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/designanalyzer/api/internal/model"
	"github.com/designanalyzer/api/internal/store"
)

// storeSubmitter creates jobs without running them
type storeSubmitter struct {
	store store.Store
	err   error
	calls int
}

func (s *storeSubmitter) Submit(ctx context.Context, spec model.JobSpec) (model.Job, error) {
	s.calls++
	if s.err != nil {
		return model.Job{}, s.err
	}
	return s.store.Create(ctx, spec)
}

func newTestStore(t *testing.T) *store.MemoryStore {
	t.Helper()
	st := store.NewMemoryStore(store.MemoryStoreConfig{Logger: zerolog.Nop()})
	t.Cleanup(func() { st.Close() })
	return st
}

func TestSubmissionService_Submit(t *testing.T) {
	sub := &storeSubmitter{store: newTestStore(t)}
	svc := NewSubmissionService(sub, NewValidator())

	resp, err := svc.Submit(context.Background(), &model.AnalyzeRequest{Input: "  https://example.com  "})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.ID)
	assert.Equal(t, model.JobStatePending, resp.State)
	assert.NotEmpty(t, resp.Message)

	job, err := sub.store.Get(context.Background(), resp.ID)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", job.Input)
}

func TestSubmissionService_LegacyURLField(t *testing.T) {
	sub := &storeSubmitter{store: newTestStore(t)}
	svc := NewSubmissionService(sub, NewValidator())

	resp, err := svc.Submit(context.Background(), &model.AnalyzeRequest{URL: "https://example.com"})
	require.NoError(t, err)

	job, _ := sub.store.Get(context.Background(), resp.ID)
	assert.Equal(t, "https://example.com", job.Input)
}

func TestSubmissionService_Validation(t *testing.T) {
	tests := []struct {
		name  string
		req   model.AnalyzeRequest
		field string
		tag   string
	}{
		{"empty", model.AnalyzeRequest{}, "input", "required"},
		{"blank", model.AnalyzeRequest{Input: "   "}, "input", "required"},
		{"not a url", model.AnalyzeRequest{Input: "example"}, "input", "http_url"},
		{"wrong scheme", model.AnalyzeRequest{Input: "ftp://example.com"}, "input", "http_url"},
		{"too long", model.AnalyzeRequest{Input: "https://example.com/" + strings.Repeat("a", 2048)}, "input", "max"},
		{"bad callback", model.AnalyzeRequest{Input: "https://example.com", CallbackURL: "nope"}, "callbackUrl", "http_url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := &storeSubmitter{store: newTestStore(t)}
			svc := NewSubmissionService(sub, NewValidator())

			req := tt.req
			resp, err := svc.Submit(context.Background(), &req)
			assert.Nil(t, resp)

			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tt.tag, verr.Fields[tt.field])
			assert.Zero(t, sub.calls, "no job is created for an invalid request")

			stats, _ := sub.store.Stats(context.Background())
			assert.Zero(t, stats.Total)
		})
	}
}

func TestSubmissionService_SchedulerError(t *testing.T) {
	sub := &storeSubmitter{err: errors.New("queue down")}
	svc := NewSubmissionService(sub, NewValidator())

	_, err := svc.Submit(context.Background(), &model.AnalyzeRequest{Input: "https://example.com"})
	require.Error(t, err)

	var verr *ValidationError
	assert.False(t, errors.As(err, &verr))
}

func TestStatusService_Status(t *testing.T) {
	st := newTestStore(t)
	svc := NewStatusService(st)
	ctx := context.Background()

	_, err := svc.Status(ctx, "unknown")
	assert.ErrorIs(t, err, model.ErrJobNotFound)

	job, _ := st.Create(ctx, model.JobSpec{Input: "https://example.com", CallbackURL: "https://hook.test"})
	status, err := svc.Status(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, status.ID)
	assert.Equal(t, model.JobStatePending, status.State)

	data, err := json.Marshal(status)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hook.test")
}

func TestStatusService_Result(t *testing.T) {
	st := newTestStore(t)
	svc := NewStatusService(st)
	ctx := context.Background()

	job, _ := st.Create(ctx, model.JobSpec{Input: "https://example.com"})

	_, state, err := svc.Result(ctx, job.ID)
	assert.ErrorIs(t, err, model.ErrJobNotCompleted)
	assert.Equal(t, model.JobStatePending, state)

	_, _ = st.MarkRunning(ctx, job.ID)
	_, err = st.Complete(ctx, job.ID, json.RawMessage(`{"input":"https://example.com"}`))
	require.NoError(t, err)

	result, state, err := svc.Result(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStateCompleted, state)
	assert.JSONEq(t, `{"input":"https://example.com"}`, string(result))

	_, _, err = svc.Result(ctx, "unknown")
	assert.ErrorIs(t, err, model.ErrJobNotFound)
}

func TestStatusService_Stats(t *testing.T) {
	st := newTestStore(t)
	svc := NewStatusService(st)
	ctx := context.Background()

	a, _ := st.Create(ctx, model.JobSpec{Input: "https://a.test"})
	_, _ = st.Create(ctx, model.JobSpec{Input: "https://b.test"})
	_, _ = st.MarkRunning(ctx, a.ID)

	stats, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Running)
	assert.Equal(t, 1, stats.Pending)
}

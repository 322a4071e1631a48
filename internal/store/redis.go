package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/designanalyzer/api/internal/model"
)

const (
	jobKeyPrefix = "job:"

	// optimistic transaction attempts before giving up on a contended key
	maxTxRetries = 16
)

// RedisStore keeps jobs as JSON documents under job:<id>. Transitions run in a
// WATCH/MULTI transaction on the single key, so concurrent writers to one id
// never lose updates and different ids never contend.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
	now    func() time.Time
}

// NewRedisStore creates a redis-backed store. ttl 0 means keys never expire.
func NewRedisStore(client *redis.Client, ttl time.Duration, logger zerolog.Logger) *RedisStore {
	return &RedisStore{
		client: client,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}
}

func jobKey(id string) string {
	return jobKeyPrefix + id
}

func (s *RedisStore) Create(ctx context.Context, spec model.JobSpec) (model.Job, error) {
	for {
		job := newJob(uuid.NewString(), spec, s.now())

		data, err := json.Marshal(job)
		if err != nil {
			return model.Job{}, fmt.Errorf("failed to marshal job: %w", err)
		}

		ok, err := s.client.SetNX(ctx, jobKey(job.ID), data, s.ttl).Result()
		if err != nil {
			return model.Job{}, fmt.Errorf("failed to store job: %w", err)
		}
		if ok {
			s.logger.Debug().
				Str("job_id", job.ID).
				Str("input", spec.Input).
				Msg("Created job")
			return job, nil
		}
	}
}

func (s *RedisStore) Get(ctx context.Context, id string) (model.Job, error) {
	data, err := s.client.Get(ctx, jobKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.Job{}, model.ErrJobNotFound
	}
	if err != nil {
		return model.Job{}, fmt.Errorf("failed to get job: %w", err)
	}

	var job model.Job
	if err := json.Unmarshal(data, &job); err != nil {
		return model.Job{}, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return job, nil
}

// update applies fn to the stored job inside an optimistic transaction
func (s *RedisStore) update(ctx context.Context, id string, fn func(j *model.Job) error) (model.Job, error) {
	key := jobKey(id)
	var job model.Job

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return model.ErrJobNotFound
		}
		if err != nil {
			return err
		}

		job = model.Job{}
		if err := json.Unmarshal(data, &job); err != nil {
			return fmt.Errorf("failed to unmarshal job: %w", err)
		}
		if err := fn(&job); err != nil {
			return err
		}

		out, err := json.Marshal(job)
		if err != nil {
			return fmt.Errorf("failed to marshal job: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, s.ttl)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return job, err
	}

	return model.Job{}, fmt.Errorf("job %s: too much contention, update abandoned", id)
}

func (s *RedisStore) MarkRunning(ctx context.Context, id string) (model.Job, error) {
	return s.update(ctx, id, func(j *model.Job) error {
		return applyRunning(j, s.now())
	})
}

func (s *RedisStore) SetProgress(ctx context.Context, id, stage string, progress int) error {
	_, err := s.update(ctx, id, func(j *model.Job) error {
		return applyProgress(j, stage, progress)
	})
	return err
}

func (s *RedisStore) Complete(ctx context.Context, id string, result json.RawMessage) (model.Job, error) {
	return s.update(ctx, id, func(j *model.Job) error {
		return applyComplete(j, result, s.now())
	})
}

func (s *RedisStore) Fail(ctx context.Context, id, message string) (model.Job, error) {
	return s.update(ctx, id, func(j *model.Job) error {
		return applyFail(j, message, s.now())
	})
}

// Stats scans every job key. Cost grows with the number of stored jobs.
func (s *RedisStore) Stats(ctx context.Context) (model.JobStats, error) {
	var stats model.JobStats

	iter := s.client.Scan(ctx, 0, jobKeyPrefix+"*", 200).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return stats, fmt.Errorf("failed to scan jobs: %w", err)
	}
	if len(keys) == 0 {
		return stats, nil
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return stats, fmt.Errorf("failed to load jobs: %w", err)
	}

	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			// expired between SCAN and MGET
			continue
		}
		var job struct {
			State model.JobState `json:"state"`
		}
		if err := json.NewDecoder(strings.NewReader(raw)).Decode(&job); err != nil {
			s.logger.Warn().Err(err).Msg("Skipping unreadable job record")
			continue
		}
		stats.Add(job.State)
	}

	return stats, nil
}

package store

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/designanalyzer/api/internal/model"
)

type entry struct {
	mu  sync.Mutex
	job model.Job
}

// MemoryStore keeps jobs in process memory. The map lock only guards membership;
// field mutation happens under the per-job lock so work on different ids never
// contends beyond a map lookup.
type MemoryStore struct {
	jobs   map[string]*entry
	mutex  sync.RWMutex
	logger zerolog.Logger

	now func() time.Time

	// Cleanup
	ttl        time.Duration
	interval   time.Duration
	shutdownCh chan struct{}
	stopOnce   sync.Once
}

// MemoryStoreConfig contains configuration for the memory store
type MemoryStoreConfig struct {
	// TTL evicts terminal jobs this long after completion; 0 keeps them forever
	TTL             time.Duration
	JanitorInterval time.Duration
	Logger          zerolog.Logger
}

// NewMemoryStore creates a memory store and, if a TTL is set, starts its janitor
func NewMemoryStore(config MemoryStoreConfig) *MemoryStore {
	if config.JanitorInterval <= 0 {
		config.JanitorInterval = 10 * time.Minute
	}

	s := &MemoryStore{
		jobs:       make(map[string]*entry),
		logger:     config.Logger,
		now:        time.Now,
		ttl:        config.TTL,
		interval:   config.JanitorInterval,
		shutdownCh: make(chan struct{}),
	}

	if s.ttl > 0 {
		go s.cleanupRoutine()
	}

	return s
}

func (s *MemoryStore) Create(ctx context.Context, spec model.JobSpec) (model.Job, error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	id := uuid.NewString()
	for _, exists := s.jobs[id]; exists; _, exists = s.jobs[id] {
		id = uuid.NewString()
	}

	e := &entry{job: newJob(id, spec, s.now())}
	s.jobs[id] = e

	s.logger.Debug().
		Str("job_id", id).
		Str("input", spec.Input).
		Msg("Created job")

	return e.job.Clone(), nil
}

func (s *MemoryStore) lookup(id string) (*entry, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	e, exists := s.jobs[id]
	if !exists {
		return nil, model.ErrJobNotFound
	}
	return e, nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (model.Job, error) {
	e, err := s.lookup(id)
	if err != nil {
		return model.Job{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.job.Clone(), nil
}

// update runs fn on the live record under its lock. A failing fn leaves the record untouched.
func (s *MemoryStore) update(id string, fn func(j *model.Job) error) (model.Job, error) {
	e, err := s.lookup(id)
	if err != nil {
		return model.Job{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	next := e.job.Clone()
	if err := fn(&next); err != nil {
		return e.job.Clone(), err
	}
	e.job = next

	return e.job.Clone(), nil
}

func (s *MemoryStore) MarkRunning(ctx context.Context, id string) (model.Job, error) {
	return s.update(id, func(j *model.Job) error {
		return applyRunning(j, s.now())
	})
}

func (s *MemoryStore) SetProgress(ctx context.Context, id, stage string, progress int) error {
	_, err := s.update(id, func(j *model.Job) error {
		return applyProgress(j, stage, progress)
	})
	return err
}

func (s *MemoryStore) Complete(ctx context.Context, id string, result json.RawMessage) (model.Job, error) {
	return s.update(id, func(j *model.Job) error {
		return applyComplete(j, result, s.now())
	})
}

func (s *MemoryStore) Fail(ctx context.Context, id, message string) (model.Job, error) {
	return s.update(id, func(j *model.Job) error {
		return applyFail(j, message, s.now())
	})
}

func (s *MemoryStore) Stats(ctx context.Context) (model.JobStats, error) {
	s.mutex.RLock()
	entries := make([]*entry, 0, len(s.jobs))
	for _, e := range s.jobs {
		entries = append(entries, e)
	}
	s.mutex.RUnlock()

	var stats model.JobStats
	for _, e := range entries {
		e.mu.Lock()
		stats.Add(e.job.State)
		e.mu.Unlock()
	}
	return stats, nil
}

// Close stops the janitor. Jobs stay readable.
func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() { close(s.shutdownCh) })
	return nil
}

// cleanupRoutine periodically evicts expired terminal jobs
func (s *MemoryStore) cleanupRoutine() {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.shutdownCh:
			return
		}
	}
}

// cleanup removes terminal jobs completed more than ttl ago; returns how many were removed
func (s *MemoryStore) cleanup() int {
	cutoff := s.now().Add(-s.ttl)

	s.mutex.Lock()
	defer s.mutex.Unlock()

	var toDelete []string
	for id, e := range s.jobs {
		e.mu.Lock()
		expired := e.job.State.IsTerminal() && e.job.CompletedAt != nil && e.job.CompletedAt.Before(cutoff)
		e.mu.Unlock()
		if expired {
			toDelete = append(toDelete, id)
		}
	}

	for _, id := range toDelete {
		delete(s.jobs, id)
	}

	if len(toDelete) > 0 {
		s.logger.Info().
			Int("evicted_jobs", len(toDelete)).
			Msg("Evicted expired jobs")
	}

	return len(toDelete)
}

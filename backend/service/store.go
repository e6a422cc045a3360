package service

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/AnTengye/contractplaybook/backend/model"
	"github.com/google/uuid"
)

var (
	// ErrUnknownJob is returned for ids the store does not hold
	ErrUnknownJob = errors.New("unknown job")
	// ErrInvalidTransition is returned when an update breaks the job lifecycle.
	// It always indicates a programming error in the caller.
	ErrInvalidTransition = errors.New("invalid job transition")
	// ErrJobActive is returned when deleting a job that has not finished
	ErrJobActive = errors.New("job is still running")
)

// JobStoreOptions groups settings for JobStore
type JobStoreOptions struct {
	MaxJobs int              // Maximum jobs to keep, 0 = unlimited
	Logger  *slog.Logger     // Optional
	OnEvict func(model.Job)  // Optional: called for jobs dropped by MaxJobs
	Now     func() time.Time // Optional: clock, defaults to time.Now
}

// JobStore is an in-memory registry of playbook jobs. It is the only owner
// of job state; callers get copies and mutate through Update.
type JobStore struct {
	jobs    map[string]*model.Job
	mu      sync.RWMutex
	maxJobs int
	logger  *slog.Logger
	onEvict func(model.Job)
	now     func() time.Time
}

// NewJobStore creates an empty store
func NewJobStore(opts JobStoreOptions) *JobStore {
	maxJobs := opts.MaxJobs
	if maxJobs < 0 {
		maxJobs = 0
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &JobStore{
		jobs:    make(map[string]*model.Job),
		maxJobs: maxJobs,
		logger:  logger.With("component", "job_store"),
		onEvict: opts.OnEvict,
		now:     now,
	}
}

// Create registers a pending job and returns its id
func (s *JobStore) Create(spec model.JobSpec) string {
	now := s.now()
	job := &model.Job{
		ID:        uuid.NewString(),
		JobSpec:   spec.WithDefaults(),
		Status:    model.StatusPending,
		Message:   "Queued",
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	s.jobs[job.ID] = job
	evicted := s.evictLocked()
	s.mu.Unlock()

	for _, j := range evicted {
		s.logger.Info("evicted old job", "job_id", j.ID, "status", j.Status, "created_at", j.CreatedAt)
		if s.onEvict != nil {
			s.onEvict(j)
		}
	}
	return job.ID
}

// Update applies a partial update. Progress never moves backwards: a lower
// value than the current one is ignored. Terminal jobs are immutable.
func (s *JobStore) Update(id string, patch model.JobPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, id)
	}
	if job.Status.IsTerminal() {
		return fmt.Errorf("%w: job %s is already %s", ErrInvalidTransition, id, job.Status)
	}

	next := job.Status
	if patch.Status != nil {
		if !job.Status.CanTransitionTo(*patch.Status) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, job.Status, *patch.Status)
		}
		next = *patch.Status
	}
	if patch.Result != nil && next != model.StatusCompleted {
		return fmt.Errorf("%w: result set on %s job", ErrInvalidTransition, next)
	}
	if patch.Error != nil && next != model.StatusError {
		return fmt.Errorf("%w: error set on %s job", ErrInvalidTransition, next)
	}
	if next == model.StatusCompleted && patch.Result == nil && job.Result == nil {
		return fmt.Errorf("%w: completed without a result", ErrInvalidTransition)
	}

	job.Status = next
	if patch.Progress != nil {
		p := min(max(*patch.Progress, 0), 100)
		if p > job.Progress {
			job.Progress = p
		}
	}
	if patch.Message != nil {
		job.Message = *patch.Message
	}
	if patch.Result != nil {
		job.Result = patch.Result
	}
	if patch.Error != nil {
		job.Error = *patch.Error
	}
	if patch.InputKey != nil {
		job.InputKey = *patch.InputKey
	}
	if patch.OutputKey != nil {
		job.OutputKey = *patch.OutputKey
	}
	if patch.OutputFilename != nil {
		job.OutputFilename = *patch.OutputFilename
	}
	job.UpdatedAt = s.now()
	return nil
}

// Get returns a snapshot of the job
func (s *JobStore) Get(id string) (model.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[id]
	if !ok {
		return model.Job{}, fmt.Errorf("%w: %s", ErrUnknownJob, id)
	}
	return *job, nil
}

// List returns the tenant's jobs, newest first. An empty tenant lists all.
func (s *JobStore) List(tenant string) []model.Job {
	s.mu.RLock()
	result := make([]model.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		if tenant == "" || j.Tenant == tenant {
			result = append(result, *j)
		}
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.After(result[k].CreatedAt)
	})
	return result
}

// Delete removes a finished job and returns it so the caller can clean up
// its artifacts
func (s *JobStore) Delete(id string) (model.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return model.Job{}, fmt.Errorf("%w: %s", ErrUnknownJob, id)
	}
	if !job.Status.IsTerminal() {
		return model.Job{}, fmt.Errorf("%w: %s", ErrJobActive, id)
	}
	delete(s.jobs, id)
	return *job, nil
}

// Expire removes terminal jobs last updated more than olderThan ago and
// returns them
func (s *JobStore) Expire(olderThan time.Duration) []model.Job {
	cutoff := s.now().Add(-olderThan)

	s.mu.Lock()
	defer s.mu.Unlock()
	var expired []model.Job
	for id, j := range s.jobs {
		if j.Status.IsTerminal() && j.UpdatedAt.Before(cutoff) {
			expired = append(expired, *j)
			delete(s.jobs, id)
		}
	}
	return expired
}

// evictLocked drops the oldest terminal jobs while the store is over
// maxJobs. In-flight jobs are never evicted, so the store may stay over the
// limit until they finish. Must be called with the lock held.
func (s *JobStore) evictLocked() []model.Job {
	if s.maxJobs <= 0 || len(s.jobs) <= s.maxJobs {
		return nil
	}

	candidates := make([]*model.Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		if j.Status.IsTerminal() {
			candidates = append(candidates, j)
		}
	}
	sort.Slice(candidates, func(i, k int) bool {
		return candidates[i].CreatedAt.Before(candidates[k].CreatedAt)
	})

	var evicted []model.Job
	for _, j := range candidates {
		if len(s.jobs) <= s.maxJobs {
			break
		}
		evicted = append(evicted, *j)
		delete(s.jobs, j.ID)
	}
	return evicted
}

// Count returns the number of jobs in the store
func (s *JobStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.jobs)
}

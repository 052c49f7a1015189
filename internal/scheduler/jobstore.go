// Package scheduler implements the job store, scheduler/dispatcher,
// worker runtime, and shutdown coordinator: a bounded per-plugin worker
// pool built on a channel-and-waitgroup execution queue, generalized to
// honor a declared max-concurrent-jobs per plugin and a documented state
// machine instead of a single fixed-size pool.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"docpipe/internal/apperr"
	"docpipe/internal/db/repositories"
	"docpipe/pkg/models"
)

// JobStore is the job store: the durable record lives in
// repositories.JobRepo; this type adds the in-process guard that no
// caller moves a job across an illegal edge of the state machine.
type JobStore struct {
	repo *repositories.JobRepo
	mu   sync.Mutex
}

func NewJobStore(repo *repositories.JobRepo) *JobStore {
	return &JobStore{repo: repo}
}

// Create inserts a new pending job record. The ID is a ULID rather than
// a UUID so that job rows sort lexicographically in creation order,
// matching queue ordering without a separate sequence column.
func (s *JobStore) Create(ctx context.Context, documentID, pluginName string, settings map[string]any) (*models.Job, error) {
	j := &models.Job{
		ID:         ulid.Make().String(),
		DocumentID: documentID,
		PluginName: pluginName,
		Status:     models.JobPending,
		Settings:   settings,
		CreatedAt:  time.Now(),
	}
	if err := s.repo.Insert(ctx, j); err != nil {
		return nil, fmt.Errorf("job store: create: %w", err)
	}
	return j, nil
}

// Get returns the current persisted state of a job.
func (s *JobStore) Get(ctx context.Context, id string) (*models.Job, error) {
	return s.repo.GetByID(ctx, id)
}

// transition validates the state machine under lock before delegating the
// actual row mutation to mutate.
func (s *JobStore) transition(ctx context.Context, id string, to models.JobStatus, mutate func(current *models.Job) error) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("job store: load %s: %w", id, err)
	}
	if current == nil {
		return nil, apperr.New(apperr.NotFound, fmt.Sprintf("job %s not found", id))
	}
	if !models.CanTransition(current.Status, to) {
		return nil, apperr.New(apperr.Conflict, fmt.Sprintf("job %s cannot move from %s to %s", id, current.Status, to))
	}
	if err := mutate(current); err != nil {
		return nil, err
	}
	current.Status = to
	return current, nil
}

// Queue moves pending -> queued, tagging the worker-task identifier.
func (s *JobStore) Queue(ctx context.Context, id, taskID string) (*models.Job, error) {
	return s.transition(ctx, id, models.JobQueued, func(_ *models.Job) error {
		return s.repo.UpdateStatus(ctx, id, models.JobQueued, taskID)
	})
}

// MarkStarted moves queued -> running.
func (s *JobStore) MarkStarted(ctx context.Context, id string) (*models.Job, error) {
	return s.transition(ctx, id, models.JobRunning, func(_ *models.Job) error {
		return s.repo.MarkStarted(ctx, id, time.Now())
	})
}

// UpdateProgress does not change status; the SQL layer enforces
// monotonic nondecreasing progress while running directly.
func (s *JobStore) UpdateProgress(ctx context.Context, id string, percent int, message string) error {
	return s.repo.UpdateProgress(ctx, id, percent, message)
}

// Complete moves running -> completed.
func (s *JobStore) Complete(ctx context.Context, id string, result map[string]any, outputDocID *string) (*models.Job, error) {
	return s.transition(ctx, id, models.JobCompleted, func(_ *models.Job) error {
		return s.repo.MarkCompleted(ctx, id, result, outputDocID, time.Now())
	})
}

// Fail moves running -> failed.
func (s *JobStore) Fail(ctx context.Context, id, errMsg string) (*models.Job, error) {
	return s.transition(ctx, id, models.JobFailed, func(_ *models.Job) error {
		return s.repo.MarkFailed(ctx, id, errMsg, time.Now())
	})
}

// Cancel moves any non-terminal state -> cancelled.
func (s *JobStore) Cancel(ctx context.Context, id, reason string) (*models.Job, error) {
	return s.transition(ctx, id, models.JobCancelled, func(_ *models.Job) error {
		return s.repo.MarkCancelled(ctx, id, reason, time.Now())
	})
}

package repository

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/vipplay/content-backend/internal/domain"
)

var ErrNotFound = errors.New("resource not found")

// StatusUpdate carries the fields applied together with a status transition.
// StartedAt is recorded only if the job has no start time yet.
type StatusUpdate struct {
	Result            []byte
	ErrorMessage      string
	StartedAt         *time.Time
	CompletedAt       *time.Time
	IncrementAttempts bool
}

// JobsRepository abstracts job persistence. Every status mutation goes through
// CompareAndSetStatus so concurrent workers can never produce a lost update or
// move a job out of a terminal state.
type JobsRepository interface {
	CreateJob(ctx context.Context, job *domain.Job) error
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
	CompareAndSetStatus(
		ctx context.Context,
		jobID string,
		expected domain.JobStatus,
		next domain.JobStatus,
		update StatusUpdate,
	) (bool, error)
	CountActiveJobs(ctx context.Context, userID string) (int, error)
	ListJobs(ctx context.Context, filter domain.JobListFilter) ([]domain.JobListItem, int, error)
}

// MemoryJobsRepository stores jobs in memory for local development and tests.
type MemoryJobsRepository struct {
	mu   sync.RWMutex
	jobs map[string]*domain.Job
}

func NewMemoryJobsRepository() *MemoryJobsRepository {
	return &MemoryJobsRepository{
		jobs: make(map[string]*domain.Job),
	}
}

func (r *MemoryJobsRepository) CreateJob(_ context.Context, job *domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.jobs[job.ID] = cloneJob(job)
	return nil
}

func (r *MemoryJobsRepository) GetJob(_ context.Context, jobID string) (*domain.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneJob(job), nil
}

func (r *MemoryJobsRepository) CompareAndSetStatus(
	_ context.Context,
	jobID string,
	expected domain.JobStatus,
	next domain.JobStatus,
	update StatusUpdate,
) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[jobID]
	if !ok {
		return false, ErrNotFound
	}
	if job.Status != expected {
		return false, nil
	}

	job.Status = next
	if update.Result != nil {
		job.Result = append([]byte(nil), update.Result...)
	}
	if update.ErrorMessage != "" {
		job.ErrorMessage = update.ErrorMessage
	}
	if update.StartedAt != nil && job.StartedAt == nil {
		startedAt := *update.StartedAt
		job.StartedAt = &startedAt
	}
	if update.CompletedAt != nil {
		completedAt := *update.CompletedAt
		job.CompletedAt = &completedAt
	}
	if update.IncrementAttempts {
		job.Attempts++
	}
	return true, nil
}

func (r *MemoryJobsRepository) CountActiveJobs(_ context.Context, userID string) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, job := range r.jobs {
		if job.UserID != userID {
			continue
		}
		if job.Status == domain.JobStatusQueued || job.Status == domain.JobStatusProcessing {
			count++
		}
	}
	return count, nil
}

func (r *MemoryJobsRepository) ListJobs(
	_ context.Context,
	filter domain.JobListFilter,
) ([]domain.JobListItem, int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 {
		filter.PageSize = 20
	}

	items := make([]domain.JobListItem, 0)
	for _, job := range r.jobs {
		if filter.UserID != "" && job.UserID != filter.UserID {
			continue
		}
		if filter.Type != "" && job.Type != filter.Type {
			continue
		}
		items = append(items, domain.JobListItem{
			JobID:     job.ID,
			Type:      job.Type,
			Status:    job.Status,
			CreatedAt: job.CreatedAt,
		})
	}

	sort.Slice(items, func(i, j int) bool {
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})

	total := len(items)
	start := (filter.Page - 1) * filter.PageSize
	if start >= total {
		return []domain.JobListItem{}, total, nil
	}
	end := start + filter.PageSize
	if end > total {
		end = total
	}
	return items[start:end], total, nil
}

func cloneJob(job *domain.Job) *domain.Job {
	if job == nil {
		return nil
	}
	clone := *job
	clone.Payload = append([]byte(nil), job.Payload...)
	clone.Result = append([]byte(nil), job.Result...)
	if job.StartedAt != nil {
		startedAt := *job.StartedAt
		clone.StartedAt = &startedAt
	}
	if job.CompletedAt != nil {
		completedAt := *job.CompletedAt
		clone.CompletedAt = &completedAt
	}
	return &clone
}

package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/vipplay/content-backend/internal/domain"
	"github.com/vipplay/content-backend/internal/generation"
	"github.com/vipplay/content-backend/internal/queue"
	"github.com/vipplay/content-backend/internal/repository"
)

const DefaultActiveJobQuota = 5

type SubmitRequest struct {
	UserID  string
	Type    domain.JobType
	Payload json.RawMessage
}

// JobsService validates submissions, enforces the per-user quota, and hands
// jobs to the queue. When no queue is configured it runs the generation call
// inline through the fallback path instead.
type JobsService struct {
	repo      repository.JobsRepository
	producer  queue.Producer
	generator generation.Generator
	quota     int
	logger    *log.Logger
}

func NewJobsService(
	repo repository.JobsRepository,
	producer queue.Producer,
	generator generation.Generator,
	quota int,
	logger *log.Logger,
) *JobsService {
	if quota <= 0 {
		quota = DefaultActiveJobQuota
	}
	return &JobsService{
		repo:      repo,
		producer:  producer,
		generator: generator,
		quota:     quota,
		logger:    logger,
	}
}

// Submit creates and dispatches a job. On the queued path the returned job is
// still queued and processing happens later; on the fallback path the call
// blocks for the generation round trip and the returned job is terminal.
func (s *JobsService) Submit(ctx context.Context, request SubmitRequest) (*domain.Job, error) {
	userID := strings.TrimSpace(request.UserID)
	if userID == "" {
		return nil, domain.ValidationError("user_id is required")
	}
	if !request.Type.Valid() {
		return nil, domain.ValidationError("unknown job type %q", request.Type)
	}

	payload, err := domain.ValidatePayload(request.Type, request.Payload)
	if err != nil {
		return nil, err
	}

	// Best-effort soft limit: two racing submissions can both pass the count.
	active, err := s.repo.CountActiveJobs(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("count active jobs: %w", err)
	}
	if active >= s.quota {
		return nil, domain.ErrQuotaExceeded
	}

	if s.producer == nil {
		return s.submitFallback(ctx, userID, request.Type, payload)
	}
	return s.submitQueued(ctx, userID, request.Type, payload)
}

func (s *JobsService) submitQueued(
	ctx context.Context,
	userID string,
	jobType domain.JobType,
	payload json.RawMessage,
) (*domain.Job, error) {
	now := time.Now().UTC()
	job := &domain.Job{
		ID:        uuid.NewString(),
		Type:      jobType,
		UserID:    userID,
		Status:    domain.JobStatusQueued,
		Payload:   payload,
		CreatedAt: now,
	}

	if err := s.repo.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	message := domain.QueueMessage{
		JobID:      job.ID,
		Type:       jobType,
		Payload:    payload,
		EnqueuedAt: now,
	}
	if err := s.producer.Enqueue(ctx, message); err != nil {
		completedAt := time.Now().UTC()
		_, _ = s.repo.CompareAndSetStatus(ctx, job.ID, domain.JobStatusQueued, domain.JobStatusFailed, repository.StatusUpdate{
			ErrorMessage: "enqueue failed: " + err.Error(),
			CompletedAt:  &completedAt,
		})
		return nil, fmt.Errorf("enqueue job: %w", err)
	}

	return job, nil
}

// submitFallback runs generation inline. The job is created directly in
// processing, so the queued state is never observable, and the terminal write
// is the same conditional update a worker would issue.
func (s *JobsService) submitFallback(
	ctx context.Context,
	userID string,
	jobType domain.JobType,
	payload json.RawMessage,
) (*domain.Job, error) {
	now := time.Now().UTC()
	job := &domain.Job{
		ID:        uuid.NewString(),
		Type:      jobType,
		UserID:    userID,
		Status:    domain.JobStatusProcessing,
		Payload:   payload,
		Attempts:  1,
		CreatedAt: now,
		StartedAt: &now,
	}

	if err := s.repo.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}

	result, genErr := s.generator.Generate(ctx, jobType, payload)
	completedAt := time.Now().UTC()

	if genErr != nil {
		applied, err := s.repo.CompareAndSetStatus(ctx, job.ID, domain.JobStatusProcessing, domain.JobStatusFailed, repository.StatusUpdate{
			ErrorMessage: genErr.Error(),
			CompletedAt:  &completedAt,
		})
		if err != nil {
			return nil, fmt.Errorf("record fallback failure: %w", err)
		}
		if applied && s.logger != nil {
			s.logger.Printf("fallback generation failed job_id=%s type=%s err=%v", job.ID, jobType, genErr)
		}
		return s.repo.GetJob(ctx, job.ID)
	}

	applied, err := s.repo.CompareAndSetStatus(ctx, job.ID, domain.JobStatusProcessing, domain.JobStatusCompleted, repository.StatusUpdate{
		Result:      result,
		CompletedAt: &completedAt,
	})
	if err != nil {
		return nil, fmt.Errorf("record fallback result: %w", err)
	}
	if !applied && s.logger != nil {
		// Cancelled mid-flight; the generated result is discarded.
		s.logger.Printf("fallback result discarded job_id=%s type=%s", job.ID, jobType)
	}
	return s.repo.GetJob(ctx, job.ID)
}

func (s *JobsService) GetJob(ctx context.Context, jobID string) (*domain.Job, error) {
	return s.repo.GetJob(ctx, jobID)
}

func (s *JobsService) ListJobs(
	ctx context.Context,
	filter domain.JobListFilter,
) ([]domain.JobListItem, int, error) {
	return s.repo.ListJobs(ctx, filter)
}

// Cancel marks a queued or processing job cancelled. Jobs already terminal are
// left untouched and the call reports success, making cancellation idempotent.
func (s *JobsService) Cancel(ctx context.Context, jobID string) error {
	completedAt := time.Now().UTC()
	update := repository.StatusUpdate{CompletedAt: &completedAt}

	applied, err := s.repo.CompareAndSetStatus(ctx, jobID, domain.JobStatusQueued, domain.JobStatusCancelled, update)
	if err != nil {
		return err
	}
	if applied {
		return nil
	}

	applied, err = s.repo.CompareAndSetStatus(ctx, jobID, domain.JobStatusProcessing, domain.JobStatusCancelled, update)
	if err != nil {
		return err
	}
	if applied {
		return nil
	}

	// Neither CAS applied: the job is already terminal, or it does not exist.
	_, err = s.repo.GetJob(ctx, jobID)
	return err
}

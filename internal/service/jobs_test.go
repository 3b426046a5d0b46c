package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/vipplay/content-backend/internal/domain"
	"github.com/vipplay/content-backend/internal/queue"
	"github.com/vipplay/content-backend/internal/repository"
)

type fakeGenerator struct {
	result json.RawMessage
	err    error
	calls  int
}

func (g *fakeGenerator) Generate(context.Context, domain.JobType, json.RawMessage) (json.RawMessage, error) {
	g.calls++
	if g.err != nil {
		return nil, g.err
	}
	return g.result, nil
}

type failingProducer struct{}

func (failingProducer) Enqueue(context.Context, domain.QueueMessage) error {
	return errors.New("redis unavailable")
}

func articleSubmit(userID string) SubmitRequest {
	return SubmitRequest{
		UserID:  userID,
		Type:    domain.JobTypeArticle,
		Payload: []byte(`{"topic":"Go queues"}`),
	}
}

func TestSubmitQueuedCreatesJobAndEnqueues(t *testing.T) {
	repo := repository.NewMemoryJobsRepository()
	q := queue.NewMemoryQueue(time.Minute)
	generator := &fakeGenerator{result: []byte(`{"content":"x"}`)}
	svc := NewJobsService(repo, q, generator, 5, nil)

	job, err := svc.Submit(context.Background(), articleSubmit("u1"))
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if job.Status != domain.JobStatusQueued {
		t.Fatalf("expected queued, got %s", job.Status)
	}
	if generator.calls != 0 {
		t.Fatalf("expected no inline generation on the queued path, got %d calls", generator.calls)
	}
	if q.Size() != 1 {
		t.Fatalf("expected 1 enqueued message, got %d", q.Size())
	}

	deliveries, err := q.ReceiveBatch(context.Background(), 1, 50*time.Millisecond)
	if err != nil || len(deliveries) != 1 {
		t.Fatalf("expected the message back, got %d err=%v", len(deliveries), err)
	}
	if deliveries[0].Message.JobID != job.ID {
		t.Fatalf("expected message for job %s, got %s", job.ID, deliveries[0].Message.JobID)
	}

	stored, err := repo.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if stored.Status != domain.JobStatusQueued {
		t.Fatalf("expected stored job queued, got %s", stored.Status)
	}
}

func TestSubmitValidationFailureCreatesNoJob(t *testing.T) {
	repo := repository.NewMemoryJobsRepository()
	q := queue.NewMemoryQueue(time.Minute)
	svc := NewJobsService(repo, q, &fakeGenerator{}, 5, nil)

	cases := []SubmitRequest{
		{UserID: "", Type: domain.JobTypeArticle, Payload: []byte(`{"topic":"x"}`)},
		{UserID: "u1", Type: domain.JobType("podcast"), Payload: []byte(`{"topic":"x"}`)},
		{UserID: "u1", Type: domain.JobTypeArticle, Payload: []byte(`{}`)},
	}
	for index, request := range cases {
		if _, err := svc.Submit(context.Background(), request); !errors.Is(err, domain.ErrValidation) {
			t.Fatalf("case %d: expected validation error, got %v", index, err)
		}
	}

	_, total, err := repo.ListJobs(context.Background(), domain.JobListFilter{})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if total != 0 {
		t.Fatalf("expected no jobs created, got %d", total)
	}
	if q.Size() != 0 {
		t.Fatalf("expected empty queue, got %d", q.Size())
	}
}

func TestSubmitEnforcesActiveJobQuota(t *testing.T) {
	repo := repository.NewMemoryJobsRepository()
	q := queue.NewMemoryQueue(time.Minute)
	svc := NewJobsService(repo, q, &fakeGenerator{}, 3, nil)

	for i := 0; i < 3; i++ {
		if _, err := svc.Submit(context.Background(), articleSubmit("u1")); err != nil {
			t.Fatalf("submit %d failed: %v", i, err)
		}
	}

	if _, err := svc.Submit(context.Background(), articleSubmit("u1")); !errors.Is(err, domain.ErrQuotaExceeded) {
		t.Fatalf("expected quota error, got %v", err)
	}
	if q.Size() != 3 {
		t.Fatalf("expected rejected submission to enqueue nothing, size=%d", q.Size())
	}

	// Quota is per user; another user is unaffected.
	if _, err := svc.Submit(context.Background(), articleSubmit("u2")); err != nil {
		t.Fatalf("submit for second user failed: %v", err)
	}
}

func TestSubmitQuotaFreesAfterTerminal(t *testing.T) {
	repo := repository.NewMemoryJobsRepository()
	q := queue.NewMemoryQueue(time.Minute)
	svc := NewJobsService(repo, q, &fakeGenerator{}, 1, nil)

	job, err := svc.Submit(context.Background(), articleSubmit("u1"))
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if _, err := svc.Submit(context.Background(), articleSubmit("u1")); !errors.Is(err, domain.ErrQuotaExceeded) {
		t.Fatalf("expected quota error, got %v", err)
	}

	if err := svc.Cancel(context.Background(), job.ID); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if _, err := svc.Submit(context.Background(), articleSubmit("u1")); err != nil {
		t.Fatalf("expected submission after cancel to pass, got %v", err)
	}
}

func TestSubmitEnqueueFailureMarksJobFailed(t *testing.T) {
	repo := repository.NewMemoryJobsRepository()
	svc := NewJobsService(repo, failingProducer{}, &fakeGenerator{}, 5, nil)

	_, err := svc.Submit(context.Background(), articleSubmit("u1"))
	if err == nil {
		t.Fatal("expected submit to fail when enqueue fails")
	}

	items, total, listErr := repo.ListJobs(context.Background(), domain.JobListFilter{UserID: "u1"})
	if listErr != nil {
		t.Fatalf("list failed: %v", listErr)
	}
	if total != 1 {
		t.Fatalf("expected the job record to exist, got %d", total)
	}
	job, getErr := repo.GetJob(context.Background(), items[0].JobID)
	if getErr != nil {
		t.Fatalf("get failed: %v", getErr)
	}
	if job.Status != domain.JobStatusFailed {
		t.Fatalf("expected failed, got %s", job.Status)
	}
	if job.ErrorMessage == "" {
		t.Fatal("expected an error message on the failed job")
	}
}

func TestSubmitFallbackCompletesInline(t *testing.T) {
	repo := repository.NewMemoryJobsRepository()
	generator := &fakeGenerator{result: []byte(`{"content":"an article"}`)}
	svc := NewJobsService(repo, nil, generator, 5, nil)

	job, err := svc.Submit(context.Background(), articleSubmit("u1"))
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if job.Status != domain.JobStatusCompleted {
		t.Fatalf("expected completed, got %s", job.Status)
	}
	if generator.calls != 1 {
		t.Fatalf("expected 1 generation call, got %d", generator.calls)
	}
	if job.Attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", job.Attempts)
	}
	if job.StartedAt == nil || job.CompletedAt == nil {
		t.Fatal("expected started_at and completed_at to be set")
	}
	if string(job.Result) != `{"content":"an article"}` {
		t.Fatalf("unexpected result: %s", job.Result)
	}
}

func TestSubmitFallbackRecordsFailure(t *testing.T) {
	repo := repository.NewMemoryJobsRepository()
	generator := &fakeGenerator{err: fmt.Errorf("backend rejected request")}
	svc := NewJobsService(repo, nil, generator, 5, nil)

	job, err := svc.Submit(context.Background(), articleSubmit("u1"))
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if job.Status != domain.JobStatusFailed {
		t.Fatalf("expected failed, got %s", job.Status)
	}
	if job.ErrorMessage != "backend rejected request" {
		t.Fatalf("unexpected error message %q", job.ErrorMessage)
	}
}

func TestCancelTransitionsAndIdempotency(t *testing.T) {
	repo := repository.NewMemoryJobsRepository()
	q := queue.NewMemoryQueue(time.Minute)
	svc := NewJobsService(repo, q, &fakeGenerator{}, 5, nil)
	ctx := context.Background()

	job, err := svc.Submit(ctx, articleSubmit("u1"))
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	if err := svc.Cancel(ctx, job.ID); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	cancelled, _ := repo.GetJob(ctx, job.ID)
	if cancelled.Status != domain.JobStatusCancelled {
		t.Fatalf("expected cancelled, got %s", cancelled.Status)
	}
	if cancelled.CompletedAt == nil {
		t.Fatal("expected completed_at on cancellation")
	}

	// Second cancel is a no-op, not an error.
	if err := svc.Cancel(ctx, job.ID); err != nil {
		t.Fatalf("repeat cancel failed: %v", err)
	}
	again, _ := repo.GetJob(ctx, job.ID)
	if again.Status != domain.JobStatusCancelled {
		t.Fatalf("expected status unchanged, got %s", again.Status)
	}

	if err := svc.Cancel(ctx, "missing"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCancelProcessingJob(t *testing.T) {
	repo := repository.NewMemoryJobsRepository()
	q := queue.NewMemoryQueue(time.Minute)
	svc := NewJobsService(repo, q, &fakeGenerator{}, 5, nil)
	ctx := context.Background()

	job, err := svc.Submit(ctx, articleSubmit("u1"))
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	startedAt := time.Now().UTC()
	if _, err := repo.CompareAndSetStatus(ctx, job.ID, domain.JobStatusQueued, domain.JobStatusProcessing, repository.StatusUpdate{StartedAt: &startedAt}); err != nil {
		t.Fatalf("setup transition failed: %v", err)
	}

	if err := svc.Cancel(ctx, job.ID); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	cancelled, _ := repo.GetJob(ctx, job.ID)
	if cancelled.Status != domain.JobStatusCancelled {
		t.Fatalf("expected cancelled, got %s", cancelled.Status)
	}
}

func TestCancelDoesNotTouchCompletedJob(t *testing.T) {
	repo := repository.NewMemoryJobsRepository()
	generator := &fakeGenerator{result: []byte(`{"content":"x"}`)}
	svc := NewJobsService(repo, nil, generator, 5, nil)
	ctx := context.Background()

	job, err := svc.Submit(ctx, articleSubmit("u1"))
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if job.Status != domain.JobStatusCompleted {
		t.Fatalf("expected completed, got %s", job.Status)
	}

	if err := svc.Cancel(ctx, job.ID); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	after, _ := repo.GetJob(ctx, job.ID)
	if after.Status != domain.JobStatusCompleted {
		t.Fatalf("expected completed to survive cancel, got %s", after.Status)
	}
	if string(after.Result) != `{"content":"x"}` {
		t.Fatalf("expected result to survive cancel, got %s", after.Result)
	}
}

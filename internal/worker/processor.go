package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/vipplay/content-backend/internal/domain"
	"github.com/vipplay/content-backend/internal/generation"
	"github.com/vipplay/content-backend/internal/queue"
	"github.com/vipplay/content-backend/internal/repository"
)

type Config struct {
	// MaxBatch bounds how many messages one receive call may claim.
	MaxBatch int

	// WaitTime is the long-poll window of a receive call.
	WaitTime time.Duration

	// PollInterval is the pause after a failed receive before polling again.
	PollInterval time.Duration

	// MaxReceives is the redelivery budget: a message received more than this
	// many times fails its job with a retries-exhausted error and is deleted.
	MaxReceives int
}

func (c Config) withDefaults() Config {
	if c.MaxBatch <= 0 {
		c.MaxBatch = 10
	}
	if c.WaitTime <= 0 {
		c.WaitTime = 5 * time.Second
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 2 * time.Second
	}
	if c.MaxReceives <= 0 {
		c.MaxReceives = 5
	}
	return c
}

// Processor drives the job state machine: it polls the per-type queues,
// claims messages, calls the generation backend, and records outcomes with
// conditional writes. Any number of processors may run against the same
// queues; exclusivity comes from the queue's visibility timeout and
// correctness under its expiry comes from the conditional writes alone.
type Processor struct {
	receivers map[domain.JobType]queue.Receiver
	repo      repository.JobsRepository
	generator generation.Generator
	config    Config
	logger    *log.Logger

	wg sync.WaitGroup
}

func NewProcessor(
	receivers map[domain.JobType]queue.Receiver,
	repo repository.JobsRepository,
	generator generation.Generator,
	config Config,
	logger *log.Logger,
) *Processor {
	return &Processor{
		receivers: receivers,
		repo:      repo,
		generator: generator,
		config:    config.withDefaults(),
		logger:    logger,
	}
}

// Start launches one poll loop per configured queue and returns. Loops stop
// when ctx is cancelled; use Wait to block until they have drained.
func (p *Processor) Start(ctx context.Context) {
	for jobType, receiver := range p.receivers {
		p.wg.Add(1)
		go func(jobType domain.JobType, receiver queue.Receiver) {
			defer p.wg.Done()
			p.pollLoop(ctx, jobType, receiver)
		}(jobType, receiver)
	}
}

func (p *Processor) Wait() {
	p.wg.Wait()
}

func (p *Processor) pollLoop(ctx context.Context, jobType domain.JobType, receiver queue.Receiver) {
	for {
		if ctx.Err() != nil {
			return
		}

		deliveries, err := receiver.ReceiveBatch(ctx, p.config.MaxBatch, p.config.WaitTime)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if p.logger != nil {
				p.logger.Printf("receive batch failed type=%s err=%v", jobType, err)
			}
			timer := time.NewTimer(p.config.PollInterval)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
			continue
		}

		for _, delivery := range deliveries {
			p.process(ctx, receiver, delivery)
		}
	}
}

// process handles one claimed message end to end. Not deleting the message is
// the only way to request a retry: it becomes receivable again once its
// visibility window lapses.
func (p *Processor) process(ctx context.Context, receiver queue.Receiver, delivery queue.Delivery) {
	message := delivery.Message

	job, err := p.repo.GetJob(ctx, message.JobID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			// No job record to report against; the message is an orphan.
			p.logf("dropping message for unknown job job_id=%s", message.JobID)
			p.deleteMessage(ctx, receiver, delivery)
			return
		}
		p.logf("load job failed job_id=%s err=%v", message.JobID, err)
		return
	}

	// Terminal already: duplicate delivery. Acknowledge, never reprocess.
	if job.Status.Terminal() {
		p.deleteMessage(ctx, receiver, delivery)
		return
	}

	startedAt := time.Now().UTC()
	applied, err := p.repo.CompareAndSetStatus(ctx, job.ID, job.Status, domain.JobStatusProcessing, repository.StatusUpdate{
		StartedAt:         &startedAt,
		IncrementAttempts: true,
	})
	if err != nil {
		p.logf("mark processing failed job_id=%s err=%v", job.ID, err)
		return
	}
	if !applied {
		// Status moved underneath us, most likely to cancelled.
		current, getErr := p.repo.GetJob(ctx, job.ID)
		if getErr == nil && current.Status.Terminal() {
			p.deleteMessage(ctx, receiver, delivery)
		}
		return
	}

	result, genErr := p.generator.Generate(ctx, message.Type, message.Payload)
	if genErr == nil {
		p.recordSuccess(ctx, receiver, delivery, job.ID, result)
		return
	}

	if !generation.IsTransient(genErr) {
		p.recordFailure(ctx, receiver, delivery, job.ID, genErr.Error())
		return
	}

	if delivery.ReceiveCount > p.config.MaxReceives {
		message := fmt.Sprintf(
			"max retries exceeded after %d deliveries: %v",
			delivery.ReceiveCount, genErr,
		)
		p.recordFailure(ctx, receiver, delivery, job.ID, message)
		return
	}

	// Transient with budget left: leave the message for redelivery.
	p.logf("transient generation failure, leaving for retry job_id=%s receive_count=%d err=%v",
		job.ID, delivery.ReceiveCount, genErr)
}

func (p *Processor) recordSuccess(
	ctx context.Context,
	receiver queue.Receiver,
	delivery queue.Delivery,
	jobID string,
	result []byte,
) {
	completedAt := time.Now().UTC()
	applied, err := p.repo.CompareAndSetStatus(ctx, jobID, domain.JobStatusProcessing, domain.JobStatusCompleted, repository.StatusUpdate{
		Result:      result,
		CompletedAt: &completedAt,
	})
	if err != nil {
		p.logf("record result failed job_id=%s err=%v", jobID, err)
		return
	}
	if !applied {
		// Cancelled (or completed by a racing claim) while we were generating:
		// the cancelled/terminal status wins and this result is discarded.
		p.logf("result discarded, job no longer processing job_id=%s", jobID)
	}
	p.deleteMessage(ctx, receiver, delivery)
}

func (p *Processor) recordFailure(
	ctx context.Context,
	receiver queue.Receiver,
	delivery queue.Delivery,
	jobID string,
	errorMessage string,
) {
	completedAt := time.Now().UTC()
	applied, err := p.repo.CompareAndSetStatus(ctx, jobID, domain.JobStatusProcessing, domain.JobStatusFailed, repository.StatusUpdate{
		ErrorMessage: errorMessage,
		CompletedAt:  &completedAt,
	})
	if err != nil {
		p.logf("record failure failed job_id=%s err=%v", jobID, err)
		return
	}
	if !applied {
		p.logf("failure not recorded, job no longer processing job_id=%s", jobID)
	}
	p.deleteMessage(ctx, receiver, delivery)
}

func (p *Processor) deleteMessage(ctx context.Context, receiver queue.Receiver, delivery queue.Delivery) {
	if err := receiver.Delete(ctx, delivery.ClaimHandle); err != nil {
		// The claim may have lapsed; the duplicate-delivery check absorbs the
		// redelivery this causes.
		p.logf("delete message failed job_id=%s err=%v", delivery.Message.JobID, err)
	}
}

func (p *Processor) logf(format string, args ...any) {
	if p.logger != nil {
		p.logger.Printf(format, args...)
	}
}

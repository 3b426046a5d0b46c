package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/vipplay/content-backend/internal/domain"
)

// Delivery is one received message plus the metadata the queue backend tracks
// for it. ClaimHandle is required to delete the message and goes stale once the
// visibility window elapses. ReceiveCount is approximate: it counts how many
// times the backend has handed the message to a consumer.
type Delivery struct {
	Message      domain.QueueMessage
	ClaimHandle  string
	ReceiveCount int
}

// Producer sends generation jobs to a queue backend.
type Producer interface {
	Enqueue(ctx context.Context, message domain.QueueMessage) error
}

// TypedProducer routes each message to the queue for its job type.
type TypedProducer map[domain.JobType]Producer

func (p TypedProducer) Enqueue(ctx context.Context, message domain.QueueMessage) error {
	producer, ok := p[message.Type]
	if !ok {
		return fmt.Errorf("no queue configured for job type %q", message.Type)
	}
	return producer.Enqueue(ctx, message)
}

// Receiver hands out claimed messages. There is no negative acknowledgement:
// a message not deleted before the visibility timeout becomes receivable again,
// and that redelivery is the only retry mechanism.
type Receiver interface {
	// ReceiveBatch blocks up to wait for at least one message and returns at
	// most max deliveries.
	ReceiveBatch(ctx context.Context, max int, wait time.Duration) ([]Delivery, error)

	// Delete permanently removes a message by its claim handle.
	Delete(ctx context.Context, claimHandle string) error
}

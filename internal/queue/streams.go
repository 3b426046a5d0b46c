package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vipplay/content-backend/internal/domain"
)

type StreamsConfig struct {
	Addr     string
	Password string
	DB       int

	Stream    string
	DLQStream string
	Group     string
	Consumer  string

	// VisibilityTimeout is how long a claim stays exclusive. A message whose
	// claim has been idle longer than this is handed to the next receiver.
	VisibilityTimeout time.Duration
}

// StreamsQueue implements Producer+Receiver backed by a Redis Streams consumer
// group. The stream entry id doubles as the claim handle; XAUTOCLAIM with a
// min-idle of the visibility timeout is what turns an abandoned claim back into
// a receivable message.
type StreamsQueue struct {
	client     *redis.Client
	stream     string
	dlqStream  string
	group      string
	consumer   string
	visibility time.Duration
}

func NewStreamsQueue(ctx context.Context, cfg StreamsConfig) (*StreamsQueue, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	if cfg.Stream == "" {
		return nil, errors.New("stream name is required")
	}
	if cfg.DLQStream == "" {
		cfg.DLQStream = cfg.Stream + "_dlq"
	}
	if cfg.Group == "" {
		cfg.Group = "gen_workers"
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "worker-1"
	}
	if cfg.VisibilityTimeout <= 0 {
		cfg.VisibilityTimeout = 5 * time.Minute
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	queue := &StreamsQueue{
		client:     client,
		stream:     cfg.Stream,
		dlqStream:  cfg.DLQStream,
		group:      cfg.Group,
		consumer:   cfg.Consumer,
		visibility: cfg.VisibilityTimeout,
	}
	if err := queue.ensureGroup(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return queue, nil
}

func (q *StreamsQueue) Close() error {
	return q.client.Close()
}

func (q *StreamsQueue) Enqueue(ctx context.Context, message domain.QueueMessage) error {
	_, err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		Values: map[string]any{
			"job_id":      message.JobID,
			"type":        string(message.Type),
			"payload":     string(message.Payload),
			"enqueued_at": message.EnqueuedAt.Format(time.RFC3339Nano),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("enqueue to stream: %w", err)
	}
	return nil
}

func (q *StreamsQueue) ReceiveBatch(ctx context.Context, max int, wait time.Duration) ([]Delivery, error) {
	if max <= 0 {
		max = 10
	}

	deliveries := make([]Delivery, 0, max)

	// Expired claims first: these are the redeliveries.
	reclaimed, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		Consumer: q.consumer,
		MinIdle:  q.visibility,
		Start:    "0-0",
		Count:    int64(max),
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("xautoclaim: %w", err)
	}
	for _, item := range reclaimed {
		delivery, ok := q.toDelivery(ctx, item)
		if !ok {
			continue
		}
		delivery.ReceiveCount = q.receiveCount(ctx, item.ID)
		deliveries = append(deliveries, delivery)
	}

	remaining := max - len(deliveries)
	if remaining <= 0 {
		return deliveries, nil
	}

	block := wait
	if len(deliveries) > 0 {
		// Work already in hand; do not hold it hostage to the long poll.
		block = -1
	}

	streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    q.group,
		Consumer: q.consumer,
		Streams:  []string{q.stream, ">"},
		Count:    int64(remaining),
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return deliveries, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			if len(deliveries) > 0 {
				return deliveries, nil
			}
			return nil, err
		}
		return nil, fmt.Errorf("xreadgroup: %w", err)
	}

	for _, stream := range streams {
		for _, item := range stream.Messages {
			delivery, ok := q.toDelivery(ctx, item)
			if !ok {
				continue
			}
			delivery.ReceiveCount = 1
			deliveries = append(deliveries, delivery)
		}
	}

	return deliveries, nil
}

func (q *StreamsQueue) Delete(ctx context.Context, claimHandle string) error {
	if err := q.client.XAck(ctx, q.stream, q.group, claimHandle).Err(); err != nil {
		return fmt.Errorf("xack: %w", err)
	}
	if err := q.client.XDel(ctx, q.stream, claimHandle).Err(); err != nil {
		return fmt.Errorf("xdel: %w", err)
	}
	return nil
}

func (q *StreamsQueue) ensureGroup(ctx context.Context) error {
	err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
	if err == nil {
		return nil
	}
	if strings.Contains(err.Error(), "BUSYGROUP") {
		return nil
	}
	return fmt.Errorf("ensure stream group: %w", err)
}

// toDelivery parses a stream entry. Unparseable entries are poison: they go to
// the DLQ stream and are removed so they cannot wedge the consumer group.
func (q *StreamsQueue) toDelivery(ctx context.Context, item redis.XMessage) (Delivery, bool) {
	message, err := parseStreamMessage(item)
	if err != nil {
		_ = q.sendToDLQ(ctx, item, err.Error())
		_ = q.Delete(ctx, item.ID)
		return Delivery{}, false
	}
	return Delivery{Message: message, ClaimHandle: item.ID}, true
}

func (q *StreamsQueue) receiveCount(ctx context.Context, streamID string) int {
	pending, err := q.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: q.stream,
		Group:  q.group,
		Start:  streamID,
		End:    streamID,
		Count:  1,
	}).Result()
	if err != nil || len(pending) == 0 {
		return 1
	}
	return int(pending[0].RetryCount)
}

func (q *StreamsQueue) sendToDLQ(ctx context.Context, item redis.XMessage, errorMessage string) error {
	values := map[string]any{
		"stream_id": item.ID,
		"error":     errorMessage,
		"moved_at":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	for key, value := range item.Values {
		values["orig_"+key] = value
	}
	if _, err := q.client.XAdd(ctx, &redis.XAddArgs{Stream: q.dlqStream, Values: values}).Result(); err != nil {
		return fmt.Errorf("send to dlq: %w", err)
	}
	return nil
}

func parseStreamMessage(item redis.XMessage) (domain.QueueMessage, error) {
	getString := func(key string) (string, error) {
		value, ok := item.Values[key]
		if !ok {
			return "", fmt.Errorf("missing field %s", key)
		}
		switch casted := value.(type) {
		case string:
			return casted, nil
		case []byte:
			return string(casted), nil
		default:
			return fmt.Sprintf("%v", casted), nil
		}
	}

	jobID, err := getString("job_id")
	if err != nil {
		return domain.QueueMessage{}, err
	}
	typeValue, err := getString("type")
	if err != nil {
		return domain.QueueMessage{}, err
	}
	jobType := domain.JobType(typeValue)
	if !jobType.Valid() {
		return domain.QueueMessage{}, fmt.Errorf("invalid job type %q", typeValue)
	}
	payloadString, err := getString("payload")
	if err != nil {
		return domain.QueueMessage{}, err
	}
	enqueuedAtString, err := getString("enqueued_at")
	if err != nil {
		return domain.QueueMessage{}, err
	}
	enqueuedAt, err := time.Parse(time.RFC3339Nano, enqueuedAtString)
	if err != nil {
		return domain.QueueMessage{}, fmt.Errorf("invalid enqueued_at: %w", err)
	}

	return domain.QueueMessage{
		JobID:      jobID,
		Type:       jobType,
		Payload:    []byte(payloadString),
		EnqueuedAt: enqueuedAt,
	}, nil
}

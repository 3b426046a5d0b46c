package queue

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vipplay/content-backend/internal/domain"
)

// MemoryQueue implements Producer+Receiver in process memory with the same
// semantics as the streams backend: received messages stay hidden for the
// visibility timeout and reappear if never deleted. Used by tests and by
// deployments without Redis that still run an in-process worker.
type MemoryQueue struct {
	mu         sync.Mutex
	visibility time.Duration
	entries    []*memoryEntry
}

type memoryEntry struct {
	id           string
	message      domain.QueueMessage
	visibleAt    time.Time
	receiveCount int
}

func NewMemoryQueue(visibility time.Duration) *MemoryQueue {
	if visibility <= 0 {
		visibility = 30 * time.Second
	}
	return &MemoryQueue{visibility: visibility}
}

func (q *MemoryQueue) Enqueue(_ context.Context, message domain.QueueMessage) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.entries = append(q.entries, &memoryEntry{
		id:      uuid.NewString(),
		message: message,
	})
	return nil
}

func (q *MemoryQueue) ReceiveBatch(ctx context.Context, max int, wait time.Duration) ([]Delivery, error) {
	if max <= 0 {
		max = 10
	}

	deadline := time.Now().Add(wait)
	for {
		if deliveries := q.claimVisible(max); len(deliveries) > 0 {
			return deliveries, nil
		}
		if !time.Now().Before(deadline) {
			return nil, nil
		}

		timer := time.NewTimer(5 * time.Millisecond)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// Delete removes a message by claim handle. A handle from an earlier receive
// whose visibility window has already lapsed is stale and deletes nothing.
func (q *MemoryQueue) Delete(_ context.Context, claimHandle string) error {
	id, receiveCount, err := splitClaimHandle(claimHandle)
	if err != nil {
		return err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	for index, entry := range q.entries {
		if entry.id != id {
			continue
		}
		if entry.receiveCount != receiveCount {
			return fmt.Errorf("stale claim handle for message %s", id)
		}
		q.entries = append(q.entries[:index], q.entries[index+1:]...)
		return nil
	}
	return nil
}

// Size reports how many messages exist, visible or not.
func (q *MemoryQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.entries)
}

// ExpireClaims makes every outstanding claim immediately receivable again.
// Test hook standing in for waiting out the visibility timeout.
func (q *MemoryQueue) ExpireClaims() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, entry := range q.entries {
		entry.visibleAt = time.Time{}
	}
}

func (q *MemoryQueue) claimVisible(max int) []Delivery {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	deliveries := make([]Delivery, 0)
	for _, entry := range q.entries {
		if len(deliveries) >= max {
			break
		}
		if entry.visibleAt.After(now) {
			continue
		}
		entry.visibleAt = now.Add(q.visibility)
		entry.receiveCount++
		deliveries = append(deliveries, Delivery{
			Message:      entry.message,
			ClaimHandle:  joinClaimHandle(entry.id, entry.receiveCount),
			ReceiveCount: entry.receiveCount,
		})
	}
	return deliveries
}

func joinClaimHandle(id string, receiveCount int) string {
	return id + "#" + strconv.Itoa(receiveCount)
}

func splitClaimHandle(claimHandle string) (string, int, error) {
	id, countPart, ok := strings.Cut(claimHandle, "#")
	if !ok {
		return "", 0, fmt.Errorf("malformed claim handle %q", claimHandle)
	}
	receiveCount, err := strconv.Atoi(countPart)
	if err != nil {
		return "", 0, fmt.Errorf("malformed claim handle %q", claimHandle)
	}
	return id, receiveCount, nil
}

package queue

import (
	"context"
	"sync"

	"github.com/parrot-audio/voice-service/internal/core"
)

type memoryMessage struct {
	payload  []byte
	groupKey string
	dedupKey string
}

// Memory is a deterministic in-memory FifoQueue for tests. It preserves
// publish order, collapses duplicate dedup keys, and requeues nak'd
// messages at the front so redelivery order matches a FIFO queue.
type Memory struct {
	mu      sync.Mutex
	pending []memoryMessage
	seen    map[string]bool
}

// NewMemory creates an empty in-memory queue.
func NewMemory() *Memory {
	return &Memory{seen: make(map[string]bool)}
}

// Publish appends payload unless dedupKey was already published.
func (q *Memory) Publish(_ context.Context, groupKey, dedupKey string, payload []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.seen[dedupKey] {
		return nil
	}

	q.seen[dedupKey] = true

	stored := make([]byte, len(payload))
	copy(stored, payload)
	q.pending = append(q.pending, memoryMessage{
		payload:  stored,
		groupKey: groupKey,
		dedupKey: dedupKey,
	})

	return nil
}

// Fetch pops up to max messages in FIFO order.
func (q *Memory) Fetch(_ context.Context, max int) ([]core.Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	count := max
	if count > len(q.pending) {
		count = len(q.pending)
	}

	deliveries := make([]core.Delivery, 0, count)
	for _, msg := range q.pending[:count] {
		deliveries = append(deliveries, &memoryDelivery{queue: q, msg: msg})
	}

	q.pending = q.pending[count:]

	return deliveries, nil
}

// Len reports the number of messages waiting for delivery.
func (q *Memory) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.pending)
}

func (q *Memory) requeue(msg memoryMessage) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.pending = append([]memoryMessage{msg}, q.pending...)
}

type memoryDelivery struct {
	queue *Memory
	msg   memoryMessage
}

func (d *memoryDelivery) Payload() []byte {
	return d.msg.payload
}

func (d *memoryDelivery) Ack() error {
	return nil
}

func (d *memoryDelivery) Nak() error {
	d.queue.requeue(d.msg)

	return nil
}

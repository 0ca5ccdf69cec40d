package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
)

// MemoryBroker is an in-process stand-in for the AMQP broker. Tests and
// single-process runs register a handler per queue and drain deliveries
// synchronously, which makes pipeline ordering deterministic.
type MemoryBroker struct {
	mu       sync.Mutex
	queues   map[string][][]byte
	handlers map[string]HandlerFunc
	dropped  map[string]int
}

// NewMemoryBroker creates an empty in-memory broker.
func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{
		queues:   make(map[string][][]byte),
		handlers: make(map[string]HandlerFunc),
		dropped:  make(map[string]int),
	}
}

// Publish serializes message as JSON and appends it to the named queue.
func (m *MemoryBroker) Publish(ctx context.Context, queue string, message any) error {
	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.queues[queue] = append(m.queues[queue], body)
	return nil
}

// Handle registers the consumer for a queue. At most one consumer per queue,
// mirroring the prefetch-1 single-delivery discipline.
func (m *MemoryBroker) Handle(queue string, handler HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[queue] = handler
}

// Drain delivers queued messages to their handlers until every queue is empty
// or maxDeliveries is reached. Requeued messages go to the back of their
// queue; dropped messages are counted and discarded. Returns the number of
// deliveries made.
func (m *MemoryBroker) Drain(ctx context.Context, maxDeliveries int) (int, error) {
	deliveries := 0
	for {
		queue, body, ok := m.next()
		if !ok {
			return deliveries, nil
		}
		if deliveries >= maxDeliveries {
			return deliveries, fmt.Errorf("drain exceeded %d deliveries", maxDeliveries)
		}
		deliveries++

		m.mu.Lock()
		handler := m.handlers[queue]
		m.mu.Unlock()
		if handler == nil {
			return deliveries, fmt.Errorf("no handler registered for queue %s", queue)
		}

		switch handler(ctx, body) {
		case Ack:
		case Requeue:
			m.mu.Lock()
			m.queues[queue] = append(m.queues[queue], body)
			m.mu.Unlock()
		case Drop:
			m.mu.Lock()
			m.dropped[queue]++
			m.mu.Unlock()
		}
	}
}

// Pending returns the number of undelivered messages on a queue.
func (m *MemoryBroker) Pending(queue string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.queues[queue])
}

// Dropped returns the number of messages dropped from a queue.
func (m *MemoryBroker) Dropped(queue string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dropped[queue]
}

func (m *MemoryBroker) next() (string, []byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.queues))
	for queue := range m.queues {
		names = append(names, queue)
	}
	sort.Strings(names)

	for _, queue := range names {
		pending := m.queues[queue]
		if len(pending) == 0 {
			continue
		}
		body := pending[0]
		m.queues[queue] = pending[1:]
		return queue, body, true
	}
	return "", nil, false
}

// Package broker provides the messaging layer between pipeline workers. The
// production implementation speaks AMQP 0-9-1; an in-memory implementation
// backs tests and single-process runs.
package broker

import "context"

// Disposition tells the consumer loop what to do with a delivery after its
// handler returns.
type Disposition int

const (
	// Ack acknowledges the delivery; the message is done.
	Ack Disposition = iota
	// Requeue negatively acknowledges and redelivers. Used for transient
	// failures; at-least-once semantics make the retry safe.
	Requeue
	// Drop negatively acknowledges without redelivery. Used for poison
	// messages and permanent failures.
	Drop
)

// HandlerFunc processes one raw delivery body and decides its fate.
type HandlerFunc func(ctx context.Context, body []byte) Disposition

// Publisher enqueues a JSON-serializable message on a named queue.
type Publisher interface {
	Publish(ctx context.Context, queue string, message any) error
}

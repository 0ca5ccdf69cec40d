package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	amqp "github.com/rabbitmq/amqp091-go"
)

// consumerPrefetch bounds outstanding deliveries per consumer. Jobs are coarse
// and vary widely in duration, so a single outstanding delivery is the
// backpressure mechanism; scaling happens by adding worker processes.
const consumerPrefetch = 1

// AMQPBroker is a durable-queue AMQP 0-9-1 connection shared by the publisher
// and consumer sides of one process.
type AMQPBroker struct {
	conn    *amqp.Connection
	channel *amqp.Channel
}

// Dial connects to the broker and declares the full queue topology. Every
// process declares all queues so startup order does not matter.
func Dial(url string, queues []string) (*AMQPBroker, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to broker: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	for _, queue := range queues {
		if _, err := channel.QueueDeclare(queue, true, false, false, false, nil); err != nil {
			channel.Close()
			conn.Close()
			return nil, fmt.Errorf("failed to declare queue %s: %w", queue, err)
		}
	}

	return &AMQPBroker{conn: conn, channel: channel}, nil
}

// Publish serializes message as JSON and enqueues it on the named queue via
// the default exchange.
func (b *AMQPBroker) Publish(ctx context.Context, queue string, message any) error {
	body, err := json.Marshal(message)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	err = b.channel.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish to %s: %w", queue, err)
	}
	return nil
}

// Consume blocks, feeding deliveries from the named queue to handler one at a
// time, acknowledging per the handler's disposition. It returns when ctx is
// cancelled or the delivery channel closes.
func (b *AMQPBroker) Consume(ctx context.Context, queue string, handler HandlerFunc) error {
	if err := b.channel.Qos(consumerPrefetch, 0, false); err != nil {
		return fmt.Errorf("failed to set prefetch: %w", err)
	}

	deliveries, err := b.channel.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("failed to consume from %s: %w", queue, err)
	}

	log.Printf("[Broker] Consuming from queue %s", queue)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case delivery, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel for %s closed", queue)
			}
			b.settle(delivery, handler(ctx, delivery.Body))
		}
	}
}

func (b *AMQPBroker) settle(delivery amqp.Delivery, d Disposition) {
	var err error
	switch d {
	case Ack:
		err = delivery.Ack(false)
	case Requeue:
		err = delivery.Nack(false, true)
	case Drop:
		err = delivery.Nack(false, false)
	}
	if err != nil {
		log.Printf("[Broker] Failed to settle delivery: %v", err)
	}
}

// Close tears down the channel and connection.
func (b *AMQPBroker) Close() error {
	if err := b.channel.Close(); err != nil {
		b.conn.Close()
		return err
	}
	return b.conn.Close()
}

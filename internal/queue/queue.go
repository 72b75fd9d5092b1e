package queue

import (
	"context"
	"errors"
	"time"
)

// Common errors returned by queue implementations
var (
	ErrQueueClosed = errors.New("task queue is closed")
	ErrQueueFull   = errors.New("task queue is full")

	// ErrUnknownDelivery is returned when acking a delivery whose lease is no longer held.
	ErrUnknownDelivery = errors.New("delivery is not leased to this consumer")
)

// Delivery is a single leased copy of a queued message.
type Delivery struct {
	// ID is the broker handle of this lease, used by Ack, Nack and DeadLetter.
	ID string

	// Body is the raw message payload.
	Body []byte

	// Attempt counts how many times the message was nacked before this delivery.
	Attempt int

	// ReceivedAt is when the lease was granted.
	ReceivedAt time.Time
}

// Publisher writes messages to the queue.
type Publisher interface {
	// Publish durably writes body to the queue. It returns only after the
	// broker has accepted the write.
	Publish(ctx context.Context, body []byte) error

	// Close releases the publisher's resources.
	Close() error
}

// Consumer leases messages from the queue.
type Consumer interface {
	// Receive blocks until a message is leased to this consumer or ctx is done.
	Receive(ctx context.Context) (*Delivery, error)

	// Ack removes the message from the queue.
	Ack(ctx context.Context, d *Delivery) error

	// Nack releases the message for redelivery once delay has passed.
	Nack(ctx context.Context, d *Delivery, delay time.Duration) error

	// DeadLetter moves the message to the dead-letter destination and removes
	// it from the main queue.
	DeadLetter(ctx context.Context, d *Delivery, reason string) error

	// Close releases the consumer's resources.
	Close() error
}

// Maintainer is implemented by consumers that need background housekeeping,
// such as reclaiming expired leases or promoting delayed retries.
// Maintain runs until ctx is cancelled.
type Maintainer interface {
	Maintain(ctx context.Context) error
}

package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DeadMessage is a message moved to the dead-letter list of a MemoryBroker.
type DeadMessage struct {
	Body    []byte
	Attempt int
	Reason  string
	At      time.Time
}

type memoryMessage struct {
	id      uint64
	body    []byte
	attempt int
}

type memoryLease struct {
	msg      memoryMessage
	deadline time.Time
}

// MemoryBroker is a buffered, in-process queue that implements Publisher,
// Consumer and Maintainer. Messages are leased on Receive and returned to the
// queue if their lease expires before they are acked.
type MemoryBroker struct {
	mu         sync.Mutex
	messages   chan memoryMessage
	inflight   map[string]memoryLease
	dead       []DeadMessage
	pending    map[*time.Timer]struct{}
	visibility time.Duration
	interval   time.Duration
	seq        uint64
	leaseSeq   uint64
	closed     bool
	logger     *slog.Logger
	now        func() time.Time
}

// MemoryBrokerConfig holds configuration options for the memory broker
type MemoryBrokerConfig struct {
	// Size is the buffer capacity. Publish fails with ErrQueueFull beyond it.
	Size int

	// VisibilityTimeout is how long a lease is held before the message is redelivered.
	VisibilityTimeout time.Duration

	// ReclaimInterval is how often Maintain looks for expired leases.
	ReclaimInterval time.Duration
}

// DefaultMemoryBrokerConfig returns a MemoryBrokerConfig with reasonable defaults
func DefaultMemoryBrokerConfig() MemoryBrokerConfig {
	return MemoryBrokerConfig{
		Size:              1000,
		VisibilityTimeout: 30 * time.Second,
		ReclaimInterval:   5 * time.Second,
	}
}

// NewMemoryBroker creates a new memory broker
func NewMemoryBroker(cfg MemoryBrokerConfig, logger *slog.Logger) *MemoryBroker {
	defaults := DefaultMemoryBrokerConfig()
	if cfg.Size <= 0 {
		cfg.Size = defaults.Size
	}
	if cfg.VisibilityTimeout <= 0 {
		cfg.VisibilityTimeout = defaults.VisibilityTimeout
	}
	if cfg.ReclaimInterval <= 0 {
		cfg.ReclaimInterval = defaults.ReclaimInterval
	}

	return &MemoryBroker{
		messages:   make(chan memoryMessage, cfg.Size),
		inflight:   make(map[string]memoryLease),
		pending:    make(map[*time.Timer]struct{}),
		visibility: cfg.VisibilityTimeout,
		interval:   cfg.ReclaimInterval,
		logger:     logger,
		now:        time.Now,
	}
}

// Publish implements Publisher.
func (b *MemoryBroker) Publish(ctx context.Context, body []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrQueueClosed
	}

	b.seq++
	msg := memoryMessage{id: b.seq, body: append([]byte(nil), body...)}
	if err := b.enqueueLocked(msg); err != nil {
		return err
	}

	b.logger.Debug("message enqueued",
		"message_id", msg.id,
		"queue_len", len(b.messages),
		"queue_cap", cap(b.messages))
	return nil
}

func (b *MemoryBroker) enqueueLocked(msg memoryMessage) error {
	select {
	case b.messages <- msg:
		return nil
	default:
		return fmt.Errorf("%w: queue capacity %d reached", ErrQueueFull, cap(b.messages))
	}
}

// Receive implements Consumer.
func (b *MemoryBroker) Receive(ctx context.Context) (*Delivery, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case msg, ok := <-b.messages:
		if !ok {
			return nil, ErrQueueClosed
		}

		b.mu.Lock()
		defer b.mu.Unlock()

		now := b.now()
		b.leaseSeq++
		id := fmt.Sprintf("%d-%d", msg.id, b.leaseSeq)
		b.inflight[id] = memoryLease{msg: msg, deadline: now.Add(b.visibility)}

		return &Delivery{
			ID:         id,
			Body:       msg.body,
			Attempt:    msg.attempt,
			ReceivedAt: now,
		}, nil
	}
}

func (b *MemoryBroker) release(d *Delivery) (memoryLease, error) {
	if d == nil {
		return memoryLease{}, ErrUnknownDelivery
	}
	lease, ok := b.inflight[d.ID]
	if !ok {
		return memoryLease{}, fmt.Errorf("%w: %s", ErrUnknownDelivery, d.ID)
	}
	delete(b.inflight, d.ID)
	return lease, nil
}

// Ack implements Consumer.
func (b *MemoryBroker) Ack(ctx context.Context, d *Delivery) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	_, err := b.release(d)
	return err
}

// Nack implements Consumer. The message is requeued with its attempt counter
// incremented once delay has passed. When an immediate requeue fails the lease
// is kept, so the message is reclaimed later instead of lost.
func (b *MemoryBroker) Nack(ctx context.Context, d *Delivery, delay time.Duration) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrQueueClosed
	}
	if d == nil {
		return ErrUnknownDelivery
	}
	lease, ok := b.inflight[d.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownDelivery, d.ID)
	}

	msg := lease.msg
	msg.attempt++

	if delay <= 0 {
		if err := b.requeueLocked(msg); err != nil {
			return err
		}
		delete(b.inflight, d.ID)
		return nil
	}

	delete(b.inflight, d.ID)
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.pending, timer)
		if err := b.requeueLocked(msg); err != nil {
			b.deadLetterLocked(msg, fmt.Sprintf("delayed requeue failed: %v", err))
		}
	})
	b.pending[timer] = struct{}{}
	return nil
}

func (b *MemoryBroker) requeueLocked(msg memoryMessage) error {
	if b.closed {
		return ErrQueueClosed
	}
	return b.enqueueLocked(msg)
}

// DeadLetter implements Consumer.
func (b *MemoryBroker) DeadLetter(ctx context.Context, d *Delivery, reason string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	lease, err := b.release(d)
	if err != nil {
		return err
	}
	b.deadLetterLocked(lease.msg, reason)
	return nil
}

func (b *MemoryBroker) deadLetterLocked(msg memoryMessage, reason string) {
	b.dead = append(b.dead, DeadMessage{
		Body:    msg.body,
		Attempt: msg.attempt,
		Reason:  reason,
		At:      b.now(),
	})
	b.logger.Warn("message dead-lettered",
		"message_id", msg.id,
		"attempt", msg.attempt,
		"reason", reason)
}

// Reclaim returns every message whose lease expired before now to the queue
// and reports how many were returned. A lease whose message cannot be
// requeued is kept and retried on the next call.
func (b *MemoryBroker) Reclaim(now time.Time) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	reclaimed := 0
	for id, lease := range b.inflight {
		if now.Before(lease.deadline) {
			continue
		}
		if err := b.requeueLocked(lease.msg); err != nil {
			b.logger.Error("failed to reclaim expired lease",
				"message_id", lease.msg.id,
				"error", err)
			continue
		}
		delete(b.inflight, id)
		reclaimed++
	}
	if reclaimed > 0 {
		b.logger.Info("reclaimed expired leases", "count", reclaimed)
	}
	return reclaimed
}

// Maintain implements Maintainer by periodically reclaiming expired leases.
func (b *MemoryBroker) Maintain(ctx context.Context) error {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			b.Reclaim(b.now())
		}
	}
}

// DeadLetters returns a copy of the dead-letter list.
func (b *MemoryBroker) DeadLetters() []DeadMessage {
	b.mu.Lock()
	defer b.mu.Unlock()

	return append([]DeadMessage(nil), b.dead...)
}

// Len returns the number of messages waiting to be received.
func (b *MemoryBroker) Len() int {
	return len(b.messages)
}

// InFlight returns the number of leased, unacknowledged messages.
func (b *MemoryBroker) InFlight() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return len(b.inflight)
}

// Close closes the broker. Pending delayed requeues are dropped and
// receivers get ErrQueueClosed once the buffer is drained.
func (b *MemoryBroker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	for timer := range b.pending {
		timer.Stop()
	}
	b.pending = make(map[*time.Timer]struct{})
	close(b.messages)
	b.logger.Info("task queue closed")
	return nil
}

var (
	_ Publisher  = (*MemoryBroker)(nil)
	_ Consumer   = (*MemoryBroker)(nil)
	_ Maintainer = (*MemoryBroker)(nil)
)

package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/phrazzld/sendnforget/internal/delivery"
	"github.com/phrazzld/sendnforget/internal/domain"
	"github.com/phrazzld/sendnforget/internal/platform/logger"
	"github.com/phrazzld/sendnforget/internal/queue"
	"github.com/phrazzld/sendnforget/internal/store"
)

// TaskProcessor runs one processing attempt for a task.
type TaskProcessor interface {
	Process(ctx context.Context, task domain.NotificationTask) (int, error)
}

// PoolConfig holds configuration for the worker pool
type PoolConfig struct {
	// Concurrency determines how many consumer goroutines process messages.
	// If zero or negative, defaults to 1.
	Concurrency int

	// AttemptTimeout bounds a single processing attempt. It should not exceed
	// the queue visibility timeout so an attempt never outlives its lease.
	AttemptTimeout time.Duration

	// Retry controls redelivery of failed attempts.
	Retry RetryPolicy

	// DeadLetterConfigErrors dead-letters attempts that fail with
	// delivery.ErrNotConfigured instead of retrying them.
	DeadLetterConfigErrors bool
}

// DefaultPoolConfig returns a PoolConfig with reasonable defaults
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Concurrency:    4,
		AttemptTimeout: 30 * time.Second,
		Retry:          DefaultRetryPolicy(),
	}
}

// settleTimeout bounds the queue call that acks, nacks or dead-letters a delivery.
const settleTimeout = 5 * time.Second

// settleAttempts is how many times a failed settle call is tried before the
// pool falls back to an immediate Nack.
const settleAttempts = 3

const settleBackoff = 100 * time.Millisecond

// receiveErrorBackoff is how long a consumer waits after a failed Receive.
const receiveErrorBackoff = time.Second

// Pool manages the consumer goroutines of a worker process
type Pool struct {
	consumer  queue.Consumer
	processor TaskProcessor
	config    PoolConfig
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	logger    *slog.Logger
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewPool creates a new Pool
func NewPool(consumer queue.Consumer, processor TaskProcessor, config PoolConfig, logger *slog.Logger) *Pool {
	if config.Concurrency <= 0 {
		logger.Warn("invalid worker concurrency specified, using default",
			"specified_count", config.Concurrency,
			"default_count", 1)
		config.Concurrency = 1
	}
	if config.AttemptTimeout <= 0 {
		config.AttemptTimeout = DefaultPoolConfig().AttemptTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Pool{
		consumer:  consumer,
		processor: processor,
		config:    config,
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger.With("component", "worker_pool"),
	}
}

// Start launches the consumer goroutines and, when the consumer supports it,
// the queue maintenance loop. It returns immediately.
func (p *Pool) Start() {
	p.startOnce.Do(func() {
		for i := 0; i < p.config.Concurrency; i++ {
			p.wg.Add(1)
			go p.worker(i)
		}

		if m, ok := p.consumer.(queue.Maintainer); ok {
			p.wg.Add(1)
			go p.maintain(m)
		}

		p.logger.Info("worker pool started", "concurrency", p.config.Concurrency)
	})
}

// Stop stops receiving new messages and waits for in-flight attempts to finish.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		p.cancel()
		p.wg.Wait()
		p.logger.Info("worker pool stopped")
	})
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	log := p.logger.With("worker_id", id)
	log.Debug("starting worker")

	for {
		d, err := p.consumer.Receive(p.ctx)
		if err != nil {
			if p.ctx.Err() != nil || errors.Is(err, queue.ErrQueueClosed) {
				log.Debug("stopping worker")
				return
			}
			log.Error("failed to receive message", "error", err)
			select {
			case <-p.ctx.Done():
				return
			case <-time.After(receiveErrorBackoff):
			}
			continue
		}

		p.handle(d, log)
	}
}

// handle runs one delivery to completion. The attempt runs on its own context
// so that shutdown does not abort it half way.
func (p *Pool) handle(d *queue.Delivery, log *slog.Logger) {
	log = log.With("delivery_id", d.ID, "queue_attempt", d.Attempt)

	defer func() {
		if r := recover(); r != nil {
			log.Error("panic while processing message", "panic", fmt.Sprint(r))
			p.retryOrDeadLetter(d, d.Attempt+1, fmt.Errorf("panic: %v", r), log)
		}
	}()

	task, err := queue.DecodeTask(d.Body)
	if err != nil {
		log.Error("discarding undecodable message", "error", err)
		p.deadLetter(d, err.Error(), log)
		return
	}
	log = log.With("tracking_id", task.TrackingID)

	ctx, cancel := context.WithTimeout(context.Background(), p.config.AttemptTimeout)
	defer cancel()
	ctx = logger.WithContext(ctx, log)

	attempt, err := p.processor.Process(ctx, task)
	switch {
	case err == nil:
		p.ack(d, log)
	case errors.Is(err, store.ErrStaleAttempt):
		// a later delivery owns the record; this one is done
		log.Warn("attempt superseded by a later delivery", "error", err)
		p.ack(d, log)
	case p.config.DeadLetterConfigErrors && errors.Is(err, delivery.ErrNotConfigured):
		p.deadLetter(d, err.Error(), log)
	default:
		p.retryOrDeadLetter(d, max(attempt, d.Attempt+1), err, log)
	}
}

func (p *Pool) retryOrDeadLetter(d *queue.Delivery, attempts int, cause error, log *slog.Logger) {
	if p.config.Retry.Exhausted(attempts) {
		p.deadLetter(d, fmt.Sprintf("retries exhausted after %d attempts: %v", attempts, cause), log)
		return
	}

	delay := p.config.Retry.Delay(attempts)
	err := p.settle(log, "nack", func(ctx context.Context) error {
		return p.consumer.Nack(ctx, d, delay)
	})
	if err != nil {
		if delay <= 0 || finalSettle(err) {
			log.Error("failed to nack message", "error", err)
			return
		}
		log.Error("failed to nack message, requeueing without delay", "error", err)
		p.requeueNow(d, log)
		return
	}
	log.Info("message scheduled for redelivery",
		"attempts", attempts,
		"delay_ms", delay.Milliseconds(),
		"cause", cause.Error())
}

func (p *Pool) ack(d *queue.Delivery, log *slog.Logger) {
	err := p.settle(log, "ack", func(ctx context.Context) error {
		return p.consumer.Ack(ctx, d)
	})
	switch {
	case err == nil:
	case errors.Is(err, queue.ErrUnknownDelivery):
		log.Debug("lease already released", "error", err)
	default:
		log.Error("failed to ack message", "error", err)
	}
}

func (p *Pool) deadLetter(d *queue.Delivery, reason string, log *slog.Logger) {
	err := p.settle(log, "dead_letter", func(ctx context.Context) error {
		return p.consumer.DeadLetter(ctx, d, reason)
	})
	if err != nil {
		if finalSettle(err) {
			log.Error("failed to dead-letter message", "error", err)
			return
		}
		log.Error("failed to dead-letter message, requeueing", "error", err)
		p.requeueNow(d, log)
		return
	}
	log.Warn("message dead-lettered", "reason", reason)
}

func (p *Pool) requeueNow(d *queue.Delivery, log *slog.Logger) {
	err := p.settle(log, "nack", func(ctx context.Context) error {
		return p.consumer.Nack(ctx, d, 0)
	})
	if err != nil {
		log.Error("failed to requeue message", "error", err)
	}
}

// settle runs a queue settle call, retrying it with a growing pause until it
// succeeds or fails with an error that retrying cannot fix.
func (p *Pool) settle(log *slog.Logger, op string, call func(ctx context.Context) error) error {
	var err error
	for i := 0; i < settleAttempts; i++ {
		if i > 0 {
			time.Sleep(time.Duration(i) * settleBackoff)
		}
		ctx, cancel := context.WithTimeout(context.Background(), settleTimeout)
		err = call(ctx)
		cancel()
		if err == nil || finalSettle(err) {
			return err
		}
		log.Warn("settle call failed", "op", op, "try", i+1, "error", err)
	}
	return err
}

// finalSettle reports whether a settle error means the delivery can no longer
// be settled by this consumer.
func finalSettle(err error) bool {
	return errors.Is(err, queue.ErrUnknownDelivery) || errors.Is(err, queue.ErrQueueClosed)
}

// maintain runs the consumer's housekeeping loop until the pool stops,
// restarting it after failures.
func (p *Pool) maintain(m queue.Maintainer) {
	defer p.wg.Done()

	for {
		err := m.Maintain(p.ctx)
		if p.ctx.Err() != nil {
			return
		}
		if err != nil {
			p.logger.Error("queue maintenance failed", "error", err)
		}
		select {
		case <-p.ctx.Done():
			return
		case <-time.After(receiveErrorBackoff):
		}
	}
}

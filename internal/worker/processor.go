package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/sendnforget/internal/delivery"
	"github.com/phrazzld/sendnforget/internal/domain"
	"github.com/phrazzld/sendnforget/internal/redact"
	"github.com/phrazzld/sendnforget/internal/store"
)

// ProcessorConfig holds the delivery settings of a Processor
type ProcessorConfig struct {
	// SimulatedDelay is slept before every delivery attempt. Zero disables it.
	SimulatedDelay time.Duration

	// SubjectPrefix is prepended to the subject of every notification.
	SubjectPrefix string
}

// Processor runs the processing protocol for a single task.
type Processor struct {
	store    store.JobStore
	sender   delivery.Sender
	injector delivery.FailureInjector
	config   ProcessorConfig
	logger   *slog.Logger
	now      func() time.Time
}

// NewProcessor creates a new Processor. A nil injector never fails.
func NewProcessor(
	jobStore store.JobStore,
	sender delivery.Sender,
	injector delivery.FailureInjector,
	config ProcessorConfig,
	logger *slog.Logger,
) *Processor {
	if injector == nil {
		injector = delivery.Never()
	}
	return &Processor{
		store:    jobStore,
		sender:   sender,
		injector: injector,
		config:   config,
		logger:   logger,
		now:      time.Now,
	}
}

// Process runs one attempt for task and returns the attempt number recorded
// in the job store. The attempt number is zero when the attempt could not be
// recorded.
//
// The record is moved to PROCESSING and its retry count incremented before
// delivery is attempted, then moved to SENT or FAILED.
func (p *Processor) Process(ctx context.Context, task domain.NotificationTask) (int, error) {
	log := p.logger.With("tracking_id", task.TrackingID)

	record, err := p.store.Get(ctx, task.TrackingID)
	switch {
	case errors.Is(err, store.ErrJobNotFound):
		record = domain.NewJobRecord(task, p.now())
	case err != nil:
		return 0, fmt.Errorf("%w: load record: %w", ErrStoreFailure, err)
	}

	record.BeginAttempt(task.Recipient, p.now())
	if err := p.store.Upsert(ctx, record); err != nil {
		return 0, fmt.Errorf("%w: record processing: %w", ErrStoreFailure, err)
	}
	attempt := record.RetryCount
	log = log.With("attempt", attempt)
	log.Info("processing notification", "recipient", task.Recipient)

	if err := sleep(ctx, p.config.SimulatedDelay); err != nil {
		return attempt, fmt.Errorf("attempt interrupted: %w", err)
	}

	if p.injector.ShouldFail() {
		if err := p.finish(ctx, record, domain.JobStatusFailed); err != nil {
			return attempt, err
		}
		log.Warn("simulated delivery failure")
		return attempt, fmt.Errorf("%w: simulated failure", ErrTransientFailure)
	}

	subject, body := delivery.Compose(p.config.SubjectPrefix, task)
	if sendErr := p.sender.Send(ctx, task.Recipient, subject, body); sendErr != nil {
		if err := p.finish(ctx, record, domain.JobStatusFailed); err != nil {
			return attempt, err
		}
		log.Error("delivery failed", "error", redact.Error(sendErr))
		return attempt, fmt.Errorf("delivery failed: %w", sendErr)
	}

	if err := p.finish(ctx, record, domain.JobStatusSent); err != nil {
		return attempt, err
	}
	log.Info("notification sent")
	return attempt, nil
}

func (p *Processor) finish(ctx context.Context, record *domain.JobRecord, status domain.JobStatus) error {
	now := p.now()
	switch status {
	case domain.JobStatusSent:
		record.MarkSent(now)
	default:
		record.MarkFailed(now)
	}
	if err := p.store.Upsert(ctx, record); err != nil {
		return fmt.Errorf("%w: record %s: %w", ErrStoreFailure, status, err)
	}
	return nil
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

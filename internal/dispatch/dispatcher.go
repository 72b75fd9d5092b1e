// Package dispatch accepts notification requests, assigns each one a
// tracking ID and hands it to the task queue.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/phrazzld/sendnforget/internal/domain"
	"github.com/phrazzld/sendnforget/internal/queue"
)

var (
	// ErrInvalidRequest is returned when a request is missing required fields.
	ErrInvalidRequest = errors.New("invalid notification request")

	// ErrPublishFailed is returned when the task could not be written to the queue.
	// No tracking ID is issued in that case.
	ErrPublishFailed = errors.New("failed to enqueue notification")
)

// Request is a notification submitted by a client.
type Request struct {
	ClientID  string `json:"clientId"  validate:"max=256"`
	Recipient string `json:"recipient" validate:"required,max=320"`
	Message   string `json:"message"   validate:"required"`
}

// Receipt acknowledges that a request was queued.
type Receipt struct {
	TrackingID string `json:"trackingId"`
	Status     string `json:"status"`
}

// Dispatcher publishes notification tasks. It keeps no state of its own.
type Dispatcher struct {
	publisher queue.Publisher
	validate  *validator.Validate
	newID     func() string
	logger    *slog.Logger
}

// NewDispatcher creates a new Dispatcher
func NewDispatcher(publisher queue.Publisher, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		publisher: publisher,
		validate:  validator.New(),
		newID:     func() string { return uuid.New().String() },
		logger:    logger.With("component", "dispatcher"),
	}
}

// Submit validates req, mints a fresh tracking ID and publishes the task.
// It returns once the queue has accepted the task.
func (d *Dispatcher) Submit(ctx context.Context, req Request) (Receipt, error) {
	if err := d.validate.Struct(req); err != nil {
		return Receipt{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	task := domain.NotificationTask{
		TrackingID: d.newID(),
		ClientID:   req.ClientID,
		Recipient:  req.Recipient,
		Message:    req.Message,
	}

	body, err := queue.EncodeTask(task)
	if err != nil {
		return Receipt{}, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}

	if err := d.publisher.Publish(ctx, body); err != nil {
		d.logger.ErrorContext(ctx, "failed to publish task",
			"tracking_id", task.TrackingID,
			"client_id", task.ClientID,
			"error", err)
		return Receipt{}, fmt.Errorf("%w: %w", ErrPublishFailed, err)
	}

	d.logger.InfoContext(ctx, "notification queued",
		"tracking_id", task.TrackingID,
		"client_id", task.ClientID)

	return Receipt{TrackingID: task.TrackingID, Status: domain.SubmissionStatusQueued}, nil
}

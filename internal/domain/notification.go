package domain

import (
	"errors"
	"time"
)

// JobStatus represents the processing state recorded for a tracking ID
type JobStatus string

// Possible job status values
const (
	JobStatusProcessing JobStatus = "PROCESSING"
	JobStatusSent       JobStatus = "SENT"
	JobStatusFailed     JobStatus = "FAILED"
)

// SubmissionStatusQueued is reported to callers when a task has been handed to the queue.
// No JobRecord carries this status: records only exist once a worker picks the task up.
const SubmissionStatusQueued = "QUEUED"

// Common validation errors for notifications
var (
	ErrEmptyTrackingID  = errors.New("tracking ID cannot be empty")
	ErrEmptyRecipient   = errors.New("recipient cannot be empty")
	ErrEmptyMessage     = errors.New("message cannot be empty")
	ErrInvalidJobStatus = errors.New("invalid job status")
	ErrNegativeRetries  = errors.New("retry count cannot be negative")
)

// NotificationTask is the immutable payload carried through the task queue.
type NotificationTask struct {
	TrackingID string `json:"trackingId"`
	ClientID   string `json:"clientId"`
	Recipient  string `json:"recipient"`
	Message    string `json:"message"`
}

// Validate checks that the task can be processed.
func (t NotificationTask) Validate() error {
	if t.TrackingID == "" {
		return ErrEmptyTrackingID
	}
	if t.Recipient == "" {
		return ErrEmptyRecipient
	}
	if t.Message == "" {
		return ErrEmptyMessage
	}
	return nil
}

// JobRecord is the status record kept for a single tracking ID.
// It is created lazily on the first processing attempt and mutated in place
// on every later attempt for the same ID. It is never deleted.
type JobRecord struct {
	ID         string    `json:"id"`
	Status     JobStatus `json:"status"`
	Recipient  string    `json:"recipient"`
	RetryCount int       `json:"retryCount"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// NewJobRecord creates the record for a task that has never been attempted.
// The record starts in PROCESSING with a zero retry count; callers are expected
// to call BeginAttempt before persisting it.
func NewJobRecord(task NotificationTask, now time.Time) *JobRecord {
	now = now.UTC()
	return &JobRecord{
		ID:         task.TrackingID,
		Status:     JobStatusProcessing,
		Recipient:  task.Recipient,
		RetryCount: 0,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// BeginAttempt moves the record into PROCESSING for a new attempt,
// refreshing the recipient and counting the attempt.
func (r *JobRecord) BeginAttempt(recipient string, now time.Time) {
	r.Status = JobStatusProcessing
	r.Recipient = recipient
	r.RetryCount++
	r.UpdatedAt = now.UTC()
}

// MarkSent records a successful delivery.
func (r *JobRecord) MarkSent(now time.Time) {
	r.Status = JobStatusSent
	r.UpdatedAt = now.UTC()
}

// MarkFailed records a failed delivery attempt.
func (r *JobRecord) MarkFailed(now time.Time) {
	r.Status = JobStatusFailed
	r.UpdatedAt = now.UTC()
}

// Validate checks if the JobRecord has valid data.
func (r *JobRecord) Validate() error {
	if r.ID == "" {
		return ErrEmptyTrackingID
	}
	if !IsValidJobStatus(r.Status) {
		return ErrInvalidJobStatus
	}
	if r.RetryCount < 0 {
		return ErrNegativeRetries
	}
	return nil
}

// IsValidJobStatus checks if the given status is a valid JobStatus.
func IsValidJobStatus(status JobStatus) bool {
	switch status {
	case JobStatusProcessing, JobStatusSent, JobStatusFailed:
		return true
	default:
		return false
	}
}

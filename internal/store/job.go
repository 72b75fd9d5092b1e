package store

import (
	"context"
	"fmt"

	"github.com/phrazzld/sendnforget/internal/domain"
)

// JobStore defines the operations for persisting job status records keyed by tracking ID.
//
// Implementations must make Upsert atomic per ID. Cross-ID locking is not required.
type JobStore interface {
	// Upsert inserts the record if no record exists for its ID. Otherwise it
	// overwrites every field except CreatedAt, which keeps its first value.
	// A record whose RetryCount is lower than the stored one is rejected with
	// ErrStaleAttempt and nothing is written.
	Upsert(ctx context.Context, record *domain.JobRecord) error

	// Get returns the record for the tracking ID, or ErrJobNotFound.
	Get(ctx context.Context, id string) (*domain.JobRecord, error)

	// List returns every record. Order is unspecified.
	List(ctx context.Context) ([]domain.JobRecord, error)
}

// ValidateForUpsert rejects records that must never reach a store.
func ValidateForUpsert(record *domain.JobRecord) error {
	if record == nil {
		return NewStoreError("job_record", "upsert", "nil record", ErrInvalidEntity)
	}
	if err := record.Validate(); err != nil {
		return NewStoreError("job_record", "upsert", "validation failed", fmt.Errorf("%w: %w", ErrInvalidEntity, err))
	}
	return nil
}

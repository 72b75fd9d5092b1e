// Package status exposes a read-only view of job records for clients that
// poll for the outcome of their notifications.
package status

import (
	"context"
	"fmt"

	"github.com/phrazzld/sendnforget/internal/domain"
	"github.com/phrazzld/sendnforget/internal/store"
)

// Reader reads job records. Results may lag the workers' latest writes.
type Reader struct {
	store store.JobStore
}

// NewReader creates a new Reader
func NewReader(jobStore store.JobStore) *Reader {
	return &Reader{store: jobStore}
}

// List returns every job record. It never returns a nil slice.
func (r *Reader) List(ctx context.Context) ([]domain.JobRecord, error) {
	records, err := r.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list job records: %w", err)
	}
	if records == nil {
		records = []domain.JobRecord{}
	}
	return records, nil
}

// Get returns the record for a tracking ID, or an error matching store.ErrNotFound.
func (r *Reader) Get(ctx context.Context, trackingID string) (*domain.JobRecord, error) {
	record, err := r.store.Get(ctx, trackingID)
	if err != nil {
		return nil, fmt.Errorf("failed to get job record: %w", err)
	}
	return record, nil
}

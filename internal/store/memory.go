package store

import (
	"context"
	"sort"
	"sync"

	"github.com/phrazzld/sendnforget/internal/domain"
)

// MemoryJobStore is a JobStore kept in process memory. It is used by tests and
// by the single-process local mode; records do not survive a restart.
type MemoryJobStore struct {
	mu      sync.RWMutex
	records map[string]domain.JobRecord
}

// NewMemoryJobStore creates an empty MemoryJobStore.
func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{records: make(map[string]domain.JobRecord)}
}

// Upsert implements JobStore.
func (s *MemoryJobStore) Upsert(ctx context.Context, record *domain.JobRecord) error {
	if err := ValidateForUpsert(record); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := *record
	if existing, ok := s.records[record.ID]; ok {
		if record.RetryCount < existing.RetryCount {
			return ErrStaleAttempt
		}
		if !existing.CreatedAt.IsZero() {
			next.CreatedAt = existing.CreatedAt
		}
	}
	s.records[record.ID] = next
	return nil
}

// Get implements JobStore.
func (s *MemoryJobStore) Get(ctx context.Context, id string) (*domain.JobRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	record, ok := s.records[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return &record, nil
}

// List implements JobStore. Records are returned newest first.
func (s *MemoryJobStore) List(ctx context.Context) ([]domain.JobRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]domain.JobRecord, 0, len(s.records))
	for _, record := range s.records {
		records = append(records, record)
	}
	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	return records, nil
}

var _ JobStore = (*MemoryJobStore)(nil)

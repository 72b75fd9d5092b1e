package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/phrazzld/sendnforget/internal/domain"
	"github.com/phrazzld/sendnforget/internal/platform/logger"
	"github.com/phrazzld/sendnforget/internal/store"
)

// upsertJobSQL writes a record unless the stored row already belongs to a later attempt.
// created_at is only set by the insert branch.
const upsertJobSQL = `
	INSERT INTO job_records (id, status, recipient, retry_count, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6)
	ON CONFLICT (id) DO UPDATE SET
		status = EXCLUDED.status,
		recipient = EXCLUDED.recipient,
		retry_count = EXCLUDED.retry_count,
		updated_at = EXCLUDED.updated_at
	WHERE job_records.retry_count <= EXCLUDED.retry_count
`

const selectJobColumns = `SELECT id, status, recipient, retry_count, created_at, updated_at FROM job_records`

// PostgresJobStore implements store.JobStore using PostgreSQL
type PostgresJobStore struct {
	db store.DBTX
}

// NewPostgresJobStore creates a new PostgresJobStore
func NewPostgresJobStore(db store.DBTX) *PostgresJobStore {
	return &PostgresJobStore{db: db}
}

// Upsert implements store.JobStore.
func (s *PostgresJobStore) Upsert(ctx context.Context, record *domain.JobRecord) error {
	log := logger.FromContext(ctx)

	if err := store.ValidateForUpsert(record); err != nil {
		return err
	}

	result, err := s.db.ExecContext(ctx, upsertJobSQL,
		record.ID,
		string(record.Status),
		record.Recipient,
		record.RetryCount,
		record.CreatedAt.UTC(),
		record.UpdatedAt.UTC(),
	)
	if err != nil {
		log.Error("failed to upsert job record",
			"tracking_id", record.ID,
			"status", record.Status,
			"error", err)
		return store.NewStoreError("job_record", "upsert", "write failed", MapError(err))
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return store.NewStoreError("job_record", "upsert", "failed to get rows affected", MapError(err))
	}
	if rows == 0 {
		log.Warn("job record belongs to a later attempt, write skipped",
			"tracking_id", record.ID,
			"retry_count", record.RetryCount)
		return store.ErrStaleAttempt
	}

	return nil
}

// Get implements store.JobStore.
func (s *PostgresJobStore) Get(ctx context.Context, id string) (*domain.JobRecord, error) {
	row := s.db.QueryRowContext(ctx, selectJobColumns+` WHERE id = $1`, id)

	record, err := scanJob(row)
	if err != nil {
		mapped := MapError(err)
		if errors.Is(mapped, store.ErrNotFound) {
			return nil, store.ErrJobNotFound
		}
		return nil, store.NewStoreError("job_record", "get", "query failed", mapped)
	}
	return record, nil
}

// List implements store.JobStore. Records are returned newest first.
func (s *PostgresJobStore) List(ctx context.Context) ([]domain.JobRecord, error) {
	log := logger.FromContext(ctx)

	rows, err := s.db.QueryContext(ctx, selectJobColumns+` ORDER BY created_at DESC`)
	if err != nil {
		log.Error("failed to list job records", "error", err)
		return nil, store.NewStoreError("job_record", "list", "query failed", MapError(err))
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			log.Warn("failed to close rows", "error", closeErr)
		}
	}()

	records := make([]domain.JobRecord, 0)
	for rows.Next() {
		record, err := scanJob(rows)
		if err != nil {
			return nil, store.NewStoreError("job_record", "list", "scan failed", MapError(err))
		}
		records = append(records, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, store.NewStoreError("job_record", "list", "row iteration failed", MapError(err))
	}

	return records, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.JobRecord, error) {
	var (
		record domain.JobRecord
		status string
	)
	if err := row.Scan(
		&record.ID,
		&status,
		&record.Recipient,
		&record.RetryCount,
		&record.CreatedAt,
		&record.UpdatedAt,
	); err != nil {
		return nil, err
	}

	record.Status = domain.JobStatus(status)
	if !domain.IsValidJobStatus(record.Status) {
		return nil, fmt.Errorf("%w: stored status %q", store.ErrInvalidEntity, status)
	}
	record.CreatedAt = record.CreatedAt.UTC()
	record.UpdatedAt = record.UpdatedAt.UTC()
	return &record, nil
}

var _ store.JobStore = (*PostgresJobStore)(nil)

package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/phrazzld/sendnforget/internal/domain"
	"github.com/phrazzld/sendnforget/internal/platform/logger"
	"github.com/phrazzld/sendnforget/internal/store"
)

const (
	jobKeyPrefix = "snf:job:"
	jobIndexKey  = "snf:jobs"
)

// upsertJobScript writes the record hash unless it already holds a later attempt.
// created_at is only written when absent.
// KEYS: record hash, index set. ARGV: id, status, recipient, retry_count, created_at, updated_at.
var upsertJobScript = goredis.NewScript(`
local current = redis.call('HGET', KEYS[1], 'retry_count')
if current and tonumber(current) > tonumber(ARGV[4]) then
	return 0
end
redis.call('HSET', KEYS[1], 'id', ARGV[1], 'status', ARGV[2], 'recipient', ARGV[3], 'retry_count', ARGV[4], 'updated_at', ARGV[6])
redis.call('HSETNX', KEYS[1], 'created_at', ARGV[5])
redis.call('SADD', KEYS[2], ARGV[1])
return 1
`)

// JobStore implements store.JobStore with one Redis hash per record and a set
// indexing all tracking IDs.
type JobStore struct {
	client goredis.UniversalClient
}

// NewJobStore creates a new JobStore
func NewJobStore(client goredis.UniversalClient) *JobStore {
	return &JobStore{client: client}
}

func jobKey(id string) string {
	return jobKeyPrefix + id
}

// Upsert implements store.JobStore.
func (s *JobStore) Upsert(ctx context.Context, record *domain.JobRecord) error {
	if err := store.ValidateForUpsert(record); err != nil {
		return err
	}

	written, err := upsertJobScript.Run(ctx, s.client,
		[]string{jobKey(record.ID), jobIndexKey},
		record.ID,
		string(record.Status),
		record.Recipient,
		record.RetryCount,
		record.CreatedAt.UTC().Format(time.RFC3339Nano),
		record.UpdatedAt.UTC().Format(time.RFC3339Nano),
	).Int()
	if err != nil {
		logger.FromContext(ctx).Error("failed to upsert job record",
			"tracking_id", record.ID,
			"error", err)
		return store.NewStoreError("job_record", "upsert", "script failed", fmt.Errorf("%w: %v", store.ErrUnavailable, err))
	}
	if written == 0 {
		return store.ErrStaleAttempt
	}
	return nil
}

// Get implements store.JobStore.
func (s *JobStore) Get(ctx context.Context, id string) (*domain.JobRecord, error) {
	fields, err := s.client.HGetAll(ctx, jobKey(id)).Result()
	if err != nil {
		return nil, store.NewStoreError("job_record", "get", "HGETALL failed", fmt.Errorf("%w: %v", store.ErrUnavailable, err))
	}
	if len(fields) == 0 {
		return nil, store.ErrJobNotFound
	}
	return decodeJob(fields)
}

// List implements store.JobStore. Records are returned newest first.
func (s *JobStore) List(ctx context.Context) ([]domain.JobRecord, error) {
	ids, err := s.client.SMembers(ctx, jobIndexKey).Result()
	if err != nil {
		return nil, store.NewStoreError("job_record", "list", "SMEMBERS failed", fmt.Errorf("%w: %v", store.ErrUnavailable, err))
	}

	cmds := make([]*goredis.MapStringStringCmd, len(ids))
	_, err = s.client.Pipelined(ctx, func(pipe goredis.Pipeliner) error {
		for i, id := range ids {
			cmds[i] = pipe.HGetAll(ctx, jobKey(id))
		}
		return nil
	})
	if err != nil && !errors.Is(err, goredis.Nil) {
		return nil, store.NewStoreError("job_record", "list", "pipeline failed", fmt.Errorf("%w: %v", store.ErrUnavailable, err))
	}

	records := make([]domain.JobRecord, 0, len(ids))
	for _, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		record, err := decodeJob(fields)
		if err != nil {
			return nil, store.NewStoreError("job_record", "list", "decode failed", err)
		}
		records = append(records, *record)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	return records, nil
}

func decodeJob(fields map[string]string) (*domain.JobRecord, error) {
	retries, err := strconv.Atoi(fields["retry_count"])
	if err != nil {
		return nil, fmt.Errorf("%w: retry_count %q", store.ErrInvalidEntity, fields["retry_count"])
	}
	createdAt, err := time.Parse(time.RFC3339Nano, fields["created_at"])
	if err != nil {
		return nil, fmt.Errorf("%w: created_at %q", store.ErrInvalidEntity, fields["created_at"])
	}
	updatedAt, err := time.Parse(time.RFC3339Nano, fields["updated_at"])
	if err != nil {
		return nil, fmt.Errorf("%w: updated_at %q", store.ErrInvalidEntity, fields["updated_at"])
	}

	record := &domain.JobRecord{
		ID:         fields["id"],
		Status:     domain.JobStatus(fields["status"]),
		Recipient:  fields["recipient"],
		RetryCount: retries,
		CreatedAt:  createdAt.UTC(),
		UpdatedAt:  updatedAt.UTC(),
	}
	if err := record.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", store.ErrInvalidEntity, err)
	}
	return record, nil
}

var _ store.JobStore = (*JobStore)(nil)

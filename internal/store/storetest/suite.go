// Package storetest holds the behavioural checks shared by every JobStore implementation.
package storetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/sendnforget/internal/domain"
	"github.com/phrazzld/sendnforget/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns an empty store for one subtest.
type Factory func(t *testing.T) store.JobStore

// RunJobStoreSuite runs the JobStore contract against the store built by newStore.
func RunJobStoreSuite(t *testing.T, newStore Factory) {
	t.Helper()

	t.Run("get_missing_returns_not_found", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(context.Background(), uuid.NewString())
		assert.ErrorIs(t, err, store.ErrJobNotFound)
	})

	t.Run("upsert_inserts_then_overwrites_except_created_at", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		first := time.Date(2025, time.April, 1, 12, 0, 0, 0, time.UTC)
		id := uuid.NewString()

		rec := &domain.JobRecord{
			ID:         id,
			Status:     domain.JobStatusProcessing,
			Recipient:  "a@x.com",
			RetryCount: 1,
			CreatedAt:  first,
			UpdatedAt:  first,
		}
		require.NoError(t, s.Upsert(ctx, rec))

		later := first.Add(time.Hour)
		require.NoError(t, s.Upsert(ctx, &domain.JobRecord{
			ID:         id,
			Status:     domain.JobStatusFailed,
			Recipient:  "b@x.com",
			RetryCount: 1,
			CreatedAt:  later,
			UpdatedAt:  later,
		}))

		got, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusFailed, got.Status)
		assert.Equal(t, "b@x.com", got.Recipient)
		assert.Equal(t, 1, got.RetryCount)
		assert.True(t, first.Equal(got.CreatedAt), "created_at must keep its first value, got %v", got.CreatedAt)
	})

	t.Run("upsert_rejects_stale_attempt", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		now := time.Now().UTC().Truncate(time.Millisecond)
		id := uuid.NewString()

		require.NoError(t, s.Upsert(ctx, &domain.JobRecord{
			ID: id, Status: domain.JobStatusProcessing, Recipient: "a@x.com",
			RetryCount: 3, CreatedAt: now, UpdatedAt: now,
		}))

		err := s.Upsert(ctx, &domain.JobRecord{
			ID: id, Status: domain.JobStatusSent, Recipient: "a@x.com",
			RetryCount: 2, CreatedAt: now, UpdatedAt: now,
		})
		assert.ErrorIs(t, err, store.ErrStaleAttempt)

		got, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusProcessing, got.Status)
		assert.Equal(t, 3, got.RetryCount)
	})

	t.Run("upsert_rejects_invalid_record", func(t *testing.T) {
		s := newStore(t)
		err := s.Upsert(context.Background(), &domain.JobRecord{ID: "x", Status: "QUEUED"})
		assert.ErrorIs(t, err, store.ErrInvalidEntity)
	})

	t.Run("list_returns_all_records", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		now := time.Now().UTC().Truncate(time.Millisecond)

		ids := map[string]bool{}
		for i := 0; i < 3; i++ {
			id := uuid.NewString()
			ids[id] = true
			require.NoError(t, s.Upsert(ctx, &domain.JobRecord{
				ID: id, Status: domain.JobStatusSent, Recipient: fmt.Sprintf("r%d@x.com", i),
				RetryCount: 1, CreatedAt: now.Add(time.Duration(i) * time.Second), UpdatedAt: now,
			}))
		}

		records, err := s.List(ctx)
		require.NoError(t, err)
		found := 0
		for _, r := range records {
			if ids[r.ID] {
				found++
				assert.True(t, domain.IsValidJobStatus(r.Status))
			}
		}
		assert.Equal(t, 3, found)
	})

	t.Run("repeated_attempts_count_each_delivery", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		id := uuid.NewString()
		task := domain.NotificationTask{TrackingID: id, Recipient: "a@x.com", Message: "hi"}
		first := time.Now().UTC().Truncate(time.Millisecond)

		const deliveries = 5
		for i := 0; i < deliveries; i++ {
			now := first.Add(time.Duration(i) * time.Second)
			rec, err := s.Get(ctx, id)
			if err != nil {
				require.ErrorIs(t, err, store.ErrJobNotFound)
				rec = domain.NewJobRecord(task, now)
			}
			rec.BeginAttempt(task.Recipient, now)
			require.NoError(t, s.Upsert(ctx, rec))
			rec.MarkFailed(now)
			require.NoError(t, s.Upsert(ctx, rec))
		}

		got, err := s.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, deliveries, got.RetryCount)
		assert.True(t, first.Equal(got.CreatedAt))
	})

	t.Run("concurrent_upserts_for_distinct_ids", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		now := time.Now().UTC().Truncate(time.Millisecond)

		var wg sync.WaitGroup
		errs := make(chan error, 20)
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				errs <- s.Upsert(ctx, &domain.JobRecord{
					ID: uuid.NewString(), Status: domain.JobStatusProcessing,
					Recipient: "a@x.com", RetryCount: 1, CreatedAt: now, UpdatedAt: now,
				})
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			assert.NoError(t, err)
		}
	})
}

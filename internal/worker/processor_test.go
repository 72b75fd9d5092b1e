package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/phrazzld/sendnforget/internal/delivery"
	"github.com/phrazzld/sendnforget/internal/domain"
	"github.com/phrazzld/sendnforget/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProcessor(s store.JobStore, sender delivery.Sender, injector delivery.FailureInjector, log *slog.Logger) *Processor {
	return NewProcessor(s, sender, injector, ProcessorConfig{SubjectPrefix: "[sendNforget]"}, log)
}

func TestProcessor_Success(t *testing.T) {
	t.Parallel()

	st := NewMockJobStore()
	sender := &recordingSender{}
	p := newTestProcessor(st, sender, delivery.Never(), discardLogger())

	attempt, err := p.Process(context.Background(), testTask("t-success"))
	require.NoError(t, err)
	assert.Equal(t, 1, attempt)

	rec, err := st.Get(context.Background(), "t-success")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusSent, rec.Status)
	assert.Equal(t, 1, rec.RetryCount)
	assert.Equal(t, "a@x.com", rec.Recipient)

	history := st.History()
	require.Len(t, history, 2)
	assert.Equal(t, domain.JobStatusProcessing, history[0].Status, "PROCESSING must be persisted before delivery")
	assert.Equal(t, domain.JobStatusSent, history[1].Status)

	require.Len(t, sender.Sent(), 1)
	assert.Equal(t, sentMessage{to: "a@x.com", subject: "[sendNforget][c1] Notification", body: "hello"}, sender.Sent()[0])
}

func TestProcessor_InjectedFailureThenSuccess(t *testing.T) {
	t.Parallel()

	st := NewMockJobStore()
	sender := &recordingSender{}
	p := newTestProcessor(st, sender, delivery.NewFixedInjector(true, false), discardLogger())
	ctx := context.Background()

	attempt, err := p.Process(ctx, testTask("t-retry"))
	assert.ErrorIs(t, err, ErrTransientFailure)
	assert.Equal(t, 1, attempt)
	assert.Empty(t, sender.Sent(), "injected failures skip the transport")

	rec, err := st.Get(ctx, "t-retry")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, rec.Status)
	assert.Equal(t, 1, rec.RetryCount)

	attempt, err = p.Process(ctx, testTask("t-retry"))
	require.NoError(t, err)
	assert.Equal(t, 2, attempt)

	rec, err = st.Get(ctx, "t-retry")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusSent, rec.Status)
	assert.Equal(t, 2, rec.RetryCount)
}

func TestProcessor_TransportNotConfigured(t *testing.T) {
	t.Parallel()

	st := NewMockJobStore()
	log, logs := newRecordingLogger()
	sender := &recordingSender{err: fmt.Errorf("%w: no from address", delivery.ErrNotConfigured)}
	p := newTestProcessor(st, sender, delivery.Never(), log)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		attempt, err := p.Process(ctx, testTask("t-unconfigured"))
		assert.ErrorIs(t, err, delivery.ErrNotConfigured)
		assert.Equal(t, i, attempt)
	}

	rec, err := st.Get(ctx, "t-unconfigured")
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, rec.Status)
	assert.Equal(t, 3, rec.RetryCount)
	assert.Len(t, logs.messages(slog.LevelError), 3)
	assert.Contains(t, logs.messages(slog.LevelError), "delivery failed")
}

func TestProcessor_RepeatedDeliveriesKeepCreatedAt(t *testing.T) {
	t.Parallel()

	st := NewMockJobStore()
	p := newTestProcessor(st, &recordingSender{}, delivery.Always(), discardLogger())
	ctx := context.Background()

	base := time.Date(2025, time.June, 1, 8, 0, 0, 0, time.UTC)
	calls := 0
	p.now = func() time.Time {
		calls++
		return base.Add(time.Duration(calls) * time.Second)
	}

	const deliveries = 6
	for i := 0; i < deliveries; i++ {
		_, err := p.Process(ctx, testTask("t-idem"))
		require.ErrorIs(t, err, ErrTransientFailure)
	}

	rec, err := st.Get(ctx, "t-idem")
	require.NoError(t, err)
	assert.Equal(t, deliveries, rec.RetryCount)
	assert.Equal(t, base.Add(time.Second), rec.CreatedAt)
	assert.True(t, rec.UpdatedAt.After(rec.CreatedAt))

	all, err := st.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestProcessor_StoreFailures(t *testing.T) {
	t.Parallel()

	storeDown := fmt.Errorf("%w: connection refused", store.ErrUnavailable)

	t.Run("load failure", func(t *testing.T) {
		st := NewMockJobStore()
		st.GetFn = func(ctx context.Context, id string) (*domain.JobRecord, error) {
			return nil, storeDown
		}
		sender := &recordingSender{}
		p := newTestProcessor(st, sender, delivery.Never(), discardLogger())

		attempt, err := p.Process(context.Background(), testTask("t-load"))
		assert.ErrorIs(t, err, ErrStoreFailure)
		assert.ErrorIs(t, err, store.ErrUnavailable)
		assert.Equal(t, 0, attempt)
		assert.Empty(t, sender.Sent())
	})

	t.Run("processing write failure skips delivery", func(t *testing.T) {
		st := NewMockJobStore()
		st.UpsertFn = func(ctx context.Context, record *domain.JobRecord) error {
			return storeDown
		}
		sender := &recordingSender{}
		p := newTestProcessor(st, sender, delivery.Never(), discardLogger())

		_, err := p.Process(context.Background(), testTask("t-write"))
		assert.ErrorIs(t, err, ErrStoreFailure)
		assert.Empty(t, sender.Sent(), "no delivery without a recorded attempt")
	})

	t.Run("final write failure", func(t *testing.T) {
		st := NewMockJobStore()
		st.UpsertFn = func(ctx context.Context, record *domain.JobRecord) error {
			if record.Status == domain.JobStatusSent {
				return storeDown
			}
			return nil
		}
		p := newTestProcessor(st, &recordingSender{}, delivery.Never(), discardLogger())

		attempt, err := p.Process(context.Background(), testTask("t-final"))
		assert.ErrorIs(t, err, ErrStoreFailure)
		assert.Equal(t, 1, attempt)

		rec, err := st.Get(context.Background(), "t-final")
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusProcessing, rec.Status)
	})
}

func TestProcessor_StaleAttempt(t *testing.T) {
	t.Parallel()

	st := NewMockJobStore()
	ctx := context.Background()
	p := newTestProcessor(st, &recordingSender{}, delivery.Never(), discardLogger())

	// a newer attempt lands between this attempt's read and its first write
	st.GetFn = func(ctx context.Context, id string) (*domain.JobRecord, error) {
		rec, err := st.MemoryJobStore.Get(ctx, id)
		if err == nil {
			newer := *rec
			newer.RetryCount += 5
			require.NoError(t, st.MemoryJobStore.Upsert(ctx, &newer))
		}
		return rec, err
	}

	_, err := p.Process(ctx, testTask("t-stale"))
	require.NoError(t, err)

	_, err = p.Process(ctx, testTask("t-stale"))
	assert.ErrorIs(t, err, store.ErrStaleAttempt)
}

func TestProcessor_DelayHonoursContext(t *testing.T) {
	t.Parallel()

	st := NewMockJobStore()
	sender := &recordingSender{}
	p := NewProcessor(st, sender, delivery.Never(), ProcessorConfig{SimulatedDelay: time.Minute}, discardLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	attempt, err := p.Process(ctx, testTask("t-timeout"))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Equal(t, 1, attempt)
	assert.Empty(t, sender.Sent())
}

func TestProcessor_SimulatedDelay(t *testing.T) {
	t.Parallel()

	p := NewProcessor(NewMockJobStore(), &recordingSender{}, nil, ProcessorConfig{SimulatedDelay: 30 * time.Millisecond}, discardLogger())

	start := time.Now()
	_, err := p.Process(context.Background(), testTask("t-delay"))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

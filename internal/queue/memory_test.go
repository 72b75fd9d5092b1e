package queue

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func newTestBroker(size int, visibility time.Duration) *MemoryBroker {
	return NewMemoryBroker(MemoryBrokerConfig{
		Size:              size,
		VisibilityTimeout: visibility,
		ReclaimInterval:   10 * time.Millisecond,
	}, setupTestLogger())
}

func receiveWithin(t *testing.T, b *MemoryBroker, d time.Duration) *Delivery {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), d)
	defer cancel()
	delivery, err := b.Receive(ctx)
	require.NoError(t, err)
	return delivery
}

func TestMemoryBroker_PublishReceiveAck(t *testing.T) {
	t.Parallel()

	b := newTestBroker(10, time.Minute)
	ctx := context.Background()

	require.NoError(t, b.Publish(ctx, []byte("one")))
	assert.Equal(t, 1, b.Len())

	d := receiveWithin(t, b, time.Second)
	assert.Equal(t, []byte("one"), d.Body)
	assert.Equal(t, 0, d.Attempt)
	assert.Equal(t, 1, b.InFlight())

	require.NoError(t, b.Ack(ctx, d))
	assert.Equal(t, 0, b.InFlight())

	err := b.Ack(ctx, d)
	assert.ErrorIs(t, err, ErrUnknownDelivery)
}

func TestMemoryBroker_PublishCopiesBody(t *testing.T) {
	t.Parallel()

	b := newTestBroker(10, time.Minute)
	body := []byte("abc")
	require.NoError(t, b.Publish(context.Background(), body))
	body[0] = 'z'

	d := receiveWithin(t, b, time.Second)
	assert.Equal(t, []byte("abc"), d.Body)
}

func TestMemoryBroker_Full(t *testing.T) {
	t.Parallel()

	b := newTestBroker(1, time.Minute)
	require.NoError(t, b.Publish(context.Background(), []byte("1")))

	err := b.Publish(context.Background(), []byte("2"))
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestMemoryBroker_Closed(t *testing.T) {
	t.Parallel()

	b := newTestBroker(2, time.Minute)
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())

	assert.ErrorIs(t, b.Publish(context.Background(), []byte("x")), ErrQueueClosed)

	_, err := b.Receive(context.Background())
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestMemoryBroker_ReceiveHonoursContext(t *testing.T) {
	t.Parallel()

	b := newTestBroker(2, time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := b.Receive(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemoryBroker_NackRequeuesWithAttempt(t *testing.T) {
	t.Parallel()

	b := newTestBroker(10, time.Minute)
	ctx := context.Background()
	require.NoError(t, b.Publish(ctx, []byte("retry me")))

	d := receiveWithin(t, b, time.Second)
	require.NoError(t, b.Nack(ctx, d, 0))

	d2 := receiveWithin(t, b, time.Second)
	assert.Equal(t, 1, d2.Attempt)
	assert.NotEqual(t, d.ID, d2.ID)

	start := time.Now()
	require.NoError(t, b.Nack(ctx, d2, 50*time.Millisecond))
	assert.Equal(t, 0, b.Len())

	d3 := receiveWithin(t, b, time.Second)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	assert.Equal(t, 2, d3.Attempt)
	assert.Equal(t, []byte("retry me"), d3.Body)
}

func TestMemoryBroker_DeadLetter(t *testing.T) {
	t.Parallel()

	b := newTestBroker(10, time.Minute)
	ctx := context.Background()
	require.NoError(t, b.Publish(ctx, []byte("poison")))

	d := receiveWithin(t, b, time.Second)
	require.NoError(t, b.DeadLetter(ctx, d, "undecodable"))

	dead := b.DeadLetters()
	require.Len(t, dead, 1)
	assert.Equal(t, []byte("poison"), dead[0].Body)
	assert.Equal(t, "undecodable", dead[0].Reason)
	assert.Equal(t, 0, b.Len())
	assert.Equal(t, 0, b.InFlight())
}

func TestMemoryBroker_ReclaimExpiredLease(t *testing.T) {
	t.Parallel()

	b := newTestBroker(10, time.Minute)
	ctx := context.Background()
	require.NoError(t, b.Publish(ctx, []byte("crashed")))

	d := receiveWithin(t, b, time.Second)

	assert.Equal(t, 0, b.Reclaim(time.Now()))
	assert.Equal(t, 1, b.Reclaim(time.Now().Add(2*time.Minute)))

	d2 := receiveWithin(t, b, time.Second)
	assert.Equal(t, []byte("crashed"), d2.Body)

	// the first consumer no longer owns the message
	assert.ErrorIs(t, b.Ack(ctx, d), ErrUnknownDelivery)
	require.NoError(t, b.Ack(ctx, d2))
}

func TestMemoryBroker_ReclaimKeepsLeaseWhenQueueFull(t *testing.T) {
	t.Parallel()

	b := newTestBroker(1, time.Minute)
	ctx := context.Background()
	require.NoError(t, b.Publish(ctx, []byte("a")))
	_ = receiveWithin(t, b, time.Second)
	require.NoError(t, b.Publish(ctx, []byte("b")))

	later := time.Now().Add(2 * time.Minute)
	assert.Equal(t, 0, b.Reclaim(later))
	assert.Equal(t, 1, b.InFlight())

	d := receiveWithin(t, b, time.Second)
	assert.Equal(t, []byte("b"), d.Body)
	require.NoError(t, b.Ack(ctx, d))

	assert.Equal(t, 1, b.Reclaim(later))
	d = receiveWithin(t, b, time.Second)
	assert.Equal(t, []byte("a"), d.Body)
}

func TestMemoryBroker_NackKeepsLeaseWhenQueueFull(t *testing.T) {
	t.Parallel()

	b := newTestBroker(1, time.Minute)
	ctx := context.Background()
	require.NoError(t, b.Publish(ctx, []byte("a")))
	d := receiveWithin(t, b, time.Second)
	require.NoError(t, b.Publish(ctx, []byte("b")))

	assert.ErrorIs(t, b.Nack(ctx, d, 0), ErrQueueFull)
	assert.Equal(t, 1, b.InFlight())

	// the lease is still owned, so the message can be settled later
	next := receiveWithin(t, b, time.Second)
	require.NoError(t, b.Ack(ctx, next))
	require.NoError(t, b.Nack(ctx, d, 0))

	d = receiveWithin(t, b, time.Second)
	assert.Equal(t, []byte("a"), d.Body)
	assert.Equal(t, 1, d.Attempt)
}

func TestMemoryBroker_DelayedRequeueDeadLettersWhenQueueFull(t *testing.T) {
	t.Parallel()

	b := newTestBroker(1, time.Minute)
	ctx := context.Background()
	require.NoError(t, b.Publish(ctx, []byte("a")))
	d := receiveWithin(t, b, time.Second)

	require.NoError(t, b.Nack(ctx, d, 100*time.Millisecond))
	require.NoError(t, b.Publish(ctx, []byte("b")))

	require.Eventually(t, func() bool {
		return len(b.DeadLetters()) == 1
	}, time.Second, 5*time.Millisecond)

	dead := b.DeadLetters()[0]
	assert.Equal(t, []byte("a"), dead.Body)
	assert.Equal(t, 1, dead.Attempt)
	assert.Contains(t, dead.Reason, "delayed requeue failed")
}

func TestMemoryBroker_NackAfterClose(t *testing.T) {
	t.Parallel()

	b := newTestBroker(10, time.Minute)
	ctx := context.Background()
	require.NoError(t, b.Publish(ctx, []byte("a")))
	d := receiveWithin(t, b, time.Second)
	require.NoError(t, b.Close())

	assert.NotPanics(t, func() {
		assert.ErrorIs(t, b.Nack(ctx, d, time.Second), ErrQueueClosed)
		assert.ErrorIs(t, b.Nack(ctx, d, 0), ErrQueueClosed)
	})
}

func TestMemoryBroker_MaintainReclaims(t *testing.T) {
	t.Parallel()

	b := newTestBroker(10, 20*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- b.Maintain(ctx) }()

	require.NoError(t, b.Publish(ctx, []byte("m")))
	_ = receiveWithin(t, b, time.Second)

	d := receiveWithin(t, b, time.Second)
	assert.Equal(t, []byte("m"), d.Body)

	cancel()
	assert.NoError(t, <-done)
}

func TestMemoryBroker_ConcurrentConsumers(t *testing.T) {
	t.Parallel()

	const total = 50
	b := newTestBroker(total, time.Minute)
	ctx := context.Background()
	for i := 0; i < total; i++ {
		require.NoError(t, b.Publish(ctx, []byte(fmt.Sprintf("m%d", i))))
	}

	var (
		mu   sync.Mutex
		seen = map[string]int{}
		wg   sync.WaitGroup
	)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				rctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
				d, err := b.Receive(rctx)
				cancel()
				if err != nil {
					return
				}
				mu.Lock()
				seen[string(d.Body)]++
				mu.Unlock()
				_ = b.Ack(ctx, d)
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, total)
	for body, n := range seen {
		assert.Equal(t, 1, n, "message %s delivered more than once", body)
	}
}

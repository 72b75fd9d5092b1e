package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"
	"github.com/phrazzld/sendnforget/internal/queue"
)

const (
	fieldTask    = "task"
	fieldAttempt = "attempt"
	fieldReason  = "reason"
)

// StreamConfig holds configuration for a StreamBroker
type StreamConfig struct {
	// Stream is the main task stream.
	Stream string

	// Group is the consumer group shared by all workers.
	Group string

	// Consumer names this process within the group.
	Consumer string

	// DeadLetterStream receives messages that will never be processed.
	DeadLetterStream string

	// VisibilityTimeout is how long an entry may stay unacknowledged before
	// another consumer may claim it.
	VisibilityTimeout time.Duration

	// BlockTimeout bounds a single XREADGROUP call.
	BlockTimeout time.Duration

	// PromoteInterval is how often Maintain moves due retries back to the stream.
	PromoteInterval time.Duration
}

// delayedKey is the sorted set holding nacked messages until they are due.
func (c StreamConfig) delayedKey() string {
	return c.Stream + ":delayed"
}

// delayedEnvelope is the member stored in the delayed set. The nonce keeps
// identical retries of identical bodies distinct.
type delayedEnvelope struct {
	Body    string `json:"body"`
	Attempt int    `json:"attempt"`
	Nonce   string `json:"nonce"`
}

// promoteScript moves due members of the delayed set back onto the stream.
// KEYS: delayed set, stream. ARGV: now in ms, batch size.
var promoteScript = goredis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
for _, member in ipairs(due) do
	redis.call('ZREM', KEYS[1], member)
	local env = cjson.decode(member)
	redis.call('XADD', KEYS[2], '*', 'task', env.body, 'attempt', tostring(env.attempt))
end
return #due
`)

const promoteBatch = 100

// StreamBroker is a queue.Publisher and queue.Consumer on Redis Streams.
type StreamBroker struct {
	client goredis.UniversalClient
	config StreamConfig
	logger *slog.Logger
}

// NewStreamBroker creates a StreamBroker. Call EnsureGroup before consuming.
func NewStreamBroker(client goredis.UniversalClient, config StreamConfig, logger *slog.Logger) *StreamBroker {
	if config.BlockTimeout <= 0 {
		config.BlockTimeout = time.Second
	}
	if config.PromoteInterval <= 0 {
		config.PromoteInterval = time.Second
	}
	if config.VisibilityTimeout <= 0 {
		config.VisibilityTimeout = 30 * time.Second
	}
	return &StreamBroker{
		client: client,
		config: config,
		logger: logger.With("component", "redis_stream", "stream", config.Stream),
	}
}

// EnsureGroup creates the stream and consumer group if they do not exist yet.
func (b *StreamBroker) EnsureGroup(ctx context.Context) error {
	err := b.client.XGroupCreateMkStream(ctx, b.config.Stream, b.config.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group %s: %w", b.config.Group, err)
	}
	return nil
}

// Publish implements queue.Publisher.
func (b *StreamBroker) Publish(ctx context.Context, body []byte) error {
	return b.add(ctx, b.client, b.config.Stream, string(body), 0)
}

func (b *StreamBroker) add(ctx context.Context, c goredis.Cmdable, stream, body string, attempt int) error {
	err := c.XAdd(ctx, &goredis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{fieldTask: body, fieldAttempt: attempt},
	}).Err()
	if err != nil {
		return fmt.Errorf("XADD %s: %w", stream, err)
	}
	return nil
}

// Receive implements queue.Consumer. Entries whose lease has expired are
// claimed before new entries are read.
func (b *StreamBroker) Receive(ctx context.Context) (*queue.Delivery, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		d, err := b.claimExpired(ctx)
		if err != nil {
			return nil, err
		}
		if d != nil {
			return d, nil
		}

		streams, err := b.client.XReadGroup(ctx, &goredis.XReadGroupArgs{
			Group:    b.config.Group,
			Consumer: b.config.Consumer,
			Streams:  []string{b.config.Stream, ">"},
			Count:    1,
			Block:    b.config.BlockTimeout,
		}).Result()
		if errors.Is(err, goredis.Nil) {
			continue
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("XREADGROUP %s: %w", b.config.Stream, err)
		}

		for _, s := range streams {
			for _, msg := range s.Messages {
				return b.toDelivery(msg), nil
			}
		}
	}
}

func (b *StreamBroker) claimExpired(ctx context.Context) (*queue.Delivery, error) {
	msgs, _, err := b.client.XAutoClaim(ctx, &goredis.XAutoClaimArgs{
		Stream:   b.config.Stream,
		Group:    b.config.Group,
		Consumer: b.config.Consumer,
		MinIdle:  b.config.VisibilityTimeout,
		Start:    "0-0",
		Count:    1,
	}).Result()
	if err != nil && !errors.Is(err, goredis.Nil) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, fmt.Errorf("XAUTOCLAIM %s: %w", b.config.Stream, err)
	}
	for _, msg := range msgs {
		b.logger.Info("claimed expired lease", "entry_id", msg.ID)
		return b.toDelivery(msg), nil
	}
	return nil, nil
}

func (b *StreamBroker) toDelivery(msg goredis.XMessage) *queue.Delivery {
	body, _ := msg.Values[fieldTask].(string)
	attempt := 0
	if raw, ok := msg.Values[fieldAttempt].(string); ok {
		if n, err := strconv.Atoi(raw); err == nil {
			attempt = n
		}
	}
	return &queue.Delivery{
		ID:         msg.ID,
		Body:       []byte(body),
		Attempt:    attempt,
		ReceivedAt: time.Now(),
	}
}

// Ack implements queue.Consumer.
func (b *StreamBroker) Ack(ctx context.Context, d *queue.Delivery) error {
	_, err := b.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.XAck(ctx, b.config.Stream, b.config.Group, d.ID)
		pipe.XDel(ctx, b.config.Stream, d.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("ack %s: %w", d.ID, err)
	}
	return nil
}

// Nack implements queue.Consumer. The entry is acknowledged and a copy with
// the attempt counter incremented is parked in the delayed set until it is due.
func (b *StreamBroker) Nack(ctx context.Context, d *queue.Delivery, delay time.Duration) error {
	attempt := d.Attempt + 1

	_, err := b.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		if delay <= 0 {
			if err := b.add(ctx, pipe, b.config.Stream, string(d.Body), attempt); err != nil {
				return err
			}
		} else {
			member, err := json.Marshal(delayedEnvelope{
				Body:    string(d.Body),
				Attempt: attempt,
				Nonce:   uuid.NewString(),
			})
			if err != nil {
				return err
			}
			due := time.Now().Add(delay).UnixMilli()
			pipe.ZAdd(ctx, b.config.delayedKey(), goredis.Z{Score: float64(due), Member: string(member)})
		}
		pipe.XAck(ctx, b.config.Stream, b.config.Group, d.ID)
		pipe.XDel(ctx, b.config.Stream, d.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("nack %s: %w", d.ID, err)
	}
	return nil
}

// DeadLetter implements queue.Consumer.
func (b *StreamBroker) DeadLetter(ctx context.Context, d *queue.Delivery, reason string) error {
	_, err := b.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.XAdd(ctx, &goredis.XAddArgs{
			Stream: b.config.DeadLetterStream,
			Values: map[string]interface{}{
				fieldTask:    string(d.Body),
				fieldAttempt: d.Attempt,
				fieldReason:  reason,
			},
		})
		pipe.XAck(ctx, b.config.Stream, b.config.Group, d.ID)
		pipe.XDel(ctx, b.config.Stream, d.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("dead-letter %s: %w", d.ID, err)
	}
	b.logger.Warn("entry dead-lettered", "entry_id", d.ID, "reason", reason)
	return nil
}

// PromoteDue moves delayed retries that are due at now back onto the stream
// and reports how many were moved.
func (b *StreamBroker) PromoteDue(ctx context.Context, now time.Time) (int, error) {
	n, err := promoteScript.Run(ctx, b.client,
		[]string{b.config.delayedKey(), b.config.Stream},
		now.UnixMilli(), promoteBatch,
	).Int()
	if err != nil {
		return 0, fmt.Errorf("promote delayed retries: %w", err)
	}
	return n, nil
}

// Maintain implements queue.Maintainer by promoting due retries.
func (b *StreamBroker) Maintain(ctx context.Context) error {
	ticker := time.NewTicker(b.config.PromoteInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := b.PromoteDue(ctx, time.Now())
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				b.logger.Error("failed to promote delayed retries", "error", err)
				continue
			}
			if n > 0 {
				b.logger.Debug("promoted delayed retries", "count", n)
			}
		}
	}
}

// Close closes the underlying client.
func (b *StreamBroker) Close() error {
	return b.client.Close()
}

var (
	_ queue.Publisher  = (*StreamBroker)(nil)
	_ queue.Consumer   = (*StreamBroker)(nil)
	_ queue.Maintainer = (*StreamBroker)(nil)
)

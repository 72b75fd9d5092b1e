package kafka

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	kgo "github.com/segmentio/kafka-go"
	"github.com/phrazzld/sendnforget/internal/queue"
)

const (
	headerAttempt   = "attempt"
	headerNotBefore = "not-before"
	headerReason    = "reason"

	writeTimeout  = 3 * time.Second
	commitTimeout = 3 * time.Second
)

// MessageReader is the subset of *kafka.Reader used by the broker.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kgo.Message, error)
	CommitMessages(ctx context.Context, msgs ...kgo.Message) error
	Close() error
}

// MessageWriter is the subset of *kafka.Writer used by the broker.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kgo.Message) error
	Close() error
}

// Config holds the topic and group settings of a Broker.
type Config struct {
	Brokers         []string
	Topic           string
	RetryTopic      string
	DeadLetterTopic string
	GroupID         string
}

// Broker is a queue.Publisher, queue.Consumer and queue.Maintainer on Kafka.
type Broker struct {
	tasks       MessageWriter
	retries     MessageWriter
	deadLetters MessageWriter

	reader      MessageReader
	retryReader MessageReader

	tracker *offsetTracker
	logger  *slog.Logger

	mu       sync.Mutex
	inFlight map[string]kgo.Message

	closeOnce sync.Once
}

// NewWriter creates a writer for topic with the settings used for every
// topic of the broker.
func NewWriter(brokers []string, topic string) *kgo.Writer {
	return &kgo.Writer{
		Addr:                   kgo.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kgo.LeastBytes{},
		RequiredAcks:           kgo.RequireOne,
		AllowAutoTopicCreation: true,
	}
}

// NewReader creates a consumer group reader with manual commits.
func NewReader(brokers []string, topic, groupID string) *kgo.Reader {
	return kgo.NewReader(kgo.ReaderConfig{
		Brokers:        brokers,
		Topic:          topic,
		GroupID:        groupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0,
	})
}

func (c Config) validate() error {
	if len(c.Brokers) == 0 {
		return errors.New("kafka: no brokers configured")
	}
	if c.Topic == "" || c.RetryTopic == "" || c.DeadLetterTopic == "" {
		return errors.New("kafka: topic, retry topic and dead-letter topic are required")
	}
	return nil
}

// Open creates a Broker that both publishes and consumes. The readers join
// the consumer group immediately.
func Open(cfg Config, logger *slog.Logger) (*Broker, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return NewBroker(
		NewWriter(cfg.Brokers, cfg.Topic),
		NewWriter(cfg.Brokers, cfg.RetryTopic),
		NewWriter(cfg.Brokers, cfg.DeadLetterTopic),
		NewReader(cfg.Brokers, cfg.Topic, cfg.GroupID),
		NewReader(cfg.Brokers, cfg.RetryTopic, cfg.GroupID+"-retry"),
		logger,
	), nil
}

// OpenPublisher creates a Broker that can only publish.
func OpenPublisher(cfg Config, logger *slog.Logger) (*Broker, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return NewBroker(NewWriter(cfg.Brokers, cfg.Topic), nil, nil, nil, nil, logger), nil
}

// NewBroker assembles a Broker from its writers and readers.
func NewBroker(tasks, retries, deadLetters MessageWriter, reader, retryReader MessageReader, logger *slog.Logger) *Broker {
	return &Broker{
		tasks:       tasks,
		retries:     retries,
		deadLetters: deadLetters,
		reader:      reader,
		retryReader: retryReader,
		tracker:     newOffsetTracker(),
		logger:      logger.With("component", "kafka_broker"),
		inFlight:    make(map[string]kgo.Message),
	}
}

// Publish implements queue.Publisher.
func (b *Broker) Publish(ctx context.Context, body []byte) error {
	return b.write(ctx, b.tasks, kgo.Message{
		Value:   body,
		Time:    time.Now(),
		Headers: []kgo.Header{attemptHeader(0)},
	})
}

func (b *Broker) write(ctx context.Context, w MessageWriter, msg kgo.Message) error {
	cctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	if err := w.WriteMessages(cctx, msg); err != nil {
		return fmt.Errorf("kafka write: %w", err)
	}
	return nil
}

// Receive implements queue.Consumer.
func (b *Broker) Receive(ctx context.Context) (*queue.Delivery, error) {
	if b.reader == nil {
		return nil, queue.ErrQueueClosed
	}
	msg, err := b.reader.FetchMessage(ctx)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, io.EOF) {
			return nil, queue.ErrQueueClosed
		}
		return nil, fmt.Errorf("kafka fetch: %w", err)
	}

	b.tracker.track(msg)

	id := deliveryID(msg)
	b.mu.Lock()
	b.inFlight[id] = msg
	b.mu.Unlock()

	return &queue.Delivery{
		ID:         id,
		Body:       msg.Value,
		Attempt:    attemptOf(msg),
		ReceivedAt: time.Now(),
	}, nil
}

// Ack implements queue.Consumer.
func (b *Broker) Ack(ctx context.Context, d *queue.Delivery) error {
	msg, err := b.take(d)
	if err != nil {
		return err
	}
	return b.settle(ctx, msg)
}

// Nack implements queue.Consumer. The message is re-published with the
// attempt counter incremented, through the retry topic when delay is positive.
func (b *Broker) Nack(ctx context.Context, d *queue.Delivery, delay time.Duration) error {
	msg, err := b.take(d)
	if err != nil {
		return err
	}

	retry := kgo.Message{
		Key:     msg.Key,
		Value:   msg.Value,
		Time:    time.Now(),
		Headers: []kgo.Header{attemptHeader(d.Attempt + 1)},
	}
	target := b.tasks
	if delay > 0 {
		notBefore := time.Now().Add(delay).UnixMilli()
		retry.Headers = append(retry.Headers, kgo.Header{
			Key:   headerNotBefore,
			Value: []byte(strconv.FormatInt(notBefore, 10)),
		})
		target = b.retries
	}

	if err := b.write(ctx, target, retry); err != nil {
		b.restore(d.ID, msg)
		return err
	}
	return b.settle(ctx, msg)
}

// DeadLetter implements queue.Consumer.
func (b *Broker) DeadLetter(ctx context.Context, d *queue.Delivery, reason string) error {
	msg, err := b.take(d)
	if err != nil {
		return err
	}

	dead := kgo.Message{
		Key:   msg.Key,
		Value: msg.Value,
		Time:  time.Now(),
		Headers: []kgo.Header{
			attemptHeader(d.Attempt),
			{Key: headerReason, Value: []byte(reason)},
		},
	}
	if err := b.write(ctx, b.deadLetters, dead); err != nil {
		b.restore(d.ID, msg)
		return err
	}
	b.logger.Warn("message dead-lettered", "delivery_id", d.ID, "reason", reason)
	return b.settle(ctx, msg)
}

func (b *Broker) take(d *queue.Delivery) (kgo.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	msg, ok := b.inFlight[d.ID]
	if !ok {
		return kgo.Message{}, fmt.Errorf("%w: %s", queue.ErrUnknownDelivery, d.ID)
	}
	delete(b.inFlight, d.ID)
	return msg, nil
}

func (b *Broker) restore(id string, msg kgo.Message) {
	b.mu.Lock()
	b.inFlight[id] = msg
	b.mu.Unlock()
}

func (b *Broker) settle(ctx context.Context, msg kgo.Message) error {
	commit, ok := b.tracker.settle(msg)
	if !ok {
		return nil
	}

	cctx, cancel := context.WithTimeout(ctx, commitTimeout)
	defer cancel()
	if err := b.reader.CommitMessages(cctx, commit); err != nil {
		return fmt.Errorf("kafka commit partition %d offset %d: %w", commit.Partition, commit.Offset, err)
	}
	return nil
}

// Maintain implements queue.Maintainer by forwarding due messages from the
// retry topic back to the main topic. Retries are forwarded in topic order.
func (b *Broker) Maintain(ctx context.Context) error {
	if b.retryReader == nil {
		return nil
	}
	for {
		msg, err := b.retryReader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return nil
			}
			b.logger.Error("failed to fetch retry", "error", err)
			if !sleepCtx(ctx, time.Second) {
				return nil
			}
			continue
		}

		if wait := time.Until(notBeforeOf(msg)); wait > 0 {
			if !sleepCtx(ctx, wait) {
				return nil
			}
		}

		if err := b.forward(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			b.logger.Error("failed to forward retry", "error", err, "offset", msg.Offset)
		}
	}
}

func (b *Broker) forward(ctx context.Context, msg kgo.Message) error {
	out := kgo.Message{
		Key:     msg.Key,
		Value:   msg.Value,
		Time:    time.Now(),
		Headers: []kgo.Header{attemptHeader(attemptOf(msg))},
	}
	if err := b.write(ctx, b.tasks, out); err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, commitTimeout)
	defer cancel()
	return b.retryReader.CommitMessages(cctx, msg)
}

// Close closes every reader and writer of the broker.
func (b *Broker) Close() error {
	var errs []error
	b.closeOnce.Do(func() {
		for _, c := range []interface{ Close() error }{b.reader, b.retryReader, b.tasks, b.retries, b.deadLetters} {
			if c == nil {
				continue
			}
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	})
	return errors.Join(errs...)
}

func deliveryID(msg kgo.Message) string {
	return fmt.Sprintf("%s/%d/%d", msg.Topic, msg.Partition, msg.Offset)
}

func attemptHeader(n int) kgo.Header {
	return kgo.Header{Key: headerAttempt, Value: []byte(strconv.Itoa(n))}
}

func header(msg kgo.Message, key string) (string, bool) {
	for _, h := range msg.Headers {
		if strings.EqualFold(h.Key, key) {
			return string(h.Value), true
		}
	}
	return "", false
}

func attemptOf(msg kgo.Message) int {
	raw, ok := header(msg, headerAttempt)
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

func notBeforeOf(msg kgo.Message) time.Time {
	raw, ok := header(msg, headerNotBefore)
	if !ok {
		return time.Time{}
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

var (
	_ queue.Publisher  = (*Broker)(nil)
	_ queue.Consumer   = (*Broker)(nil)
	_ queue.Maintainer = (*Broker)(nil)
)

package backends

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/phrazzld/sendnforget/internal/config"
	"github.com/phrazzld/sendnforget/internal/delivery"
	"github.com/phrazzld/sendnforget/internal/platform/dynamo"
	"github.com/phrazzld/sendnforget/internal/platform/kafka"
	"github.com/phrazzld/sendnforget/internal/platform/postgres"
	"github.com/phrazzld/sendnforget/internal/platform/redis"
	"github.com/phrazzld/sendnforget/internal/platform/ses"
	"github.com/phrazzld/sendnforget/internal/queue"
	"github.com/phrazzld/sendnforget/internal/store"
)

// Queue driver names.
const (
	QueueRedis  = "redis"
	QueueKafka  = "kafka"
	QueueMemory = "memory"
)

// Store driver names.
const (
	StorePostgres = "postgres"
	StoreDynamoDB = "dynamodb"
	StoreRedis    = "redis"
	StoreMemory   = "memory"
)

// Mail transport names.
const (
	MailSES = "ses"
	MailLog = "log"
)

// Broker is a task queue that can both publish and consume.
type Broker interface {
	queue.Publisher
	queue.Consumer
}

// OpenBroker opens the configured queue for consuming. In-process drivers
// return a broker that only this process can reach.
func OpenBroker(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Broker, error) {
	qc := cfg.Queue
	switch qc.Driver {
	case QueueRedis:
		client, err := redis.NewClient(ctx, qc.RedisAddr, qc.RedisDB)
		if err != nil {
			return nil, err
		}
		b := redis.NewStreamBroker(client, streamConfig(cfg), logger)
		if err := b.EnsureGroup(ctx); err != nil {
			_ = b.Close()
			return nil, err
		}
		return b, nil
	case QueueKafka:
		b, err := kafka.Open(kafkaConfig(qc), logger)
		if err != nil {
			return nil, err
		}
		return b, nil
	case QueueMemory:
		logger.Warn("using in-memory queue, tasks are only visible inside this process")
		return queue.NewMemoryBroker(memoryConfig(cfg), logger), nil
	default:
		return nil, fmt.Errorf("unknown queue driver %q", qc.Driver)
	}
}

// OpenPublisher opens the configured queue for publishing only.
func OpenPublisher(ctx context.Context, cfg *config.Config, logger *slog.Logger) (queue.Publisher, error) {
	qc := cfg.Queue
	switch qc.Driver {
	case QueueRedis:
		client, err := redis.NewClient(ctx, qc.RedisAddr, qc.RedisDB)
		if err != nil {
			return nil, err
		}
		return redis.NewStreamBroker(client, streamConfig(cfg), logger), nil
	case QueueKafka:
		p, err := kafka.OpenPublisher(kafkaConfig(qc), logger)
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return OpenBroker(ctx, cfg, logger)
	}
}

func streamConfig(cfg *config.Config) redis.StreamConfig {
	return redis.StreamConfig{
		Stream:            cfg.Queue.Name,
		Group:             cfg.Queue.ConsumerGroup,
		Consumer:          cfg.Queue.ConsumerName,
		DeadLetterStream:  cfg.Queue.DeadLetterName,
		VisibilityTimeout: cfg.Queue.VisibilityTimeout,
		PromoteInterval:   cfg.Worker.ReclaimInterval,
	}
}

func kafkaConfig(cfg config.QueueConfig) kafka.Config {
	return kafka.Config{
		Brokers:         cfg.KafkaBrokers,
		Topic:           cfg.Name,
		RetryTopic:      cfg.KafkaRetryTopic,
		DeadLetterTopic: cfg.DeadLetterName,
		GroupID:         cfg.ConsumerGroup,
	}
}

func memoryConfig(cfg *config.Config) queue.MemoryBrokerConfig {
	mc := queue.DefaultMemoryBrokerConfig()
	mc.VisibilityTimeout = cfg.Queue.VisibilityTimeout
	if cfg.Worker.ReclaimInterval > 0 {
		mc.ReclaimInterval = cfg.Worker.ReclaimInterval
	}
	return mc
}

// JobStore is an opened store.JobStore together with the resources it owns.
type JobStore struct {
	store.JobStore

	// DB is the PostgreSQL handle when the postgres driver is selected.
	DB *sql.DB

	closer func() error
}

// Close releases the resources held by the store.
func (s *JobStore) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}

// OpenJobStore opens the configured job status store.
func OpenJobStore(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (*JobStore, error) {
	switch cfg.Driver {
	case StorePostgres:
		db, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return &JobStore{JobStore: postgres.NewPostgresJobStore(db), DB: db, closer: db.Close}, nil
	case StoreDynamoDB:
		client, err := dynamo.NewClient(ctx, cfg.AWSRegion, cfg.DynamoEndpoint)
		if err != nil {
			return nil, err
		}
		return &JobStore{JobStore: dynamo.NewJobStore(client, cfg.DynamoTable)}, nil
	case StoreRedis:
		client, err := redis.NewClient(ctx, cfg.RedisAddr, cfg.RedisDB)
		if err != nil {
			return nil, err
		}
		return &JobStore{JobStore: redis.NewJobStore(client), closer: client.Close}, nil
	case StoreMemory:
		logger.Warn("using in-memory job store, records are lost on exit")
		return &JobStore{JobStore: store.NewMemoryJobStore()}, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// OpenSender opens the configured delivery transport. A missing SES sender
// address is not an error here; every send then fails with
// delivery.ErrNotConfigured.
func OpenSender(ctx context.Context, cfg config.MailConfig, logger *slog.Logger) (delivery.Sender, error) {
	switch cfg.Transport {
	case MailSES:
		if cfg.FromAddress == "" {
			logger.Warn("mail.from_address is not set, every delivery will fail")
		}
		sender, err := ses.NewSenderFromRegion(ctx, cfg.Region, cfg.FromAddress)
		if err != nil {
			return nil, err
		}
		return sender, nil
	case MailLog:
		return delivery.NewLogSender(logger), nil
	default:
		return nil, fmt.Errorf("unknown mail transport %q", cfg.Transport)
	}
}

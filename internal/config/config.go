package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server ServerConfig `mapstructure:"server" validate:"required"`
	Queue  QueueConfig  `mapstructure:"queue" validate:"required"`
	Store  StoreConfig  `mapstructure:"store" validate:"required"`
	Worker WorkerConfig `mapstructure:"worker" validate:"required"`
	Mail   MailConfig   `mapstructure:"mail" validate:"required"`
}

// ServerConfig contains the HTTP server settings shared by both processes.
type ServerConfig struct {
	Port     int    `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel string `mapstructure:"log_level" validate:"required,oneof=debug info warn error fatal"`
	// AllowedOrigins restricts which browser origins may call the submit endpoint.
	AllowedOrigins []string `mapstructure:"allowed_origins" validate:"required,min=1,dive,required"`
}

// QueueConfig selects and configures the task queue backend.
type QueueConfig struct {
	Driver         string `mapstructure:"driver" validate:"required,oneof=redis kafka memory"`
	Name           string `mapstructure:"name" validate:"required"`
	DeadLetterName string `mapstructure:"dead_letter_name" validate:"required,nefield=Name"`
	// VisibilityTimeout is how long a leased message may stay unacknowledged
	// before another consumer may reclaim it.
	VisibilityTimeout time.Duration `mapstructure:"visibility_timeout" validate:"required,gt=0"`

	RedisAddr     string `mapstructure:"redis_addr" validate:"required_if=Driver redis"`
	RedisDB       int    `mapstructure:"redis_db" validate:"gte=0"`
	ConsumerGroup string `mapstructure:"consumer_group" validate:"required"`
	ConsumerName  string `mapstructure:"consumer_name" validate:"required"`

	KafkaBrokers    []string `mapstructure:"kafka_brokers" validate:"required_if=Driver kafka"`
	KafkaRetryTopic string   `mapstructure:"kafka_retry_topic" validate:"required_if=Driver kafka"`
}

// StoreConfig selects and configures the job status store backend.
type StoreConfig struct {
	Driver      string `mapstructure:"driver" validate:"required,oneof=postgres dynamodb redis memory"`
	DatabaseURL string `mapstructure:"database_url" validate:"required_if=Driver postgres,omitempty,url"`
	AutoMigrate bool   `mapstructure:"auto_migrate"`

	DynamoTable    string `mapstructure:"dynamo_table" validate:"required_if=Driver dynamodb"`
	DynamoEndpoint string `mapstructure:"dynamo_endpoint" validate:"omitempty,url"`
	AWSRegion      string `mapstructure:"aws_region"`

	RedisAddr string `mapstructure:"redis_addr" validate:"required_if=Driver redis"`
	RedisDB   int    `mapstructure:"redis_db" validate:"gte=0"`
}

// WorkerConfig contains the processing and redelivery settings of the worker.
type WorkerConfig struct {
	Concurrency int `mapstructure:"concurrency" validate:"required,gt=0"`
	// SimulatedDelay is the artificial work performed before each delivery. Zero disables it.
	SimulatedDelay time.Duration `mapstructure:"simulated_delay" validate:"gte=0"`
	// FailureProbability is the chance in [0,1] that an attempt fails before sending.
	FailureProbability float64       `mapstructure:"failure_probability" validate:"gte=0,lte=1"`
	DeliveryTimeout    time.Duration `mapstructure:"delivery_timeout" validate:"required,gt=0"`

	// MaxAttempts bounds processing attempts per tracking ID. Zero means unlimited.
	MaxAttempts int           `mapstructure:"max_attempts" validate:"gte=0"`
	BackoffBase time.Duration `mapstructure:"backoff_base" validate:"gte=0"`
	BackoffMax  time.Duration `mapstructure:"backoff_max" validate:"gtefield=BackoffBase"`
	// DeadLetterConfigErrors stops retrying attempts that fail because the
	// delivery transport is not configured.
	DeadLetterConfigErrors bool          `mapstructure:"dead_letter_config_errors"`
	ReclaimInterval        time.Duration `mapstructure:"reclaim_interval" validate:"required,gt=0"`
	StatusPort             int           `mapstructure:"status_port" validate:"required,gt=0,lt=65536"`
}

// MailConfig configures the delivery transport.
type MailConfig struct {
	Transport string `mapstructure:"transport" validate:"required,oneof=ses log"`
	// FromAddress is the transport credential; when empty every SES send fails.
	FromAddress   string `mapstructure:"from_address" validate:"omitempty,email"`
	Region        string `mapstructure:"region"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
}

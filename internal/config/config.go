// Package config provides configuration structures and validation for the
// accounting server and the event relay. Values come from an optional .env
// file, overridden by environment variables.
package config

import (
	"errors"
	"strings"
	"time"
)

// Config holds the complete application configuration. Each field is one
// subsystem and is validated at startup.
type Config struct {
	Application   ApplicationConfig
	Logging       LoggingConfig
	Server        ServerConfig
	Kafka         KafkaConfig
	Postgres      PostgresConfig
	MongoDB       MongoDBConfig
	Redis         RedisConfig
	Settlement    SettlementConfig
	Security      SecurityConfig
	Federation    FederationConfig
	Notifications NotificationsConfig
	Sweep         SweepConfig
	Outbox        OutboxConfig
	WorkerPool    WorkerPoolConfig
}

// ApplicationConfig contains general application configuration
type ApplicationConfig struct {
	Env  string
	Name string
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string
	Format string // json or text
}

// ServerConfig contains HTTP server configuration settings
type ServerConfig struct {
	Port            int           // Port to listen on
	ShutdownTimeout time.Duration // Grace period for server shutdown
	ReadTimeout     time.Duration // Maximum duration for reading entire request
	WriteTimeout    time.Duration // Maximum duration for writing response
	IdleTimeout     time.Duration // Maximum duration to wait for next request
}

// KafkaConfig contains Kafka configuration
type KafkaConfig struct {
	Brokers           string
	TransferTopic     string // Topic carrying transfer state changes
	NumPartitions     int
	ReplicationFactor int
	ConsumerGroup     string
	MinBytes          int
	MaxBytes          int
	MaxWait           time.Duration
	StartOffset       int64
	DLQTopic          string // Topic for events that could not be delivered
}

// PostgresConfig contains PostgreSQL configuration
type PostgresConfig struct {
	URL             string        // Database connection string
	MaxConns        int32         // Maximum number of open connections
	MinConns        int32         // Maximum number of idle connections
	ConnMaxLifetime time.Duration // Maximum lifetime of a connection
	ConnMaxIdleTime time.Duration // Maximum idle time of a connection
	MigrationsPath  string        // Path to migration files
}

// MongoDBConfig contains MongoDB configuration
type MongoDBConfig struct {
	URI             string
	Database        string
	Timeout         time.Duration
	MaxPoolSize     uint64
	MinPoolSize     uint64
	MaxConnIdleTime time.Duration
}

// RedisConfig contains the Redis connection and the idempotency cache
// settings.
type RedisConfig struct {
	Addr           string
	Password       string
	DB             int
	IdempotencyTTL time.Duration // How long responses are replayed
	LockTimeout    time.Duration // Upper bound of a request holding its key
}

// SettlementConfig contains the ledger network settings
type SettlementConfig struct {
	HorizonURL         string
	NetworkPassphrase  string
	Domain             string
	TransactionTimeout time.Duration
	HTTPTimeout        time.Duration
	RateLimit          int
	RateWindow         time.Duration
	Channels           int // Number of channel accounts derived from the master key
	QuoteRetries       int
	QuoteRetryInterval time.Duration
}

// SecurityConfig contains the secrets of the server
type SecurityConfig struct {
	MasterPassword string // Derives the key encrypting currency keys
	MasterSalt     string
	SponsorSecret  string // Ledger secret of the account paying fees and reserves
	JWTSecret      string // Signs and verifies user tokens
	JWTIssuer      string
}

// FederationConfig contains the settings to reach other currency servers
type FederationConfig struct {
	BaseURL     string // Public URL of this server
	HTTPTimeout time.Duration
}

// NotificationsConfig contains the notifications service endpoint
type NotificationsConfig struct {
	Enabled  bool
	URL      string
	Username string
	Password string
}

// SweepConfig contains the pending transfers sweeper settings
type SweepConfig struct {
	Interval  time.Duration
	BatchSize int
}

// OutboxConfig contains outbox pattern configuration
type OutboxConfig struct {
	PollingInterval  time.Duration
	BatchSize        int
	MaxRetryAttempts int           // Maximum number of retry attempts for outbox messages
	Retention        time.Duration // Age after which processed messages are purged, 0 keeps them
}

// WorkerPoolConfig contains worker pool configuration
type WorkerPoolConfig struct {
	Size int // Maximum number of workers in the pool
}

// validate performs validation of all configuration values, collecting every
// problem found.
func (c *Config) validate() error {
	var validationErrors []string

	// Validate Server config
	if c.Server.Port <= 0 {
		validationErrors = append(validationErrors, "SERVER_PORT must be greater than 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		validationErrors = append(validationErrors, "SERVER_SHUTDOWN_TIMEOUT must be greater than 0")
	}
	if c.Server.ReadTimeout <= 0 {
		validationErrors = append(validationErrors, "SERVER_READ_TIMEOUT must be greater than 0")
	}
	if c.Server.WriteTimeout <= 0 {
		validationErrors = append(validationErrors, "SERVER_WRITE_TIMEOUT must be greater than 0")
	}
	if c.Server.IdleTimeout <= 0 {
		validationErrors = append(validationErrors, "SERVER_IDLE_TIMEOUT must be greater than 0")
	}

	// Validate Kafka config
	if len(c.Kafka.Brokers) == 0 {
		validationErrors = append(validationErrors, "KAFKA_BROKERS is required")
	}
	if c.Kafka.TransferTopic == "" {
		validationErrors = append(validationErrors, "KAFKA_TRANSFER_TOPIC is required")
	}
	if c.Kafka.ConsumerGroup == "" {
		validationErrors = append(validationErrors, "KAFKA_CONSUMER_GROUP is required")
	}
	if c.Kafka.MinBytes <= 0 {
		validationErrors = append(validationErrors, "KAFKA_CONSUMER_MIN_BYTES must be greater than 0")
	}
	if c.Kafka.MaxBytes <= 0 {
		validationErrors = append(validationErrors, "KAFKA_CONSUMER_MAX_BYTES must be greater than 0")
	}
	if c.Kafka.MaxWait <= 0 {
		validationErrors = append(validationErrors, "KAFKA_CONSUMER_MAX_WAIT must be greater than 0")
	}
	if c.Kafka.DLQTopic == "" {
		validationErrors = append(validationErrors, "KAFKA_DLQ_TOPIC is required")
	}

	// Validate PostgreSQL config
	if c.Postgres.URL == "" {
		validationErrors = append(validationErrors, "POSTGRES_URL is required")
	}
	if c.Postgres.MaxConns <= 0 {
		validationErrors = append(validationErrors, "POSTGRES_MAX_CONNS must be greater than 0")
	}
	if c.Postgres.MinConns <= 0 {
		validationErrors = append(validationErrors, "POSTGRES_MIN_CONNS must be greater than 0")
	}
	if c.Postgres.ConnMaxLifetime <= 0 {
		validationErrors = append(validationErrors, "POSTGRES_MAX_CONN_LIFETIME must be greater than 0")
	}
	if c.Postgres.ConnMaxIdleTime <= 0 {
		validationErrors = append(validationErrors, "POSTGRES_MAX_CONN_IDLE_TIME must be greater than 0")
	}

	// Validate MongoDB config
	if c.MongoDB.URI == "" {
		validationErrors = append(validationErrors, "MONGO_URI is required")
	}
	if c.MongoDB.Database == "" {
		validationErrors = append(validationErrors, "MONGO_DATABASE is required")
	}
	if c.MongoDB.Timeout <= 0 {
		validationErrors = append(validationErrors, "MONGO_TIMEOUT must be greater than 0")
	}
	if c.MongoDB.MaxPoolSize <= 0 {
		validationErrors = append(validationErrors, "MONGO_MAX_POOL_SIZE must be greater than 0")
	}
	if c.MongoDB.MinPoolSize <= 0 {
		validationErrors = append(validationErrors, "MONGO_MIN_POOL_SIZE must be greater than 0")
	}
	if c.MongoDB.MaxConnIdleTime <= 0 {
		validationErrors = append(validationErrors, "MONGO_MAX_CONN_IDLE_TIME must be greater than 0")
	}

	// Validate Redis config
	if c.Redis.Addr == "" {
		validationErrors = append(validationErrors, "REDIS_ADDR is required")
	}
	if c.Redis.IdempotencyTTL <= 0 {
		validationErrors = append(validationErrors, "REDIS_IDEMPOTENCY_TTL must be greater than 0")
	}
	if c.Redis.LockTimeout <= 0 {
		validationErrors = append(validationErrors, "REDIS_LOCK_TIMEOUT must be greater than 0")
	}

	// Validate Settlement config
	if c.Settlement.HorizonURL == "" {
		validationErrors = append(validationErrors, "SETTLEMENT_HORIZON_URL is required")
	}
	if c.Settlement.NetworkPassphrase == "" {
		validationErrors = append(validationErrors, "SETTLEMENT_NETWORK_PASSPHRASE is required")
	}
	if c.Settlement.TransactionTimeout <= 0 {
		validationErrors = append(validationErrors, "SETTLEMENT_TRANSACTION_TIMEOUT must be greater than 0")
	}
	if c.Settlement.RateLimit <= 0 {
		validationErrors = append(validationErrors, "SETTLEMENT_RATE_LIMIT must be greater than 0")
	}
	if c.Settlement.Channels < 0 {
		validationErrors = append(validationErrors, "SETTLEMENT_CHANNELS cannot be negative")
	}

	// Validate Security config
	if c.Security.MasterPassword == "" {
		validationErrors = append(validationErrors, "SECURITY_MASTER_PASSWORD is required")
	}
	if c.Security.SponsorSecret == "" {
		validationErrors = append(validationErrors, "SECURITY_SPONSOR_SECRET is required")
	}
	if c.Security.JWTSecret == "" {
		validationErrors = append(validationErrors, "SECURITY_JWT_SECRET is required")
	}

	// Validate Federation config
	if c.Federation.BaseURL == "" {
		validationErrors = append(validationErrors, "FEDERATION_BASE_URL is required")
	}

	// Validate Notifications config
	if c.Notifications.Enabled && c.Notifications.URL == "" {
		validationErrors = append(validationErrors, "NOTIFICATIONS_URL is required when notifications are enabled")
	}

	// Validate Sweep config
	if c.Sweep.Interval <= 0 {
		validationErrors = append(validationErrors, "SWEEP_INTERVAL must be greater than 0")
	}
	if c.Sweep.BatchSize <= 0 {
		validationErrors = append(validationErrors, "SWEEP_BATCH_SIZE must be greater than 0")
	}

	// Validate Outbox config
	if c.Outbox.PollingInterval <= 0 {
		validationErrors = append(validationErrors, "OUTBOX_POLLING_INTERVAL must be greater than 0")
	}
	if c.Outbox.BatchSize <= 0 {
		validationErrors = append(validationErrors, "OUTBOX_BATCH_SIZE must be greater than 0")
	}
	if c.Outbox.MaxRetryAttempts <= 0 {
		validationErrors = append(validationErrors, "OUTBOX_MAX_RETRY_ATTEMPTS must be greater than 0")
	}

	// Validate WorkerPool config
	if c.WorkerPool.Size <= 0 {
		validationErrors = append(validationErrors, "WORKER_POOL_SIZE must be greater than 0")
	}

	if len(validationErrors) > 0 {
		return errors.New(strings.Join(validationErrors, ", "))
	}

	return nil
}

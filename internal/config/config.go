package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the pipeline.
type Config struct {
	App      AppConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Logger   LoggerConfig
	Queue    QueueConfig
	Worker   WorkerConfig
	Session  SessionConfig
	Agent    AgentConfig
	Webhook  WebhookConfig
}

// AppConfig controls process level behavior.
type AppConfig struct {
	Name    string
	Env     string
	Host    string
	Port    string
	Version string
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	MigrationsDir  string
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level string
}

// QueueConfig names the stream topics and the consumer group.
type QueueConfig struct {
	IncomingStream    string
	DeadLetterStream  string
	EscalationsStream string
	ConsumerGroup     string
	ConsumerName      string
	PollTimeoutMS     int
	BatchSize         int64
}

// WorkerConfig controls retry behavior of the ingestion worker.
type WorkerConfig struct {
	MaxAttempts    int
	BackoffBaseMS  int
	BackoffMaxMS   int
	JitterFraction float64
}

// SessionConfig controls conversation windowing.
type SessionConfig struct {
	ReuseWindowHours int
}

// AgentConfig points at the external reasoning engine.
type AgentConfig struct {
	Endpoint       string
	TimeoutSeconds int
}

// WebhookConfig carries ingress validation secrets.
type WebhookConfig struct {
	TwilioAuthToken string
	PubSubAudience  string
	PushSecret      string
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	jitter, err := strconv.ParseFloat(getEnv("WORKER_RETRY_JITTER_FRACTION", "0.2"), 64)
	if err != nil || jitter < 0 || jitter > 1 {
		return nil, fmt.Errorf("invalid WORKER_RETRY_JITTER_FRACTION")
	}

	cfg := &Config{
		App: AppConfig{
			Name:    getEnv("APP_NAME", "support-ingest-pipeline"),
			Env:     getEnv("APP_ENV", "development"),
			Host:    getEnv("APP_HOST", "0.0.0.0"),
			Port:    getEnv("APP_PORT", "8080"),
			Version: getEnv("APP_VERSION", "dev"),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10)),
			MinConns:       int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2)),
			RunMigrations:  getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
			MigrationsDir:  getEnv("POSTGRES_MIGRATIONS_DIR", "migrations"),
			ConnMaxIdleSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Logger: LoggerConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
		Queue: QueueConfig{
			IncomingStream:    getEnv("QUEUE_INCOMING_STREAM", "ingest.incoming"),
			DeadLetterStream:  getEnv("QUEUE_DEAD_LETTER_STREAM", "ingest.dead_letter"),
			EscalationsStream: getEnv("QUEUE_ESCALATIONS_STREAM", "escalations"),
			ConsumerGroup:     getEnv("QUEUE_CONSUMER_GROUP", "ingest-workers"),
			ConsumerName:      getEnv("QUEUE_CONSUMER_NAME", defaultConsumerName()),
			PollTimeoutMS:     getEnvAsInt("QUEUE_POLL_TIMEOUT_MS", 1000),
			BatchSize:         int64(getEnvAsInt("QUEUE_BATCH_SIZE", 10)),
		},
		Worker: WorkerConfig{
			MaxAttempts:    getEnvAsInt("WORKER_RETRY_MAX_ATTEMPTS", 5),
			BackoffBaseMS:  getEnvAsInt("WORKER_RETRY_BACKOFF_BASE_MS", 500),
			BackoffMaxMS:   getEnvAsInt("WORKER_RETRY_BACKOFF_MAX_MS", 30000),
			JitterFraction: jitter,
		},
		Session: SessionConfig{
			ReuseWindowHours: getEnvAsInt("SESSION_REUSE_WINDOW_HOURS", 24),
		},
		Agent: AgentConfig{
			Endpoint:       os.Getenv("AGENT_ENDPOINT"),
			TimeoutSeconds: getEnvAsInt("AGENT_RESPONSE_TIMEOUT_SECONDS", 180),
		},
		Webhook: WebhookConfig{
			TwilioAuthToken: os.Getenv("TWILIO_AUTH_TOKEN"),
			PubSubAudience:  os.Getenv("PUBSUB_AUDIENCE"),
			PushSecret:      os.Getenv("WEBHOOK_PUSH_SECRET"),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// validate rejects configurations the pipeline cannot safely run with.
func (c *Config) validate() error {
	if c.Worker.MaxAttempts < 1 {
		return fmt.Errorf("WORKER_RETRY_MAX_ATTEMPTS must be >= 1")
	}
	if c.Worker.BackoffBaseMS <= 0 || c.Worker.BackoffMaxMS < c.Worker.BackoffBaseMS {
		return fmt.Errorf("invalid worker backoff bounds")
	}
	if c.Session.ReuseWindowHours < 1 {
		return fmt.Errorf("SESSION_REUSE_WINDOW_HOURS must be >= 1")
	}
	if c.Queue.PollTimeoutMS <= 0 {
		return fmt.Errorf("QUEUE_POLL_TIMEOUT_MS must be > 0")
	}
	if c.Queue.BatchSize < 1 {
		return fmt.Errorf("QUEUE_BATCH_SIZE must be >= 1")
	}
	if c.Agent.TimeoutSeconds < 1 {
		return fmt.Errorf("AGENT_RESPONSE_TIMEOUT_SECONDS must be >= 1")
	}
	return nil
}

// Addr returns the HTTP bind address of the webhook ingress.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// PollTimeout returns the queue poll block duration.
func (q QueueConfig) PollTimeout() time.Duration {
	return time.Duration(q.PollTimeoutMS) * time.Millisecond
}

// ReuseWindow returns the conversation reuse window duration.
func (s SessionConfig) ReuseWindow() time.Duration {
	return time.Duration(s.ReuseWindowHours) * time.Hour
}

// Timeout returns the hard deadline for a single reasoning-engine call.
func (a AgentConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutSeconds) * time.Second
}

func defaultConsumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "worker"
	}
	return host
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}

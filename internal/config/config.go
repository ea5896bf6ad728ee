package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// DefaultAllowedOrigins are the frontend origins accepted when none are configured
var DefaultAllowedOrigins = []string{
	"http://localhost:5173",
	"http://127.0.0.1:5173",
	"http://192.168.10.31:5173",
}

// Config represents the complete application configuration
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Database     DatabaseConfig     `yaml:"database"`
	Queue        QueueConfig        `yaml:"queue"`
	RabbitMQ     RabbitMQConfig     `yaml:"rabbitmq"`
	Logging      LoggingConfig      `yaml:"logging"`
	App          AppConfig          `yaml:"app"`
	Worker       WorkerConfig       `yaml:"worker"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	CORS         CORSConfig         `yaml:"cors"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds job store connection configuration.
// URL selects the backend: postgres:// or postgresql:// for PostgreSQL,
// sqlite:// or a bare file path for the embedded store.
type DatabaseConfig struct {
	URL                  string        `yaml:"url"`
	ConnectRetries       int           `yaml:"connect_retries"`
	ConnectRetryInterval time.Duration `yaml:"connect_retry_interval"`
	MaxOpenConns         int           `yaml:"max_open_conns"`
	MaxIdleConns         int           `yaml:"max_idle_conns"`
	ConnMaxLifetime      time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime      time.Duration `yaml:"conn_max_idle_time"`
}

// QueueConfig holds the stream queue configuration shared by publishers and consumers.
// URL selects the backend: redis:// for Redis Streams, amqp:// for RabbitMQ,
// empty or memory:// for the in-process queue.
type QueueConfig struct {
	URL                  string        `yaml:"url"`
	ReadyStream          string        `yaml:"ready_stream"`
	DeadStream           string        `yaml:"dead_stream"`
	CancelStream         string        `yaml:"cancel_stream"`
	ConsumerGroup        string        `yaml:"consumer_group"`
	ConsumerName         string        `yaml:"consumer_name"`
	AckTimeout           time.Duration `yaml:"ack_timeout"`
	ClaimBatchSize       int           `yaml:"claim_batch_size"`
	ReadCount            int           `yaml:"read_count"`
	Block                time.Duration `yaml:"block"`
	StreamMaxLength      int64         `yaml:"stream_max_length"`
	ConnectRetries       int           `yaml:"connect_retries"`
	ConnectRetryInterval time.Duration `yaml:"connect_retry_interval"`
}

// RabbitMQConfig holds broker settings used when the queue URL is amqp://
type RabbitMQConfig struct {
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Connection ConnectionConfig `yaml:"connection"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	PrefetchCount int `yaml:"prefetch_count"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	Concurrency       int             `yaml:"concurrency"`
	MaxRetries        int             `yaml:"max_retries"`
	BackoffBase       time.Duration   `yaml:"backoff_base"`
	BackoffMultiplier float64         `yaml:"backoff_multiplier"`
	BackoffMax        time.Duration   `yaml:"backoff_max"`
	ShutdownTimeout   time.Duration   `yaml:"shutdown_timeout"`
	Processor         ProcessorConfig `yaml:"processor"`
}

// ProcessorConfig selects the document pipeline the worker drives
type ProcessorConfig struct {
	Kind    string        `yaml:"kind"` // command, echo
	Command string        `yaml:"command"`
	Args    []string      `yaml:"args"`
	Timeout time.Duration `yaml:"timeout"`
}

// OrchestratorConfig holds the worker's view of the orchestrator API
type OrchestratorConfig struct {
	BaseURL        string        `yaml:"base_url"`
	Timeout        time.Duration `yaml:"timeout"`
	StatusEndpoint string        `yaml:"status_endpoint"`
}

// CORSConfig holds the cross-origin allow list
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	ExtraOrigins   []string `yaml:"extra_origins"`
}

// Origins returns the de-duplicated allow list, falling back to the development defaults
func (c CORSConfig) Origins() []string {
	base := c.AllowedOrigins
	if len(base) == 0 {
		base = DefaultAllowedOrigins
	}

	seen := make(map[string]struct{}, len(base)+len(c.ExtraOrigins))
	origins := make([]string, 0, len(base)+len(c.ExtraOrigins))
	for _, o := range append(append([]string{}, base...), c.ExtraOrigins...) {
		o = strings.TrimSpace(o)
		if o == "" {
			continue
		}
		if _, ok := seen[o]; ok {
			continue
		}
		seen[o] = struct{}{}
		origins = append(origins, o)
	}
	return origins
}

// Defaults returns a configuration populated with the built-in defaults
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8000,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    60 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			URL:                  "sqlite://orchestrator.db",
			ConnectRetries:       10,
			ConnectRetryInterval: 2 * time.Second,
			MaxOpenConns:         10,
			MaxIdleConns:         5,
			ConnMaxLifetime:      30 * time.Minute,
			ConnMaxIdleTime:      5 * time.Minute,
		},
		Queue: QueueConfig{
			ReadyStream:          "jobs.ready",
			DeadStream:           "jobs.dead",
			CancelStream:         "jobs.cancel",
			ConsumerGroup:        "jobs-workers",
			ConsumerName:         defaultConsumerName(),
			AckTimeout:           60 * time.Second,
			ClaimBatchSize:       10,
			ReadCount:            5,
			Block:                5 * time.Second,
			ConnectRetries:       5,
			ConnectRetryInterval: time.Second,
		},
		RabbitMQ: RabbitMQConfig{
			Exchange: ExchangeConfig{
				Name:    "jobs",
				Type:    "direct",
				Durable: true,
			},
			Connection: ConnectionConfig{
				Heartbeat:         10 * time.Second,
				ConnectionTimeout: 30 * time.Second,
			},
			Consumer: ConsumerConfig{PrefetchCount: 5},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stdout",
		},
		App: AppConfig{
			Name:        "translation-orchestrator",
			Version:     "0.1.0",
			Environment: "development",
		},
		Worker: WorkerConfig{
			Concurrency:       1,
			MaxRetries:        3,
			BackoffBase:       5 * time.Second,
			BackoffMultiplier: 2,
			BackoffMax:        60 * time.Second,
			ShutdownTimeout:   30 * time.Second,
			Processor: ProcessorConfig{
				Kind: "echo",
			},
		},
		Orchestrator: OrchestratorConfig{
			Timeout:        30 * time.Second,
			StatusEndpoint: "/jobs/status",
		},
	}
}

func defaultConsumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

// Load reads the configuration file on top of the defaults and applies
// environment overrides. An empty path skips the file.
func Load(configPath string) (*Config, error) {
	config := Defaults()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	if err := config.applyEnv(os.LookupEnv); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	return config, nil
}

// applyEnv overrides file values with the enumerated environment variables
func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(dst *string, keys ...string) {
		for _, k := range keys {
			if v, ok := lookup(k); ok && v != "" {
				*dst = v
				return
			}
		}
	}
	integer := func(dst *int, key string) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s must be an integer (got %q)", key, v)
		}
		*dst = n
		return nil
	}
	float := func(dst *float64, key string) error {
		v, ok := lookup(key)
		if !ok || v == "" {
			return nil
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return fmt.Errorf("%s must be a number (got %q)", key, v)
		}
		*dst = f
		return nil
	}
	seconds := func(dst *time.Duration, key string) error {
		f := -1.0
		if err := float(&f, key); err != nil {
			return err
		}
		if f >= 0 {
			*dst = time.Duration(f * float64(time.Second))
		}
		return nil
	}
	millis := func(dst *time.Duration, key string) error {
		n := -1
		if err := integer(&n, key); err != nil {
			return err
		}
		if n >= 0 {
			*dst = time.Duration(n) * time.Millisecond
		}
		return nil
	}

	str(&c.Queue.URL, "QUEUE_URL", "REDIS_URL")
	str(&c.Queue.ReadyStream, "READY_STREAM")
	str(&c.Queue.DeadStream, "DEAD_STREAM")
	str(&c.Queue.CancelStream, "CANCEL_STREAM")
	str(&c.Queue.ConsumerGroup, "JOB_QUEUE_CONSUMER_GROUP")
	str(&c.Queue.ConsumerName, "JOB_QUEUE_CONSUMER_NAME")
	str(&c.Database.URL, "ORCHESTRATOR_DATABASE_URL")
	str(&c.Orchestrator.BaseURL, "ORCHESTRATOR_BASE_URL")
	str(&c.Orchestrator.StatusEndpoint, "STATUS_ENDPOINT")
	str(&c.Worker.Processor.Kind, "PROCESSOR_KIND")
	str(&c.Worker.Processor.Command, "PROCESSOR_COMMAND")

	if v, ok := lookup("ORCHESTRATOR_ALLOWED_ORIGINS"); ok && v != "" {
		c.CORS.AllowedOrigins = splitCSV(v)
	}
	for _, key := range []string{"ALLOWED_FRONTEND_ORIGIN", "ALLOWED_FRONTEND_ORIGINS", "RENDER_EXTERNAL_URL"} {
		if v, ok := lookup(key); ok && v != "" {
			c.CORS.ExtraOrigins = append(c.CORS.ExtraOrigins, splitCSV(v)...)
		}
	}

	maxLen := -1
	steps := []func() error{
		func() error { return millis(&c.Queue.AckTimeout, "JOB_QUEUE_ACK_TIMEOUT_MS") },
		func() error { return integer(&c.Worker.MaxRetries, "JOB_QUEUE_MAX_RETRIES") },
		func() error { return seconds(&c.Worker.BackoffBase, "JOB_QUEUE_BACKOFF_BASE_SECONDS") },
		func() error { return float(&c.Worker.BackoffMultiplier, "JOB_QUEUE_BACKOFF_MULTIPLIER") },
		func() error { return seconds(&c.Worker.BackoffMax, "JOB_QUEUE_BACKOFF_MAX_SECONDS") },
		func() error { return integer(&c.Queue.ClaimBatchSize, "JOB_QUEUE_CLAIM_BATCH_SIZE") },
		func() error { return integer(&c.Queue.ReadCount, "JOB_QUEUE_READ_COUNT") },
		func() error { return millis(&c.Queue.Block, "JOB_QUEUE_BLOCK_MS") },
		func() error { return integer(&maxLen, "JOB_QUEUE_STREAM_MAX_LENGTH") },
		func() error { return integer(&c.Database.ConnectRetries, "DATABASE_CONNECT_RETRIES") },
		func() error { return seconds(&c.Orchestrator.Timeout, "ORCHESTRATOR_TIMEOUT") },
		func() error { return integer(&c.Worker.Concurrency, "WORKER_CONCURRENCY") },
		func() error { return integer(&c.Server.Port, "PORT") },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	if maxLen >= 0 {
		c.Queue.StreamMaxLength = int64(maxLen)
	}

	return nil
}

func splitCSV(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Validate checks the settings shared by every service
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("database url is required")
	}

	if c.Database.ConnectRetries < 1 {
		return fmt.Errorf("database connect_retries must be >= 1")
	}

	if c.Queue.ReadyStream == "" {
		return fmt.Errorf("queue ready_stream is required")
	}

	if c.Queue.DeadStream == "" {
		return fmt.Errorf("queue dead_stream is required")
	}

	if c.Queue.ReadyStream == c.Queue.DeadStream {
		return fmt.Errorf("queue ready_stream and dead_stream must differ")
	}

	return nil
}

// ValidateAPIConfig checks the orchestrator API configuration
func (c *Config) ValidateAPIConfig() error {
	if err := c.Validate(); err != nil {
		return err
	}

	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if c.Queue.CancelStream == "" {
		return fmt.Errorf("queue cancel_stream is required")
	}

	return nil
}

// ValidateWorkerConfig checks the worker configuration
func (c *Config) ValidateWorkerConfig() error {
	if err := c.Validate(); err != nil {
		return err
	}

	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be greater than 0")
	}

	if c.Worker.MaxRetries < 1 {
		return fmt.Errorf("worker max_retries must be >= 1")
	}

	if c.Worker.BackoffBase < 100*time.Millisecond {
		return fmt.Errorf("worker backoff_base must be >= 100ms")
	}

	if c.Worker.BackoffMultiplier < 1 {
		return fmt.Errorf("worker backoff_multiplier must be >= 1")
	}

	if c.Worker.BackoffMax < c.Worker.BackoffBase {
		return fmt.Errorf("worker backoff_max must be >= backoff_base")
	}

	if c.Worker.ShutdownTimeout <= 0 {
		return fmt.Errorf("worker shutdown_timeout must be greater than 0")
	}

	if c.Queue.AckTimeout < time.Second {
		return fmt.Errorf("queue ack_timeout must be >= 1s")
	}

	if c.Queue.ClaimBatchSize < 1 {
		return fmt.Errorf("queue claim_batch_size must be >= 1")
	}

	if c.Queue.ReadCount < 1 {
		return fmt.Errorf("queue read_count must be >= 1")
	}

	if c.Queue.Block < 100*time.Millisecond {
		return fmt.Errorf("queue block must be >= 100ms")
	}

	if c.Queue.ConsumerGroup == "" {
		return fmt.Errorf("queue consumer_group is required")
	}

	if c.Queue.ConsumerName == "" {
		return fmt.Errorf("queue consumer_name is required")
	}

	switch c.Worker.Processor.Kind {
	case "echo":
	case "command":
		if c.Worker.Processor.Command == "" {
			return fmt.Errorf("worker processor command is required for kind %q", c.Worker.Processor.Kind)
		}
	default:
		return fmt.Errorf("unknown worker processor kind: %q", c.Worker.Processor.Kind)
	}

	return nil
}

// Package config loads the application's configuration from a YAML file,
// applies defaults, and overlays environment variables (and an optional
// .env file) so secrets can live outside version control and real
// environment variables win on a container platform.
package config

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration object.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Quota     QuotaConfig     `yaml:"quota"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
}

// ServerConfig holds HTTP control-plane server configuration.
type ServerConfig struct {
	Port int    `yaml:"port"`
	Host string `yaml:"host"`
}

// GetHost returns the server host, detecting common container platform
// markers so the server listens on all interfaces when containerized.
func (c ServerConfig) GetHost() string {
	if os.Getenv("ECS_CONTAINER_METADATA_URI") != "" || os.Getenv("AWS_EXECUTION_ENV") != "" {
		return "0.0.0.0"
	}
	if host := os.Getenv("SERVER_HOST"); host != "" {
		return host
	}
	return c.Host
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL             string `yaml:"url"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifeMins int    `yaml:"conn_max_life_minutes"`
}

func (c DatabaseConfig) ConnMaxLifetime() time.Duration {
	return time.Duration(c.ConnMaxLifeMins) * time.Minute
}

// RedisConfig holds the Redis connection used by quota reservation and the
// distributed-lock fast path. Empty URL means distlock falls back to
// Postgres advisory locks and quota reservation is disabled.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// GatewayConfig configures the outbound messaging provider adapter.
type GatewayConfig struct {
	Name           string `yaml:"name"`
	Endpoint       string `yaml:"endpoint"`
	WebhookSecret  string `yaml:"webhook_secret"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	SQSQueueURL    string `yaml:"sqs_queue_url"`
	AWSRegion      string `yaml:"aws_region"`
}

func (c GatewayConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// QuotaConfig holds per-plan quota overrides keyed by plan name. They are
// loaded but not applied: cmd/worker builds its ledger from
// domain.DefaultQuotaWindows.
type QuotaConfig struct {
	Overrides map[string]QuotaOverride `yaml:"overrides"`
}

type QuotaOverride struct {
	PerMinuteLimit int `yaml:"per_minute_limit"`
	PerDayLimit    int `yaml:"per_day_limit"`
}

// SchedulerConfig controls the campaign scheduler and dispatch pool sizing.
type SchedulerConfig struct {
	DispatchWorkers   int `yaml:"dispatch_workers"`
	DispatchBatchSize int `yaml:"dispatch_batch_size"`
	MaxQueueDepth     int `yaml:"max_queue_depth"`
}

// Load reads and parses the configuration file, applying defaults for any
// unset field.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 5
	}
	if cfg.Database.ConnMaxLifeMins == 0 {
		cfg.Database.ConnMaxLifeMins = 30
	}
	if cfg.Gateway.TimeoutSeconds == 0 {
		cfg.Gateway.TimeoutSeconds = 10
	}
	if cfg.Gateway.AWSRegion == "" {
		cfg.Gateway.AWSRegion = "us-east-1"
	}
	if cfg.Scheduler.DispatchWorkers == 0 {
		cfg.Scheduler.DispatchWorkers = 10
	}
	if cfg.Scheduler.DispatchBatchSize == 0 {
		cfg.Scheduler.DispatchBatchSize = 25
	}
	if cfg.Scheduler.MaxQueueDepth == 0 {
		cfg.Scheduler.MaxQueueDepth = 100000
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// It first loads a .env file (if present, no error if missing), so secrets
// can live in .env locally and in real environment variables on a
// container platform where config.yaml itself may only hold local
// defaults.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Redis.URL = v
	}
	if v := os.Getenv("GATEWAY_ENDPOINT"); v != "" {
		cfg.Gateway.Endpoint = v
	}
	if v := os.Getenv("GATEWAY_WEBHOOK_SECRET"); v != "" {
		cfg.Gateway.WebhookSecret = v
	}
	if v := os.Getenv("GATEWAY_SQS_QUEUE_URL"); v != "" {
		cfg.Gateway.SQSQueueURL = v
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.Gateway.AWSRegion = v
	}

	return cfg, nil
}

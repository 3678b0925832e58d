// Package config loads the server configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// DatabaseConfig selects and configures the vault store.
type DatabaseConfig struct {
	Driver   string `env:"DRIVER" envDefault:"sqlite"` // sqlite | postgres
	Path     string `env:"PATH" envDefault:"data/vault.db"`
	Host     string `env:"HOST" envDefault:"localhost"`
	Port     int    `env:"PORT" envDefault:"5432"`
	User     string `env:"USER" envDefault:"vault"`
	Password string `env:"PASSWORD"`
	Database string `env:"NAME" envDefault:"vault"`
	SSLMode  string `env:"SSLMODE" envDefault:"disable"`
	MaxConns int    `env:"MAX_CONNS"`
	MaxIdle  int    `env:"MAX_IDLE"`
}

// GetDSN returns the lib/pq connection string.
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// RedisConfig enables the distributed lease and the event stream when Addr is set.
type RedisConfig struct {
	Addr     string `env:"ADDR"`
	Password string `env:"PASSWORD"`
	DB       int    `env:"DB" envDefault:"0"`
	PoolSize int    `env:"POOL_SIZE"`
	Stream   string `env:"STREAM" envDefault:"vault-events"`
	MaxLen   int64  `env:"STREAM_MAXLEN" envDefault:"10000"`
}

// MQTTConfig enables the MQTT event sink when Broker is set.
type MQTTConfig struct {
	Broker      string `env:"BROKER"`
	ClientID    string `env:"CLIENT_ID" envDefault:"vault-server"`
	Username    string `env:"USERNAME"`
	Password    string `env:"PASSWORD"`
	QoS         byte   `env:"QOS" envDefault:"1"`
	TopicPrefix string `env:"TOPIC_PREFIX" envDefault:"vaults"`
}

// BlobConfig is where diagnostic snapshots of broken vaults are archived.
type BlobConfig struct {
	Backend      string `env:"BACKEND" envDefault:"fs"` // fs | s3
	Dir          string `env:"DIR" envDefault:"data/diagnostics"`
	Bucket       string `env:"BUCKET"`
	Prefix       string `env:"PREFIX" envDefault:"diagnostics"`
	Region       string `env:"REGION" envDefault:"us-east-1"`
	Endpoint     string `env:"ENDPOINT"`
	AccessKey    string `env:"ACCESS_KEY"`
	SecretKey    string `env:"SECRET_KEY"`
	UsePathStyle bool   `env:"USE_PATH_STYLE"`
}

// TickConfig drives the scheduler and the orchestrator.
type TickConfig struct {
	Interval           time.Duration `env:"INTERVAL" envDefault:"30s"`
	MinInterval        time.Duration `env:"MIN_INTERVAL" envDefault:"10s"`
	MaxDuration        time.Duration `env:"MAX_DURATION" envDefault:"10s"`
	LeaseTTL           time.Duration `env:"LEASE_TTL" envDefault:"30s"`
	Workers            int           `env:"WORKERS"` // 0 = from profile
	BatchLimit         int           `env:"BATCH_LIMIT" envDefault:"500"`
	ActionLockAttempts int           `env:"ACTION_LOCK_ATTEMPTS" envDefault:"5"`
	ActionLockBackoff  time.Duration `env:"ACTION_LOCK_BACKOFF" envDefault:"100ms"`
}

// Config is the full server configuration.
type Config struct {
	Addr         string `env:"VAULT_ADDR" envDefault:":8080"`
	LogLevel     string `env:"VAULT_LOG_LEVEL" envDefault:"info"`
	LogFormat    string `env:"VAULT_LOG_FORMAT" envDefault:"json"`
	ServiceName  string `env:"VAULT_SERVICE_NAME" envDefault:"vault-server"`
	Profile      string `env:"VAULT_PROFILE" envDefault:"default"` // default | stress | low
	BalanceFile  string `env:"VAULT_BALANCE_FILE"`
	AdminToken   string `env:"VAULT_ADMIN_TOKEN"`
	OTelEndpoint string `env:"VAULT_OTEL_ENDPOINT"`

	DB    DatabaseConfig `envPrefix:"VAULT_DB_"`
	Redis RedisConfig    `envPrefix:"VAULT_REDIS_"`
	MQTT  MQTTConfig     `envPrefix:"VAULT_MQTT_"`
	Blob  BlobConfig     `envPrefix:"VAULT_BLOB_"`
	Tick  TickConfig     `envPrefix:"VAULT_TICK_"`
}

// Load parses the environment and validates the result.
func Load() (*Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate enforces the relations between settings.
func (c *Config) Validate() error {
	switch c.DB.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("config: unknown db driver %q", c.DB.Driver)
	}
	switch c.Blob.Backend {
	case "fs":
	case "s3":
		if c.Blob.Bucket == "" {
			return fmt.Errorf("config: s3 blob backend needs a bucket")
		}
	default:
		return fmt.Errorf("config: unknown blob backend %q", c.Blob.Backend)
	}
	if c.Tick.Interval <= 0 || c.Tick.MinInterval <= 0 {
		return fmt.Errorf("config: tick intervals must be positive")
	}
	// a tick must finish before its lease can expire
	if c.Tick.MaxDuration >= c.Tick.LeaseTTL {
		return fmt.Errorf("config: tick max duration %s must be below lease ttl %s", c.Tick.MaxDuration, c.Tick.LeaseTTL)
	}
	if c.Tick.ActionLockAttempts < 1 {
		return fmt.Errorf("config: action lock attempts must be >= 1")
	}
	return nil
}

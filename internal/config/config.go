package config

import (
	"errors"
	"fmt"
	"github.com/spf13/viper"
	"os"
	"strings"
	"time"
)

// DefaultConfigFile is read when present; every key can also come from the environment.
const DefaultConfigFile = "configs/config.yaml"

// Config is the main struct that holds all configuration for the application.
type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Store     StoreConfig     `mapstructure:"store"`
	Postgres  PostgresConfig  `mapstructure:"postgres"`
	Redis     RedisConfig     `mapstructure:"redis"`
	RabbitMQ  RabbitMQConfig  `mapstructure:"rabbitmq"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Transport TransportConfig `mapstructure:"transport"`
	Alerts    AlertsConfig    `mapstructure:"alerts"`
}

// LoggerConfig holds logging-specific settings.
type LoggerConfig struct {
	Level string `mapstructure:"level"`
	// Pretty switches to the human-readable console writer.
	Pretty bool `mapstructure:"pretty"`
}

// HTTPConfig holds HTTP server-specific settings.
type HTTPConfig struct {
	Port    string `mapstructure:"port"`
	GinMode string `mapstructure:"gin_mode"`
}

// StoreDriver selects the notification store backend.
type StoreDriver string

const (
	StoreMemory   StoreDriver = "memory"
	StorePostgres StoreDriver = "postgres"
)

// StoreConfig selects and tunes the notification store.
type StoreConfig struct {
	Driver StoreDriver `mapstructure:"driver"`
	// MaxHistory caps the in-memory store; zero means unbounded.
	MaxHistory int `mapstructure:"max_history"`
}

// PostgresConfig holds all settings for the PostgreSQL database connection.
type PostgresConfig struct {
	DSN             string     `mapstructure:"dsn"`
	Pool            PoolConfig `mapstructure:"pool"`
	Migrate         bool       `mapstructure:"migrate"`
	MigrationsTable string     `mapstructure:"migrations_table"`
}

// PoolConfig defines the connection pool settings for the database.
type PoolConfig struct {
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// RedisConfig holds all settings for the Redis connection.
// An empty Addr disables the cache and the tick lock.
type RedisConfig struct {
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
}

// RabbitMQConfig holds all settings for the RabbitMQ connection.
// An empty DSN disables audit event publishing.
type RabbitMQConfig struct {
	DSN            string        `mapstructure:"dsn"`
	AuditExchange  string        `mapstructure:"audit_exchange"`
	PublishTimeout time.Duration `mapstructure:"publish_timeout"`
}

// SchedulerConfig tunes the dispatch loop.
type SchedulerConfig struct {
	Interval    time.Duration `mapstructure:"interval"`
	SendTimeout time.Duration `mapstructure:"send_timeout"`
	Workers     int           `mapstructure:"workers"`
	ClaimMargin time.Duration `mapstructure:"claim_margin"`
	LockTTL     time.Duration `mapstructure:"lock_ttl"`
	Retry       RetryConfig   `mapstructure:"retry"`
}

// RetryConfig enables re-scheduling of failed notifications.
// MaxAttempts of zero keeps fire-once delivery.
type RetryConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	BaseDelay   time.Duration `mapstructure:"base_delay"`
}

// TransportMode controls whether relay failures are surfaced.
type TransportMode string

const (
	ModeLive   TransportMode = "live"
	ModeDryRun TransportMode = "dry_run"
)

// TransportConfig holds settings for the delivery providers.
// Postmark wins when its server token is set; otherwise SMTP is used when a host is set.
type TransportConfig struct {
	Mode     TransportMode  `mapstructure:"mode"`
	From     string         `mapstructure:"from"`
	FromName string         `mapstructure:"from_name"`
	ReplyTo  string         `mapstructure:"reply_to"`
	Postmark PostmarkConfig `mapstructure:"postmark"`
	SMTP     SMTPConfig     `mapstructure:"smtp"`
}

// PostmarkConfig holds credentials for the bulk mail API.
type PostmarkConfig struct {
	ServerToken  string `mapstructure:"server_token"`
	AccountToken string `mapstructure:"account_token"`
}

// SMTPConfig holds SMTP settings for the direct relay.
type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// AlertsConfig holds settings for failure alerts.
type AlertsConfig struct {
	Telegram TelegramConfig `mapstructure:"telegram"`
}

// TelegramConfig holds settings for the Telegram alert sink.
type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   int64  `mapstructure:"chat_id"`
}

// NewConfig parses the default YAML file (if any) and environment variables to return a configuration struct.
func NewConfig() (*Config, error) {
	return Load(DefaultConfigFile)
}

// Load reads configuration from path, falling back to defaults and environment when the file is absent.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("config: read %s: %w", path, err)
			}
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config: stat %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.pretty", true)
	v.SetDefault("http.port", ":8080")
	v.SetDefault("http.gin_mode", "release")

	v.SetDefault("store.driver", string(StoreMemory))
	v.SetDefault("store.max_history", 10000)

	v.SetDefault("postgres.dsn", "")
	v.SetDefault("postgres.migrate", true)
	v.SetDefault("postgres.migrations_table", "goose_db_version")
	v.SetDefault("postgres.pool.max_conns", 10)
	v.SetDefault("postgres.pool.min_conns", 1)
	v.SetDefault("postgres.pool.conn_max_lifetime", time.Hour)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.cache_ttl", 24*time.Hour)

	v.SetDefault("rabbitmq.dsn", "")
	v.SetDefault("rabbitmq.audit_exchange", "notifications.audit")
	v.SetDefault("rabbitmq.publish_timeout", 2*time.Second)

	v.SetDefault("scheduler.interval", time.Minute)
	v.SetDefault("scheduler.send_timeout", 10*time.Second)
	v.SetDefault("scheduler.workers", 1)
	v.SetDefault("scheduler.claim_margin", 30*time.Second)
	v.SetDefault("scheduler.lock_ttl", 50*time.Second)
	v.SetDefault("scheduler.retry.max_attempts", 0)
	v.SetDefault("scheduler.retry.base_delay", 5*time.Minute)

	v.SetDefault("transport.mode", string(ModeLive))
	v.SetDefault("transport.from", "")
	v.SetDefault("transport.from_name", "")
	v.SetDefault("transport.reply_to", "")
	v.SetDefault("transport.postmark.server_token", "")
	v.SetDefault("transport.postmark.account_token", "")
	v.SetDefault("transport.smtp.host", "")
	v.SetDefault("transport.smtp.port", 587)
	v.SetDefault("transport.smtp.username", "")
	v.SetDefault("transport.smtp.password", "")

	v.SetDefault("alerts.telegram.bot_token", "")
	v.SetDefault("alerts.telegram.chat_id", 0)
}

// Validate checks enumerations and durations that would otherwise fail late at runtime.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case StoreMemory:
	case StorePostgres:
		if c.Postgres.DSN == "" {
			return errors.New("config: postgres.dsn is required for the postgres store")
		}
	default:
		return fmt.Errorf("config: unknown store.driver %q", c.Store.Driver)
	}

	switch c.Transport.Mode {
	case ModeLive, ModeDryRun:
	default:
		return fmt.Errorf("config: unknown transport.mode %q", c.Transport.Mode)
	}

	if c.Scheduler.Interval <= 0 {
		return errors.New("config: scheduler.interval must be positive")
	}
	if c.Scheduler.SendTimeout <= 0 {
		return errors.New("config: scheduler.send_timeout must be positive")
	}
	if c.Scheduler.Workers < 1 {
		return errors.New("config: scheduler.workers must be at least 1")
	}
	if c.Scheduler.ClaimMargin <= 0 {
		return errors.New("config: scheduler.claim_margin must be positive")
	}
	// A zero TTL would make SET NX write a lock that never expires.
	if c.Scheduler.LockTTL <= 0 {
		return errors.New("config: scheduler.lock_ttl must be positive")
	}
	if c.Scheduler.Retry.MaxAttempts < 0 {
		return errors.New("config: scheduler.retry.max_attempts must not be negative")
	}
	if c.Scheduler.Retry.MaxAttempts > 0 && c.Scheduler.Retry.BaseDelay <= 0 {
		return errors.New("config: scheduler.retry.base_delay must be positive when retries are enabled")
	}
	return nil
}

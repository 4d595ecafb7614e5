package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config is the full service configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Business BusinessConfig `mapstructure:"business"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// DatabaseConfig selects one of the gorm dialectors. DSN wins over the
// discrete host/port fields when set.
type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"` // mysql | postgres | sqlite
	DSN          string `mapstructure:"dsn"`
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	LogSQL       bool   `mapstructure:"log_sql"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	// LockTTLSeconds bounds how long an idempotency key lock may be held.
	LockTTLSeconds int `mapstructure:"lock_ttl_seconds"`
}

type KafkaConfig struct {
	Enabled bool             `mapstructure:"enabled"`
	Brokers []string         `mapstructure:"brokers"`
	Topic   KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	LedgerEvents string `mapstructure:"ledger_events"`
}

type BusinessConfig struct {
	MinDepositCents int64              `mapstructure:"min_deposit_cents"`
	MaxPageSize     int                `mapstructure:"max_page_size"`
	Fee             FeeConfig          `mapstructure:"fee"`
	FeeRecipient    FeeRecipientConfig `mapstructure:"fee_recipient"`
	Outbox          OutboxConfig       `mapstructure:"outbox"`
}

const (
	FeePolicyPercent = "percent"
	FeePolicyFixed   = "fixed"
)

// FeeConfig chooses how conversion fees are charged.
type FeeConfig struct {
	Policy     string `mapstructure:"policy"`
	Percent    int64  `mapstructure:"percent"`
	FixedCents int64  `mapstructure:"fixed_cents"`
}

// FeeRecipientConfig names the house account credited with conversion fees.
// Leave both empty to run without a fee recipient.
type FeeRecipientConfig struct {
	UserID int64  `mapstructure:"user_id"`
	Email  string `mapstructure:"email"`
}

type OutboxConfig struct {
	IntervalMillis    int `mapstructure:"interval_millis"`
	BatchSize         int `mapstructure:"batch_size"`
	MaxRetryCount     int `mapstructure:"max_retry_count"`
	CompensateSeconds int `mapstructure:"compensate_seconds"`
}

// Enabled reports whether a fee recipient was configured at all.
func (c FeeRecipientConfig) Enabled() bool {
	return c.UserID > 0 || strings.TrimSpace(c.Email) != ""
}

func setDefaults(v *viper.Viper) {
	// Every key needs a default: AutomaticEnv only reaches Unmarshal for keys
	// viper already knows about.
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.host", "127.0.0.1")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.user", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "exchange")
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.log_sql", false)
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.lock_ttl_seconds", 30)
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic.ledger_events", "ledger.events")
	v.SetDefault("business.min_deposit_cents", 1000)
	v.SetDefault("business.max_page_size", 100)
	v.SetDefault("business.fee.policy", FeePolicyPercent)
	v.SetDefault("business.fee.percent", 1)
	v.SetDefault("business.fee.fixed_cents", 0)
	v.SetDefault("business.fee_recipient.user_id", 0)
	v.SetDefault("business.fee_recipient.email", "")
	v.SetDefault("business.outbox.interval_millis", 100)
	v.SetDefault("business.outbox.batch_size", 100)
	v.SetDefault("business.outbox.max_retry_count", 5)
	v.SetDefault("business.outbox.compensate_seconds", 60)
}

// LoadConfig reads the YAML file at configPath. Environment variables prefixed with EXCHANGE_
// override file values (EXCHANGE_DATABASE_DSN, EXCHANGE_BUSINESS_FEE_POLICY, ...).
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("EXCHANGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config %s: %w", configPath, err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the ledger cannot run with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "mysql", "postgres", "sqlite":
	default:
		return fmt.Errorf("config: unsupported database driver %q", c.Database.Driver)
	}

	switch c.Business.Fee.Policy {
	case FeePolicyPercent:
		if c.Business.Fee.Percent <= 0 || c.Business.Fee.Percent >= 100 {
			return fmt.Errorf("config: fee percent must be in (0, 100), got %d", c.Business.Fee.Percent)
		}
	case FeePolicyFixed:
		if c.Business.Fee.FixedCents <= 0 {
			return fmt.Errorf("config: fixed fee must be positive, got %d", c.Business.Fee.FixedCents)
		}
	default:
		return fmt.Errorf("config: unknown fee policy %q", c.Business.Fee.Policy)
	}

	if c.Business.MinDepositCents <= 0 {
		return fmt.Errorf("config: min deposit must be positive, got %d", c.Business.MinDepositCents)
	}
	if c.Business.MaxPageSize <= 0 {
		return fmt.Errorf("config: max page size must be positive, got %d", c.Business.MaxPageSize)
	}
	if c.Kafka.Enabled && len(c.Kafka.Brokers) == 0 {
		return errors.New("config: kafka enabled without brokers")
	}
	return nil
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	base "github.com/AfshinJalili/brokerage/libs/config"
)

type DBConfig struct {
	Driver   string
	Host     string
	Port     int
	Name     string
	User     string
	Password string
	SSLMode  string
	MaxConns int
}

func (d DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s&pool_max_conns=%d",
		d.User, d.Password, d.Host, d.Port, d.Name, d.SSLMode, d.MaxConns)
}

type BrokerConfig struct {
	CashAsset      string
	MatchInterval  time.Duration
	MatchBatchSize int
	TxMaxAttempts  int
}

type JWTConfig struct {
	Secret string
	TTL    time.Duration
	Issuer string
}

type BootstrapConfig struct {
	AdminUsername string
	AdminPassword string
}

type RateLimitConfig struct {
	Backend       string
	Limit         int
	Window        time.Duration
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Prefix        string
}

type KafkaTopics struct {
	OrderCreated   string
	OrderCancelled string
	OrderMatched   string
	Deposits       string
	DeadLetter     string
}

type KafkaConfig struct {
	Enabled       bool
	Brokers       []string
	ClientID      string
	ConsumerGroup string
	MaxAttempts   int
	Topics        KafkaTopics
}

type Config struct {
	App       base.AppConfig
	DB        DBConfig
	Broker    BrokerConfig
	JWT       JWTConfig
	Bootstrap BootstrapConfig
	RateLimit RateLimitConfig
	Kafka     KafkaConfig
}

func Load() (*Config, error) {
	path := os.Getenv("BROKER_CONFIG")
	appCfg, err := base.Load(path)
	if err != nil {
		return nil, err
	}

	v := base.New()
	if err := base.ReadFile(v, path); err != nil {
		return nil, err
	}
	v.SetDefault("db.driver", "postgres")
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("broker.cash_asset", "TRY")
	v.SetDefault("broker.match_interval", "0s")
	v.SetDefault("broker.match_batch_size", 100)
	v.SetDefault("broker.tx_max_attempts", 3)
	v.SetDefault("jwt.ttl", "15m")
	v.SetDefault("jwt.issuer", "broker")
	v.SetDefault("rate_limit.backend", "memory")
	v.SetDefault("rate_limit.limit", 10)
	v.SetDefault("rate_limit.window", "1m")
	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.client_id", "broker")
	v.SetDefault("kafka.consumer_group", "broker-deposits")
	v.SetDefault("kafka.max_attempts", 5)
	v.SetDefault("kafka.topics.order_created", "broker.order.created")
	v.SetDefault("kafka.topics.order_cancelled", "broker.order.cancelled")
	v.SetDefault("kafka.topics.order_matched", "broker.order.matched")
	v.SetDefault("kafka.topics.deposits", "broker.deposits")
	v.SetDefault("kafka.topics.dead_letter", "broker.dlq")

	cfg := &Config{
		App: *appCfg,
		DB: DBConfig{
			Driver:   strings.ToLower(v.GetString("db.driver")),
			Host:     envString("POSTGRES_HOST", "localhost"),
			Port:     envInt("POSTGRES_PORT", 5432),
			Name:     envString("POSTGRES_DB", "broker"),
			User:     envString("POSTGRES_USER", "broker"),
			Password: envString("POSTGRES_PASSWORD", "broker"),
			SSLMode:  envString("POSTGRES_SSLMODE", "disable"),
			MaxConns: v.GetInt("db.max_conns"),
		},
		Broker: BrokerConfig{
			CashAsset:      strings.ToUpper(strings.TrimSpace(v.GetString("broker.cash_asset"))),
			MatchInterval:  v.GetDuration("broker.match_interval"),
			MatchBatchSize: v.GetInt("broker.match_batch_size"),
			TxMaxAttempts:  v.GetInt("broker.tx_max_attempts"),
		},
		JWT: JWTConfig{
			Secret: envString("JWT_SECRET", v.GetString("jwt.secret")),
			TTL:    v.GetDuration("jwt.ttl"),
			Issuer: v.GetString("jwt.issuer"),
		},
		Bootstrap: BootstrapConfig{
			AdminUsername: envString("BROKER_ADMIN_USERNAME", "admin"),
			AdminPassword: os.Getenv("BROKER_ADMIN_PASSWORD"),
		},
		RateLimit: RateLimitConfig{
			Backend:       strings.ToLower(v.GetString("rate_limit.backend")),
			Limit:         v.GetInt("rate_limit.limit"),
			Window:        v.GetDuration("rate_limit.window"),
			RedisAddr:     envString("REDIS_ADDR", "localhost:6379"),
			RedisPassword: os.Getenv("REDIS_PASSWORD"),
			RedisDB:       envInt("REDIS_DB", 0),
			Prefix:        v.GetString("rate_limit.prefix"),
		},
		Kafka: KafkaConfig{
			Enabled:       envBool("KAFKA_ENABLED", v.GetBool("kafka.enabled")),
			Brokers:       envCSV("KAFKA_BROKERS", v.GetStringSlice("kafka.brokers")),
			ClientID:      v.GetString("kafka.client_id"),
			ConsumerGroup: envString("KAFKA_CONSUMER_GROUP", v.GetString("kafka.consumer_group")),
			MaxAttempts:   v.GetInt("kafka.max_attempts"),
			Topics: KafkaTopics{
				OrderCreated:   v.GetString("kafka.topics.order_created"),
				OrderCancelled: v.GetString("kafka.topics.order_cancelled"),
				OrderMatched:   v.GetString("kafka.topics.order_matched"),
				Deposits:       envString("KAFKA_DEPOSITS_TOPIC", v.GetString("kafka.topics.deposits")),
				DeadLetter:     envString("KAFKA_DLQ_TOPIC", v.GetString("kafka.topics.dead_letter")),
			},
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.DB.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("db driver must be postgres or memory, got %q", c.DB.Driver)
	}
	if c.DB.Driver == "postgres" && c.DB.MaxConns <= 0 {
		return fmt.Errorf("db max_conns must be positive")
	}
	if c.Broker.CashAsset == "" {
		return fmt.Errorf("broker cash_asset is required")
	}
	if c.Broker.MatchInterval < 0 {
		return fmt.Errorf("broker match_interval must not be negative")
	}
	if c.Broker.MatchBatchSize <= 0 {
		return fmt.Errorf("broker match_batch_size must be positive")
	}
	if c.Broker.TxMaxAttempts <= 0 {
		return fmt.Errorf("broker tx_max_attempts must be positive")
	}
	if len(c.JWT.Secret) < 16 {
		return fmt.Errorf("JWT_SECRET must be at least 16 bytes")
	}
	if c.JWT.TTL <= 0 {
		return fmt.Errorf("jwt ttl must be positive")
	}
	switch c.RateLimit.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("rate_limit backend must be memory or redis, got %q", c.RateLimit.Backend)
	}
	if c.RateLimit.Limit <= 0 || c.RateLimit.Window <= 0 {
		return fmt.Errorf("rate_limit limit and window must be positive")
	}
	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka brokers required")
		}
		if c.Kafka.ConsumerGroup == "" {
			return fmt.Errorf("kafka consumer group required")
		}
		if c.Kafka.Topics.Deposits == "" || c.Kafka.Topics.DeadLetter == "" {
			return fmt.Errorf("kafka deposits and dead letter topics required")
		}
	}
	return nil
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func envBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envCSV(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, part := range parts {
			if trimmed := strings.TrimSpace(part); trimmed != "" {
				out = append(out, trimmed)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return def
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("BROKER_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("JWT_SECRET", "0123456789abcdef")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DB.Driver != "postgres" || cfg.DB.Name != "broker" {
		t.Fatalf("unexpected db config %+v", cfg.DB)
	}
	if cfg.Broker.CashAsset != "TRY" || cfg.Broker.MatchBatchSize != 100 || cfg.Broker.MatchInterval != 0 || cfg.Broker.TxMaxAttempts != 3 {
		t.Fatalf("unexpected broker config %+v", cfg.Broker)
	}
	if cfg.JWT.TTL != 15*time.Minute || cfg.RateLimit.Backend != "memory" || cfg.Kafka.Enabled {
		t.Fatalf("unexpected defaults %+v %+v %+v", cfg.JWT, cfg.RateLimit, cfg.Kafka)
	}
	if cfg.Kafka.Topics.Deposits != "broker.deposits" {
		t.Fatalf("unexpected topics %+v", cfg.Kafka.Topics)
	}
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broker.yaml")
	body := []byte("db:\n  driver: memory\nbroker:\n  cash_asset: usd\n  match_interval: 30s\nkafka:\n  enabled: true\n")
	if err := os.WriteFile(path, body, 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("BROKER_CONFIG", path)
	t.Setenv("JWT_SECRET", "0123456789abcdef")
	t.Setenv("BROKER_BROKER_MATCH_BATCH_SIZE", "7")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DB.Driver != "memory" || cfg.Broker.CashAsset != "USD" || cfg.Broker.MatchInterval != 30*time.Second {
		t.Fatalf("file values not applied: %+v %+v", cfg.DB, cfg.Broker)
	}
	if cfg.Broker.MatchBatchSize != 7 {
		t.Fatalf("env override not applied: %d", cfg.Broker.MatchBatchSize)
	}
	if !cfg.Kafka.Enabled || len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "k2:9092" {
		t.Fatalf("unexpected kafka config %+v", cfg.Kafka)
	}
}

func TestLoadRejectsShortSecret(t *testing.T) {
	t.Setenv("BROKER_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("JWT_SECRET", "short")
	if _, err := Load(); err == nil {
		t.Fatalf("expected short secret to fail")
	}
}

func TestValidateRejectsUnknownDriver(t *testing.T) {
	cfg := Config{
		DB:        DBConfig{Driver: "sqlite"},
		Broker:    BrokerConfig{CashAsset: "TRY", MatchBatchSize: 1, TxMaxAttempts: 1},
		JWT:       JWTConfig{Secret: "0123456789abcdef", TTL: time.Minute},
		RateLimit: RateLimitConfig{Backend: "memory", Limit: 1, Window: time.Second},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected unknown driver to fail")
	}
	cfg.DB.Driver = "memory"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected memory driver to pass: %v", err)
	}
}

package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig aggregates runtime configuration, injected via environment
// variables so no endpoint or credential is hardcoded.
type AppConfig struct {
	HTTPAddr string `envconfig:"HTTP_ADDR" default:":8080"`
	DBPath   string `envconfig:"DB_PATH" default:"flashdrop.db"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	RedisAddr string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisDB   int    `envconfig:"REDIS_DB" default:"0"`

	// Durable event stream: consumer group names per domain plus the batch
	// size pulled per poll cycle.
	OrderStreamGroup   string `envconfig:"ORDER_STREAM_GROUP" default:"order-workers"`
	ProductStreamGroup string `envconfig:"PRODUCT_STREAM_GROUP" default:"product-workers"`
	StreamBatchSize    int    `envconfig:"STREAM_BATCH_SIZE" default:"10"`

	// Cache-aside TTLs. Entities are read-mostly (long TTL); the sale-status
	// projection is polled aggressively by clients (short TTL).
	EntityCacheTTL time.Duration `envconfig:"ENTITY_CACHE_TTL" default:"1h"`
	SaleStatusTTL  time.Duration `envconfig:"SALE_STATUS_TTL" default:"10s"`

	// Per-buyer rate limit on the order-creation endpoint.
	BuyRateLimit  int           `envconfig:"BUY_RATE_LIMIT" default:"1000"`
	BuyRateWindow time.Duration `envconfig:"BUY_RATE_WINDOW" default:"1s"`

	// Admin endpoints (product upsert, counter priming) are gated by a
	// static token. Demo-grade protection.
	AdminToken string `envconfig:"ADMIN_TOKEN" default:"dev-admin-token"`

	// Optional Kafka relay: forwards completed orders to a downstream topic.
	RelayEnabled bool     `envconfig:"RELAY_ENABLED" default:"false"`
	RelayGroup   string   `envconfig:"RELAY_GROUP" default:"order-relay"`
	KafkaBrokers []string `envconfig:"KAFKA_BROKERS" default:"localhost:9092"`
	KafkaTopic   string   `envconfig:"KAFKA_TOPIC" default:"flashdrop-orders"`
}

// Load reads configuration from the environment and validates it.
func Load() (AppConfig, error) {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return AppConfig{}, err
	}

	if cfg.StreamBatchSize <= 0 {
		return AppConfig{}, fmt.Errorf("STREAM_BATCH_SIZE must be > 0")
	}
	if cfg.EntityCacheTTL <= 0 {
		return AppConfig{}, fmt.Errorf("ENTITY_CACHE_TTL must be > 0")
	}
	if cfg.SaleStatusTTL <= 0 {
		return AppConfig{}, fmt.Errorf("SALE_STATUS_TTL must be > 0")
	}
	if cfg.BuyRateLimit <= 0 {
		return AppConfig{}, fmt.Errorf("BUY_RATE_LIMIT must be > 0")
	}
	if cfg.BuyRateWindow <= 0 {
		return AppConfig{}, fmt.Errorf("BUY_RATE_WINDOW must be > 0")
	}
	if cfg.OrderStreamGroup == "" || cfg.ProductStreamGroup == "" {
		return AppConfig{}, fmt.Errorf("stream group names must not be empty")
	}
	if cfg.RelayEnabled {
		if len(cfg.KafkaBrokers) == 0 {
			return AppConfig{}, fmt.Errorf("KAFKA_BROKERS must not be empty when relay is enabled")
		}
		if cfg.KafkaTopic == "" {
			return AppConfig{}, fmt.Errorf("KAFKA_TOPIC must not be empty when relay is enabled")
		}
	}

	return cfg, nil
}

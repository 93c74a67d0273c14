package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	ServiceName    = "storefront"
	ServiceVersion = "0.1.0"
)

const (
	StorageMySQL  = "mysql"
	StorageMemory = "memory"
)

type Config struct {
	HTTPAddr        string
	GRPCAddr        string
	StorageDriver   string
	MySQLDSN        string
	RedisAddr       string // empty disables idempotency keys and the token cache
	KafkaBrokers    []string
	KafkaTopic      string
	OtelEndpoint    string
	LogLevel        string
	EnforceStock    bool
	TokenMaxAttempt int
	IdempotencyTTL  time.Duration
	TokenCacheTTL   time.Duration
	ShutdownTimeout time.Duration
}

func Load() (*Config, error) {
	cfg := &Config{
		HTTPAddr:      getEnv("HTTP_ADDR", ":8080"),
		GRPCAddr:      getEnv("GRPC_ADDR", ":50051"),
		StorageDriver: getEnv("STORAGE_DRIVER", StorageMySQL),
		MySQLDSN:      getEnv("MYSQL_DSN", "root:root@tcp(localhost:3306)/storefront?parseTime=true"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		KafkaTopic:    getEnv("KAFKA_TOPIC", "orders.placed"),
		OtelEndpoint:  os.Getenv("OTEL_ENDPOINT"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
	}

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		for _, b := range strings.Split(brokers, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}

	var err error
	if cfg.EnforceStock, err = getBool("ENFORCE_STOCK", false); err != nil {
		return nil, err
	}
	if cfg.TokenMaxAttempt, err = getInt("TOKEN_MAX_ATTEMPTS", 10); err != nil {
		return nil, err
	}
	if cfg.IdempotencyTTL, err = getDuration("IDEMPOTENCY_TTL", 24*time.Hour); err != nil {
		return nil, err
	}
	if cfg.TokenCacheTTL, err = getDuration("TOKEN_CACHE_TTL", time.Hour); err != nil {
		return nil, err
	}
	if cfg.ShutdownTimeout, err = getDuration("SHUTDOWN_TIMEOUT", 5*time.Second); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StorageDriver {
	case StorageMySQL:
		if c.MySQLDSN == "" {
			return fmt.Errorf("MYSQL_DSN is required when STORAGE_DRIVER=%s", StorageMySQL)
		}
	case StorageMemory:
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q", c.StorageDriver)
	}
	if c.TokenMaxAttempt < 1 {
		return fmt.Errorf("TOKEN_MAX_ATTEMPTS must be at least 1, got %d", c.TokenMaxAttempt)
	}
	// Redis expiries are set in whole milliseconds.
	if c.IdempotencyTTL < time.Millisecond {
		return fmt.Errorf("IDEMPOTENCY_TTL must be at least 1ms, got %s", c.IdempotencyTTL)
	}
	if c.TokenCacheTTL < time.Millisecond {
		return fmt.Errorf("TOKEN_CACHE_TTL must be at least 1ms, got %s", c.TokenCacheTTL)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) (int, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getBool(key string, defaultValue bool) (bool, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func getDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

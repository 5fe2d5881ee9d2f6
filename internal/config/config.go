package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

const configFileEnv = "CONFIG_FILE"

// Storage drivers.
const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

// Config holds all application configuration
type Config struct {
	ServiceName string           `yaml:"service_name"`
	ServicePort int              `yaml:"service_port"`
	LogLevel    string           `yaml:"log_level"`
	Storage     StorageConfig    `yaml:"storage"`
	Database    DatabaseConfig   `yaml:"database"`
	RabbitMQ    RabbitMQConfig   `yaml:"rabbitmq"`
	Redis       RedisConfig      `yaml:"redis"`
	HTTP        HTTPConfig       `yaml:"http"`
	Validation  ValidationConfig `yaml:"validation"`
	Anomaly     AnomalyConfig    `yaml:"anomaly"`
}

// StorageConfig selects where ledger entities live
type StorageConfig struct {
	Driver string `yaml:"driver"`
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// RabbitMQConfig holds RabbitMQ connection and queue settings
type RabbitMQConfig struct {
	URL                    string `yaml:"url"`
	IngestExchange         string `yaml:"ingest_exchange"`
	IngestQueue            string `yaml:"ingest_queue"`
	IngestRoutingKey       string `yaml:"ingest_routing_key"`
	LedgerExchange         string `yaml:"ledger_exchange"`
	UsageRoutingKey        string `yaml:"usage_routing_key"`
	RedemptionRoutingKey   string `yaml:"redemption_routing_key"`
	RegistrationRoutingKey string `yaml:"registration_routing_key"`
	DLQQueue               string `yaml:"dlq_queue"`
	PrefetchCount          int    `yaml:"prefetch_count"`
}

// RedisConfig holds the replay guard connection. An empty Addr disables the guard.
type RedisConfig struct {
	Addr             string `yaml:"addr"`
	Password         string `yaml:"password"`
	ReplayTTLMinutes int    `yaml:"replay_ttl_minutes"`
}

// HTTPConfig holds the owner-facing API settings
type HTTPConfig struct {
	JWTSecret string  `yaml:"jwt_secret"`
	RateLimit float64 `yaml:"rate_limit"`
	RateBurst int     `yaml:"rate_burst"`
}

// ValidationConfig holds validation settings
type ValidationConfig struct {
	TimestampToleranceMinutes int `yaml:"timestamp_tolerance_minutes"`
}

// AnomalyConfig holds anomaly detection settings
type AnomalyConfig struct {
	SpikeThreshold            float64 `yaml:"spike_threshold"`
	MinDataPointsForDetection int     `yaml:"min_data_points"`
}

// Defaults returns the configuration used when neither a file nor the environment sets a value
func Defaults() *Config {
	return &Config{
		ServiceName: "conservation-rewards-worker",
		ServicePort: 8081,
		LogLevel:    "info",
		Storage:     StorageConfig{Driver: StorageMemory},
		RabbitMQ: RabbitMQConfig{
			IngestExchange:         "conservation.ingest.exchange",
			IngestQueue:            "conservation.ingest.queue",
			IngestRoutingKey:       "meter.reading.raw",
			LedgerExchange:         "conservation.ledger.events.exchange",
			UsageRoutingKey:        "ledger.usage.recorded",
			RedemptionRoutingKey:   "ledger.rewards.redeemed",
			RegistrationRoutingKey: "ledger.participant.registered",
			DLQQueue:               "conservation.ingest.dlq",
			PrefetchCount:          10,
		},
		Redis:      RedisConfig{ReplayTTLMinutes: 1440},
		HTTP:       HTTPConfig{RateLimit: 20, RateBurst: 40},
		Validation: ValidationConfig{TimestampToleranceMinutes: 10080},
		Anomaly:    AnomalyConfig{SpikeThreshold: 3.0, MinDataPointsForDetection: 3},
	}
}

// Load loads configuration from an optional YAML file named by CONFIG_FILE, then
// overrides it with environment variables
func Load() (*Config, error) {
	cfg := Defaults()

	if path := os.Getenv(configFileEnv); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: decode yaml: %w", err)
		}
	}

	cfg.ServiceName = getEnv("SERVICE_NAME", cfg.ServiceName)
	cfg.ServicePort = getEnvAsInt("SERVICE_PORT", cfg.ServicePort)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.Storage.Driver = getEnv("STORAGE_DRIVER", cfg.Storage.Driver)
	cfg.Database.URL = getEnv("DATABASE_URL", cfg.Database.URL)

	mq := &cfg.RabbitMQ
	mq.URL = getEnv("RABBITMQ_URL", mq.URL)
	mq.IngestExchange = getEnv("RABBITMQ_INGEST_EXCHANGE", mq.IngestExchange)
	mq.IngestQueue = getEnv("RABBITMQ_INGEST_QUEUE", mq.IngestQueue)
	mq.IngestRoutingKey = getEnv("RABBITMQ_INGEST_ROUTING_KEY", mq.IngestRoutingKey)
	mq.LedgerExchange = getEnv("RABBITMQ_LEDGER_EXCHANGE", mq.LedgerExchange)
	mq.UsageRoutingKey = getEnv("RABBITMQ_USAGE_ROUTING_KEY", mq.UsageRoutingKey)
	mq.RedemptionRoutingKey = getEnv("RABBITMQ_REDEMPTION_ROUTING_KEY", mq.RedemptionRoutingKey)
	mq.RegistrationRoutingKey = getEnv("RABBITMQ_REGISTRATION_ROUTING_KEY", mq.RegistrationRoutingKey)
	mq.DLQQueue = getEnv("RABBITMQ_DLQ_QUEUE", mq.DLQQueue)
	mq.PrefetchCount = getEnvAsInt("RABBITMQ_PREFETCH", mq.PrefetchCount)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.ReplayTTLMinutes = getEnvAsInt("REPLAY_TTL_MINUTES", cfg.Redis.ReplayTTLMinutes)

	cfg.HTTP.JWTSecret = getEnv("JWT_SECRET", cfg.HTTP.JWTSecret)
	cfg.HTTP.RateLimit = getEnvAsFloat("HTTP_RATE_LIMIT", cfg.HTTP.RateLimit)
	cfg.HTTP.RateBurst = getEnvAsInt("HTTP_RATE_BURST", cfg.HTTP.RateBurst)

	cfg.Validation.TimestampToleranceMinutes = getEnvAsInt("VALIDATION_TIMESTAMP_TOLERANCE_MINUTES", cfg.Validation.TimestampToleranceMinutes)
	cfg.Anomaly.SpikeThreshold = getEnvAsFloat("ANOMALY_SPIKE_THRESHOLD", cfg.Anomaly.SpikeThreshold)
	cfg.Anomaly.MinDataPointsForDetection = getEnvAsInt("ANOMALY_MIN_DATA_POINTS", cfg.Anomaly.MinDataPointsForDetection)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Storage.Driver {
	case StorageMemory:
	case StoragePostgres:
		if c.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL is required for storage driver %q but not set in environment variables", c.Storage.Driver)
		}
	default:
		return fmt.Errorf("STORAGE_DRIVER %q is not supported (use %q or %q)", c.Storage.Driver, StorageMemory, StoragePostgres)
	}
	if c.RabbitMQ.URL == "" {
		return fmt.Errorf("RABBITMQ_URL is required but not set in environment variables")
	}
	if c.HTTP.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required but not set in environment variables")
	}
	return nil
}

// HTTPAddress returns the listen address of the HTTP API
func (c *Config) HTTPAddress() string {
	return fmt.Sprintf(":%d", c.ServicePort)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// Package config loads and validates application configuration from YAML files
// with environment-variable overrides. It provides typed structs for every
// subsystem (Server, Postgres, Cache, IDF, Search, Redis, Kafka, etc.).
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Postgres PostgresConfig `yaml:"postgres"`
	Cache    CacheConfig    `yaml:"cache"`
	IDF      IDFConfig      `yaml:"idf"`
	Search   SearchConfig   `yaml:"search"`
	Redis    RedisConfig    `yaml:"redis"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int             `yaml:"port"`
	ReadTimeout     time.Duration   `yaml:"readTimeout"`
	WriteTimeout    time.Duration   `yaml:"writeTimeout"`
	RequestTimeout  time.Duration   `yaml:"requestTimeout"`
	ShutdownTimeout time.Duration   `yaml:"shutdownTimeout"`
	RateLimit       RateLimitConfig `yaml:"rateLimit"`
}

// RateLimitConfig bounds requests per client address. A zero
// RequestsPerSecond disables limiting.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requestsPerSecond"`
	Burst             int     `yaml:"burst"`
}

// StorageConfig selects the document store backend: "postgres" or "memory".
type StorageConfig struct {
	Driver string `yaml:"driver"`
}

// PostgresConfig holds PostgreSQL connection parameters. PoolSize is the
// number of pinned connections held by the request pool.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	PoolSize        int           `yaml:"poolSize"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
	AutoMigrate     bool          `yaml:"autoMigrate"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// CacheConfig sizes the two in-process LRU caches.
type CacheConfig struct {
	TermCapacity     int `yaml:"termCapacity"`
	DocumentCapacity int `yaml:"documentCapacity"`
}

// IDFConfig controls the background IDF recomputation.
type IDFConfig struct {
	RefreshInterval time.Duration `yaml:"refreshInterval"`
	CycleTimeout    time.Duration `yaml:"cycleTimeout"`
}

// SearchConfig controls result counts.
type SearchConfig struct {
	DefaultTopK int `yaml:"defaultTopK"`
	MaxTopK     int `yaml:"maxTopK"`
}

// RedisConfig holds Redis connection parameters for the search response cache.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// KafkaConfig holds Kafka broker and topic settings.
type KafkaConfig struct {
	Enabled       bool        `yaml:"enabled"`
	Brokers       []string    `yaml:"brokers"`
	ConsumerGroup string      `yaml:"consumerGroup"`
	Topics        KafkaTopics `yaml:"topics"`
}

// KafkaTopics maps logical topic names to their Kafka topic strings.
type KafkaTopics struct {
	DocumentEvents string `yaml:"documentEvents"`
	SearchEvents   string `yaml:"searchEvents"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided) and applies environment-variable
// overrides. It returns a Config populated with defaults for any missing
// values, or an error if the result fails validation.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the process cannot run with.
func (c *Config) Validate() error {
	var problems []string
	if c.Storage.Driver != "postgres" && c.Storage.Driver != "memory" {
		problems = append(problems, fmt.Sprintf("storage.driver must be postgres or memory, got %q", c.Storage.Driver))
	}
	if c.Postgres.PoolSize < 1 {
		problems = append(problems, "postgres.poolSize must be at least 1")
	}
	if c.Cache.TermCapacity < 1 {
		problems = append(problems, "cache.termCapacity must be at least 1")
	}
	if c.Cache.DocumentCapacity < 1 {
		problems = append(problems, "cache.documentCapacity must be at least 1")
	}
	if c.IDF.RefreshInterval <= 0 {
		problems = append(problems, "idf.refreshInterval must be positive")
	}
	if c.Search.DefaultTopK < 1 {
		problems = append(problems, "search.defaultTopK must be at least 1")
	}
	if c.Search.MaxTopK < c.Search.DefaultTopK {
		problems = append(problems, "search.maxTopK must not be below search.defaultTopK")
	}
	if len(problems) > 0 {
		return errors.New("invalid config: " + strings.Join(problems, "; "))
	}
	return nil
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			RequestTimeout:  10 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Storage: StorageConfig{
			Driver: "postgres",
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "retriever",
			User:            "retriever",
			Password:        "localdev",
			SSLMode:         "disable",
			PoolSize:        10,
			ConnMaxLifetime: 30 * time.Minute,
			AutoMigrate:     true,
		},
		Cache: CacheConfig{
			TermCapacity:     5000,
			DocumentCapacity: 2000,
		},
		IDF: IDFConfig{
			RefreshInterval: 100 * time.Second,
			CycleTimeout:    30 * time.Second,
		},
		Search: SearchConfig{
			DefaultTopK: 3,
			MaxTopK:     100,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
			CacheTTL: 30 * time.Second,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "lexical-retriever",
			Topics: KafkaTopics{
				DocumentEvents: "document-events",
				SearchEvents:   "search-events",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// applyEnvOverrides reads LR_* environment variables and overrides the
// corresponding config fields. Malformed numeric values are ignored.
func applyEnvOverrides(cfg *Config) {
	setInt("LR_SERVER_PORT", &cfg.Server.Port)
	setFloat("LR_RATE_LIMIT_RPS", &cfg.Server.RateLimit.RequestsPerSecond)
	setInt("LR_RATE_LIMIT_BURST", &cfg.Server.RateLimit.Burst)
	setString("LR_STORAGE_DRIVER", &cfg.Storage.Driver)

	setString("LR_POSTGRES_HOST", &cfg.Postgres.Host)
	setInt("LR_POSTGRES_PORT", &cfg.Postgres.Port)
	setString("LR_POSTGRES_DATABASE", &cfg.Postgres.Database)
	setString("LR_POSTGRES_USER", &cfg.Postgres.User)
	setString("LR_POSTGRES_PASSWORD", &cfg.Postgres.Password)
	setString("LR_POSTGRES_SSLMODE", &cfg.Postgres.SSLMode)
	setInt("LR_POOL_SIZE", &cfg.Postgres.PoolSize)
	setBool("LR_POSTGRES_AUTO_MIGRATE", &cfg.Postgres.AutoMigrate)

	setInt("LR_TERM_CACHE_CAPACITY", &cfg.Cache.TermCapacity)
	setInt("LR_DOCUMENT_CACHE_CAPACITY", &cfg.Cache.DocumentCapacity)
	setDuration("LR_IDF_REFRESH_INTERVAL", &cfg.IDF.RefreshInterval)
	setInt("LR_SEARCH_DEFAULT_TOP_K", &cfg.Search.DefaultTopK)

	setBool("LR_REDIS_ENABLED", &cfg.Redis.Enabled)
	setString("LR_REDIS_ADDR", &cfg.Redis.Addr)
	setString("LR_REDIS_PASSWORD", &cfg.Redis.Password)

	setBool("LR_KAFKA_ENABLED", &cfg.Kafka.Enabled)
	if v := os.Getenv("LR_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}

	setString("LR_LOGGING_LEVEL", &cfg.Logging.Level)
	setString("LR_LOGGING_FORMAT", &cfg.Logging.Format)
	setInt("LR_METRICS_PORT", &cfg.Metrics.Port)
}

func setString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat(key string, dst *float64) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

// setDuration accepts either a Go duration ("90s") or a bare number of
// seconds ("100").
func setDuration(key string, dst *time.Duration) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if d, err := time.ParseDuration(v); err == nil {
		*dst = d
		return
	}
	if secs, err := strconv.Atoi(v); err == nil {
		*dst = time.Duration(secs) * time.Second
	}
}

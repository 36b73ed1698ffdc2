package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the batchrun server.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Jobs      JobsConfig      `yaml:"jobs"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Executor  ExecutorConfig  `yaml:"executor"`
}

type ServerConfig struct {
	Port int    `yaml:"port"`
	Env  string `yaml:"env"`
}

// DatabaseConfig configures the optional job history database. An empty URL
// disables history.
type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// RedisConfig configures the optional cache. An empty URL disables the status
// mirror, the results cache and rate limiting.
type RedisConfig struct {
	URL string `yaml:"url"`
}

type JobsConfig struct {
	MaxConcurrentJobs  int           `yaml:"maxConcurrentJobs"`
	DefaultConcurrency int           `yaml:"defaultConcurrency"`
	MaxConcurrency     int           `yaml:"maxConcurrency"`
	MaxItems           int           `yaml:"maxItems"`
	ItemEstimate       time.Duration `yaml:"itemEstimate"`
	Retention          time.Duration `yaml:"retention"`
	RetentionInterval  time.Duration `yaml:"retentionInterval"`
	CacheTTL           time.Duration `yaml:"cacheTTL"`
}

type RateLimitConfig struct {
	PerMinute int `yaml:"perMinute"`
}

type ExecutorConfig struct {
	Kind        string             `yaml:"kind"`
	MockLatency time.Duration      `yaml:"mockLatency"`
	HTTP        HTTPExecutorConfig `yaml:"http"`
}

type HTTPExecutorConfig struct {
	URL      string        `yaml:"url"`
	ReadyURL string        `yaml:"readyURL"`
	Token    string        `yaml:"token"`
	Timeout  time.Duration `yaml:"timeout"`
}

var validExecutors = map[string]bool{
	"mock": true,
	"http": true,
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080, Env: "development"},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Jobs: JobsConfig{
			MaxConcurrentJobs:  4,
			DefaultConcurrency: 5,
			MaxConcurrency:     50,
			MaxItems:           1000,
			ItemEstimate:       100 * time.Millisecond,
			Retention:          time.Hour,
			RetentionInterval:  5 * time.Minute,
			CacheTTL:           10 * time.Minute,
		},
		RateLimit: RateLimitConfig{PerMinute: 60},
		Executor: ExecutorConfig{
			Kind:        "mock",
			MockLatency: 50 * time.Millisecond,
			HTTP:        HTTPExecutorConfig{Timeout: 30 * time.Second},
		},
	}
}

// Load builds the configuration from defaults, then the YAML file named by
// BATCHRUN_CONFIG_FILE if set, then environment variables, and validates it.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("BATCHRUN_CONFIG_FILE"); path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	cfg.Server.Port = envInt("BATCHRUN_PORT", cfg.Server.Port)
	cfg.Server.Env = envString("BATCHRUN_ENV", cfg.Server.Env)

	cfg.Database.URL = envString("DATABASE_URL", cfg.Database.URL)
	cfg.Database.MaxOpenConns = envInt("DATABASE_MAX_OPEN_CONNS", cfg.Database.MaxOpenConns)
	cfg.Database.MaxIdleConns = envInt("DATABASE_MAX_IDLE_CONNS", cfg.Database.MaxIdleConns)
	cfg.Database.ConnMaxLifetime = envDuration("DATABASE_CONN_MAX_LIFETIME", cfg.Database.ConnMaxLifetime)

	cfg.Redis.URL = envString("REDIS_URL", cfg.Redis.URL)

	cfg.Jobs.MaxConcurrentJobs = envInt("BATCHRUN_MAX_CONCURRENT_JOBS", cfg.Jobs.MaxConcurrentJobs)
	cfg.Jobs.DefaultConcurrency = envInt("BATCHRUN_DEFAULT_CONCURRENCY", cfg.Jobs.DefaultConcurrency)
	cfg.Jobs.MaxConcurrency = envInt("BATCHRUN_MAX_CONCURRENCY", cfg.Jobs.MaxConcurrency)
	cfg.Jobs.MaxItems = envInt("BATCHRUN_MAX_ITEMS", cfg.Jobs.MaxItems)
	cfg.Jobs.ItemEstimate = envDuration("BATCHRUN_ITEM_ESTIMATE", cfg.Jobs.ItemEstimate)
	cfg.Jobs.Retention = envDuration("BATCHRUN_RETENTION", cfg.Jobs.Retention)
	cfg.Jobs.RetentionInterval = envDuration("BATCHRUN_RETENTION_INTERVAL", cfg.Jobs.RetentionInterval)
	cfg.Jobs.CacheTTL = envDuration("BATCHRUN_CACHE_TTL", cfg.Jobs.CacheTTL)

	cfg.RateLimit.PerMinute = envInt("RATE_LIMIT_PER_MINUTE", cfg.RateLimit.PerMinute)

	cfg.Executor.Kind = envString("EXECUTOR_KIND", cfg.Executor.Kind)
	cfg.Executor.MockLatency = envDuration("EXECUTOR_MOCK_LATENCY", cfg.Executor.MockLatency)
	cfg.Executor.HTTP.URL = envString("EXECUTOR_HTTP_URL", cfg.Executor.HTTP.URL)
	cfg.Executor.HTTP.ReadyURL = envString("EXECUTOR_HTTP_READY_URL", cfg.Executor.HTTP.ReadyURL)
	cfg.Executor.HTTP.Token = envString("EXECUTOR_HTTP_TOKEN", cfg.Executor.HTTP.Token)
	cfg.Executor.HTTP.Timeout = envDuration("EXECUTOR_HTTP_TIMEOUT", cfg.Executor.HTTP.Timeout)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening config file: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("decoding config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("BATCHRUN_PORT must be between 1 and 65535, got %d", c.Server.Port)
	}

	if c.Database.URL != "" && !strings.HasPrefix(c.Database.URL, "postgres://") && !strings.HasPrefix(c.Database.URL, "postgresql://") {
		return fmt.Errorf("DATABASE_URL must start with postgres:// or postgresql://")
	}
	if c.Redis.URL != "" && !strings.HasPrefix(c.Redis.URL, "redis://") && !strings.HasPrefix(c.Redis.URL, "rediss://") {
		return fmt.Errorf("REDIS_URL must start with redis:// or rediss://")
	}

	if c.Jobs.MaxConcurrentJobs < 1 {
		return fmt.Errorf("BATCHRUN_MAX_CONCURRENT_JOBS must be at least 1, got %d", c.Jobs.MaxConcurrentJobs)
	}
	if c.Jobs.DefaultConcurrency < 1 {
		return fmt.Errorf("BATCHRUN_DEFAULT_CONCURRENCY must be at least 1, got %d", c.Jobs.DefaultConcurrency)
	}
	if c.Jobs.MaxConcurrency < c.Jobs.DefaultConcurrency {
		return fmt.Errorf("BATCHRUN_MAX_CONCURRENCY (%d) must not be below BATCHRUN_DEFAULT_CONCURRENCY (%d)",
			c.Jobs.MaxConcurrency, c.Jobs.DefaultConcurrency)
	}
	if c.Jobs.MaxItems < 1 {
		return fmt.Errorf("BATCHRUN_MAX_ITEMS must be at least 1, got %d", c.Jobs.MaxItems)
	}
	if c.Jobs.Retention < 0 {
		return fmt.Errorf("BATCHRUN_RETENTION must not be negative")
	}
	if c.Jobs.Retention > 0 && c.Jobs.RetentionInterval <= 0 {
		return fmt.Errorf("BATCHRUN_RETENTION_INTERVAL must be positive when retention is enabled")
	}

	if c.RateLimit.PerMinute < 0 {
		return fmt.Errorf("RATE_LIMIT_PER_MINUTE must not be negative")
	}

	if !validExecutors[c.Executor.Kind] {
		return fmt.Errorf("EXECUTOR_KIND must be one of mock, http; got %q", c.Executor.Kind)
	}
	if c.Executor.Kind == "http" {
		if c.Executor.HTTP.URL == "" {
			return fmt.Errorf("EXECUTOR_HTTP_URL is required when EXECUTOR_KIND is http")
		}
		if !strings.HasPrefix(c.Executor.HTTP.URL, "http://") && !strings.HasPrefix(c.Executor.HTTP.URL, "https://") {
			return fmt.Errorf("EXECUTOR_HTTP_URL must start with http:// or https://, got %q", c.Executor.HTTP.URL)
		}
	}

	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
